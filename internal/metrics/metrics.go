// Package metrics exposes Prometheus collectors for one service on a
// private registry. Metrics implements the observer interfaces of the
// auth and jwks packages, so the gate, forwarder and key store report
// without importing Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StricklySoft/bearer-relay/pkg/auth"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
	"github.com/StricklySoft/bearer-relay/pkg/models"
)

const namespace = "bearer_relay"

// Metrics holds the collectors. Every series carries a constant
// "service" label.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	keys          prometheus.Gauge
	forwarded     *prometheus.CounterVec
}

var (
	_ auth.DecisionObserver = (*Metrics)(nil)
	_ auth.ForwardObserver  = (*Metrics)(nil)
	_ jwks.RefreshObserver  = (*Metrics)(nil)
)

// New registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New(service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "http_requests_total",
			Help:        "HTTP requests by method, route pattern and status code.",
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "verifications_total",
			Help:        "Authorization gate decisions by outcome and error code.",
			ConstLabels: labels,
		}, []string{"outcome", "code"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "keyset_refresh_total",
			Help:        "Key set fetch attempts by outcome (success, failure, restored).",
			ConstLabels: labels,
		}, []string{"outcome"}),
		keys: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "keyset_keys",
			Help:        "Signing keys in the current key set snapshot.",
			ConstLabels: labels,
		}),
		forwarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "forwarded_requests_total",
			Help:        "Outbound requests sent through the forwarding client, by which credentials were copied.",
			ConstLabels: labels,
		}, []string{"authorization", "trace_id"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration, m.verifications, m.refreshes, m.keys, m.forwarded,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveDecision counts one gate decision.
func (m *Metrics) ObserveDecision(outcome models.AuthOutcome, code sserr.Code) {
	m.verifications.WithLabelValues(outcome.String(), code.String()).Inc()
}

// ObserveRefresh counts a fetch attempt and records the key count.
func (m *Metrics) ObserveRefresh(outcome string, keys int) {
	m.refreshes.WithLabelValues(outcome).Inc()
	m.keys.Set(float64(keys))
}

// ObserveForward counts one forwarded request.
func (m *Metrics) ObserveForward(authorization, traceID bool) {
	m.forwarded.WithLabelValues(strconv.FormatBool(authorization), strconv.FormatBool(traceID)).Inc()
}

// Middleware records request counts and latency by chi route pattern, so
// path parameters do not multiply series. Requests matching no route are
// labelled "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status(ww))).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// status is the written status; handlers that never call WriteHeader
// answered 200.
func status(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
