package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/StricklySoft/bearer-relay/internal/downstream"
	"github.com/StricklySoft/bearer-relay/internal/forecast"
	"github.com/StricklySoft/bearer-relay/internal/metrics"
	"github.com/StricklySoft/bearer-relay/pkg/auth"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
	"github.com/StricklySoft/bearer-relay/pkg/lifecycle"
	"github.com/StricklySoft/bearer-relay/pkg/token"
)

// Route paths.
const (
	PathForecast    = "/weatherforecast"
	PathForecastTwo = "/weatherforecast-two"
	PathToken       = "/token"
	PathHealth      = "/healthz"
	PathReady       = "/readyz"
	PathMetrics     = "/metrics"
)

// KeyStatus reports whether verification keys are loaded.
// *jwks.Store implements it.
type KeyStatus interface {
	Ready() bool
	Snapshot() *jwks.KeySet
}

// HealthReporter reports process health. *lifecycle.Service implements
// it.
type HealthReporter interface {
	Health(ctx context.Context) error
	Info() lifecycle.Info
}

var (
	_ KeyStatus      = (*jwks.Store)(nil)
	_ HealthReporter = (*lifecycle.Service)(nil)
)

// Deps are the collaborators a router serves with. Downstream is nil on
// services that do not call another service.
type Deps struct {
	Gate       *auth.Gate
	Keys       KeyStatus
	Health     HealthReporter
	Metrics    *metrics.Metrics
	Forecasts  *forecast.Generator
	Downstream *downstream.Client
	Logger     *zap.Logger
}

// NewRouter builds the chi router for one service.
func NewRouter(cfg HTTPConfig, d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handlers{deps: d, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", auth.HeaderAuthorization, auth.HeaderTraceID},
			ExposedHeaders: []string{middleware.RequestIDHeader},
			MaxAge:         300,
		}))
	}
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	r.Use(auth.CaptureRequestContext)

	r.Get(PathHealth, h.health)
	r.Get(PathReady, h.ready)
	if d.Metrics != nil {
		r.Method(http.MethodGet, PathMetrics, d.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(d.Gate.Require())
		r.Get(PathForecast, h.forecast)
		r.Get(PathToken, h.token)
		if d.Downstream != nil {
			r.Get(PathForecastTwo, h.forecastTwo)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		auth.WriteError(w, sserr.New(sserr.CodeNotFound, "route not found"))
	})
	return r
}

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

func (h *handlers) forecast(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Forecasts.Next())
}

// token returns the verified payload in claim-mapping form.
func (h *handlers) token(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, token.ClaimsFrom(auth.MustTokenFromContext(r.Context())))
}

// forecastTwo relays the second service's forecast. Error statuses from
// the second service are relayed unchanged; only a failed call is
// answered with 502.
func (h *handlers) forecastTwo(w http.ResponseWriter, r *http.Request) {
	resp, err := h.deps.Downstream.Forecast(r.Context())
	if err != nil {
		traceID, _ := auth.TraceIDFromContext(r.Context())
		h.logger.Warn("downstream: forecast call failed",
			zap.String("base_url", h.deps.Downstream.BaseURL()),
			zap.String("error_code", sserr.GetCode(err).String()),
			zap.Bool("timeout", sserr.IsTimeout(err)),
			zap.Bool("retryable", sserr.IsRetryable(err)),
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		auth.WriteError(w, sserr.Wrap(err, sserr.CodeUpstream, "second service is unavailable"))
		return
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

type healthBody struct {
	Status string         `json:"status"`
	Info   lifecycle.Info `json:"info"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Health.Health(r.Context()); err != nil {
		auth.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthBody{Status: "ok", Info: h.deps.Health.Info()})
}

type readyBody struct {
	Status string   `json:"status"`
	Keys   []string `json:"keys"`
}

func (h *handlers) ready(w http.ResponseWriter, _ *http.Request) {
	if !h.deps.Keys.Ready() {
		auth.WriteError(w, sserr.New(sserr.CodeUnavailable, "verification keys are not loaded"))
		return
	}
	writeJSON(w, http.StatusOK, readyBody{Status: "ready", Keys: h.deps.Keys.Snapshot().KeyIDs()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
