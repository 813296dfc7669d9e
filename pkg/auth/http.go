package auth

import (
	"net/http"
	"time"
)

// CaptureRequestContext returns middleware that records the inbound
// Authorization and TraceId headers as the request's [RequestContext].
// It never rejects a request; pair it with [Gate.Require] on protected
// routes.
func CaptureRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := RequestContextFromHeader(r.Header)
		next.ServeHTTP(w, r.WithContext(ContextWithRequestContext(r.Context(), rc)))
	})
}

// ForwardObserver is notified once per request sent through a
// [ForwardingRoundTripper] with which headers were copied.
type ForwardObserver interface {
	ObserveForward(authorization, traceID bool)
}

// ForwardingRoundTripper copies the caller's Authorization and TraceId
// from the request context onto every outbound request. Existing values
// on the outbound request are overwritten. Requests whose context has no
// [RequestContext] are sent unmodified.
//
// The outbound request is cloned before headers are set, so the caller's
// *http.Request is never mutated.
type ForwardingRoundTripper struct {
	wrapped  http.RoundTripper
	observer ForwardObserver
}

// ForwardingOption configures a ForwardingRoundTripper.
type ForwardingOption func(*ForwardingRoundTripper)

// WithForwardObserver reports each forwarded request to o.
func WithForwardObserver(o ForwardObserver) ForwardingOption {
	return func(t *ForwardingRoundTripper) { t.observer = o }
}

// NewForwardingRoundTripper wraps transport. A nil transport means
// [http.DefaultTransport].
func NewForwardingRoundTripper(transport http.RoundTripper, opts ...ForwardingOption) *ForwardingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	t := &ForwardingRoundTripper{wrapped: transport}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements [http.RoundTripper].
func (t *ForwardingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	rc, ok := RequestContextFromContext(r.Context())
	if !ok || rc.IsZero() {
		t.observe(false, false)
		return t.wrapped.RoundTrip(r)
	}

	clone := r.Clone(r.Context())
	for name, value := range forwardedHeaders(rc, HeaderAuthorization, HeaderTraceID) {
		clone.Header.Set(name, value)
	}
	t.observe(rc.Authorization != "", rc.TraceID != "")
	return t.wrapped.RoundTrip(clone)
}

func (t *ForwardingRoundTripper) observe(authorization, traceID bool) {
	if t.observer != nil {
		t.observer.ObserveForward(authorization, traceID)
	}
}

// NewForwardingClient returns an *http.Client whose transport is a
// [ForwardingRoundTripper] over transport. Calls made with it must use a
// context derived from the inbound request:
//
//	req, _ := http.NewRequestWithContext(r.Context(), http.MethodGet, url, nil)
//	resp, err := client.Do(req)
func NewForwardingClient(timeout time.Duration, transport http.RoundTripper, opts ...ForwardingOption) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: NewForwardingRoundTripper(transport, opts...),
	}
}
