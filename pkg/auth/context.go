package auth

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/bearer-relay/pkg/token"
)

type contextKey int

const (
	requestContextKey contextKey = iota
	verifiedTokenKey
)

// credentialRedacted replaces a Credential wherever it is printed or
// serialized.
const credentialRedacted = "[REDACTED]"

// Credential is an Authorization header value. It prints as [REDACTED]
// through fmt, zap and encoding/json; only [Credential.Value] exposes it.
type Credential string

// String returns the redacted placeholder.
func (c Credential) String() string { return credentialRedacted }

// GoString returns the redacted placeholder for %#v.
func (c Credential) GoString() string { return credentialRedacted }

// MarshalText returns the redacted placeholder.
func (c Credential) MarshalText() ([]byte, error) { return []byte(credentialRedacted), nil }

// Value returns the header value verbatim.
func (c Credential) Value() string { return string(c) }

// RequestContext carries the inbound credentials that must follow a
// request onto the calls it makes. It is captured once per inbound
// request and is read-only afterwards.
type RequestContext struct {
	// Authorization is the first inbound Authorization header value,
	// including its scheme.
	Authorization Credential

	// TraceID is the first inbound TraceId header value.
	TraceID string
}

// RequestContextFromHeader captures the first Authorization and TraceId
// values of h.
func RequestContextFromHeader(h http.Header) RequestContext {
	return RequestContext{
		Authorization: Credential(h.Get(HeaderAuthorization)),
		TraceID:       h.Get(HeaderTraceID),
	}
}

// IsZero reports whether rc carries nothing to forward.
func (rc RequestContext) IsZero() bool {
	return rc.Authorization == "" && rc.TraceID == ""
}

// ContextWithRequestContext returns a copy of ctx carrying rc. Handlers
// pass the resulting context to every function that issues outbound
// calls on the request's behalf.
func ContextWithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey, rc)
}

// RequestContextFromContext returns the RequestContext in ctx. The
// boolean is false for background work that has no inbound request.
func RequestContextFromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(RequestContext)
	return rc, ok
}

// ContextWithToken returns a copy of ctx carrying the token a gate
// verified.
func ContextWithToken(ctx context.Context, t *token.VerifiedToken) context.Context {
	return context.WithValue(ctx, verifiedTokenKey, t)
}

// TokenFromContext returns the verified token in ctx, if a gate ran.
func TokenFromContext(ctx context.Context) (*token.VerifiedToken, bool) {
	t, ok := ctx.Value(verifiedTokenKey).(*token.VerifiedToken)
	return t, ok && t != nil
}

// MustTokenFromContext is [TokenFromContext] for handlers mounted behind
// a gate. It panics when no token is present.
func MustTokenFromContext(ctx context.Context) *token.VerifiedToken {
	t, ok := TokenFromContext(ctx)
	if !ok {
		panic("auth: no verified token in context; mount the handler behind Gate.Require")
	}
	return t
}

// TraceIDFromContext returns the inbound TraceId header value, or the
// active OpenTelemetry trace ID when the caller sent none.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	if rc, ok := RequestContextFromContext(ctx); ok && rc.TraceID != "" {
		return rc.TraceID, true
	}
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
