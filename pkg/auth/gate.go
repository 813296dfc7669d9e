package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
	"github.com/StricklySoft/bearer-relay/pkg/models"
	"github.com/StricklySoft/bearer-relay/pkg/token"
)

// KeySource supplies the key set snapshot used for each verification.
// *jwks.Store implements it.
type KeySource interface {
	Snapshot() *jwks.KeySet
}

// KeyRefresher is implemented by key sources that can refetch when a
// token names a kid the snapshot lacks. *jwks.Store implements it.
type KeyRefresher interface {
	RefreshOnMiss(ctx context.Context, kid string) bool
}

var (
	_ KeySource    = (*jwks.Store)(nil)
	_ KeyRefresher = (*jwks.Store)(nil)
)

// DecisionRecorder persists gate decisions. Recording errors are logged
// and never change the decision.
type DecisionRecorder interface {
	Record(ctx context.Context, ev *models.AuthEvent) error
}

// DecisionObserver counts gate decisions. code is empty for accepted
// requests.
type DecisionObserver interface {
	ObserveDecision(outcome models.AuthOutcome, code sserr.Code)
}

// Gate rejects requests that do not carry a verifiable bearer token.
// One Gate serves all routes of a service and is safe for concurrent use.
type Gate struct {
	verifier *token.Verifier
	keys     KeySource
	service  string
	logger   *zap.Logger
	refetch  bool
	recorder DecisionRecorder
	observer DecisionObserver
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithServiceName sets the service name written to logs and audit
// events.
func WithServiceName(name string) GateOption {
	return func(g *Gate) { g.service = name }
}

// WithGateLogger sets the logger. The default discards.
func WithGateLogger(l *zap.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRefetchOnUnknownKey makes the gate ask a [KeyRefresher] key source
// to refetch once when a token names an unknown kid, then verify again.
func WithRefetchOnUnknownKey(enabled bool) GateOption {
	return func(g *Gate) { g.refetch = enabled }
}

// WithDecisionRecorder records every decision.
func WithDecisionRecorder(r DecisionRecorder) GateOption {
	return func(g *Gate) { g.recorder = r }
}

// WithDecisionObserver reports every decision.
func WithDecisionObserver(o DecisionObserver) GateOption {
	return func(g *Gate) { g.observer = o }
}

// NewGate returns a Gate verifying with verifier against the snapshot
// keys holds at the time of each request.
func NewGate(verifier *token.Verifier, keys KeySource, opts ...GateOption) *Gate {
	g := &Gate{
		verifier: verifier,
		keys:     keys,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate verifies the bearer token in an Authorization value. It
// is the route guard: a nil error means proceed with the returned token,
// any error means reject with 401. Every error is an *sserr.Error in the
// AUTH category.
func (g *Gate) Authenticate(ctx context.Context, authorization string) (*token.VerifiedToken, error) {
	raw := ExtractBearerToken(authorization)
	if raw == "" {
		return nil, sserr.New(sserr.CodeAuthentication, "auth: missing or invalid bearer credential")
	}

	verified, err := g.verifier.Verify(ctx, raw, g.keys.Snapshot())
	if err == nil || !g.refetch || !sserr.HasCode(err, sserr.CodeUnknownSigningKey) {
		return verified, err
	}

	refresher, ok := g.keys.(KeyRefresher)
	kid := token.KeyID(raw)
	if !ok || kid == "" || !refresher.RefreshOnMiss(ctx, kid) {
		return nil, err
	}
	return g.verifier.Verify(ctx, raw, g.keys.Snapshot())
}

// Require returns middleware that admits only requests whose token
// verifies and passes every rule. Unauthenticated requests get 401 and
// requests failing a rule get 403, both with a JSON error body; next is
// never invoked for them.
//
// Admitted requests carry the [token.VerifiedToken] and the
// [RequestContext] in their context.
func (g *Gate) Require(rules ...Rule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			rc, ok := RequestContextFromContext(ctx)
			if !ok {
				rc = RequestContextFromHeader(r.Header)
				ctx = ContextWithRequestContext(ctx, rc)
			}
			route := r.URL.Path

			verified, err := g.Authenticate(ctx, rc.Authorization.Value())
			if err == nil {
				err = checkRules(verified, rules)
			}
			g.decide(ctx, route, rc.Authorization.Value(), verified, err)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithToken(ctx, verified)))
		})
	}
}

// decide logs, counts and records one decision. authorization is used
// only to read the kid for failed verifications.
func (g *Gate) decide(ctx context.Context, route, authorization string, verified *token.VerifiedToken, err error) {
	outcome := models.AuthOutcomeAccepted
	var code sserr.Code
	switch {
	case err == nil:
	case sserr.IsAuthorization(err):
		outcome, code = models.AuthOutcomeForbidden, sserr.GetCode(err)
	default:
		outcome, code = models.AuthOutcomeRejected, sserr.GetCode(err)
	}

	traceID, _ := TraceIDFromContext(ctx)
	var kid string
	if e, ok := sserr.AsError(err); ok {
		kid = e.Detail("kid")
	}
	if kid == "" {
		kid = token.KeyID(ExtractBearerToken(authorization))
	}

	if g.observer != nil {
		g.observer.ObserveDecision(outcome, code)
	}
	if err != nil {
		g.logger.Warn("auth: request denied",
			zap.String("service", g.service),
			zap.String("route", route),
			zap.String("outcome", outcome.String()),
			zap.String("error_code", code.String()),
			zap.String("kid", kid),
			zap.String("trace_id", traceID),
		)
	}

	if g.recorder == nil {
		return
	}
	ev, evErr := models.NewAuthEvent(g.service, route, outcome)
	if evErr != nil {
		g.logger.Error("auth: failed to build audit event", zap.Error(evErr))
		return
	}
	ev.ErrorCode = code.String()
	ev.KeyID = kid
	ev.TraceID = traceID
	if verified != nil {
		ev.Subject = verified.Subject
	}
	if recErr := g.recorder.Record(context.WithoutCancel(ctx), ev); recErr != nil {
		g.logger.Warn("auth: failed to record decision",
			zap.String("service", g.service),
			zap.String("event_id", ev.ID),
			zap.Error(recErr),
		)
	}
}
