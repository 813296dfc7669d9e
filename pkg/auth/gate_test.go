package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/StricklySoft/bearer-relay/internal/testutil"
	"github.com/StricklySoft/bearer-relay/internal/testutil/fixtures"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
	"github.com/StricklySoft/bearer-relay/pkg/models"
	"github.com/StricklySoft/bearer-relay/pkg/token"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type staticKeys struct{ set *jwks.KeySet }

func (s staticKeys) Snapshot() *jwks.KeySet { return s.set }

// rotatingKeys swaps to next on the first miss.
type rotatingKeys struct {
	current atomic.Pointer[jwks.KeySet]
	next    *jwks.KeySet
	misses  atomic.Int32
}

func (r *rotatingKeys) Snapshot() *jwks.KeySet { return r.current.Load() }

func (r *rotatingKeys) RefreshOnMiss(_ context.Context, kid string) bool {
	r.misses.Add(1)
	r.current.Store(r.next)
	_, ok := r.next.Lookup(kid)
	return ok
}

type memoryRecorder struct {
	mu     sync.Mutex
	events []*models.AuthEvent
	err    error
}

func (m *memoryRecorder) Record(_ context.Context, ev *models.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *memoryRecorder) all() []*models.AuthEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuthEvent(nil), m.events...)
}

type decisionCounter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (d *decisionCounter) ObserveDecision(outcome models.AuthOutcome, code sserr.Code) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]int{}
	}
	d.seen[outcome.String()+"/"+code.String()]++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func keySet(t *testing.T, keys ...map[string]any) *jwks.KeySet {
	t.Helper()
	set, err := jwks.ParseKeySet(testutil.JWKSDocument(t, keys...))
	require.NoError(t, err)
	return set
}

func primaryKeys(t *testing.T) *jwks.KeySet {
	t.Helper()
	return keySet(t, testutil.JWK(fixtures.KeyID, &testutil.RSAKey(t).PublicKey))
}

func newTestGate(t *testing.T, keys KeySource, opts ...GateOption) *Gate {
	t.Helper()
	v, err := token.NewVerifier(token.PermissivePolicy())
	require.NoError(t, err)
	return NewGate(v, keys, append([]GateOption{WithServiceName(fixtures.ServiceName)}, opts...)...)
}

func validToken(t *testing.T) string {
	t.Helper()
	return testutil.MintToken(t, testutil.RSAKey(t), fixtures.KeyID, testutil.Claims(fixtures.Subject, time.Now()))
}

// serve runs one request through gate.Require(rules...) and reports
// whether the protected handler ran.
func serve(t *testing.T, g *Gate, authorization string, rules ...Rule) (*httptest.ResponseRecorder, *token.VerifiedToken, bool) {
	t.Helper()
	var got *token.VerifiedToken
	var called bool
	h := g.Require(rules...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		got = MustTokenFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/weatherforecast", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	req.Header.Set("TraceId", fixtures.TraceID)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, got, called
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), "body: %s", rr.Body.String())
	return body.Error
}

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestGate_Authenticate(t *testing.T) {
	t.Parallel()
	g := newTestGate(t, staticKeys{primaryKeys(t)})

	got, err := g.Authenticate(context.Background(), "Bearer "+validToken(t))
	require.NoError(t, err)
	assert.Equal(t, fixtures.Subject, got.Subject)

	for _, authz := range []string{"", "Bearer", "Basic dXNlcjpwYXNz", validToken(t)} {
		_, err := g.Authenticate(context.Background(), authz)
		testutil.AssertErrorCode(t, err, sserr.CodeAuthentication)
	}
}

func TestGate_Authenticate_NoSnapshot(t *testing.T) {
	t.Parallel()
	g := newTestGate(t, staticKeys{nil})

	_, err := g.Authenticate(context.Background(), "Bearer "+validToken(t))
	testutil.RequireErrorCode(t, err, sserr.CodeUnknownSigningKey)
}

// ---------------------------------------------------------------------------
// Require
// ---------------------------------------------------------------------------

func TestGate_Require_Admits(t *testing.T) {
	t.Parallel()
	g := newTestGate(t, staticKeys{primaryKeys(t)})

	var rc RequestContext
	h := g.Require()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc, _ = RequestContextFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	raw := validToken(t)
	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	req.Header.Set("TraceId", fixtures.TraceID)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bearer "+raw, rc.Authorization.Value())
	assert.Equal(t, fixtures.TraceID, rc.TraceID)
}

func TestGate_Require_ExpiredTokenAdmittedUnderPermissivePolicy(t *testing.T) {
	t.Parallel()
	g := newTestGate(t, staticKeys{primaryKeys(t)})
	raw := testutil.MintToken(t, testutil.RSAKey(t), fixtures.KeyID,
		testutil.Claims(fixtures.Subject, time.Now().Add(-72*time.Hour)))

	rr, got, called := serve(t, g, "Bearer "+raw)
	assert.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
	assert.True(t, got.ExpiresAt.Before(time.Now()))
}

func TestGate_Require_Rejects(t *testing.T) {
	t.Parallel()
	valid := validToken(t)
	parts := strings.Split(valid, ".")
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	sig[len(sig)-1] ^= 0x01
	tampered := parts[0] + "." + parts[1] + "." + base64.RawURLEncoding.EncodeToString(sig)

	noSub := testutil.Claims(fixtures.Subject, time.Now())
	delete(noSub, "sub")

	tests := []struct {
		name          string
		authorization string
		code          sserr.Code
	}{
		{"no header", "", sserr.CodeAuthentication},
		{"wrong scheme", "Basic " + valid, sserr.CodeAuthentication},
		{"malformed", "Bearer not.a-token", sserr.CodeTokenMalformed},
		{"unknown kid", "Bearer " + testutil.MintToken(t, testutil.AltRSAKey(t), fixtures.RotatedKeyID,
			testutil.Claims(fixtures.Subject, time.Now())), sserr.CodeUnknownSigningKey},
		{"tampered", "Bearer " + tampered, sserr.CodeInvalidSignature},
		{"missing sub", "Bearer " + testutil.MintToken(t, testutil.RSAKey(t), fixtures.KeyID, noSub), sserr.CodeMissingClaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := newTestGate(t, staticKeys{primaryKeys(t)})
			rr, _, called := serve(t, g, tt.authorization)

			assert.False(t, called, "protected handler must not run")
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Contains(t, rr.Header().Get("WWW-Authenticate"), "Bearer")
			assert.Equal(t, string(tt.code), decodeError(t, rr).Code)
		})
	}
}

func TestGate_Require_RuleRefusal(t *testing.T) {
	t.Parallel()
	rec := &memoryRecorder{}
	g := newTestGate(t, staticKeys{primaryKeys(t)}, WithDecisionRecorder(rec))

	rr, _, called := serve(t, g, "Bearer "+validToken(t), RequireAudience("billing"))

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("WWW-Authenticate"))
	assert.Equal(t, string(sserr.CodeAuthorization), decodeError(t, rr).Code)

	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.AuthOutcomeForbidden, events[0].Outcome)
	assert.Equal(t, fixtures.Subject, events[0].Subject)
	assert.Equal(t, fixtures.KeyID, events[0].KeyID)
}

// ---------------------------------------------------------------------------
// Unknown kid refetch
// ---------------------------------------------------------------------------

func TestGate_RefetchOnUnknownKey(t *testing.T) {
	t.Parallel()
	rotated := keySet(t,
		testutil.JWK(fixtures.KeyID, &testutil.RSAKey(t).PublicKey),
		testutil.JWK(fixtures.RotatedKeyID, &testutil.AltRSAKey(t).PublicKey),
	)
	raw := testutil.MintToken(t, testutil.AltRSAKey(t), fixtures.RotatedKeyID,
		testutil.Claims(fixtures.Subject, time.Now()))

	t.Run("enabled", func(t *testing.T) {
		t.Parallel()
		keys := &rotatingKeys{next: rotated}
		keys.current.Store(primaryKeys(t))
		g := newTestGate(t, keys, WithRefetchOnUnknownKey(true))

		rr, _, called := serve(t, g, "Bearer "+raw)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, called)
		assert.EqualValues(t, 1, keys.misses.Load())
	})

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		keys := &rotatingKeys{next: rotated}
		keys.current.Store(primaryKeys(t))
		g := newTestGate(t, keys)

		rr, _, _ := serve(t, g, "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Zero(t, keys.misses.Load())
	})

	t.Run("source cannot refresh", func(t *testing.T) {
		t.Parallel()
		g := newTestGate(t, staticKeys{primaryKeys(t)}, WithRefetchOnUnknownKey(true))
		rr, _, _ := serve(t, g, "Bearer "+raw)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestGate_RefetchThroughStore(t *testing.T) {
	t.Parallel()
	srv := testutil.ServeJWKS(t, testutil.JWK(fixtures.KeyID, &testutil.RSAKey(t).PublicKey))
	const interval = 300 * time.Millisecond
	store := jwks.NewStore(srv.URL, jwks.NewFetcher(), jwks.WithMinRefetchInterval(interval))
	require.NoError(t, store.Init(context.Background()))
	g := newTestGate(t, store, WithRefetchOnUnknownKey(true))

	// The startup fetch counts against the refetch interval.
	time.Sleep(interval + 50*time.Millisecond)

	srv.SetBody(testutil.JWKSDocument(t,
		testutil.JWK(fixtures.KeyID, &testutil.RSAKey(t).PublicKey),
		testutil.JWK(fixtures.RotatedKeyID, &testutil.AltRSAKey(t).PublicKey),
	))
	raw := testutil.MintToken(t, testutil.AltRSAKey(t), fixtures.RotatedKeyID,
		testutil.Claims(fixtures.Subject, time.Now()))

	_, err := g.Authenticate(context.Background(), "Bearer "+raw)
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.Hits())

	// A kid that is still unknown does not trigger another fetch inside
	// the minimum interval.
	stranger := testutil.MintToken(t, testutil.AltRSAKey(t), "k9", testutil.Claims(fixtures.Subject, time.Now()))
	_, err = g.Authenticate(context.Background(), "Bearer "+stranger)
	testutil.RequireErrorCode(t, err, sserr.CodeUnknownSigningKey)
	assert.EqualValues(t, 2, srv.Hits())
}

// ---------------------------------------------------------------------------
// Logging, metrics and audit
// ---------------------------------------------------------------------------

func TestGate_LogsWithoutToken(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	g := newTestGate(t, staticKeys{primaryKeys(t)}, WithGateLogger(zap.New(core)))

	raw := testutil.MintToken(t, testutil.AltRSAKey(t), fixtures.RotatedKeyID,
		testutil.Claims(fixtures.Subject, time.Now()))
	rr, _, _ := serve(t, g, "Bearer "+raw)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	entries := logs.FilterMessage("auth: request denied").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, string(sserr.CodeUnknownSigningKey), fields["error_code"])
	assert.Equal(t, fixtures.RotatedKeyID, fields["kid"])
	assert.Equal(t, fixtures.TraceID, fields["trace_id"])
	assert.Equal(t, fixtures.ServiceName, fields["service"])

	signature := raw[strings.LastIndex(raw, ".")+1:]
	for _, e := range logs.All() {
		line := e.Message + fmt.Sprint(e.ContextMap())
		assert.NotContains(t, line, raw)
		assert.NotContains(t, line, signature)
	}
	assert.NotContains(t, rr.Body.String(), signature)
}

func TestGate_AcceptedRequestsAreNotLogged(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	g := newTestGate(t, staticKeys{primaryKeys(t)}, WithGateLogger(zap.New(core)))

	rr, _, _ := serve(t, g, "Bearer "+validToken(t))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, logs.Len())
}

func TestGate_ObservesAndRecordsDecisions(t *testing.T) {
	t.Parallel()
	rec := &memoryRecorder{}
	counter := &decisionCounter{}
	g := newTestGate(t, staticKeys{primaryKeys(t)},
		WithDecisionRecorder(rec), WithDecisionObserver(counter))

	serve(t, g, "Bearer "+validToken(t))
	serve(t, g, "")
	serve(t, g, "Bearer "+validToken(t), RequireVerifiedEmail(), RequirePrimaryEmail())

	assert.Equal(t, map[string]int{
		"accepted/":         2,
		"rejected/AUTH_001": 1,
	}, counter.seen)

	events := rec.all()
	require.Len(t, events, 3)
	assert.Equal(t, models.AuthOutcomeAccepted, events[0].Outcome)
	assert.Equal(t, fixtures.Subject, events[0].Subject)
	assert.Equal(t, "/weatherforecast", events[0].Route)
	assert.Equal(t, fixtures.TraceID, events[0].TraceID)
	assert.Equal(t, models.AuthOutcomeRejected, events[1].Outcome)
	assert.Equal(t, "AUTH_001", events[1].ErrorCode)
	assert.Empty(t, events[1].Subject)
	for _, ev := range events {
		assert.NoError(t, ev.Validate())
	}
}

func TestGate_RecorderFailureDoesNotChangeDecision(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	rec := &memoryRecorder{err: errors.New("db down")}
	g := newTestGate(t, staticKeys{primaryKeys(t)},
		WithDecisionRecorder(rec), WithGateLogger(zap.New(core)))

	rr, _, called := serve(t, g, "Bearer "+validToken(t))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)
	assert.Equal(t, 1, logs.FilterMessage("auth: failed to record decision").Len())
}
