package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/bearer-relay/internal/testutil/fixtures"
)

var (
	keyOnce   sync.Once
	sharedKey *rsa.PrivateKey
	altKey    *rsa.PrivateKey
	keyErr    error
)

// RSAKey returns a 2048-bit key generated once per test binary.
func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	loadKeys(t)
	return sharedKey
}

// AltRSAKey returns a second shared key, distinct from [RSAKey].
func AltRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	loadKeys(t)
	return altKey
}

func loadKeys(t testing.TB) {
	t.Helper()
	keyOnce.Do(func() {
		if sharedKey, keyErr = rsa.GenerateKey(rand.Reader, 2048); keyErr != nil {
			return
		}
		altKey, keyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	require.NoError(t, keyErr, "generate RSA keys")
}

// JWK returns the JWKS wire form of pub: {alg, e, kid, kty, n, use}.
func JWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"alg": "RS256",
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		"kid": kid,
		"kty": "RSA",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"use": "sig",
	}
}

// JWKSDocument encodes keys as {"keys": [...]}.
func JWKSDocument(t testing.TB, keys ...map[string]any) []byte {
	t.Helper()
	if keys == nil {
		keys = []map[string]any{}
	}
	data, err := json.Marshal(map[string]any{"keys": keys})
	require.NoError(t, err)
	return data
}

// JWKSServer is an httptest server publishing a replaceable JWKS
// document.
type JWKSServer struct {
	*httptest.Server

	mu     sync.Mutex
	body   []byte
	status int
	delay  time.Duration
	hits   atomic.Int64
}

// ServeJWKS starts a JWKS server publishing keys. It is closed when the
// test ends.
func ServeJWKS(t testing.TB, keys ...map[string]any) *JWKSServer {
	t.Helper()
	s := &JWKSServer{body: JWKSDocument(t, keys...), status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.hits.Add(1)
		s.mu.Lock()
		body, status, delay := s.body, s.status, s.delay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

// SetBody replaces the published document.
func (s *JWKSServer) SetBody(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

// SetStatus changes the response status code.
func (s *JWKSServer) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetDelay makes every response wait for d before writing.
func (s *JWKSServer) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Hits returns how many requests the server has answered.
func (s *JWKSServer) Hits() int64 {
	return s.hits.Load()
}

// Claims returns a complete claim set for subject as the identity
// provider issues it: flat email claims, array audience, and Unix
// timestamps relative to now.
func Claims(subject string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":               subject,
		"aud":               []string{fixtures.Audience},
		"iat":               now.Unix(),
		"exp":               now.Add(time.Hour).Unix(),
		"email.address":     fixtures.Email,
		"email.is_primary":  true,
		"email.is_verified": true,
	}
}

// MintToken signs claims with key using RS256 and sets kid in the
// header. An empty kid leaves the header without one.
func MintToken(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	return MintTokenWithMethod(t, jwt.SigningMethodRS256, key, kid, claims)
}

// MintTokenWithMethod is [MintToken] with an explicit signing method.
func MintTokenWithMethod(t testing.TB, method jwt.SigningMethod, key any, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	require.NoError(t, err, "sign token")
	return signed
}
