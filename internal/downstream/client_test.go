package downstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/bearer-relay/internal/testutil"
	"github.com/StricklySoft/bearer-relay/pkg/auth"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type secondService struct {
	*httptest.Server
	mu      sync.Mutex
	headers http.Header
	path    string
}

func newSecondService(t *testing.T, handler http.HandlerFunc) *secondService {
	t.Helper()
	s := &secondService{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.headers = r.Header.Clone()
		s.path = r.URL.Path
		s.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *secondService) lastRequest() (http.Header, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers, s.path
}

func jsonBody(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_RejectsInvalidBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "ftp://example.com", "/relative", "http://"} {
		_, err := New(raw, nil)
		testutil.AssertErrorCode(t, err, sserr.CodeValidation, "base URL %q", raw)
	}
}

func TestNew_DefaultClientForwards(t *testing.T) {
	t.Parallel()

	second := newSecondService(t, jsonBody(http.StatusOK, `[]`))
	c, err := New(second.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, second.URL, c.BaseURL())

	ctx := auth.ContextWithRequestContext(context.Background(), auth.RequestContext{
		Authorization: "Bearer abc",
		TraceID:       "xyz",
	})
	_, err = c.Forecast(ctx)
	require.NoError(t, err)

	headers, _ := second.lastRequest()
	assert.Equal(t, "Bearer abc", headers.Get("Authorization"))
	assert.Equal(t, "xyz", headers.Get("TraceId"))
}

// ---------------------------------------------------------------------------
// Forecast
// ---------------------------------------------------------------------------

func TestForecast_RelaysBodyAndForwardsCredentials(t *testing.T) {
	t.Parallel()

	body := `[{"date":"2026-10-17","temperatureC":10,"temperatureF":49,"summary":"Cool"}]`
	second := newSecondService(t, jsonBody(http.StatusOK, body))
	c, err := New(second.URL+"/", auth.NewForwardingClient(time.Second, nil))
	require.NoError(t, err)

	ctx := auth.ContextWithRequestContext(context.Background(), auth.RequestContext{
		Authorization: "Bearer token-1",
		TraceID:       "trace-1",
	})
	resp, err := c.Forecast(ctx)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, body, string(resp.Body))

	headers, path := second.lastRequest()
	assert.Equal(t, ForecastPath, path)
	assert.Equal(t, "Bearer token-1", headers.Get("Authorization"))
	assert.Equal(t, "trace-1", headers.Get("TraceId"))
	assert.Equal(t, "application/json", headers.Get("Accept"))
}

func TestForecast_WithoutRequestContextSendsNoCredentials(t *testing.T) {
	t.Parallel()

	second := newSecondService(t, jsonBody(http.StatusOK, `[]`))
	c, err := New(second.URL, auth.NewForwardingClient(time.Second, nil))
	require.NoError(t, err)

	_, err = c.Forecast(context.Background())
	require.NoError(t, err)

	headers, _ := second.lastRequest()
	assert.Empty(t, headers.Get("Authorization"))
	assert.Empty(t, headers.Get("TraceId"))
}

func TestForecast_ErrorStatusIsNotAnError(t *testing.T) {
	t.Parallel()

	body := `{"error":{"code":"AUTH_004","message":"token: signature is invalid"}}`
	second := newSecondService(t, jsonBody(http.StatusUnauthorized, body))
	c, err := New(second.URL, nil)
	require.NoError(t, err)

	resp, err := c.Forecast(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, body, string(resp.Body))
}

func TestGet_JoinsPathOntoBase(t *testing.T) {
	t.Parallel()

	second := newSecondService(t, jsonBody(http.StatusOK, `{}`))
	c, err := New(second.URL+"/api", nil)
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/token")
	require.NoError(t, err)

	_, path := second.lastRequest()
	assert.Equal(t, "/api/token", path)
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestForecast_UnreachableService(t *testing.T) {
	t.Parallel()

	second := httptest.NewServer(http.NotFoundHandler())
	url := second.URL
	second.Close()

	c, err := New(url, nil)
	require.NoError(t, err)

	_, err = c.Forecast(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUnavailableDependency)
	assert.True(t, sserr.IsRetryable(err))
}

func TestForecast_ClientTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	second := newSecondService(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	c, err := New(second.URL, auth.NewForwardingClient(50*time.Millisecond, nil))
	require.NoError(t, err)

	_, err = c.Forecast(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutDependency)
}

func TestForecast_ContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	second := newSecondService(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	c, err := New(second.URL, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Forecast(ctx)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutDependency)
}

func TestForecast_OversizedBody(t *testing.T) {
	t.Parallel()

	second := newSecondService(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(make([]byte, maxBodySize+10))
	})
	c, err := New(second.URL, nil)
	require.NoError(t, err)

	_, err = c.Forecast(context.Background())
	testutil.RequireErrorCode(t, err, sserr.CodeUpstream)
}
