package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

const tracerName = "github.com/StricklySoft/bearer-relay/pkg/jwks"

const (
	// DefaultFetchTimeout bounds a whole fetch: connect, response and body.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxBodySize limits how much of a JWKS response is read.
	DefaultMaxBodySize int64 = 1 << 20
)

// HTTPClient is the subset of *http.Client used by [Fetcher].
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves key sets over HTTP. It holds no key state and is
// safe for concurrent use.
type Fetcher struct {
	client      HTTPClient
	timeout     time.Duration
	maxBodySize int64
	tracer      trace.Tracer
	now         func() time.Time
}

// FetcherOption configures a [Fetcher].
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c HTTPClient) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithFetchTimeout sets the overall fetch timeout. Non-positive values
// keep [DefaultFetchTimeout].
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithMaxBodySize caps the response body size.
func WithMaxBodySize(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBodySize = n
		}
	}
}

// NewFetcher returns a Fetcher with the given options applied.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      http.DefaultClient,
		timeout:     DefaultFetchTimeout,
		maxBodySize: DefaultMaxBodySize,
		tracer:      otel.Tracer(tracerName),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs one GET against discoveryURL and parses the response
// into a [KeySet]. It does not retry and does not store the result.
func (f *Fetcher) Fetch(ctx context.Context, discoveryURL string) (_ *KeySet, err error) {
	ctx, span := f.tracer.Start(ctx, "jwks.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("jwks.url", discoveryURL)),
	)
	defer func() {
		finishSpan(span, err)
		span.End()
	}()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeKeySetFetch, "jwks: invalid discovery URL")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.transportError(ctx, err, "jwks: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, sserr.Newf(sserr.CodeKeySetFetch,
			"jwks: endpoint returned status %d", resp.StatusCode).
			WithDetail("status", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, f.transportError(ctx, err, "jwks: failed to read response")
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, sserr.Newf(sserr.CodeKeySetMalformed,
			"jwks: response exceeds %d bytes", f.maxBodySize)
	}

	set, err := ParseKeySet(body)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("jwks.keys", set.Len()))
	return set.withOrigin(discoveryURL, f.now()), nil
}

// transportError separates timeouts from other network failures.
func (f *Fetcher) transportError(ctx context.Context, err error, message string) *sserr.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return sserr.Wrap(err, sserr.CodeKeySetFetchTimeout,
			fmt.Sprintf("jwks: fetch exceeded %s", f.timeout))
	}
	return sserr.Wrap(err, sserr.CodeKeySetFetch, message)
}

func finishSpan(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
