// Package downstream calls the second service on behalf of an inbound
// request, forwarding the caller's bearer token and trace identifier.
package downstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/bearer-relay/pkg/auth"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
)

const tracerName = "github.com/StricklySoft/bearer-relay/internal/downstream"

const (
	// DefaultTimeout bounds a whole downstream call.
	DefaultTimeout = 10 * time.Second

	// ForecastPath is the second service's forecast route.
	ForecastPath = "/weatherforecast"

	maxBodySize = 1 << 20
)

// Response is a downstream answer, relayed to the caller unchanged.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	tracer trace.Tracer
}

// New returns a client for the service at baseURL. httpClient must
// forward credentials; nil builds one with [auth.NewForwardingClient]
// and [DefaultTimeout].
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, sserr.Newf(sserr.CodeValidation,
			"downstream: base URL %q must be an absolute http(s) URL", baseURL)
	}
	if httpClient == nil {
		httpClient = auth.NewForwardingClient(DefaultTimeout, nil)
	}
	return &Client{
		base:   u,
		http:   httpClient,
		tracer: otel.Tracer(tracerName),
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.base.String() }

// Forecast fetches the second service's forecast. ctx must derive from
// the inbound request so its credentials are forwarded.
func (c *Client) Forecast(ctx context.Context) (*Response, error) {
	return c.Get(ctx, ForecastPath)
}

// Get issues GET base+path. Any HTTP status is a successful call; the
// caller decides how to relay it.
//
// Error codes returned:
//   - [sserr.CodeUnavailableDependency]: the service could not be reached
//   - [sserr.CodeTimeoutDependency]: the call exceeded its deadline
//   - [sserr.CodeUpstream]: the response body could not be read
func (c *Client) Get(ctx context.Context, path string) (_ *Response, err error) {
	target := c.base.JoinPath(strings.TrimPrefix(path, "/"))

	ctx, span := c.tracer.Start(ctx, "downstream.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodGet),
			attribute.String("url.full", target.String()),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "downstream: failed to build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, err, target.Host)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, transportError(ctx, err, target.Host)
	}
	if len(body) > maxBodySize {
		return nil, sserr.Newf(sserr.CodeUpstream,
			"downstream: response from %s exceeds %d bytes", target.Host, maxBodySize)
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func transportError(ctx context.Context, err error, host string) *sserr.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return sserr.Wrapf(err, sserr.CodeTimeoutDependency, "downstream: call to %s timed out", host)
	}
	return sserr.Wrapf(err, sserr.CodeUnavailableDependency, "downstream: call to %s failed", host)
}
