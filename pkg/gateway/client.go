// Package gateway translates entity operations into calls against the
// school backend's REST API and parses every response envelope.
//
// The gateway does not cache, retry or notify. It returns the parsed
// envelope or an *envelope.APIError, and reports session failures to the
// session guard.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/envelope"
	"escola-client/pkg/logging"
	"escola-client/pkg/metrics"
	"escola-client/pkg/resilience"
	"escola-client/pkg/session"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxBodySize caps how much of a response body is read.
const MaxBodySize = 16 << 20

// RequestIDHeader carries a unique id per request for backend log correlation.
const RequestIDHeader = "X-Request-ID"

// ErrInvalidBaseURL is returned when the configured base URL cannot be used.
var ErrInvalidBaseURL = errors.New("gateway: invalid base URL")

// Config holds the gateway configuration.
type Config struct {
	// BaseURL is the backend origin, e.g. https://escola.example.ao
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// RateLimit caps requests per second (0 = unlimited)
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`

	// Burst is the rate limiter bucket size (default: 10)
	Burst int `koanf:"burst" validate:"gte=0"`

	// UserAgent is sent with every request
	UserAgent string `koanf:"user_agent"`

	// Resilience configures the per-request timeout and circuit breaker
	Resilience resilience.Config `koanf:"resilience"`
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:3000",
		Burst:      10,
		UserAgent:  "escola-client",
		Resilience: resilience.DefaultConfig(),
	}
}

// Client performs authenticated requests against the backend.
type Client struct {
	baseURL   string
	http      *http.Client
	tokens    tokenSource
	guard     *session.Guard
	limiter   *rate.Limiter
	tracer    trace.Tracer
	userAgent string
	breaker   *resilience.Transport
	metrics   metrics.MetricsCollector
	logger    *logging.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is
// still wrapped with the circuit breaker.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTokenStore sets where the bearer token is read from.
func WithTokenStore(s session.TokenStore) Option {
	return func(c *Client) { c.tokens = s }
}

// WithGuard sets the session guard that receives auth failures.
func WithGuard(g *session.Guard) Option {
	return func(c *Client) { c.guard = g }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l.Named("gateway") }
}

// WithTracerProvider sets the OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer("escola-client/gateway") }
}

// NewClient creates a client for config.
func NewClient(config Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, config.BaseURL)
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.UserAgent == "" {
		config.UserAgent = "escola-client"
	}

	c := &Client{
		baseURL:   strings.TrimRight(base.String(), "/"),
		http:      &http.Client{},
		tracer:    otel.Tracer("escola-client/gateway"),
		userAgent: config.UserAgent,
		metrics:   metrics.NoOpCollector{},
		logger:    logging.Global().Named("gateway"),
	}
	if config.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil && c.guard != nil {
		c.tokens = c.guard
	}

	// Wrap a copy so a caller-provided client is not modified.
	hc := *c.http
	c.breaker = resilience.NewTransportWithMetrics(hc.Transport, config.Resilience, c.metrics)
	hc.Transport = c.breaker
	c.http = &hc

	return c, nil
}

// tokenSource yields the bearer token attached to requests.
type tokenSource interface {
	Token() (string, bool)
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Breaker returns the resilient transport, for state inspection.
func (c *Client) Breaker() *resilience.Transport {
	return c.breaker
}

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Entity labels logs, spans and metrics
	Entity string
}

// Response is the raw outcome of a call.
type Response struct {
	Status    int
	Body      []byte
	RequestID string
}

// Do sends req and returns the raw response. Failures below HTTP (no
// connection, timeout, open circuit, expired token caught before sending)
// are returned as *envelope.APIError.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c.guard != nil {
		if err := c.guard.Preflight(); err != nil {
			return Response{}, err
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, envelope.NewTransportError(err)
		}
	}

	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "gateway "+req.Method+" "+req.Entity,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("escola.entity", req.Entity),
			attribute.String("escola.request_id", requestID),
		))
	defer span.End()

	httpReq, err := c.newRequest(ctx, req, requestID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Response{}, envelope.NewTransportError(err)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	duration := time.Since(start)
	if err != nil {
		c.metrics.RecordRequest(req.Method, req.Entity, 0, duration)
		c.metrics.RecordError(req.Entity, cache.ClassifyError(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		c.logger.Warn("request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", requestID),
			zap.Duration("duration", duration),
			zap.Error(err))
		return Response{}, envelope.NewTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return Response{}, envelope.NewTransportError(err)
	}

	c.metrics.RecordRequest(req.Method, req.Entity, resp.StatusCode, duration)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}

	c.logger.Debug("request completed",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("duration", duration))

	return Response{Status: resp.StatusCode, Body: body, RequestID: requestID}, nil
}

func (c *Client) newRequest(ctx context.Context, req Request, requestID string) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("gateway: encode body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set(RequestIDHeader, requestID)
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return httpReq, nil
}

// Call sends req and parses the envelope. Session failures are reported to
// the guard before the result is returned.
func Call[T any](ctx context.Context, c *Client, req Request) envelope.Result[T] {
	resp, err := c.Do(ctx, req)
	if err != nil {
		apiErr, ok := envelope.AsAPIError(err)
		if !ok {
			apiErr = envelope.NewTransportError(err)
		}
		return envelope.Fail[T](apiErr)
	}

	res := envelope.Parse[T](resp.Status, resp.Body)
	if apiErr := res.Err(); apiErr != nil {
		c.metrics.RecordError(req.Entity, apiErr.Classification())
		if apiErr.Kind == envelope.KindAuth && c.guard != nil {
			c.guard.Report(apiErr.Status, apiErr.Message)
		}
		c.logger.Debug("request rejected",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", resp.RequestID),
			zap.Stringer("kind", apiErr.Kind),
			zap.String("message", apiErr.Message))
	}
	return res
}
