package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/logging"
	"escola-client/pkg/metrics"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Transport wraps an http.RoundTripper with a per-request timeout and a
// circuit breaker.
//
// Transport errors and 5xx responses count as failures. 4xx responses are
// the backend answering correctly (validation, not found, expired token)
// and count as successes. Callers cancelling their own request are not
// counted at all.
type Transport struct {
	next    http.RoundTripper
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	name    string
	metrics metrics.MetricsCollector
	logger  *logging.Logger
}

// serverError marks a 5xx response for the breaker.
type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("resilience: server error %d", e.status)
}

// NewTransport creates a resilient transport around next
// (http.DefaultTransport when nil).
func NewTransport(next http.RoundTripper, config Config) *Transport {
	return NewTransportWithMetrics(next, config, metrics.NoOpCollector{})
}

// NewTransportWithMetrics creates a resilient transport with a custom metrics collector.
func NewTransportWithMetrics(next http.RoundTripper, config Config, collector metrics.MetricsCollector) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	if config.Name == "" {
		config.Name = "backend"
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}

	logger := logging.Global().Named("resilience").Named(config.Name)

	t := &Transport{
		next:    next,
		timeout: config.Timeout,
		name:    config.Name,
		metrics: collector,
		logger:  logger,
	}

	logger.Debug("resilient transport initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreakerConfig.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreakerConfig.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreakerConfig.Timeout),
	)

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.CircuitBreakerConfig.MaxRequests,
		Interval:    config.CircuitBreakerConfig.Interval,
		Timeout:     config.CircuitBreakerConfig.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreakerConfig.ReadyToTrip != nil {
				return config.CircuitBreakerConfig.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			t.metrics.RecordCircuitState(name, circuitState(to))
		},
	}

	t.cb = gobreaker.NewCircuitBreaker(settings)

	return t
}

// RoundTrip executes one request through the breaker.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if t.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
	}

	result, err := t.cb.Execute(func() (interface{}, error) {
		resp, err := t.next.RoundTrip(req.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, &serverError{status: resp.StatusCode}
		}
		return resp, nil
	})

	var se *serverError
	if errors.As(err, &se) {
		err = nil
	}

	if err != nil {
		cancel()
		duration := time.Since(start)

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			t.logger.Warn("circuit breaker open - request rejected",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			)
			return nil, cache.ErrCircuitOpen
		}
		if ctx.Err() == context.DeadlineExceeded && req.Context().Err() == nil {
			t.logger.Warn("request timeout",
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("timeout", t.timeout),
				zap.Duration("elapsed", duration),
			)
			return nil, fmt.Errorf("%w: %s %s", cache.ErrTimeout, req.Method, req.URL.Path)
		}
		return nil, err
	}

	resp := result.(*http.Response)
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// State returns the current breaker state.
func (t *Transport) State() metrics.CircuitState {
	return circuitState(t.cb.State())
}

// Name returns the breaker name.
func (t *Transport) Name() string {
	return t.name
}

func circuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// cancelOnClose releases the request timeout once the body is consumed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
