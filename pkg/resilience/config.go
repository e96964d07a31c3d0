package resilience

import (
	"fmt"
	"time"
)

// Config configures the resilient transport in front of the backend.
type Config struct {
	// Name identifies the breaker in logs and metrics
	Name string `koanf:"name"`

	// Timeout bounds one request, including reading the response body
	Timeout time.Duration `koanf:"timeout"`

	// CircuitBreakerConfig configures the circuit breaker behavior
	CircuitBreakerConfig CircuitBreakerConfig `koanf:"breaker"`
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32 `koanf:"max_requests"`

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration `koanf:"interval"`

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration `koanf:"timeout"`

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If nil, the breaker trips after 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool `koanf:"-"`
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultConfig returns the defaults used for the school backend.
func DefaultConfig() Config {
	return Config{
		Name:    "backend",
		Timeout: 15 * time.Second,
		CircuitBreakerConfig: CircuitBreakerConfig{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: ConsecutiveFailures(5),
		},
	}
}

// ConsecutiveFailures returns a ReadyToTrip that trips after n failures in a row.
func ConsecutiveFailures(n uint32) func(Counts) bool {
	return func(counts Counts) bool {
		return counts.ConsecutiveFailures >= n
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("resilience: negative timeout %v", c.Timeout)
	}
	if c.CircuitBreakerConfig.Timeout < 0 || c.CircuitBreakerConfig.Interval < 0 {
		return fmt.Errorf("resilience: negative breaker duration")
	}
	return nil
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c Config) WithCircuitBreakerTimeout(timeout time.Duration) Config {
	c.CircuitBreakerConfig.Timeout = timeout
	return c
}

// WithReadyToTrip returns a copy of the config with the given trip condition.
func (c Config) WithReadyToTrip(fn func(Counts) bool) Config {
	c.CircuitBreakerConfig.ReadyToTrip = fn
	return c
}
