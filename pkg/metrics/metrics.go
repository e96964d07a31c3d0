package metrics

import (
	"time"
)

// MetricsCollector defines the interface for collecting client metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type MetricsCollector interface {
	// Query cache
	RecordRead(entity string, fresh bool)
	RecordFetch(entity string, success bool, attempts int, duration time.Duration)
	RecordInvalidate(prefix string, entries int)
	RecordEviction(entries int)

	// Refresh worker pool
	RecordQueueDepth(depth int)
	RecordRefreshDropped(entity string)

	// Mutations
	RecordMutation(entity string, kind string, success bool, duration time.Duration)
	RecordRollback(entity string)

	// Gateway
	RecordRequest(method string, entity string, status int, duration time.Duration)
	RecordError(entity string, errorType string)
	RecordCircuitState(name string, state CircuitState)

	// Session
	RecordSessionExpired()
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the backend has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// NoOpCollector is a no-op implementation of MetricsCollector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordRead does nothing.
func (NoOpCollector) RecordRead(entity string, fresh bool) {}

// RecordFetch does nothing.
func (NoOpCollector) RecordFetch(entity string, success bool, attempts int, duration time.Duration) {}

// RecordInvalidate does nothing.
func (NoOpCollector) RecordInvalidate(prefix string, entries int) {}

// RecordEviction does nothing.
func (NoOpCollector) RecordEviction(entries int) {}

// RecordQueueDepth does nothing.
func (NoOpCollector) RecordQueueDepth(depth int) {}

// RecordRefreshDropped does nothing.
func (NoOpCollector) RecordRefreshDropped(entity string) {}

// RecordMutation does nothing.
func (NoOpCollector) RecordMutation(entity string, kind string, success bool, duration time.Duration) {
}

// RecordRollback does nothing.
func (NoOpCollector) RecordRollback(entity string) {}

// RecordRequest does nothing.
func (NoOpCollector) RecordRequest(method string, entity string, status int, duration time.Duration) {
}

// RecordError does nothing.
func (NoOpCollector) RecordError(entity string, errorType string) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(name string, state CircuitState) {}

// RecordSessionExpired does nothing.
func (NoOpCollector) RecordSessionExpired() {}
