package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common cache and fetch errors.
var (
	// ErrKeyNotFound is returned when a requested key has no entry
	ErrKeyNotFound = errors.New("cache: key not found")

	// ErrCacheMiss is an alias for ErrKeyNotFound
	ErrCacheMiss = ErrKeyNotFound

	// ErrInvalidKey is returned for empty or malformed keys
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrInvalidConfig is returned when an EntryConfig or store config is invalid
	ErrInvalidConfig = errors.New("cache: invalid config")

	// ErrFetchCancelled is returned when an in-flight fetch was cancelled by a mutation
	ErrFetchCancelled = errors.New("cache: fetch cancelled")

	// ErrTimeout is returned when an operation times out
	ErrTimeout = errors.New("cache: operation timeout")

	// ErrCircuitOpen is returned when the transport circuit breaker is open
	ErrCircuitOpen = errors.New("cache: circuit breaker open")

	// ErrClosed is returned when a closed store is used
	ErrClosed = errors.New("cache: store closed")
)

// Classifier is implemented by errors that know their own metrics label.
type Classifier interface {
	Classification() string
}

// IsNotFound checks if the given error indicates that a key was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}

// IsTimeout checks if the given error indicates a timeout occurred.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsCancelled checks if the given error comes from a cancelled fetch.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrFetchCancelled) || errors.Is(err, context.Canceled)
}

// IsCircuitOpen checks if the given error indicates the circuit breaker is open.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// ClassifyError returns a string classification of the error for metrics labels.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}

	var c Classifier
	if errors.As(err, &c) {
		return c.Classification()
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_breaker_open"
	case IsTimeout(err):
		return "timeout"
	case IsCancelled(err):
		return "cancelled"
	case errors.Is(err, ErrKeyNotFound):
		return "key_not_found"
	case errors.Is(err, ErrInvalidKey):
		return "invalid_key"
	case errors.Is(err, ErrClosed):
		return "closed"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "connection", "connect", "dial", "no such host"):
		return "connection"
	case containsAny(msg, "marshal", "unmarshal", "decode", "encode"):
		return "serialization"
	default:
		return "other"
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// WrapError adds the key and operation to an error.
func WrapError(err error, key Key, operation string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("cache %s %s: %w", operation, key.String(), err)
}
