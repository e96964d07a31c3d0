package query

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"escola-client/pkg/cache"

	"github.com/goccy/go-json"
)

// Fetcher loads the value of one cache key. It is called with a context
// that is cancelled when the fetch is cancelled or the store closes.
type Fetcher func(ctx context.Context) (any, error)

// Status is the lifecycle state of a read.
type Status int

const (
	// StatusIdle means no fetch was requested (disabled read) or none is running.
	StatusIdle Status = iota
	// StatusLoading means there is no value yet and a fetch is in flight.
	StatusLoading
	// StatusSuccess means a value is available and the last fetch succeeded.
	StatusSuccess
	// StatusError means the last fetch failed; Data still holds the last good value, if any.
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Options configures a single read.
type Options struct {
	cache.EntryConfig

	// Disabled skips the fetch entirely and reports StatusIdle.
	Disabled bool
}

// DefaultOptions returns the options used for list and detail reads.
func DefaultOptions() Options {
	return Options{EntryConfig: cache.DefaultEntryConfig()}
}

// LowPriorityOptions returns the options used for lookup tables.
func LowPriorityOptions() Options {
	return Options{EntryConfig: cache.LowPriorityEntryConfig()}
}

// WithDisabled returns a copy of the options with the read disabled or enabled.
func (o Options) WithDisabled(disabled bool) Options {
	o.Disabled = disabled
	return o
}

// Result is what a read observes: the cached value plus its freshness and
// fetch state.
type Result struct {
	Key          cache.Key
	Data         any
	HasData      bool
	Status       Status
	Err          error
	IsFetching   bool
	IsStale      bool
	UpdatedAt    time.Time
	FailureCount int
}

// IsLoading reports whether there is nothing to show yet.
func (r Result) IsLoading() bool {
	return r.Status == StatusLoading
}

// Decode converts a cached value into T.
//
// Values written by the typed resource layer already have type T. Values
// restored from persistence arrive as raw JSON or generic maps and are
// re-decoded.
func Decode[T any](v any) (T, error) {
	var zero T
	switch typed := v.(type) {
	case T:
		return typed, nil
	case nil:
		return zero, nil
	case json.RawMessage:
		return unmarshal[T](typed)
	case []byte:
		return unmarshal[T](typed)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("query: encode %T: %w", v, err)
	}
	return unmarshal[T](b)
}

func unmarshal[T any](b []byte) (T, error) {
	var out T
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("query: decode into %s: %w", reflect.TypeFor[T](), err)
	}
	return out, nil
}

// DataAs returns the result data converted to T.
func DataAs[T any](r Result) (T, error) {
	if !r.HasData {
		var zero T
		return zero, cache.ErrCacheMiss
	}
	return Decode[T](r.Data)
}

// Errors returned by the store.
var (
	// ErrStoreClosed is returned by operations on a closed store
	ErrStoreClosed = errors.New("query: store is closed")

	// ErrQueueFull is returned when a background refresh could not be queued
	ErrQueueFull = errors.New("query: refresh queue full, refresh dropped")

	// ErrRefresherClosed is returned when submitting to a closed refresher
	ErrRefresherClosed = errors.New("query: refresher is closed")

	// ErrFlushTimeout is returned when Flush times out waiting for refreshes
	ErrFlushTimeout = errors.New("query: flush timeout exceeded")
)
