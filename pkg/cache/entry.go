package cache

import "time"

// Entry is the last known state of one cached read.
// It includes the value, when it was fetched, whether it was explicitly
// invalidated, and the freshness and collection windows it was read with.
type Entry struct {
	// Key is the hierarchical key of the entry
	Key Key

	// Value is the last successfully fetched value (nil when HasValue is false)
	Value any

	// HasValue distinguishes "never fetched" from a fetched nil value
	HasValue bool

	// UpdatedAt is when Value was last written
	UpdatedAt time.Time

	// Invalidated marks the entry stale regardless of its age
	Invalidated bool

	// LastAccess is when the entry was last read or written
	LastAccess time.Time

	// Err is the terminal error of the last fetch, if it failed
	Err error

	// ErrAt is when Err was recorded
	ErrAt time.Time

	// FailureCount is the number of attempts made by the last failed fetch
	FailureCount int

	// StaleAfter is how long a value stays fresh
	StaleAfter time.Duration

	// GCAfter is how long an unused entry is kept
	GCAfter time.Duration
}

// IsStale reports whether the entry needs a refetch at now.
// Entries without a value, invalidated entries and entries older than
// StaleAfter are stale.
func (e *Entry) IsStale(now time.Time) bool {
	if !e.HasValue || e.Invalidated {
		return true
	}
	return now.Sub(e.UpdatedAt) >= e.StaleAfter
}

// IsCollectable reports whether the entry has been unused for longer than GCAfter.
func (e *Entry) IsCollectable(now time.Time) bool {
	return now.Sub(e.LastAccess) > e.GCAfter
}

// Age returns how long ago the value was written, or 0 without a value.
func (e *Entry) Age(now time.Time) time.Duration {
	if !e.HasValue {
		return 0
	}
	return now.Sub(e.UpdatedAt)
}
