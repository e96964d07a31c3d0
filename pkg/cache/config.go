package cache

import (
	"fmt"
	"time"
)

// MaxRetry caps the number of fetch retries a read may request.
const MaxRetry = 10

// EntryConfig holds the freshness and retry parameters of a read.
// Each entity uses fixed values; they are library parameters, not a policy.
type EntryConfig struct {
	// StaleAfter is how long a fetched value is served without a refetch.
	// Zero means every read revalidates.
	StaleAfter time.Duration `koanf:"stale_after"`

	// GCAfter is how long an entry may stay unused before it is evicted
	GCAfter time.Duration `koanf:"gc_after"`

	// Retry is how many times a failed fetch is retried (2 for list/detail reads,
	// 1 for low priority reads)
	Retry int `koanf:"retry"`

	// RetryDelay is a constant pause between attempts. Zero retries immediately.
	RetryDelay time.Duration `koanf:"retry_delay"`
}

// DefaultEntryConfig returns the configuration used for list and detail reads.
func DefaultEntryConfig() EntryConfig {
	return EntryConfig{
		StaleAfter: 5 * time.Minute,
		GCAfter:    10 * time.Minute,
		Retry:      2,
	}
}

// LowPriorityEntryConfig returns the configuration for lookup tables and
// other reads that rarely change.
func LowPriorityEntryConfig() EntryConfig {
	return EntryConfig{
		StaleAfter: 30 * time.Minute,
		GCAfter:    time.Hour,
		Retry:      1,
	}
}

// Validate checks that durations are non-negative and the retry count is bounded.
func (c EntryConfig) Validate() error {
	if c.StaleAfter < 0 {
		return fmt.Errorf("%w: negative stale-after", ErrInvalidConfig)
	}
	if c.GCAfter < 0 {
		return fmt.Errorf("%w: negative gc-after", ErrInvalidConfig)
	}
	if c.Retry < 0 || c.Retry > MaxRetry {
		return fmt.Errorf("%w: retry must be between 0 and %d", ErrInvalidConfig, MaxRetry)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("%w: negative retry delay", ErrInvalidConfig)
	}
	return nil
}

// WithStaleAfter returns a copy of the config with the given freshness window.
func (c EntryConfig) WithStaleAfter(d time.Duration) EntryConfig {
	c.StaleAfter = d
	return c
}

// WithGCAfter returns a copy of the config with the given collection window.
func (c EntryConfig) WithGCAfter(d time.Duration) EntryConfig {
	c.GCAfter = d
	return c
}

// WithRetry returns a copy of the config with the given retry count.
func (c EntryConfig) WithRetry(n int) EntryConfig {
	c.Retry = n
	return c
}
