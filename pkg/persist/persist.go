// Package persist saves fresh query results outside the process and
// restores them into a new store, so a restarted client starts warm.
//
// Persistence is opt-in. Only fresh, successful, non-invalidated entries are
// saved; restored entries keep their original fetch time and go stale on
// schedule.
package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/logging"
	"escola-client/pkg/query"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no persister address is configured.
var ErrNotConfigured = errors.New("persist: not configured")

// Record is the persisted form of one entry.
type Record struct {
	Key        cache.Key       `json:"key"`
	Value      json.RawMessage `json:"value"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	StaleAfter time.Duration   `json:"staleAfter"`
	GCAfter    time.Duration   `json:"gcAfter"`
}

// Expired reports whether the record is past its collection window.
func (r Record) Expired(now time.Time) bool {
	return r.GCAfter > 0 && now.Sub(r.UpdatedAt) > r.GCAfter
}

// Persister stores one snapshot of records.
type Persister interface {
	// Save replaces the stored snapshot with records
	Save(ctx context.Context, records []Record) error

	// Load returns the stored snapshot
	Load(ctx context.Context) ([]Record, error)

	// Clear removes the stored snapshot
	Clear(ctx context.Context) error

	Close() error
}

// Dehydrate converts the store's fresh, successful entries into records.
func Dehydrate(store *query.Store, now time.Time) ([]Record, error) {
	entries := store.Entries()
	records := make([]Record, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if !e.HasValue || e.Err != nil || e.IsStale(now) {
			continue
		}
		value, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("persist: encode %s: %w", e.Key, err)
		}
		records = append(records, Record{
			Key:        e.Key,
			Value:      value,
			UpdatedAt:  e.UpdatedAt,
			StaleAfter: e.StaleAfter,
			GCAfter:    e.GCAfter,
		})
	}
	return records, nil
}

// Hydrate restores records into store, skipping expired ones. Values are
// restored as raw JSON and decoded on read. It returns how many records
// were restored.
func Hydrate(store *query.Store, records []Record, now time.Time) (int, error) {
	restored := 0
	var errs []error
	for _, r := range records {
		if r.Expired(now) || len(r.Value) == 0 {
			continue
		}
		err := store.Hydrate(cache.Entry{
			Key:        r.Key,
			Value:      r.Value,
			HasValue:   true,
			UpdatedAt:  r.UpdatedAt,
			StaleAfter: r.StaleAfter,
			GCAfter:    r.GCAfter,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Key, err))
			continue
		}
		restored++
	}
	return restored, errors.Join(errs...)
}

// Sync saves store through p.
func Sync(ctx context.Context, store *query.Store, p Persister) (int, error) {
	records, err := Dehydrate(store, time.Now())
	if err != nil {
		return 0, err
	}
	if err := p.Save(ctx, records); err != nil {
		return 0, err
	}
	logging.Global().Named("persist").Debug("store saved", zap.Int("records", len(records)))
	return len(records), nil
}

// Restore loads the snapshot from p into store.
func Restore(ctx context.Context, store *query.Store, p Persister) (int, error) {
	records, err := p.Load(ctx)
	if err != nil {
		return 0, err
	}
	n, err := Hydrate(store, records, time.Now())
	logging.Global().Named("persist").Debug("store restored",
		zap.Int("records", len(records)),
		zap.Int("restored", n))
	return n, err
}
