package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/envelope"
	"escola-client/pkg/logging"
	"escola-client/pkg/metrics"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Store is the query cache: one map of entries keyed by serialized
// cache.Key, shared by every reader and by the mutation controller.
//
// Reads are stale-while-revalidate. A fresh entry is served as is; a stale
// or missing one is served as is while a single deduplicated fetch runs.
type Store struct {
	// entries stores the cache entries by serialized key
	entries map[string]*entry

	// mu protects entries and seq
	mu sync.RWMutex

	// seq orders fetch starts, writes and invalidations
	seq uint64

	sf        singleflight.Group
	refresher *Refresher
	config    StoreConfig
	logger    *logging.Logger
	metrics   metrics.MetricsCollector

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool

	gcTicker *time.Ticker
	stopGC   chan struct{}
	wg       sync.WaitGroup
}

// entry is a cache.Entry plus the bookkeeping the store needs.
type entry struct {
	cache.Entry

	segs []string

	// inflight is the running fetch, nil when idle
	inflight *flight

	// writtenAt and invalidatedAt are seq values of the last SetData and
	// the last Invalidate; a fetch that started earlier must not undo them
	writtenAt     uint64
	invalidatedAt uint64
}

// flight is one fetch in progress.
type flight struct {
	seq     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	run     func() (any, error)
	started atomic.Bool
}

// StoreConfig holds configuration for the store.
type StoreConfig struct {
	// GCInterval is how often unused entries are swept (default: 1 minute)
	GCInterval time.Duration `koanf:"gc_interval"`

	// Refresh configures the background refresh worker pool
	Refresh RefresherConfig `koanf:"refresh"`

	// Defaults apply to SetData on keys that were never read
	Defaults cache.EntryConfig `koanf:"defaults"`

	// Now returns the current time (default: time.Now)
	Now func() time.Time `koanf:"-"`

	// Logger receives fetch failures (default: global logger)
	Logger *logging.Logger `koanf:"-"`

	// Metrics receives read, fetch and eviction counts (default: no-op)
	Metrics metrics.MetricsCollector `koanf:"-"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		GCInterval: time.Minute,
		Refresh:    DefaultRefresherConfig(),
		Defaults:   cache.DefaultEntryConfig(),
	}
}

// NewStore creates an empty store and starts its GC sweep.
func NewStore(config StoreConfig) *Store {
	if config.GCInterval <= 0 {
		config.GCInterval = time.Minute
	}
	if config.Defaults == (cache.EntryConfig{}) {
		config.Defaults = cache.DefaultEntryConfig()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NoOpCollector{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		entries:   make(map[string]*entry),
		refresher: NewRefresher(config.Refresh, config.Metrics),
		config:    config,
		logger:    logging.Component(config.Logger, "query"),
		metrics:   config.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		gcTicker:  time.NewTicker(config.GCInterval),
		stopGC:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.gcLoop()

	return s
}

func (s *Store) now() time.Time {
	return s.config.Now()
}

// Read returns the cached state of key without blocking.
//
// A disabled read never fetches and reports StatusIdle. A fresh entry is
// returned directly. Otherwise a background fetch is started (or joined)
// and the previous value, if any, is returned with IsFetching set.
func (s *Store) Read(ctx context.Context, key cache.Key, fetch Fetcher, opts Options) Result {
	if err := key.Validate(); err != nil {
		return Result{Key: key, Status: StatusError, Err: err}
	}
	if s.closed.Load() {
		return Result{Key: key, Status: StatusError, Err: ErrStoreClosed}
	}

	k := key.String()
	now := s.now()

	s.mu.Lock()
	e := s.entryLocked(key, k, opts.EntryConfig, now)
	e.LastAccess = now
	if opts.Disabled {
		res := e.result(now, opts.Disabled)
		s.mu.Unlock()
		return res
	}

	if !e.IsStale(now) {
		res := e.result(now, false)
		s.mu.Unlock()
		s.metrics.RecordRead(key.Entity(), true)
		return res
	}

	fl, started := s.flightLocked(ctx, e, k, fetch, opts)
	res := e.result(now, false)
	s.mu.Unlock()
	s.metrics.RecordRead(key.Entity(), false)

	if started {
		err := s.refresher.Submit(key.Entity(), func() error {
			_, err, _ := s.sf.Do(flightKey(k, fl), fl.run)
			return err
		})
		if err != nil {
			s.abandon(k, fl)
			s.logger.Debug("background refresh not started",
				zap.Stringer("key", key),
				zap.Error(err))
			res.IsFetching = false
			if !res.HasData {
				res.Status = StatusIdle
			}
		}
	}

	return res
}

// Fetch returns the cached value of key when it is fresh; otherwise it
// fetches (joining any fetch already in flight) and waits for the result.
// The caller's context only bounds the wait, not the shared fetch.
func (s *Store) Fetch(ctx context.Context, key cache.Key, fetch Fetcher, opts Options) (any, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if opts.Disabled {
		return nil, cache.ErrCacheMiss
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	k := key.String()
	now := s.now()

	s.mu.Lock()
	e := s.entryLocked(key, k, opts.EntryConfig, now)
	e.LastAccess = now
	if !e.IsStale(now) {
		value := e.Value
		s.mu.Unlock()
		s.metrics.RecordRead(key.Entity(), true)
		return value, nil
	}
	fl, _ := s.flightLocked(ctx, e, k, fetch, opts)
	s.mu.Unlock()
	s.metrics.RecordRead(key.Entity(), false)

	select {
	case res := <-s.sf.DoChan(flightKey(k, fl), fl.run):
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// entryLocked returns the entry for k, creating it when absent.
// Must be called with s.mu held.
func (s *Store) entryLocked(key cache.Key, k string, config cache.EntryConfig, now time.Time) *entry {
	e, ok := s.entries[k]
	if !ok {
		e = &entry{
			Entry: cache.Entry{Key: key, LastAccess: now},
			segs:  key.Segments(),
		}
		s.entries[k] = e
	}
	e.StaleAfter = config.StaleAfter
	e.GCAfter = config.GCAfter
	return e
}

// flightLocked returns the fetch in flight for e, starting a new one when
// there is none. Must be called with s.mu held.
func (s *Store) flightLocked(ctx context.Context, e *entry, k string, fetch Fetcher, opts Options) (*flight, bool) {
	if e.inflight != nil {
		return e.inflight, false
	}

	s.seq++
	fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.ctx, cancel)

	fl := &flight{seq: s.seq, ctx: fctx, cancel: func() {
		stop()
		cancel()
	}}
	fl.run = func() (any, error) {
		return s.runFlight(e.Key, k, fl, fetch, opts)
	}
	e.inflight = fl
	return fl, true
}

func flightKey(k string, fl *flight) string {
	return k + "#" + strconv.FormatUint(fl.seq, 10)
}

// runFlight executes fetch with retries and stores the outcome, unless the
// flight was cancelled or superseded in the meantime.
func (s *Store) runFlight(key cache.Key, k string, fl *flight, fetch Fetcher, opts Options) (any, error) {
	s.mu.RLock()
	e, ok := s.entries[k]
	current := ok && e.inflight == fl
	s.mu.RUnlock()
	if !current {
		// Settled before this caller joined; report what the entry holds.
		return s.settled(k)
	}
	fl.started.Store(true)
	defer fl.cancel()

	start := s.now()
	value, attempts, err := s.attempt(fl.ctx, key, fetch, opts.EntryConfig)
	duration := s.now().Sub(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok = s.entries[k]
	if !ok || e.inflight != fl {
		s.logger.Debug("discarding result of cancelled fetch", zap.Stringer("key", key))
		return nil, cache.WrapError(cache.ErrFetchCancelled, key, "fetch")
	}
	e.inflight = nil

	now := s.now()
	s.metrics.RecordFetch(key.Entity(), err == nil, attempts, duration)

	if err != nil {
		e.Err = err
		e.ErrAt = now
		e.FailureCount = attempts
		s.metrics.RecordError(key.Entity(), cache.ClassifyError(err))
		s.logger.Warn("fetch failed",
			zap.Stringer("key", key),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, err
	}

	// A write that happened after this fetch started is newer than the
	// fetched value.
	if e.writtenAt > fl.seq {
		return e.Value, nil
	}

	e.Value = value
	e.HasValue = true
	e.UpdatedAt = now
	e.Err = nil
	e.ErrAt = time.Time{}
	e.FailureCount = 0
	e.Invalidated = e.invalidatedAt > fl.seq
	return value, nil
}

// settled reports the stored outcome of a finished fetch.
func (s *Store) settled(k string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[k]
	switch {
	case !ok:
		return nil, cache.ErrFetchCancelled
	case e.Err != nil:
		return nil, e.Err
	case e.HasValue:
		return e.Value, nil
	default:
		return nil, cache.ErrFetchCancelled
	}
}

// attempt calls fetch once plus up to config.Retry more times. Attempts are
// separated only by the constant RetryDelay. Auth failures and an open
// circuit are not retried.
func (s *Store) attempt(ctx context.Context, key cache.Key, fetch Fetcher, config cache.EntryConfig) (any, int, error) {
	attempts := 0
	for {
		attempts++
		value, err := fetch(ctx)
		if err == nil {
			return value, attempts, nil
		}
		if ctx.Err() != nil {
			return nil, attempts, cache.WrapError(cache.ErrFetchCancelled, key, "fetch")
		}
		if attempts > config.Retry || !retryable(err) {
			return nil, attempts, err
		}

		s.logger.Debug("retrying fetch",
			zap.Stringer("key", key),
			zap.Int("attempt", attempts),
			zap.Error(err))

		if config.RetryDelay > 0 {
			timer := time.NewTimer(config.RetryDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, attempts, cache.WrapError(cache.ErrFetchCancelled, key, "fetch")
			}
		}
	}
}

func retryable(err error) bool {
	if envelope.IsAuth(err) || cache.IsCircuitOpen(err) || cache.IsCancelled(err) {
		return false
	}
	return true
}

// abandon clears a flight that never got to run.
func (s *Store) abandon(k string, fl *flight) {
	if fl.started.Load() {
		return
	}
	s.mu.Lock()
	if e, ok := s.entries[k]; ok && e.inflight == fl {
		e.inflight = nil
	}
	s.mu.Unlock()
	fl.cancel()
}

// Cancel stops the fetch in flight for key, if any. The fetch's late
// result is discarded; the entry keeps its current value. Returns whether
// a fetch was cancelled.
func (s *Store) Cancel(key cache.Key) bool {
	k := key.String()

	s.mu.Lock()
	e, ok := s.entries[k]
	if !ok || e.inflight == nil {
		s.mu.Unlock()
		return false
	}
	fl := e.inflight
	e.inflight = nil
	s.mu.Unlock()

	fl.cancel()
	s.logger.Debug("fetch cancelled", zap.Stringer("key", key))
	return true
}

// GetData returns the cached value of key, fresh or not.
func (s *Store) GetData(key cache.Key) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	if !ok || !e.HasValue {
		return nil, false
	}
	return e.Value, true
}

// SetData writes value as the fresh, successful value of key. A fetch
// that started before the write cannot overwrite it.
func (s *Store) SetData(key cache.Key, value any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}

	k := key.String()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok {
		e = s.entryLocked(key, k, s.config.Defaults, now)
	}
	s.seq++
	e.writtenAt = s.seq
	e.Value = value
	e.HasValue = true
	e.UpdatedAt = now
	e.LastAccess = now
	e.Invalidated = false
	e.Err = nil
	e.ErrAt = time.Time{}
	e.FailureCount = 0
	return nil
}

// Hydrate restores a previously dehydrated entry without touching entries
// that already hold a newer value.
func (s *Store) Hydrate(in cache.Entry) error {
	if err := in.Key.Validate(); err != nil {
		return err
	}
	if !in.HasValue {
		return nil
	}

	k := in.Key.String()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	config := s.config.Defaults
	if in.StaleAfter > 0 || in.GCAfter > 0 {
		config.StaleAfter = in.StaleAfter
		config.GCAfter = in.GCAfter
	}

	e, ok := s.entries[k]
	if ok && e.HasValue && !e.UpdatedAt.Before(in.UpdatedAt) {
		return nil
	}
	e = s.entryLocked(in.Key, k, config, now)
	e.Value = in.Value
	e.HasValue = true
	e.UpdatedAt = in.UpdatedAt
	e.LastAccess = now
	return nil
}

// Invalidate marks every entry whose key starts with prefix as stale and
// returns how many entries matched. Values are kept. Invalidating twice has
// the same effect as once.
func (s *Store) Invalidate(prefix cache.Key) int {
	segs := prefix.Segments()

	s.mu.Lock()
	s.seq++
	count := 0
	for _, e := range s.entries {
		if cache.HasSegmentPrefix(e.segs, segs) {
			e.Invalidated = true
			e.invalidatedAt = s.seq
			count++
		}
	}
	s.mu.Unlock()

	s.metrics.RecordInvalidate(prefix.String(), count)
	s.logger.Debug("invalidated",
		zap.Stringer("prefix", prefix),
		zap.Int("entries", count))
	return count
}

// Remove deletes the entry for key outright, cancelling its fetch.
// The next read starts from scratch.
func (s *Store) Remove(key cache.Key) bool {
	k := key.String()

	s.mu.Lock()
	e, ok := s.entries[k]
	if ok {
		delete(s.entries, k)
	}
	s.mu.Unlock()

	if ok && e.inflight != nil {
		e.inflight.cancel()
	}
	return ok
}

// State returns the current result for key without touching it or fetching.
func (s *Store) State(key cache.Key) (Result, bool) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return Result{Key: key, Status: StatusIdle}, false
	}
	return e.result(now, false), true
}

// Entries returns a snapshot of every entry, ordered by serialized key.
func (s *Store) Entries() []cache.Entry {
	s.mu.RLock()
	out := make([]cache.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Entry)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Fetching reports whether a fetch is in flight for key.
func (s *Store) Fetching(key cache.Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	return ok && e.inflight != nil
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear removes every entry, e.g. on logout.
func (s *Store) Clear() {
	s.mu.Lock()
	old := s.entries
	s.entries = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range old {
		if e.inflight != nil {
			e.inflight.cancel()
		}
	}
}

// GC evicts entries unused for longer than their GCAfter that have no fetch
// in flight, and returns how many were evicted.
func (s *Store) GC() int {
	now := s.now()

	s.mu.Lock()
	evicted := 0
	for k, e := range s.entries {
		if e.inflight == nil && e.IsCollectable(now) {
			delete(s.entries, k)
			evicted++
		}
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.metrics.RecordEviction(evicted)
		s.logger.Debug("gc sweep", zap.Int("evicted", evicted))
	}
	return evicted
}

// Flush waits for background refreshes to finish.
func (s *Store) Flush(timeout time.Duration) error {
	return s.refresher.Flush(timeout)
}

// RefresherStats returns statistics about background refreshes.
func (s *Store) RefresherStats() RefresherStats {
	return s.refresher.Stats()
}

// Close stops the GC sweep, cancels in-flight fetches and waits for the
// refresh workers.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.gcTicker.Stop()
	close(s.stopGC)
	s.wg.Wait()

	s.cancel()
	if err := s.refresher.Close(); err != nil {
		return fmt.Errorf("query: close refresher: %w", err)
	}
	return nil
}

// gcLoop runs in a background goroutine to evict unused entries.
func (s *Store) gcLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.gcTicker.C:
			s.GC()
		case <-s.stopGC:
			return
		}
	}
}

// result converts the entry into what a reader observes.
// Must be called with the store lock held.
func (e *entry) result(now time.Time, disabled bool) Result {
	res := Result{
		Key:          e.Key,
		Data:         e.Value,
		HasData:      e.HasValue,
		Err:          e.Err,
		IsFetching:   e.inflight != nil,
		IsStale:      e.IsStale(now),
		UpdatedAt:    e.UpdatedAt,
		FailureCount: e.FailureCount,
	}

	switch {
	case disabled:
		res.Status = StatusIdle
	case e.Err != nil:
		res.Status = StatusError
	case e.HasValue:
		res.Status = StatusSuccess
	case res.IsFetching:
		res.Status = StatusLoading
	default:
		res.Status = StatusIdle
	}
	return res
}

// IsClosed reports whether Close has been called.
func (s *Store) IsClosed() bool {
	return s.closed.Load()
}
