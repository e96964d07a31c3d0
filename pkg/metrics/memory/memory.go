package memory

import (
	"sync"
	"time"

	"escola-client/pkg/metrics"
)

// MemoryCollector implements MetricsCollector for in-memory testing.
type MemoryCollector struct {
	mu sync.RWMutex

	// Per-entity metrics
	entityMetrics map[string]*EntityMetrics

	// Store-wide metrics
	invalidations   int64
	invalidated     int64
	evictions       int64
	queueDepth      int
	sessionExpiries int64
	circuitStates   map[string]metrics.CircuitState
	circuitOpens    map[string]int64
}

// EntityMetrics holds metrics for a single entity.
type EntityMetrics struct {
	// Reads
	FreshReads int64
	StaleReads int64

	// Fetches
	Fetches       int64
	FetchErrors   int64
	FetchAttempts int64
	Dropped       int64

	// Mutations (by kind: create, update, delete, patch)
	Mutations      map[string]int64
	MutationErrors map[string]int64
	Rollbacks      int64

	// Gateway
	Requests     int64
	StatusCounts map[int]int64
	ErrorsByType map[string]int64

	// Latencies (simple stats)
	FetchLatencies    []time.Duration
	MutationLatencies []time.Duration
	RequestLatencies  []time.Duration
}

// NewMemoryCollector creates a new in-memory metrics collector.
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{
		entityMetrics: make(map[string]*EntityMetrics),
		circuitStates: make(map[string]metrics.CircuitState),
		circuitOpens:  make(map[string]int64),
	}
}

// entity returns the EntityMetrics for the given entity, creating it if needed.
// Must be called with mc.mu held.
func (mc *MemoryCollector) entity(name string) *EntityMetrics {
	em, exists := mc.entityMetrics[name]
	if !exists {
		em = &EntityMetrics{
			Mutations:      make(map[string]int64),
			MutationErrors: make(map[string]int64),
			StatusCounts:   make(map[int]int64),
			ErrorsByType:   make(map[string]int64),
		}
		mc.entityMetrics[name] = em
	}
	return em
}

// RecordRead records a hook-style read served from the store.
func (mc *MemoryCollector) RecordRead(entity string, fresh bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	em := mc.entity(entity)
	if fresh {
		em.FreshReads++
	} else {
		em.StaleReads++
	}
}

// RecordFetch records a completed fetch cycle.
func (mc *MemoryCollector) RecordFetch(entity string, success bool, attempts int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	em := mc.entity(entity)
	em.Fetches++
	em.FetchAttempts += int64(attempts)
	if !success {
		em.FetchErrors++
	}
	em.FetchLatencies = append(em.FetchLatencies, duration)
}

// RecordInvalidate records a prefix invalidation.
func (mc *MemoryCollector) RecordInvalidate(prefix string, entries int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.invalidations++
	mc.invalidated += int64(entries)
}

// RecordEviction records entries removed by the GC sweep.
func (mc *MemoryCollector) RecordEviction(entries int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.evictions += int64(entries)
}

// RecordQueueDepth records the current refresh queue depth.
func (mc *MemoryCollector) RecordQueueDepth(depth int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.queueDepth = depth
}

// RecordRefreshDropped records a background refresh dropped by backpressure.
func (mc *MemoryCollector) RecordRefreshDropped(entity string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entity(entity).Dropped++
}

// RecordMutation records a settled mutation.
func (mc *MemoryCollector) RecordMutation(entity string, kind string, success bool, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	em := mc.entity(entity)
	em.Mutations[kind]++
	if !success {
		em.MutationErrors[kind]++
	}
	em.MutationLatencies = append(em.MutationLatencies, duration)
}

// RecordRollback records an optimistic patch rolled back.
func (mc *MemoryCollector) RecordRollback(entity string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entity(entity).Rollbacks++
}

// RecordRequest records a gateway request.
func (mc *MemoryCollector) RecordRequest(method string, entity string, status int, duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	em := mc.entity(entity)
	em.Requests++
	em.StatusCounts[status]++
	em.RequestLatencies = append(em.RequestLatencies, duration)
}

// RecordError records an error by type.
func (mc *MemoryCollector) RecordError(entity string, errorType string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entity(entity).ErrorsByType[errorType]++
}

// RecordCircuitState records the current circuit breaker state.
func (mc *MemoryCollector) RecordCircuitState(name string, state metrics.CircuitState) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	oldState := mc.circuitStates[name]
	mc.circuitStates[name] = state

	// Count transitions to open
	if oldState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		mc.circuitOpens[name]++
	}
}

// RecordSessionExpired records one session-expiry cycle.
func (mc *MemoryCollector) RecordSessionExpired() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.sessionExpiries++
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	EntityMetrics   map[string]EntityMetrics
	Invalidations   int64
	Invalidated     int64
	Evictions       int64
	QueueDepth      int
	SessionExpiries int64
	CircuitStates   map[string]metrics.CircuitState
	CircuitOpens    map[string]int64
}

// Snapshot returns a copy of the current metrics state.
func (mc *MemoryCollector) Snapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := Snapshot{
		EntityMetrics:   make(map[string]EntityMetrics, len(mc.entityMetrics)),
		Invalidations:   mc.invalidations,
		Invalidated:     mc.invalidated,
		Evictions:       mc.evictions,
		QueueDepth:      mc.queueDepth,
		SessionExpiries: mc.sessionExpiries,
		CircuitStates:   make(map[string]metrics.CircuitState, len(mc.circuitStates)),
		CircuitOpens:    make(map[string]int64, len(mc.circuitOpens)),
	}

	for name, em := range mc.entityMetrics {
		snapshot.EntityMetrics[name] = em.clone()
	}
	for name, state := range mc.circuitStates {
		snapshot.CircuitStates[name] = state
	}
	for name, opens := range mc.circuitOpens {
		snapshot.CircuitOpens[name] = opens
	}

	return snapshot
}

// Reset clears all collected metrics.
func (mc *MemoryCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entityMetrics = make(map[string]*EntityMetrics)
	mc.invalidations = 0
	mc.invalidated = 0
	mc.evictions = 0
	mc.queueDepth = 0
	mc.sessionExpiries = 0
	mc.circuitStates = make(map[string]metrics.CircuitState)
	mc.circuitOpens = make(map[string]int64)
}

// GetEntityMetrics returns the metrics for a specific entity, or nil.
func (mc *MemoryCollector) GetEntityMetrics(entity string) *EntityMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if em, exists := mc.entityMetrics[entity]; exists {
		c := em.clone()
		return &c
	}
	return nil
}

func (em *EntityMetrics) clone() EntityMetrics {
	c := *em
	c.Mutations = copyMap(em.Mutations)
	c.MutationErrors = copyMap(em.MutationErrors)
	c.StatusCounts = copyMap(em.StatusCounts)
	c.ErrorsByType = copyMap(em.ErrorsByType)
	c.FetchLatencies = append([]time.Duration(nil), em.FetchLatencies...)
	c.MutationLatencies = append([]time.Duration(nil), em.MutationLatencies...)
	c.RequestLatencies = append([]time.Duration(nil), em.RequestLatencies...)
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
