package persist

import (
	"context"
	"sync"
)

// MemoryPersister keeps the snapshot in process. It is used in tests and
// when persistence should only survive a store rebuild.
type MemoryPersister struct {
	mu      sync.Mutex
	records []Record
	saves   int
}

// NewMemoryPersister creates an empty persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

// Save implements Persister.
func (m *MemoryPersister) Save(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]Record(nil), records...)
	m.saves++
	return nil
}

// Load implements Persister.
func (m *MemoryPersister) Load(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...), nil
}

// Clear implements Persister.
func (m *MemoryPersister) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	return nil
}

// Close implements Persister.
func (m *MemoryPersister) Close() error {
	return nil
}

// Saves returns how many times Save succeeded.
func (m *MemoryPersister) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
