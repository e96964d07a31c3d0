package persist

import (
	"context"
	"testing"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/query"

	"github.com/google/go-cmp/cmp"
)

type turma struct {
	ID   string `json:"id"`
	Nome string `json:"nome"`
}

func newStore(t *testing.T, now func() time.Time) *query.Store {
	t.Helper()

	config := query.DefaultStoreConfig()
	config.GCInterval = time.Hour
	if now != nil {
		config.Now = now
	}
	s := query.NewStore(config)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	src := newStore(t, nil)
	key := cache.DetailKey("turmas", "7")
	want := turma{ID: "7", Nome: "10ª A"}
	if err := src.SetData(key, want); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}

	p := NewMemoryPersister()
	ctx := context.Background()

	saved, err := Sync(ctx, src, p)
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if saved != 1 {
		t.Errorf("Expected 1 record saved, got %d", saved)
	}

	dst := newStore(t, nil)
	restored, err := Restore(ctx, dst, p)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored != 1 {
		t.Errorf("Expected 1 record restored, got %d", restored)
	}

	raw, ok := dst.GetData(key)
	if !ok {
		t.Fatal("Expected restored value")
	}
	got, err := query.Decode[turma](raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("restored value mismatch (-want +got):\n%s", diff)
	}
}

func TestDehydrateSkipsStale(t *testing.T) {
	store := newStore(t, nil)
	fresh := cache.DetailKey("turmas", "1")
	stale := cache.DetailKey("turmas", "2")

	store.SetData(fresh, turma{ID: "1"})
	store.SetData(stale, turma{ID: "2"})
	store.Invalidate(stale)

	records, err := Dehydrate(store, time.Now())
	if err != nil {
		t.Fatalf("Dehydrate failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if !records[0].Key.Equal(fresh) {
		t.Errorf("Expected key %s, got %s", fresh, records[0].Key)
	}
}

func TestHydrateSkipsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newStore(t, func() time.Time { return now })

	records := []Record{
		{
			Key:        cache.DetailKey("turmas", "1"),
			Value:      []byte(`{"id":"1"}`),
			UpdatedAt:  now.Add(-time.Minute),
			StaleAfter: 5 * time.Minute,
			GCAfter:    10 * time.Minute,
		},
		{
			Key:        cache.DetailKey("turmas", "2"),
			Value:      []byte(`{"id":"2"}`),
			UpdatedAt:  now.Add(-time.Hour),
			StaleAfter: 5 * time.Minute,
			GCAfter:    10 * time.Minute,
		},
		{
			Key:       cache.DetailKey("turmas", "3"),
			UpdatedAt: now,
		},
	}

	n, err := Hydrate(store, records, now)
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 record restored, got %d", n)
	}
	if _, ok := store.GetData(cache.DetailKey("turmas", "2")); ok {
		t.Error("Expected expired record to be skipped")
	}

	result, ok := store.State(cache.DetailKey("turmas", "1"))
	if !ok {
		t.Fatal("Expected restored entry")
	}
	if result.IsStale {
		t.Error("Expected restored entry inside its freshness window to be fresh")
	}
}

func TestHydrateKeepsNewerValue(t *testing.T) {
	store := newStore(t, nil)
	key := cache.DetailKey("turmas", "1")
	store.SetData(key, turma{ID: "1", Nome: "novo"})

	n, err := Hydrate(store, []Record{{
		Key:       key,
		Value:     []byte(`{"id":"1","nome":"antigo"}`),
		UpdatedAt: time.Now().Add(-time.Minute),
		GCAfter:   time.Hour,
	}}, time.Now())
	if err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 record processed, got %d", n)
	}

	raw, _ := store.GetData(key)
	got, err := query.Decode[turma](raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Nome != "novo" {
		t.Errorf("Expected newer value to win, got %q", got.Nome)
	}
}

func TestMemoryPersisterClear(t *testing.T) {
	p := NewMemoryPersister()
	ctx := context.Background()

	if err := p.Save(ctx, []Record{{Key: cache.DetailKey("turmas", "1")}}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := p.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	records, err := p.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected empty snapshot, got %d records", len(records))
	}
	if p.Saves() != 1 {
		t.Errorf("Expected 1 save, got %d", p.Saves())
	}
}

func TestRedisConfigEnabled(t *testing.T) {
	tests := []struct {
		name   string
		config RedisConfig
		want   bool
	}{
		{"default", DefaultRedisConfig(), false},
		{"single", RedisConfig{Addr: "localhost:6379"}, true},
		{"cluster", RedisConfig{ClusterAddrs: []string{"a:7000"}}, true},
		{"sentinel", RedisConfig{SentinelAddrs: []string{"a:26379"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.Enabled(); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNewRedisPersisterNotConfigured(t *testing.T) {
	if _, err := NewRedisPersister(DefaultRedisConfig()); err != ErrNotConfigured {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func setupTestRedis(t *testing.T) *RedisPersister {
	t.Helper()

	config := DefaultRedisConfig()
	config.Addr = "localhost:6379"
	config.Key = "test:escola:snapshot"
	config.DialTimeout = 2 * time.Second

	r, err := NewRedisPersister(config)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() {
		r.Clear(context.Background())
		r.Close()
	})
	return r
}

func TestRedisPersister(t *testing.T) {
	r := setupTestRedis(t)
	ctx := context.Background()

	src := newStore(t, nil)
	key := cache.DetailKey("turmas", "7")
	want := turma{ID: "7", Nome: "12ª B"}
	src.SetData(key, want)
	src.SetData(cache.DetailKey("turmas", "8"), turma{ID: "8"})

	if _, err := Sync(ctx, src, r); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	records, err := r.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}

	dst := newStore(t, nil)
	if _, err := Hydrate(dst, records, time.Now()); err != nil {
		t.Fatalf("Hydrate failed: %v", err)
	}
	raw, ok := dst.GetData(key)
	if !ok {
		t.Fatal("Expected restored value")
	}
	got, err := query.Decode[turma](raw)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("restored value mismatch (-want +got):\n%s", diff)
	}

	// an empty snapshot replaces the previous one
	if err := r.Save(ctx, nil); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	records, err = r.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected empty snapshot, got %d records", len(records))
	}
}
