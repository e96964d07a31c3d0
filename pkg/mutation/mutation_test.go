package mutation

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/envelope"
	metricsmem "escola-client/pkg/metrics/memory"
	"escola-client/pkg/notify"
	"escola-client/pkg/policy"
	"escola-client/pkg/query"

	"github.com/google/go-cmp/cmp"
)

type turma struct {
	Codigo     int    `json:"codigo"`
	Designacao string `json:"designacao"`
	Sala       string `json:"sala,omitempty"`
}

type turmaInput struct {
	Designacao string `json:"designacao" validate:"required"`
	Sala       string `json:"sala,omitempty"`
}

type updateTurma struct {
	ID   string
	Data turmaInput
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *notify.Recorder) {
	t.Helper()
	config := query.DefaultStoreConfig()
	config.GCInterval = time.Hour
	store := query.NewStore(config)
	t.Cleanup(func() { store.Close() })

	recorder := notify.NewRecorder()
	opts = append([]Option{WithPublisher(recorder)}, opts...)
	return NewController(store, policy.New("turmas"), opts...), recorder
}

func updateSpec(do func(ctx context.Context, in updateTurma) envelope.Result[turma]) Spec[updateTurma, turma] {
	return Spec[updateTurma, turma]{
		Entity:  "turmas",
		Kind:    policy.KindUpdate,
		ID:      func(in updateTurma) string { return in.ID },
		Payload: func(in updateTurma) any { return in.Data },
		Do:      do,
	}
}

func rejected[T any](status int, msg string) envelope.Result[T] {
	return envelope.Parse[T](status, []byte(`{"success":false,"message":"`+msg+`"}`))
}

func TestUpdate_OptimisticPatchVisibleBeforeResponse(t *testing.T) {
	ctrl, _ := newTestController(t)
	key := cache.DetailKey("turmas", 5)
	ctrl.Store().SetData(key, turma{Codigo: 5, Designacao: "Old", Sala: "A1"})

	sent := make(chan struct{})
	respond := make(chan struct{})
	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		close(sent)
		<-respond
		return envelope.Ok(envelope.Envelope[turma]{Success: true, Data: turma{Codigo: 5, Designacao: "New", Sala: "A1"}})
	}))

	done := make(chan error, 1)
	go func() {
		_, err := m.Mutate(context.Background(), updateTurma{ID: "5", Data: turmaInput{Designacao: "New"}})
		done <- err
	}()

	<-sent
	got, ok := ctrl.Store().GetData(key)
	if !ok {
		t.Fatal("Expected a cached value during the request")
	}
	if diff := cmp.Diff(turma{Codigo: 5, Designacao: "New", Sala: "A1"}, got); diff != "" {
		t.Errorf("Expected patched value during the request (-want +got):\n%s", diff)
	}
	if m.State().Status != StatusPending {
		t.Errorf("Expected pending, got %s", m.State().Status)
	}

	close(respond)
	if err := <-done; err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
}

func TestUpdate_RollbackOnFailure(t *testing.T) {
	collector := metricsmem.NewMemoryCollector()
	ctrl, recorder := newTestController(t, WithMetrics(collector))
	key := cache.DetailKey("turmas", 5)
	before := turma{Codigo: 5, Designacao: "Old"}
	ctrl.Store().SetData(key, before)

	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		return rejected[turma](http.StatusBadRequest, "Erro de validação")
	}))

	_, err := m.Mutate(context.Background(), updateTurma{ID: "5", Data: turmaInput{Designacao: "New"}})
	if err == nil {
		t.Fatal("Expected an error")
	}

	got, _ := ctrl.Store().GetData(key)
	if diff := cmp.Diff(before, got); diff != "" {
		t.Errorf("Expected the snapshot after rollback (-want +got):\n%s", diff)
	}

	last, ok := recorder.Last()
	if !ok {
		t.Fatal("Expected a notification")
	}
	if last.Level != notify.LevelError || last.Message != "Erro de validação" {
		t.Errorf("Expected failure notification with server message, got %v", last)
	}
	if recorder.Count(notify.LevelSuccess) != 0 {
		t.Error("Expected no success notification")
	}

	state := m.State()
	if state.Status != StatusError || !errors.Is(state.Err, err) {
		t.Errorf("Expected error state, got %+v", state)
	}
	if em := collector.GetEntityMetrics("turmas"); em == nil || em.Rollbacks != 1 {
		t.Errorf("Expected 1 rollback recorded, got %+v", em)
	}

	res, _ := ctrl.Store().State(key)
	if !res.IsStale {
		t.Error("Expected the detail key to be stale after settlement")
	}
}

func TestUpdate_FailureWithoutServerMessage(t *testing.T) {
	ctrl, recorder := newTestController(t)

	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		return envelope.Fail[turma](envelope.NewTransportError(errors.New("connection refused")))
	}))
	m.Mutate(context.Background(), updateTurma{ID: "5", Data: turmaInput{Designacao: "New"}})

	last, _ := recorder.Last()
	if last.Message != "Erro ao actualizar turmas" {
		t.Errorf("Expected default failure message, got %q", last.Message)
	}
}

func TestUpdate_SuccessWritesServerData(t *testing.T) {
	ctrl, recorder := newTestController(t)
	key := cache.DetailKey("turmas", 5)
	ctrl.Store().SetData(key, turma{Codigo: 5, Designacao: "Old"})

	server := turma{Codigo: 5, Designacao: "NEW", Sala: "B2"}
	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		return envelope.Ok(envelope.Envelope[turma]{Success: true, Message: "Turma actualizada", Data: server})
	}))

	out, err := m.Mutate(context.Background(), updateTurma{ID: "5", Data: turmaInput{Designacao: "New"}})
	if err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	if diff := cmp.Diff(server, out); diff != "" {
		t.Errorf("Returned data mismatch (-want +got):\n%s", diff)
	}

	got, _ := ctrl.Store().GetData(key)
	if diff := cmp.Diff(server, got); diff != "" {
		t.Errorf("Expected server data in cache, not the patch (-want +got):\n%s", diff)
	}

	last, _ := recorder.Last()
	if last.Level != notify.LevelSuccess || last.Message != "Turma actualizada" {
		t.Errorf("Expected success notification with server message, got %v", last)
	}
	if s := m.State(); s.Status != StatusSuccess || s.Message != "Turma actualizada" {
		t.Errorf("Expected success state, got %+v", s)
	}
}

func TestUpdate_WithoutCachedValueSkipsPatch(t *testing.T) {
	ctrl, _ := newTestController(t)
	key := cache.DetailKey("turmas", 9)

	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		if _, ok := ctrl.Store().GetData(key); ok {
			t.Error("Expected nothing cached before the response")
		}
		return rejected[turma](http.StatusNotFound, "Turma não encontrada")
	}))
	m.Mutate(context.Background(), updateTurma{ID: "9", Data: turmaInput{Designacao: "X"}})

	if _, ok := ctrl.Store().GetData(key); ok {
		t.Error("Expected nothing cached after a failed update without snapshot")
	}
}

func TestUpdate_CancelsInFlightRead(t *testing.T) {
	ctrl, _ := newTestController(t)
	store := ctrl.Store()
	key := cache.DetailKey("turmas", 5)
	store.SetData(key, turma{Codigo: 5, Designacao: "Old"})
	store.Invalidate(key)

	release := make(chan struct{})
	store.Read(context.Background(), key, func(ctx context.Context) (any, error) {
		<-release
		return turma{Codigo: 5, Designacao: "Stale server copy"}, nil
	}, query.DefaultOptions())

	deadline := time.Now().Add(time.Second)
	for !store.Fetching(key) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		return envelope.Ok(envelope.Envelope[turma]{Success: true, Data: turma{Codigo: 5, Designacao: "New"}})
	}))
	if _, err := m.Mutate(context.Background(), updateTurma{ID: "5", Data: turmaInput{Designacao: "New"}}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	close(release)
	store.Flush(time.Second)

	got, _ := store.GetData(key)
	if diff := cmp.Diff(turma{Codigo: 5, Designacao: "New"}, got); diff != "" {
		t.Errorf("Expected the cancelled read not to overwrite the mutation (-want +got):\n%s", diff)
	}
}

func TestMutations_InvalidateListAndComplete(t *testing.T) {
	tests := []struct {
		name string
		kind policy.Kind
	}{
		{"create", policy.KindCreate},
		{"update", policy.KindUpdate},
		{"delete", policy.KindDelete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, _ := newTestController(t)
			store := ctrl.Store()

			keys := []cache.Key{
				cache.ListKey("turmas", map[string]any{"page": 1, "limit": 10}),
				cache.ListKey("turmas", map[string]any{"page": 2, "limit": 10}),
				cache.CompleteKey("turmas", nil),
			}
			other := cache.ListKey("alunos", map[string]any{"page": 1})
			for _, k := range append(keys, other) {
				store.SetData(k, []turma{})
			}

			m := New(ctrl, Spec[updateTurma, turma]{
				Entity: "turmas",
				Kind:   tt.kind,
				ID:     func(in updateTurma) string { return in.ID },
				Do: func(ctx context.Context, in updateTurma) envelope.Result[turma] {
					return envelope.Ok(envelope.Envelope[turma]{Success: true, Data: turma{Codigo: 1}})
				},
			})
			if _, err := m.Mutate(context.Background(), updateTurma{ID: "1", Data: turmaInput{Designacao: "A"}}); err != nil {
				t.Fatalf("Mutate failed: %v", err)
			}

			for _, k := range keys {
				res, _ := store.State(k)
				if !res.IsStale {
					t.Errorf("Expected %s to be stale", k)
				}
			}
			if res, _ := store.State(other); res.IsStale {
				t.Errorf("Expected %s to stay fresh", other)
			}
		})
	}
}

func TestDelete_RemovesDetail(t *testing.T) {
	ctrl, recorder := newTestController(t)
	store := ctrl.Store()
	key := cache.DetailKey("turmas", "X")
	store.SetData(key, turma{Codigo: 1, Designacao: "Gone"})

	m := New(ctrl, Spec[string, envelope.MessageResponse]{
		Entity: "turmas",
		Kind:   policy.KindDelete,
		ID:     func(id string) string { return id },
		Do: func(ctx context.Context, id string) envelope.Result[envelope.MessageResponse] {
			return envelope.Ok(envelope.Envelope[envelope.MessageResponse]{Success: true, Message: "Turma eliminada"})
		},
	})
	if _, err := m.Mutate(context.Background(), "X"); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	if _, ok := store.State(key); ok {
		t.Error("Expected the detail entry to be removed")
	}

	var calls int32
	v, err := store.Fetch(context.Background(), key, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "refetched", nil
	}, query.DefaultOptions())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if calls != 1 || v != "refetched" {
		t.Errorf("Expected a fresh fetch, got calls=%d value=%v", calls, v)
	}

	last, _ := recorder.Last()
	if last.Message != "Turma eliminada" || last.Operation != "delete" {
		t.Errorf("Unexpected notification: %v", last)
	}
}

func TestValidationFailure_NoRequest(t *testing.T) {
	ctrl, recorder := newTestController(t)

	var calls int32
	m := New(ctrl, Spec[turmaInput, turma]{
		Entity: "turmas",
		Kind:   policy.KindCreate,
		Do: func(ctx context.Context, in turmaInput) envelope.Result[turma] {
			atomic.AddInt32(&calls, 1)
			return envelope.Ok(envelope.Envelope[turma]{Success: true})
		},
	})

	_, err := m.Mutate(context.Background(), turmaInput{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0].Field() != "Designacao" {
		t.Errorf("Expected one field error on Designacao, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected no request, got %d", calls)
	}
	if recorder.Count(notify.LevelError) != 1 {
		t.Errorf("Expected one failure notification, got %d", recorder.Count(notify.LevelError))
	}
}

func TestUpdate_MissingID(t *testing.T) {
	ctrl, _ := newTestController(t)

	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		t.Error("Expected no request")
		return envelope.Ok(envelope.Envelope[turma]{Success: true})
	}))
	if _, err := m.Mutate(context.Background(), updateTurma{Data: turmaInput{Designacao: "A"}}); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
}

func TestMutate_NoRequestFunction(t *testing.T) {
	ctrl, _ := newTestController(t)
	m := New(ctrl, Spec[turmaInput, turma]{Entity: "turmas", Kind: policy.KindCreate})

	if _, err := m.Mutate(context.Background(), turmaInput{Designacao: "A"}); err == nil {
		t.Error("Expected an error")
	}
	if m.State().Status != StatusError {
		t.Errorf("Expected error state, got %s", m.State().Status)
	}
	m.Reset()
	if m.State().Status != StatusIdle {
		t.Errorf("Expected idle after Reset, got %s", m.State().Status)
	}
}

func TestSameKey_MutationsRunInOrder(t *testing.T) {
	ctrl, _ := newTestController(t)
	key := cache.DetailKey("turmas", 5)
	ctrl.Store().SetData(key, turma{Codigo: 5, Designacao: "v0"})

	var mu sync.Mutex
	var order []string
	var running int32
	firstSent := make(chan struct{})
	releaseFirst := make(chan struct{})

	m := New(ctrl, updateSpec(func(ctx context.Context, in updateTurma) envelope.Result[turma] {
		if atomic.AddInt32(&running, 1) > 1 {
			t.Error("Expected one mutation at a time on the same key")
		}
		defer atomic.AddInt32(&running, -1)

		mu.Lock()
		order = append(order, in.Data.Designacao)
		mu.Unlock()

		if in.Data.Designacao == "v1" {
			close(firstSent)
			<-releaseFirst
		}
		return envelope.Ok(envelope.Envelope[turma]{Success: true, Data: turma{Codigo: 5, Designacao: in.Data.Designacao}})
	}))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Mutate(context.Background(), updateTurma{ID: "5", Data: turmaInput{Designacao: "v1"}})
	}()
	<-firstSent

	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Mutate(context.Background(), updateTurma{ID: "5", Data: turmaInput{Designacao: "v2"}})
	}()

	deadline := time.Now().Add(time.Second)
	for ctrl.Pending("turmas", "5") < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(releaseFirst)
	wg.Wait()

	if diff := cmp.Diff([]string{"v1", "v2"}, order); diff != "" {
		t.Errorf("Order mismatch (-want +got):\n%s", diff)
	}
	got, _ := ctrl.Store().GetData(key)
	if diff := cmp.Diff(turma{Codigo: 5, Designacao: "v2"}, got); diff != "" {
		t.Errorf("Expected the last mutation to win (-want +got):\n%s", diff)
	}
	if n := ctrl.Pending("turmas", "5"); n != 0 {
		t.Errorf("Expected empty queue, got %d", n)
	}
}

func TestCrossEntityPolicy(t *testing.T) {
	config := query.DefaultStoreConfig()
	config.GCInterval = time.Hour
	store := query.NewStore(config)
	defer store.Close()

	pol := policy.New("transferencias", "alunos")
	pol.Add("transferencias", []cache.Key{cache.Prefix("alunos", cache.ScopeList)}, policy.KindCreate)
	ctrl := NewController(store, pol)

	alunos := cache.ListKey("alunos", map[string]any{"page": 1})
	store.SetData(alunos, []string{})

	m := New(ctrl, Spec[turmaInput, turma]{
		Entity:         "transferencias",
		Kind:           policy.KindCreate,
		SkipValidation: true,
		Do: func(ctx context.Context, in turmaInput) envelope.Result[turma] {
			return envelope.Ok(envelope.Envelope[turma]{Success: true})
		},
	})
	if _, err := m.Mutate(context.Background(), turmaInput{}); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}

	if res, _ := store.State(alunos); !res.IsStale {
		t.Error("Expected alunos list to be stale after a transfer")
	}
}
