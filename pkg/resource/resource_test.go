package resource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"escola-client/pkg/gateway"
	"escola-client/pkg/mutation"
	"escola-client/pkg/notify"
	"escola-client/pkg/policy"
	"escola-client/pkg/query"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

type turma struct {
	Codigo     int    `json:"codigo"`
	Designacao string `json:"designacao"`
	Status     string `json:"status,omitempty"`
}

type turmaInput struct {
	Designacao string `json:"designacao" validate:"required"`
	Status     string `json:"status,omitempty"`
}

type aluno struct {
	ID   int    `json:"id"`
	Nome string `json:"nome"`
}

// fakeBackend serves /turmas the way the school API does.
type fakeBackend struct {
	mu      sync.Mutex
	turmas  []turma
	next    int
	lists   int32
	details int32
	fail    string
}

func (b *fakeBackend) reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fail != "" && r.Method != http.MethodGet {
		b.reply(w, http.StatusBadRequest, map[string]any{"success": false, "message": b.fail})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		atomic.AddInt32(&b.lists, 1)
		b.reply(w, http.StatusOK, map[string]any{
			"success":    true,
			"data":       b.turmas,
			"pagination": map[string]any{"currentPage": 1, "totalPages": 1, "totalItems": len(b.turmas), "itemsPerPage": 10},
		})
	case len(parts) == 2 && parts[1] == "all":
		b.reply(w, http.StatusOK, map[string]any{"success": true, "data": b.turmas})
	case len(parts) == 1 && r.Method == http.MethodPost:
		var in turmaInput
		json.NewDecoder(r.Body).Decode(&in)
		b.next++
		t := turma{Codigo: b.next, Designacao: in.Designacao}
		b.turmas = append(b.turmas, t)
		b.reply(w, http.StatusCreated, map[string]any{"success": true, "message": "Turma criada com sucesso", "data": t})
	case len(parts) == 3 && parts[2] == "alunos":
		b.reply(w, http.StatusOK, map[string]any{"success": true, "data": []aluno{{ID: 1, Nome: "Ana"}}})
	case len(parts) == 3:
		idx := b.find(parts[1])
		if idx < 0 {
			b.reply(w, http.StatusNotFound, map[string]any{"success": false, "message": "Turma não encontrada"})
			return
		}
		b.turmas[idx].Status = parts[2]
		b.reply(w, http.StatusOK, map[string]any{"success": true, "data": b.turmas[idx]})
	case len(parts) == 2:
		idx := b.find(parts[1])
		if idx < 0 {
			b.reply(w, http.StatusNotFound, map[string]any{"success": false, "message": "Turma não encontrada"})
			return
		}
		switch r.Method {
		case http.MethodGet:
			atomic.AddInt32(&b.details, 1)
			b.reply(w, http.StatusOK, map[string]any{"success": true, "data": b.turmas[idx]})
		case http.MethodPut:
			var in turmaInput
			json.NewDecoder(r.Body).Decode(&in)
			b.turmas[idx].Designacao = in.Designacao
			b.reply(w, http.StatusOK, map[string]any{"success": true, "message": "Turma actualizada", "data": b.turmas[idx]})
		case http.MethodDelete:
			b.turmas = append(b.turmas[:idx], b.turmas[idx+1:]...)
			b.reply(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{"message": "Turma eliminada"}})
		}
	default:
		b.reply(w, http.StatusNotFound, map[string]any{"success": false})
	}
}

func (b *fakeBackend) find(id string) int {
	n, _ := strconv.Atoi(id)
	for i, t := range b.turmas {
		if t.Codigo == n {
			return i
		}
	}
	return -1
}

func newTestResource(t *testing.T, backend *fakeBackend) (*Resource[turma, turmaInput], *notify.Recorder) {
	t.Helper()
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	config := gateway.DefaultConfig()
	config.BaseURL = srv.URL
	client, err := gateway.NewClient(config)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	storeConfig := query.DefaultStoreConfig()
	storeConfig.GCInterval = time.Hour
	store := query.NewStore(storeConfig)
	t.Cleanup(func() { store.Close() })

	recorder := notify.NewRecorder()
	ctrl := mutation.NewController(store, policy.New("turmas"), mutation.WithPublisher(recorder))

	r := New[turma, turmaInput](Deps{Client: client, Store: store, Controller: ctrl}, Config{
		Name: "turmas",
		Path: "/turmas",
	})
	return r, recorder
}

func TestCreateThenListRefetch(t *testing.T) {
	backend := &fakeBackend{}
	r, recorder := newTestResource(t, backend)
	ctx := context.Background()

	page, err := r.FetchList(ctx, gateway.ListParams{})
	if err != nil {
		t.Fatalf("FetchList failed: %v", err)
	}
	if len(page.Items) != 0 {
		t.Fatalf("Expected empty list, got %v", page.Items)
	}

	created, err := r.Create(ctx, turmaInput{Designacao: "Turma A"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Designacao != "Turma A" {
		t.Errorf("Expected created turma, got %+v", created)
	}

	res, _ := r.store.State(r.ListKey(gateway.ListParams{}))
	if !res.IsStale {
		t.Error("Expected the list to be stale after create")
	}

	page, err = r.FetchList(ctx, gateway.ListParams{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("FetchList failed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Designacao != "Turma A" {
		t.Errorf("Expected refetched list with Turma A, got %v", page.Items)
	}
	if atomic.LoadInt32(&backend.lists) != 2 {
		t.Errorf("Expected 2 list requests, got %d", atomic.LoadInt32(&backend.lists))
	}

	last, _ := recorder.Last()
	if last.Message != "Turma criada com sucesso" {
		t.Errorf("Expected server message, got %q", last.Message)
	}
}

func TestList_NonBlockingRead(t *testing.T) {
	backend := &fakeBackend{turmas: []turma{{Codigo: 1, Designacao: "10A"}}, next: 1}
	r, _ := newTestResource(t, backend)
	ctx := context.Background()

	v := r.List(ctx, gateway.ListParams{})
	if v.Status != query.StatusLoading {
		t.Errorf("Expected loading on first read, got %s", v.Status)
	}

	r.store.Flush(time.Second)
	v = r.List(ctx, gateway.ListParams{})
	if v.Status != query.StatusSuccess || v.IsFetching {
		t.Fatalf("Expected fresh success, got %+v", v.Result)
	}
	if diff := cmp.Diff([]turma{{Codigo: 1, Designacao: "10A"}}, v.Value.Items); diff != "" {
		t.Errorf("Items mismatch (-want +got):\n%s", diff)
	}
	if v.Value.Pagination.CurrentPage != 1 {
		t.Errorf("Expected currentPage 1, got %d", v.Value.Pagination.CurrentPage)
	}
}

func TestDetail_EmptyIDDisabled(t *testing.T) {
	backend := &fakeBackend{}
	r, _ := newTestResource(t, backend)

	v := r.Detail(context.Background(), "")
	if v.Status != query.StatusIdle || v.IsFetching {
		t.Errorf("Expected idle read, got %+v", v.Result)
	}
	if atomic.LoadInt32(&backend.details) != 0 {
		t.Errorf("Expected no request, got %d", atomic.LoadInt32(&backend.details))
	}
	if _, err := r.FetchDetail(context.Background(), ""); err == nil {
		t.Error("Expected an error for an empty id")
	}
}

func TestUpdate_ServerTruthAndInvalidation(t *testing.T) {
	backend := &fakeBackend{turmas: []turma{{Codigo: 5, Designacao: "Old"}}, next: 5}
	r, _ := newTestResource(t, backend)
	ctx := context.Background()

	if _, err := r.FetchDetail(ctx, "5"); err != nil {
		t.Fatalf("FetchDetail failed: %v", err)
	}

	out, err := r.Update(ctx, "5", turmaInput{Designacao: "New"})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if out.Designacao != "New" {
		t.Errorf("Expected server data, got %+v", out)
	}

	res, ok := r.store.State(r.DetailKey("5"))
	if !ok || !res.IsStale {
		t.Errorf("Expected stale detail after settlement, got %+v", res)
	}

	got, err := r.FetchDetail(ctx, "5")
	if err != nil {
		t.Fatalf("FetchDetail failed: %v", err)
	}
	if got.Designacao != "New" || atomic.LoadInt32(&backend.details) != 2 {
		t.Errorf("Expected refetched detail, got %+v after %d requests", got, atomic.LoadInt32(&backend.details))
	}
	if r.UpdateState().Status != mutation.StatusSuccess {
		t.Errorf("Expected success state, got %s", r.UpdateState().Status)
	}
}

func TestUpdate_RejectedRollsBack(t *testing.T) {
	backend := &fakeBackend{turmas: []turma{{Codigo: 5, Designacao: "Old"}}, next: 5}
	r, recorder := newTestResource(t, backend)
	ctx := context.Background()

	before, err := r.FetchDetail(ctx, "5")
	if err != nil {
		t.Fatalf("FetchDetail failed: %v", err)
	}

	backend.mu.Lock()
	backend.fail = "Erro de validação"
	backend.mu.Unlock()

	if _, err := r.Update(ctx, "5", turmaInput{Designacao: "New"}); err == nil {
		t.Fatal("Expected update to fail")
	}

	v, _ := r.store.GetData(r.DetailKey("5"))
	got, err := query.Decode[turma](v)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(before, got); diff != "" {
		t.Errorf("Expected rollback (-want +got):\n%s", diff)
	}

	last, _ := recorder.Last()
	if last.Level != notify.LevelError || last.Message != "Erro de validação" {
		t.Errorf("Expected failure notification, got %v", last)
	}
}

func TestDelete(t *testing.T) {
	backend := &fakeBackend{turmas: []turma{{Codigo: 3, Designacao: "X"}}, next: 3}
	r, _ := newTestResource(t, backend)
	ctx := context.Background()

	if _, err := r.FetchDetail(ctx, "3"); err != nil {
		t.Fatalf("FetchDetail failed: %v", err)
	}

	msg, err := r.Delete(ctx, "3")
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if msg != "Turma eliminada" {
		t.Errorf("Expected delete message, got %q", msg)
	}
	if _, ok := r.store.State(r.DetailKey("3")); ok {
		t.Error("Expected detail entry to be removed")
	}
	if _, err := r.FetchDetail(ctx, "3"); err == nil {
		t.Error("Expected a fresh fetch to report the missing record")
	}
}

func TestPatchStatus(t *testing.T) {
	backend := &fakeBackend{turmas: []turma{{Codigo: 2, Designacao: "Y"}}, next: 2}
	r, _ := newTestResource(t, backend)

	out, err := r.PatchStatus(context.Background(), "2", "approve", map[string]any{"status": "approve"})
	if err != nil {
		t.Fatalf("PatchStatus failed: %v", err)
	}
	if out.Status != "approve" {
		t.Errorf("Expected status approve, got %+v", out)
	}
	if r.StatusState().Status != mutation.StatusSuccess {
		t.Errorf("Expected success state, got %s", r.StatusState().Status)
	}
}

func TestCompleteAndSub(t *testing.T) {
	backend := &fakeBackend{turmas: []turma{{Codigo: 7, Designacao: "12B"}}, next: 7}
	r, _ := newTestResource(t, backend)
	ctx := context.Background()

	all, err := r.FetchComplete(ctx, gateway.ListParams{Filters: map[string]string{"status": "all"}})
	if err != nil {
		t.Fatalf("FetchComplete failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 turma, got %d", len(all))
	}
	if got := r.CompleteKey(gateway.ListParams{}).String(); got != `["turmas","complete"]` {
		t.Errorf("Unexpected complete key %s", got)
	}

	page, err := FetchSub[aluno](ctx, r, "7", "alunos", gateway.ListParams{})
	if err != nil {
		t.Fatalf("FetchSub failed: %v", err)
	}
	if diff := cmp.Diff([]aluno{{ID: 1, Nome: "Ana"}}, page.Items); diff != "" {
		t.Errorf("Sub items mismatch (-want +got):\n%s", diff)
	}

	if n := r.store.Invalidate(r.SubKey("7", "alunos", gateway.ListParams{})[:2]); n != 1 {
		t.Errorf("Expected the sub page under the turmas/alunos prefix, got %d", n)
	}

	v := Sub[aluno](ctx, r, "", "alunos", gateway.ListParams{})
	if v.Status != query.StatusIdle {
		t.Errorf("Expected disabled sub read for empty id, got %s", v.Status)
	}
}
