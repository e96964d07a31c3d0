package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"escola-client/pkg/cache"
	memorycollector "escola-client/pkg/metrics/memory"
	"escola-client/pkg/query"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
)

func setupTestServer(t *testing.T, opts ...Option) (*Server, *query.Store) {
	t.Helper()

	config := query.DefaultStoreConfig()
	config.GCInterval = time.Hour
	store := query.NewStore(config)
	t.Cleanup(func() { store.Close() })

	return NewServer(store, DefaultServerConfig(), opts...), store
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestServer_Health(t *testing.T) {
	server, _ := setupTestServer(t)

	w := serve(server, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	json.NewDecoder(w.Body).Decode(&response)

	if response["status"] != "healthy" {
		t.Errorf("Expected status healthy, got %v", response["status"])
	}
}

func TestServer_HealthAfterClose(t *testing.T) {
	server, store := setupTestServer(t)
	store.Close()

	w := serve(server, http.MethodGet, "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestServer_Status(t *testing.T) {
	server, store := setupTestServer(t)
	store.SetData(cache.DetailKey("turmas", "1"), map[string]any{"id": "1"})

	w := serve(server, http.MethodGet, "/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	json.NewDecoder(w.Body).Decode(&response)

	if response["entries"] != float64(1) {
		t.Errorf("Expected 1 entry, got %v", response["entries"])
	}
	if _, ok := response["circuit"]; ok {
		t.Error("Expected no circuit without a breaker")
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	w := serve(server, http.MethodPost, "/health", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestServer_Entries(t *testing.T) {
	server, store := setupTestServer(t)
	store.SetData(cache.DetailKey("turmas", "1"), map[string]any{"id": "1"})
	store.SetData(cache.DetailKey("alunos", "9"), map[string]any{"id": "9"})
	store.Invalidate(cache.Prefix("alunos"))

	tests := []struct {
		name       string
		target     string
		wantCode   int
		wantCount  int
		wantValues bool
	}{
		{"all", "/cache/entries", http.StatusOK, 2, false},
		{"prefix", "/cache/entries?prefix=" + url.QueryEscape(`["turmas"]`), http.StatusOK, 1, false},
		{"values", "/cache/entries?values=true", http.StatusOK, 2, true},
		{"bad prefix", "/cache/entries?prefix=turmas", http.StatusBadRequest, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(server, http.MethodGet, tt.target, "")
			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d", tt.wantCode, w.Code)
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var response struct {
				Count   int         `json:"count"`
				Entries []EntryView `json:"entries"`
			}
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if response.Count != tt.wantCount {
				t.Errorf("Expected %d entries, got %d", tt.wantCount, response.Count)
			}
			for _, e := range response.Entries {
				if (e.Value != nil) != tt.wantValues {
					t.Errorf("Expected value present=%v for %s", tt.wantValues, e.Hash)
				}
				if e.Key.Entity() == "alunos" && !e.Invalidated {
					t.Errorf("Expected %s to be invalidated", e.Hash)
				}
			}
		})
	}
}

func TestServer_Invalidate(t *testing.T) {
	server, store := setupTestServer(t)
	store.SetData(cache.ListKey("turmas", map[string]any{"page": 1}), []any{})
	store.SetData(cache.ListKey("turmas", map[string]any{"page": 2}), []any{})
	store.SetData(cache.DetailKey("turmas", "1"), map[string]any{"id": "1"})

	w := serve(server, http.MethodPost, "/cache/invalidate", `{"prefix":["turmas","list"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]any
	json.NewDecoder(w.Body).Decode(&response)
	if response["invalidated"] != float64(2) {
		t.Errorf("Expected 2 invalidated entries, got %v", response["invalidated"])
	}

	detail, _ := store.State(cache.DetailKey("turmas", "1"))
	if detail.IsStale {
		t.Error("Expected detail entry to stay fresh")
	}
}

func TestServer_InvalidateBadRequest(t *testing.T) {
	server, _ := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"prefix":`},
		{"empty prefix", `{"prefix":[]}`},
		{"missing prefix", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(server, http.MethodPost, "/cache/invalidate", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestServer_Clear(t *testing.T) {
	server, store := setupTestServer(t)
	store.SetData(cache.DetailKey("turmas", "1"), map[string]any{"id": "1"})

	w := serve(server, http.MethodDelete, "/cache/entries", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if store.Len() != 0 {
		t.Errorf("Expected empty store, got %d entries", store.Len())
	}
}

func TestServer_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "escola_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	server, _ := setupTestServer(t, WithGatherer(registry))

	w := serve(server, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "escola_test_total 1") {
		t.Errorf("Expected counter in output, got %s", w.Body.String())
	}
}

func TestServer_MetricsJSON(t *testing.T) {
	server, _ := setupTestServer(t)
	w := serve(server, http.MethodGet, "/metrics/json", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 without a snapshot, got %d", w.Code)
	}

	collector := memorycollector.NewMemoryCollector()
	collector.RecordSessionExpired()
	server, _ = setupTestServer(t, WithSnapshot(func() any { return collector.Snapshot() }))

	w = serve(server, http.MethodGet, "/metrics/json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var snapshot memorycollector.Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snapshot); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snapshot.SessionExpiries != 1 {
		t.Errorf("Expected 1 session expiry, got %d", snapshot.SessionExpiries)
	}
}
