// Package api serves a small devtools HTTP endpoint for inspecting and
// invalidating the query cache of a running client.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"escola-client/pkg/cache"
	"escola-client/pkg/logging"
	"escola-client/pkg/query"
	"escola-client/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the query store over HTTP.
type Server struct {
	store    *query.Store
	breaker  *resilience.Transport
	gatherer prometheus.Gatherer
	snapshot func() any
	logger   *logging.Logger
	server   *http.Server
	router   *mux.Router
	config   ServerConfig
	started  time.Time
}

// ServerConfig holds configuration for the devtools server.
type ServerConfig struct {
	// Address to listen on (e.g., "127.0.0.1:9090")
	Address string `koanf:"address"`

	// ReadTimeout for HTTP requests
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout for HTTP responses
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// DefaultServerConfig returns a default configuration. The server binds to
// loopback only.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:9090",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithBreaker reports the gateway circuit state on /status.
func WithBreaker(t *resilience.Transport) Option {
	return func(s *Server) { s.breaker = t }
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithSnapshot serves /metrics/json from fn.
func WithSnapshot(fn func() any) Option {
	return func(s *Server) { s.snapshot = fn }
}

// WithLogger sets the request logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a devtools server for store.
func NewServer(store *query.Store, config ServerConfig, opts ...Option) *Server {
	s := &Server{
		store:    store,
		gatherer: prometheus.DefaultGatherer,
		config:   config,
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "devtools")

	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/metrics/json", s.handleMetricsJSON).Methods(http.MethodGet)

	r.HandleFunc("/cache/entries", s.handleEntries).Methods(http.MethodGet)
	r.HandleFunc("/cache/entries", s.handleClear).Methods(http.MethodDelete)
	r.HandleFunc("/cache/invalidate", s.handleInvalidate).Methods(http.MethodPost)

	s.router = r
	s.server = &http.Server{
		Addr:         config.Address,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server in a goroutine.
func (s *Server) Start() error {
	go func() {
		s.logger.Info("devtools listening", zap.String("address", s.config.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("devtools server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("devtools request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if s.store.IsClosed() {
		status = "closed"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"uptime":    time.Since(s.started).String(),
		"entries":   s.store.Len(),
		"refresher": s.store.RefresherStats(),
	}
	if s.breaker != nil {
		response["circuit"] = map[string]string{
			"name":  s.breaker.Name(),
			"state": s.breaker.State().String(),
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, r *http.Request) {
	if s.snapshot == nil {
		writeError(w, http.StatusNotFound, "metrics snapshot not available")
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

// EntryView is the JSON form of one cache entry.
type EntryView struct {
	Key          cache.Key `json:"key"`
	Hash         string    `json:"hash"`
	HasValue     bool      `json:"hasValue"`
	Value        any       `json:"value,omitempty"`
	Stale        bool      `json:"stale"`
	Invalidated  bool      `json:"invalidated"`
	Fetching     bool      `json:"fetching"`
	UpdatedAt    time.Time `json:"updatedAt"`
	LastAccess   time.Time `json:"lastAccess"`
	Error        string    `json:"error,omitempty"`
	FailureCount int       `json:"failureCount,omitempty"`
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	var prefix cache.Key
	if p := r.URL.Query().Get("prefix"); p != "" {
		if err := json.Unmarshal([]byte(p), &prefix); err != nil {
			writeError(w, http.StatusBadRequest, "prefix must be a JSON array")
			return
		}
	}
	withValues := r.URL.Query().Get("values") == "true"

	now := time.Now()
	entries := s.store.Entries()
	views := make([]EntryView, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		if len(prefix) > 0 && !e.Key.HasPrefix(prefix) {
			continue
		}
		v := EntryView{
			Key:          e.Key,
			Hash:         e.Key.String(),
			HasValue:     e.HasValue,
			Stale:        e.IsStale(now),
			Invalidated:  e.Invalidated,
			Fetching:     s.store.Fetching(e.Key),
			UpdatedAt:    e.UpdatedAt,
			LastAccess:   e.LastAccess,
			FailureCount: e.FailureCount,
		}
		if withValues {
			v.Value = e.Value
		}
		if e.Err != nil {
			v.Error = e.Err.Error()
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(views),
		"entries": views,
	})
}

type invalidateRequest struct {
	Prefix cache.Key `json:"prefix"`
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Prefix) == 0 {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}

	n := s.store.Invalidate(req.Prefix)
	s.logger.Info("cache invalidated from devtools",
		zap.String("prefix", req.Prefix.String()),
		zap.Int("entries", n))

	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":      req.Prefix,
		"invalidated": n,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	n := s.store.Len()
	s.store.Clear()
	s.logger.Info("cache cleared from devtools", zap.Int("entries", n))
	writeJSON(w, http.StatusOK, map[string]any{"removed": n})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
