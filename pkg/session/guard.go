package session

import (
	"sync"
	"sync/atomic"
	"time"

	"escola-client/pkg/envelope"
	"escola-client/pkg/logging"
	"escola-client/pkg/metrics"
	"escola-client/pkg/notify"

	"go.uber.org/zap"
)

// GuardConfig configures the session-expiry flow.
type GuardConfig struct {
	// RedirectDelay is how long after the notification the redirect runs
	// (default: 1.5s)
	RedirectDelay time.Duration `koanf:"redirect_delay"`

	// Message is the notification shown once per expiry
	Message string `koanf:"message"`

	// Leeway treats tokens expiring within this window as already expired
	Leeway time.Duration `koanf:"leeway"`
}

// DefaultGuardConfig returns the default session-expiry settings.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RedirectDelay: 1500 * time.Millisecond,
		Message:       "Sessão expirada. Por favor, faça login novamente.",
		Leeway:        5 * time.Second,
	}
}

// Guard runs the session-expiry flow at most once until it is Reset:
// clear the stored credentials, publish one notification, then call the
// redirect callback after RedirectDelay. Concurrent failing requests all
// report to the same guard; only the first one triggers the flow.
type Guard struct {
	store     TokenStore
	publisher notify.Publisher
	redirect  func()
	config    GuardConfig
	metrics   metrics.MetricsCollector
	logger    *logging.Logger
	now       func() time.Time

	fired atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

// GuardOption customizes a Guard.
type GuardOption func(*Guard)

// WithRedirect sets the callback run after the notification, typically
// navigating to the login route.
func WithRedirect(fn func()) GuardOption {
	return func(g *Guard) { g.redirect = fn }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.MetricsCollector) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) GuardOption {
	return func(g *Guard) { g.logger = l.Named("session") }
}

// WithClock sets the time source used for token expiry checks.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates an armed guard over store.
func NewGuard(store TokenStore, publisher notify.Publisher, config GuardConfig, opts ...GuardOption) *Guard {
	defaults := DefaultGuardConfig()
	if config.RedirectDelay <= 0 {
		config.RedirectDelay = defaults.RedirectDelay
	}
	if config.Message == "" {
		config.Message = defaults.Message
	}
	if publisher == nil {
		publisher = notify.Discard{}
	}

	g := &Guard{
		store:     store,
		publisher: publisher,
		redirect:  func() {},
		config:    config,
		metrics:   metrics.NoOpCollector{},
		logger:    logging.Global().Named("session"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Report inspects a failed response and triggers the flow when it is a
// token failure. It returns whether this call triggered the flow.
func (g *Guard) Report(status int, message string) bool {
	if !envelope.IsTokenFailure(status, message) {
		return false
	}
	return g.Trigger(message)
}

// Check triggers the flow when err is a session failure.
func (g *Guard) Check(err error) bool {
	if !envelope.IsAuth(err) {
		return false
	}
	apiErr, _ := envelope.AsAPIError(err)
	return g.Trigger(apiErr.Message)
}

// Preflight checks the stored token before a request is sent. A token
// already past its exp claim triggers the flow and yields an auth error so
// the request is not sent at all.
func (g *Guard) Preflight() error {
	token, ok := g.store.Token()
	if !ok {
		return nil
	}
	if !IsExpired(token, g.now(), g.config.Leeway) {
		return nil
	}
	g.Trigger("token expirado")
	return envelope.NewAuthError(g.config.Message, ErrTokenExpired)
}

// Trigger runs the session-expiry flow unless it already ran since the last
// Reset. It returns whether this call ran it.
func (g *Guard) Trigger(reason string) bool {
	if !g.fired.CompareAndSwap(false, true) {
		return false
	}

	if err := g.store.Clear(); err != nil {
		g.logger.Error("failed to clear credentials", zap.Error(err))
	}

	g.logger.Warn("session expired", zap.String("reason", reason))
	g.metrics.RecordSessionExpired()
	g.publisher.Publish(notify.Outcome{
		Level:   notify.LevelWarning,
		Source:  notify.SourceSession,
		Message: g.config.Message,
	})

	g.mu.Lock()
	g.timer = time.AfterFunc(g.config.RedirectDelay, g.redirect)
	g.mu.Unlock()

	return true
}

// Expired reports whether the flow has run since the last Reset.
func (g *Guard) Expired() bool {
	return g.fired.Load()
}

// Reset re-arms the guard after a successful login and cancels a pending
// redirect.
func (g *Guard) Reset() {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
	g.fired.Store(false)
}

// Login stores token and re-arms the guard.
func (g *Guard) Login(token string) error {
	if err := g.store.SetToken(token); err != nil {
		return err
	}
	g.Reset()
	return nil
}

// Token returns the stored bearer token.
func (g *Guard) Token() (string, bool) {
	return g.store.Token()
}
