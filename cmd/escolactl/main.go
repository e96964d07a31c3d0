// Command escolactl is a terminal client for the school management backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"escola-client/pkg/config"
	"escola-client/pkg/envelope"
	"escola-client/pkg/escola"
	"escola-client/pkg/logging"
	"escola-client/pkg/metrics"
	metricsmem "escola-client/pkg/metrics/memory"
	promcollector "escola-client/pkg/metrics/prometheus"
	"escola-client/pkg/mutation"
	"escola-client/pkg/notify"
	"escola-client/pkg/persist"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	version = "dev"
	commit  = "unknown"
)

// CLI is the top-level command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`

	Login          LoginCmd          `cmd:"" help:"Store a session token."`
	Logout         LogoutCmd         `cmd:"" help:"Clear the session token."`
	Alunos         AlunosCmd         `cmd:"" help:"Students."`
	Turmas         TurmasCmd         `cmd:"" help:"Classes."`
	Transferencias TransferenciasCmd `cmd:"" help:"Student transfers."`
	Devtools       DevtoolsCmd       `cmd:"" help:"Serve the cache inspection endpoint."`
}

// Globals are flags shared by every command.
type Globals struct {
	Config   string `help:"Config file." type:"path" short:"c"`
	BaseURL  string `help:"Backend URL, overrides the config file." name:"base-url"`
	LogLevel string `help:"Log level (debug, info, warn, error)." name:"log-level"`

	out io.Writer `kong:"-"`
}

// app is an opened client plus what must be released with it.
type app struct {
	cfg       *config.Config
	client    *escola.Client
	logger    *logging.Logger
	persister persist.Persister
	collector metrics.MetricsCollector
	registry  *prometheus.Registry
	out       io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.out != nil {
		return g.out
	}
	return os.Stdout
}

// open loads the configuration and builds a client. Persisted reads are
// restored when persistence is enabled.
func (g *Globals) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	if g.BaseURL != "" {
		cfg.Gateway.BaseURL = g.BaseURL
	}
	if g.LogLevel != "" {
		cfg.Logging.Level = g.LogLevel
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logging.SetGlobal(logger)

	a := &app{cfg: cfg, logger: logger, out: g.stdout()}

	if cfg.Metrics.Enabled {
		pc := promcollector.NewPrometheusCollector(cfg.Metrics.Namespace)
		a.registry = prometheus.NewRegistry()
		if err := pc.Register(a.registry); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		a.collector = pc
	} else {
		a.collector = metricsmem.NewMemoryCollector()
	}

	opts := cfg.ClientOptions()
	opts.Logger = logger
	opts.Metrics = a.collector
	opts.OnSessionExpired = func() {
		fmt.Fprintln(os.Stderr, "Sessão expirada. Execute 'escolactl login'.")
	}
	opts.Subscribers = []notify.Subscriber{notify.SubscriberFunc(func(o notify.Outcome) {
		if o.Source == notify.SourceMutation {
			fmt.Fprintf(os.Stderr, "%s: %s\n", o.Level, o.Message)
		}
	})}

	client, err := escola.New(opts)
	if err != nil {
		return nil, err
	}
	a.client = client

	if cfg.Persist.Enabled {
		p, err := persist.NewRedisPersister(cfg.Persist.Redis)
		if err != nil {
			logger.Warn("persistence unavailable", zap.Error(err))
		} else {
			a.persister = p
			if _, err := persist.Restore(ctx, client.Store, p); err != nil {
				logger.Warn("restore failed", zap.Error(err))
			}
		}
	}

	return a, nil
}

// close saves the store when persistence is enabled and releases the client.
func (a *app) close(ctx context.Context) {
	if a.persister != nil {
		if _, err := persist.Sync(ctx, a.client.Store, a.persister); err != nil {
			a.logger.Warn("persist failed", zap.Error(err))
		}
		a.persister.Close()
	}
	if err := a.client.Close(); err != nil {
		a.logger.Warn("close failed", zap.Error(err))
	}
	a.logger.Sync()
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCode maps errors to process exit codes.
func exitCode(err error) int {
	var apiErr *envelope.APIError
	switch {
	case errors.Is(err, mutation.ErrValidation):
		return 2
	case errors.As(err, &apiErr) && apiErr.Kind == envelope.KindAuth:
		return 3
	case errors.As(err, &apiErr) && apiErr.Kind == envelope.KindTransport:
		return 4
	default:
		return 1
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("escolactl"),
		kong.Description("Terminal client for the school management backend."),
		kong.UsageOnError(),
		kong.Vars{"version": version + " " + commit},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
