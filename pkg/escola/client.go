package escola

import (
	"context"
	"fmt"

	"escola-client/pkg/gateway"
	"escola-client/pkg/logging"
	"escola-client/pkg/metrics"
	"escola-client/pkg/mutation"
	"escola-client/pkg/notify"
	"escola-client/pkg/policy"
	"escola-client/pkg/query"
	"escola-client/pkg/resource"
	"escola-client/pkg/session"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options configure a Client.
type Options struct {
	Gateway gateway.Config
	Store   query.StoreConfig
	Session session.GuardConfig

	// ExtraPrefixes adds cross-entity invalidations, entity -> "entity/scope"
	ExtraPrefixes map[string][]string

	// Tokens stores the session token (default: in memory)
	Tokens session.TokenStore

	// OnSessionExpired runs after the expiry notification delay
	OnSessionExpired func()

	// Subscribers receive every outcome in addition to the log subscriber
	Subscribers []notify.Subscriber

	Logger         *logging.Logger
	Metrics        metrics.MetricsCollector
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns options for a backend at localhost.
func DefaultOptions() Options {
	return Options{
		Gateway: gateway.DefaultConfig(),
		Store:   query.DefaultStoreConfig(),
		Session: session.DefaultGuardConfig(),
	}
}

// Client is the school backend with every entity wired to a shared store,
// mutation controller, session guard and notification bus.
type Client struct {
	Gateway    *gateway.Client
	Store      *query.Store
	Controller *mutation.Controller
	Guard      *session.Guard
	Bus        *notify.Bus
	Policy     policy.Policy

	Alunos         *resource.Resource[Aluno, AlunoInput]
	Turmas         *resource.Resource[Turma, TurmaInput]
	Transferencias *resource.Resource[Transferencia, TransferenciaInput]
	AnosLectivos   *resource.Resource[AnoLectivo, AnoLectivoInput]
	Proveniencias  *resource.Resource[Proveniencia, ProvenienciaInput]
	Classes        *resource.Resource[Classe, ClasseInput]
	Cursos         *resource.Resource[Curso, CursoInput]
	Localidades    *resource.Resource[Localidade, LocalidadeInput]

	tokens session.TokenStore
	logger *logging.Logger
}

// New wires a client.
func New(opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	tokens := opts.Tokens
	if tokens == nil {
		tokens = session.NewMemoryTokenStore("")
	}

	pol := DefaultPolicy()
	if err := pol.Extend(opts.ExtraPrefixes); err != nil {
		return nil, err
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}

	bus := notify.NewBus()
	bus.Subscribe(notify.NewLogSubscriber(logger))
	for _, s := range opts.Subscribers {
		bus.Subscribe(s)
	}

	guardOpts := []session.GuardOption{
		session.WithMetrics(collector),
		session.WithLogger(logger),
	}
	if opts.OnSessionExpired != nil {
		guardOpts = append(guardOpts, session.WithRedirect(opts.OnSessionExpired))
	}
	guard := session.NewGuard(tokens, bus, opts.Session, guardOpts...)

	gwOpts := []gateway.Option{
		gateway.WithGuard(guard),
		gateway.WithTokenStore(tokens),
		gateway.WithMetrics(collector),
		gateway.WithLogger(logger),
	}
	if opts.TracerProvider != nil {
		gwOpts = append(gwOpts, gateway.WithTracerProvider(opts.TracerProvider))
	}
	gw, err := gateway.NewClient(opts.Gateway, gwOpts...)
	if err != nil {
		return nil, err
	}

	storeConfig := opts.Store
	storeConfig.Logger = logger
	storeConfig.Metrics = collector
	store := query.NewStore(storeConfig)

	ctrl := mutation.NewController(store, pol,
		mutation.WithPublisher(bus),
		mutation.WithMetrics(collector),
		mutation.WithLogger(logger),
	)

	deps := resource.Deps{Client: gw, Store: store, Controller: ctrl}
	configs := Configs()

	c := &Client{
		Gateway:    gw,
		Store:      store,
		Controller: ctrl,
		Guard:      guard,
		Bus:        bus,
		Policy:     pol,

		Alunos:         resource.New[Aluno, AlunoInput](deps, configs[EntityAlunos]),
		Turmas:         resource.New[Turma, TurmaInput](deps, configs[EntityTurmas]),
		Transferencias: resource.New[Transferencia, TransferenciaInput](deps, configs[EntityTransferencias]),
		AnosLectivos:   resource.New[AnoLectivo, AnoLectivoInput](deps, lowPriority(configs[EntityAnosLectivos])),
		Proveniencias:  resource.New[Proveniencia, ProvenienciaInput](deps, configs[EntityProveniencias]),
		Classes:        resource.New[Classe, ClasseInput](deps, lowPriority(configs[EntityClasses])),
		Cursos:         resource.New[Curso, CursoInput](deps, lowPriority(configs[EntityCursos])),
		Localidades:    resource.New[Localidade, LocalidadeInput](deps, lowPriority(configs[EntityLocalidades])),

		tokens: tokens,
		logger: logger.Named("escola"),
	}

	c.logger.Debug("client ready",
		zap.String("base_url", gw.BaseURL()),
		zap.Int("entities", len(Entities)))
	return c, nil
}

// lowPriority marks lookup tables that rarely change.
func lowPriority(config resource.Config) resource.Config {
	config.Options = query.LowPriorityOptions()
	return config
}

// Login stores token and re-arms the session guard.
func (c *Client) Login(token string) error {
	return c.Guard.Login(token)
}

// Logout clears the token and every cached read.
func (c *Client) Logout() error {
	c.Store.Clear()
	c.Guard.Reset()
	if err := c.tokens.Clear(); err != nil {
		return fmt.Errorf("escola: logout: %w", err)
	}
	return nil
}

// Close stops background work.
func (c *Client) Close() error {
	c.Guard.Reset()
	return c.Store.Close()
}

// TurmaAlunos returns one page of the students of a turma.
func (c *Client) TurmaAlunos(ctx context.Context, turma string, params gateway.ListParams) (resource.Page[Aluno], error) {
	return resource.FetchSub[Aluno](ctx, c.Turmas, turma, SubAlunos, params)
}

// TurmaDevedores returns one page of the students of a turma with debt.
func (c *Client) TurmaDevedores(ctx context.Context, turma string, params gateway.ListParams) (resource.Page[Aluno], error) {
	return resource.FetchSub[Aluno](ctx, c.Turmas, turma, SubDevedores, params)
}

// AprovarTransferencia approves a pending transfer.
func (c *Client) AprovarTransferencia(ctx context.Context, id string) (Transferencia, error) {
	return c.Transferencias.PatchStatus(ctx, id, ActionApprove, StatusInput{Status: "aprovada"})
}

// RejeitarTransferencia rejects a pending transfer with a reason.
func (c *Client) RejeitarTransferencia(ctx context.Context, id, motivo string) (Transferencia, error) {
	return c.Transferencias.PatchStatus(ctx, id, ActionReject, StatusInput{Status: "rejeitada", Motivo: motivo})
}
