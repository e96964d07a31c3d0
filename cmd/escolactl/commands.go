package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escola-client/pkg/api"
	"escola-client/pkg/escola"
	"escola-client/pkg/gateway"
	metricsmem "escola-client/pkg/metrics/memory"

	"go.uber.org/zap"
)

// ListFlags are the pagination and filter flags of list commands.
type ListFlags struct {
	Page   int               `help:"Page number." default:"1"`
	Limit  int               `help:"Page size." default:"10"`
	Search string            `help:"Free text search." short:"s"`
	Filter map[string]string `help:"Filter as key=value, repeatable."`
}

func (f ListFlags) params() gateway.ListParams {
	return gateway.ListParams{
		Page:    f.Page,
		Limit:   f.Limit,
		Search:  f.Search,
		Filters: f.Filter,
	}
}

// withApp opens the client, runs fn and closes the client.
func withApp(g *Globals, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	return fn(ctx, a)
}

// LoginCmd stores the session token.
type LoginCmd struct {
	Token string `arg:"" help:"JWT issued by the backend." env:"ESCOLA_TOKEN"`
}

// Run executes the login command.
func (c *LoginCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		if err := a.client.Login(c.Token); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Fprintln(a.out, "Sessão iniciada.")
		return nil
	})
}

// LogoutCmd clears the session token.
type LogoutCmd struct{}

// Run executes the logout command.
func (c *LogoutCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		if err := a.client.Logout(); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Sessão terminada.")
		return nil
	})
}

// AlunosCmd groups student commands.
type AlunosCmd struct {
	List AlunosListCmd `cmd:"" help:"List students."`
	Get  AlunosGetCmd  `cmd:"" help:"Show one student."`
}

// AlunosListCmd lists students.
type AlunosListCmd struct {
	ListFlags
}

// Run executes the command.
func (c *AlunosListCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		page, err := a.client.Alunos.FetchList(ctx, c.params())
		if err != nil {
			return err
		}
		return a.print(page)
	})
}

// AlunosGetCmd shows one student.
type AlunosGetCmd struct {
	ID string `arg:"" help:"Student code."`
}

// Run executes the command.
func (c *AlunosGetCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		aluno, err := a.client.Alunos.FetchDetail(ctx, c.ID)
		if err != nil {
			return err
		}
		return a.print(aluno)
	})
}

// TurmasCmd groups class commands.
type TurmasCmd struct {
	List      TurmasListCmd      `cmd:"" help:"List classes."`
	Get       TurmasGetCmd       `cmd:"" help:"Show one class."`
	Create    TurmasCreateCmd    `cmd:"" help:"Create a class."`
	Update    TurmasUpdateCmd    `cmd:"" help:"Update a class."`
	Delete    TurmasDeleteCmd    `cmd:"" help:"Delete a class."`
	Alunos    TurmasAlunosCmd    `cmd:"" help:"List the students of a class."`
	Devedores TurmasDevedoresCmd `cmd:"" help:"List the students of a class with outstanding fees."`
}

// TurmasListCmd lists classes.
type TurmasListCmd struct {
	ListFlags
}

// Run executes the command.
func (c *TurmasListCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		page, err := a.client.Turmas.FetchList(ctx, c.params())
		if err != nil {
			return err
		}
		return a.print(page)
	})
}

// TurmasGetCmd shows one class.
type TurmasGetCmd struct {
	ID string `arg:"" help:"Class code."`
}

// Run executes the command.
func (c *TurmasGetCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		turma, err := a.client.Turmas.FetchDetail(ctx, c.ID)
		if err != nil {
			return err
		}
		return a.print(turma)
	})
}

// TurmaFlags are the fields of a class payload.
type TurmaFlags struct {
	Designacao string `help:"Class name." required:""`
	Classe     int    `help:"Grade code." required:""`
	AnoLectivo int    `help:"Academic year code." name:"ano-lectivo" required:""`
	Curso      int    `help:"Course code."`
	Sala       string `help:"Room."`
	Periodo    string `help:"Shift (manha, tarde, noite)."`
	Capacidade int    `help:"Maximum number of students."`
}

func (f TurmaFlags) input() escola.TurmaInput {
	return escola.TurmaInput{
		Designacao:       f.Designacao,
		CodigoClasse:     f.Classe,
		CodigoCurso:      f.Curso,
		CodigoAnoLectivo: f.AnoLectivo,
		Sala:             f.Sala,
		Periodo:          f.Periodo,
		Capacidade:       f.Capacidade,
	}
}

// TurmasCreateCmd creates a class.
type TurmasCreateCmd struct {
	TurmaFlags
}

// Run executes the command.
func (c *TurmasCreateCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		turma, err := a.client.Turmas.Create(ctx, c.input())
		if err != nil {
			return err
		}
		return a.print(turma)
	})
}

// TurmasUpdateCmd updates a class.
type TurmasUpdateCmd struct {
	ID string `arg:"" help:"Class code."`
	TurmaFlags
}

// Run executes the command.
func (c *TurmasUpdateCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		turma, err := a.client.Turmas.Update(ctx, c.ID, c.input())
		if err != nil {
			return err
		}
		return a.print(turma)
	})
}

// TurmasDeleteCmd deletes a class.
type TurmasDeleteCmd struct {
	ID string `arg:"" help:"Class code."`
}

// Run executes the command.
func (c *TurmasDeleteCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		msg, err := a.client.Turmas.Delete(ctx, c.ID)
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, msg)
		return nil
	})
}

// TurmasAlunosCmd lists the students of a class.
type TurmasAlunosCmd struct {
	ID string `arg:"" help:"Class code."`
	ListFlags
}

// Run executes the command.
func (c *TurmasAlunosCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		page, err := a.client.TurmaAlunos(ctx, c.ID, c.params())
		if err != nil {
			return err
		}
		return a.print(page)
	})
}

// TurmasDevedoresCmd lists the students of a class with outstanding fees.
type TurmasDevedoresCmd struct {
	ID string `arg:"" help:"Class code."`
	ListFlags
}

// Run executes the command.
func (c *TurmasDevedoresCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		page, err := a.client.TurmaDevedores(ctx, c.ID, c.params())
		if err != nil {
			return err
		}
		return a.print(page)
	})
}

// TransferenciasCmd groups transfer commands.
type TransferenciasCmd struct {
	List     TransferenciasListCmd     `cmd:"" help:"List transfers."`
	Aprovar  TransferenciasAprovarCmd  `cmd:"" help:"Approve a transfer."`
	Rejeitar TransferenciasRejeitarCmd `cmd:"" help:"Reject a transfer."`
}

// TransferenciasListCmd lists transfers.
type TransferenciasListCmd struct {
	ListFlags
}

// Run executes the command.
func (c *TransferenciasListCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		page, err := a.client.Transferencias.FetchList(ctx, c.params())
		if err != nil {
			return err
		}
		return a.print(page)
	})
}

// TransferenciasAprovarCmd approves a transfer.
type TransferenciasAprovarCmd struct {
	ID string `arg:"" help:"Transfer code."`
}

// Run executes the command.
func (c *TransferenciasAprovarCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		t, err := a.client.AprovarTransferencia(ctx, c.ID)
		if err != nil {
			return err
		}
		return a.print(t)
	})
}

// TransferenciasRejeitarCmd rejects a transfer.
type TransferenciasRejeitarCmd struct {
	ID     string `arg:"" help:"Transfer code."`
	Motivo string `help:"Reason shown to the requester." required:""`
}

// Run executes the command.
func (c *TransferenciasRejeitarCmd) Run(g *Globals) error {
	return withApp(g, func(ctx context.Context, a *app) error {
		t, err := a.client.RejeitarTransferencia(ctx, c.ID, c.Motivo)
		if err != nil {
			return err
		}
		return a.print(t)
	})
}

// DevtoolsCmd serves the cache inspection endpoint until interrupted.
type DevtoolsCmd struct {
	Addr string `help:"Listen address, overrides the config file."`
	Warm bool   `help:"Load the first page of every entity before serving."`
}

// Run executes the command.
func (c *DevtoolsCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	config := a.cfg.Devtools
	if c.Addr != "" {
		config.Address = c.Addr
	}

	opts := []api.Option{
		api.WithBreaker(a.client.Gateway.Breaker()),
		api.WithLogger(a.logger),
	}
	if a.registry != nil {
		opts = append(opts, api.WithGatherer(a.registry))
	}
	if mc, ok := a.collector.(*metricsmem.MemoryCollector); ok {
		opts = append(opts, api.WithSnapshot(func() any { return mc.Snapshot() }))
	}
	server := api.NewServer(a.client.Store, config, opts...)

	if c.Warm {
		warm(ctx, a)
	}

	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "devtools em http://%s\n", config.Address)

	<-ctx.Done()

	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Stop(shutdown)
}

// warm starts background reads of the first page of every entity.
func warm(ctx context.Context, a *app) {
	params := gateway.ListParams{}
	a.client.Alunos.List(ctx, params)
	a.client.Turmas.List(ctx, params)
	a.client.Transferencias.List(ctx, params)
	a.client.AnosLectivos.Complete(ctx, params)
	a.client.Classes.Complete(ctx, params)
	a.client.Cursos.Complete(ctx, params)
	a.client.Proveniencias.List(ctx, params)
	a.client.Localidades.Complete(ctx, params)

	if err := a.client.Store.Flush(10 * time.Second); err != nil {
		a.logger.Warn("warm-up incomplete", zap.Error(err))
	}
}
