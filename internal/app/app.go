package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/hoferino/manda-platform-sub003/internal/config"
	"github.com/hoferino/manda-platform-sub003/internal/data/db"
	httpapi "github.com/hoferino/manda-platform-sub003/internal/http"
	"github.com/hoferino/manda-platform-sub003/internal/observability"
	"github.com/hoferino/manda-platform-sub003/internal/pkg/logger"
)

type App struct {
	Log       *logger.Logger
	Cfg       config.Config
	DB        *gorm.DB
	Repos     Repos
	Clients   Clients
	Services  Services
	Server    *httpapi.Server
	Scheduler *Scheduler

	dbSvc        *db.Service
	otelShutdown func(context.Context) error
}

// OpenDB connects and migrates the schema.
func OpenDB(cfg config.Config, log *logger.Logger) (*db.Service, error) {
	svc, err := db.Open(cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := svc.AutoMigrateAll(); err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return svc, nil
}

func New(ctx context.Context, cfg config.Config, log *logger.Logger) (*App, error) {
	observability.Init(log, cfg.MetricsEnabled)
	otelShutdown := observability.InitOTel(ctx, log, cfg.Otel)

	dbSvc, err := OpenDB(cfg, log)
	if err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}
	theDB := dbSvc.DB()

	reposet := wireRepos(theDB, log)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = dbSvc.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	serviceset, err := wireServices(ctx, theDB, log, cfg, reposet, clients)
	if err != nil {
		clients.Close(ctx)
		_ = dbSvc.Close()
		_ = otelShutdown(ctx)
		return nil, err
	}

	a := &App{
		Log:          log,
		Cfg:          cfg,
		DB:           theDB,
		Repos:        reposet,
		Clients:      clients,
		Services:     serviceset,
		Server:       wireServer(log, cfg, wireHandlers(log, theDB, serviceset)),
		Scheduler:    newScheduler(log),
		dbSvc:        dbSvc,
		otelShutdown: otelShutdown,
	}
	if err := a.scheduleSweeps(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) scheduleSweeps(ctx context.Context) error {
	for _, sw := range []sweep{
		{name: "lease_reaper", schedule: a.Cfg.Worker.ReaperSchedule, run: a.Services.Engine.ReapExpired},
		{name: "source_reliability", schedule: a.Cfg.Feedback.SweepSchedule, run: a.Services.Feedback.SweepSourceFlags},
		{name: "outbox_retry", schedule: a.Cfg.Events.RetrySchedule, run: a.Services.Dispatcher.RequeueParked},
	} {
		if err := a.Scheduler.add(ctx, sw); err != nil {
			return err
		}
	}
	return nil
}

// RunServer serves the HTTP API next to the background processes.
func (a *App) RunServer(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx, g)
	g.Go(func() error {
		a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
		return a.Server.Run(gctx, a.Cfg.HTTPAddr)
	})
	return g.Wait()
}

// RunWorker runs only the job workers, the outbox dispatcher and the sweeps.
func (a *App) RunWorker(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.startBackground(gctx, g)
	return g.Wait()
}

func (a *App) startBackground(ctx context.Context, g *errgroup.Group) {
	a.Scheduler.Start(ctx)
	g.Go(func() error { return a.Services.Worker.Run(ctx) })
	g.Go(func() error { return a.Services.Dispatcher.Run(ctx) })
}

func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	a.Clients.Close(ctx)
	if a.dbSvc != nil {
		_ = a.dbSvc.Close()
	}
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
	}
	a.Log.Sync()
}
