package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rendis/autoflow/internal/actions"
	"github.com/rendis/autoflow/internal/api"
	"github.com/rendis/autoflow/internal/datasync"
	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/events"
	"github.com/rendis/autoflow/internal/expressions"
	"github.com/rendis/autoflow/internal/locks"
	"github.com/rendis/autoflow/internal/metrics"
	"github.com/rendis/autoflow/internal/predicate"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
	"github.com/rendis/autoflow/internal/validation"
	"github.com/rendis/autoflow/internal/workflows"
	mcpserver "github.com/rendis/autoflow/pkg/mcp"
)

// app is the wired process: store, engine, scheduler and surfaces.
type app struct {
	cfg    *Config
	logger *slog.Logger

	store        *store.LibSQLStore
	registry     *prometheus.Registry
	orchestrator engine.Orchestrator // scheduler runs; the driver claims itself
	manual       engine.Orchestrator // HTTP and MCP runs, claimed per call
	driver       *scheduler.Driver
	workflows    *workflows.Service
	mcp          *mcpserver.AutoflowServer
	nats         *nats.Conn
	listener     *datasync.Listener

	closers []func() error
}

// notifierSlot forwards to a notifier built after the orchestrator.
type notifierSlot struct {
	target engine.Notifier
}

func (s *notifierSlot) ExecutionFinished(ctx context.Context, summary *engine.ExecutionSummary) error {
	if s.target == nil {
		return nil
	}
	return s.target.ExecutionFinished(ctx, summary)
}

// newApp opens the store, runs migrations and wires every component.
// connect enables the NATS and Redis connections used by serve.
func newApp(ctx context.Context, cfg *Config, logger *slog.Logger, connect bool) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s, err := store.NewLibSQLStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.store = s
	a.closers = append(a.closers, s.Close)
	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewProm(cfg.Metrics.Namespace, a.registry)

	formulas, err := expressions.New(cfg.Engine.FormulaEngine)
	if err != nil {
		return nil, err
	}
	registry := actions.NewDefaultRegistry(formulas)
	interp := actions.NewInterpreter(actions.InterpreterConfig{
		Store:       s,
		Registry:    registry,
		WritePolicy: retryPolicy(cfg.Engine.WriteRetries, "50ms", "1s"),
		Observer:    prom,
		Logger:      logger,
	})

	mode := predicate.ParseMode(cfg.Predicate.Mode)
	notify := engine.Notifiers{}
	if connect && cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return nil, err
		}
		a.nats = nc
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		notify = append(notify, events.NewExecutionPublisher(nc))
	}
	mcpSlot := &notifierSlot{}
	notify = append(notify, mcpSlot)

	a.orchestrator = engine.NewOrchestrator(s, interp, engine.OrchestratorConfig{
		PredicateMode:     mode,
		RecordConcurrency: cfg.Engine.RecordConcurrency,
		RecordTimeout:     cfg.Engine.RecordTimeout,
		RunTimeout:        cfg.Engine.RunTimeout,
		Observer:          prom,
		Notifier:          notify,
		Logger:            logger,
	})

	guard, err := a.guard(connect)
	if err != nil {
		return nil, err
	}

	syncs, err := a.syncService(prom)
	if err != nil {
		return nil, err
	}

	owner := locks.DefaultOwner()
	a.manual = engine.NewGuardedOrchestrator(a.orchestrator, engine.GuardedConfig{
		Guard:    guard,
		Owner:    owner,
		ClaimTTL: cfg.Scheduler.ClaimTTL,
	})

	a.driver = scheduler.NewDriver(scheduler.DriverConfig{
		Store:         s,
		Orchestrator:  a.orchestrator,
		Syncs:         syncs,
		Guard:         guard,
		Concurrency:   cfg.Scheduler.Concurrency,
		SyncBatchSize: cfg.Scheduler.SyncBatchSize,
		ClaimTTL:      cfg.Scheduler.ClaimTTL,
		Owner:         owner,
		Location:      cfg.location(),
		Observer:      prom,
		Logger:        logger,
	})

	if a.nats != nil {
		a.listener = datasync.NewListener(a.nats, s, a.driver, cfg.Engine.RunTimeout, logger)
	}

	validator, err := validation.NewWorkflowValidator(validation.Options{
		Actions: registry,
		Models:  s,
		Strict:  mode == predicate.Strict,
	})
	if err != nil {
		return nil, err
	}
	a.workflows = workflows.NewService(s, validator, workflows.Config{PredicateMode: mode, Logger: logger})

	a.mcp = mcpserver.NewAutoflowServer(mcpserver.AutoflowServerDeps{
		Orchestrator: a.manual,
		Scheduler:    a.driver,
		History:      s,
		Version:      version,
		Logger:       logger,
	})
	mcpSlot.target = a.mcp.Notifier()

	return a, nil
}

// guard layers the in-process guard over Redis when configured, otherwise
// over the store-backed claim table.
func (a *app) guard(connect bool) (locks.Guard, error) {
	if connect && a.cfg.Locks.RedisURL != "" {
		rg, err := locks.NewRedisGuard(a.cfg.Locks.RedisURL, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rg.Close)
		return locks.Layered{locks.NewMemoryGuard(), rg}, nil
	}
	return locks.Layered{locks.NewMemoryGuard(), locks.NewStoreGuard(a.store, a.logger)}, nil
}

func (a *app) syncService(obs datasync.Observer) (*datasync.Service, error) {
	cfg := datasync.ServiceConfig{
		Store:       a.store,
		RetryPolicy: retryPolicy(a.cfg.Datasync.Retries, "1s", "30s"),
		Breaker: datasync.NewBreaker(datasync.BreakerConfig{
			FailureThreshold: a.cfg.Datasync.BreakerThreshold,
			Cooldown:         a.cfg.Datasync.BreakerCooldown,
		}),
		Location: a.cfg.location(),
		Observer: obs,
		Logger:   a.logger,
	}
	if a.cfg.Datasync.RunnerURL != "" {
		conn, err := datasync.NewHTTPConnector(datasync.HTTPConfig{
			RunnerURL: a.cfg.Datasync.RunnerURL,
			Timeout:   a.cfg.Datasync.Timeout,
		})
		if err != nil {
			return nil, err
		}
		cfg.Connector = conn
	} else {
		a.logger.Warn("datasync.runner_url is empty; due sync jobs will fail")
	}
	return datasync.NewService(cfg), nil
}

// handler builds the HTTP router.
func (a *app) handler() http.Handler {
	srv := api.NewServer(api.Deps{
		Workflows:    a.workflows,
		Orchestrator: a.manual,
		Scheduler:    a.driver,
		History:      a.store,
		Metrics:      metrics.Handler(a.registry),
		MCP:          a.mcp.HTTPHandler(),
		ServiceName:  "autoflow",
		Logger:       a.logger,
	})
	return srv.Echo()
}

// Close releases every resource in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	if a.listener != nil {
		if err := a.listener.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
