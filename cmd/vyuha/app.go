package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vyuha/server/internal/config"
	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/data"
	"github.com/vyuha/server/internal/handler"
	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/persist"
	"github.com/vyuha/server/internal/scripting"
	"github.com/vyuha/server/internal/world"
)

// app holds what every command needs: config, logger, the world store
// and the loaded scenarios.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	bus       *event.Bus
	store     *persist.Store
	db        *persist.DB // set when the store or journal uses postgres
	ownsDB    bool
	engine    *world.Engine
	scenarios *data.ScenarioTable
	closers   []func()
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	backend, db, err := persist.OpenBackend(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	bus := event.NewBus()
	grid := world.Grid{Width: cfg.Simulation.GridWidth, Height: cfg.Simulation.GridHeight}
	a := &app{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		store:  persist.NewStore(backend, grid, cfg.Store.CASRetries, bus, log),
		db:     db,
		engine: world.NewEngine(log),
	}

	if cfg.Simulation.ScenarioDir != "" {
		a.scenarios, err = data.LoadScenarioTable(cfg.Simulation.ScenarioDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load scenarios: %w", err)
		}
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if a.ownsDB && a.db != nil {
		a.db.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close store", zap.Error(err))
	}
	a.log.Sync()
}

func (a *app) deps(o oracle.Oracle) *handler.Deps {
	return &handler.Deps{
		Config:    a.cfg,
		Log:       a.log,
		Store:     a.store,
		Engine:    a.engine,
		Bus:       a.bus,
		Oracle:    o,
		Scenarios: a.scenarios,
	}
}

// newOracle builds the provider named by oracle.provider.
func (a *app) newOracle() (oracle.Oracle, error) {
	switch a.cfg.Oracle.Provider {
	case "openai":
		o, err := oracle.NewOpenAI(a.cfg.Oracle, a.log)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "lua":
		e, err := scripting.NewEngine(a.cfg.Oracle.ScriptDir, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	case "echo":
		return oracle.Idle(), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", a.cfg.Oracle.Provider)
	}
}

// postgres returns the pool shared with the store, or opens one.
func (a *app) postgres(ctx context.Context) (*persist.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := persist.OpenPostgres(ctx, a.cfg.Database, a.log)
	if err != nil {
		return nil, err
	}
	a.db, a.ownsDB = db, true
	return db, nil
}

// newJournal opens the configured journal sink; nil when disabled.
func (a *app) newJournal(ctx context.Context) (persist.Journal, error) {
	switch a.cfg.Journal.Sink {
	case "postgres":
		db, err := a.postgres(ctx)
		if err != nil {
			return nil, err
		}
		return persist.NewJournalRepo(db), nil
	case "file":
		j, err := persist.NewFileJournal(a.cfg.Journal.Dir)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = j.Close() })
		return j, nil
	default:
		return nil, nil
	}
}
