package handler

import (
	"context"
	"time"

	"github.com/vyuha/server/internal/config"
	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/data"
	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/persist"
	"github.com/vyuha/server/internal/system"
	"github.com/vyuha/server/internal/world"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all handlers.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	Store     *persist.Store
	Engine    *world.Engine
	Bus       *event.Bus // optional
	Oracle    oracle.Oracle
	Scheduler *system.Scheduler   // nil in one-shot CLI commands
	Scenarios *data.ScenarioTable // nil when no scenario directory is loaded
	Clock     func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock().UTC()
	}
	return time.Now().UTC()
}

func (d *Deps) sim() config.SimulationConfig {
	return d.Config.Simulation
}

// AgentRunner adapts RunTurn to the scheduler.
type AgentRunner struct {
	Deps *Deps
}

func (r AgentRunner) Turn(ctx context.Context, agentID string) (system.TurnOutcome, error) {
	res, err := RunTurn(ctx, r.Deps, agentID)
	if err != nil {
		return system.TurnOutcome{}, err
	}
	return system.TurnOutcome{
		Delay:   res.Delay,
		Rest:    res.RestTime,
		Running: res.State.Running,
	}, nil
}
