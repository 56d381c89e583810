package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyuha/server/internal/world"
	"go.uber.org/zap"
)

// ErrUnknownScenario is a reset naming a scenario that was not loaded.
var ErrUnknownScenario = errors.New("unknown scenario")

// StartSimulation marks the world running and, when a scheduler is
// attached, starts the agent loops.
func StartSimulation(ctx context.Context, deps *Deps) (*world.State, error) {
	var err error
	if deps.Scheduler != nil {
		err = deps.Scheduler.Start(ctx)
	} else {
		err = deps.Store.SetRunning(ctx, true)
	}
	if err != nil {
		return nil, fmt.Errorf("start simulation: %w", err)
	}
	deps.Log.Info("simulation started")
	return deps.Store.Read(ctx)
}

// StopSimulation ends the agent loops and marks the world stopped.
func StopSimulation(ctx context.Context, deps *Deps) (*world.State, error) {
	var err error
	if deps.Scheduler != nil {
		err = deps.Scheduler.Stop(ctx)
	} else {
		err = deps.Store.SetRunning(ctx, false)
	}
	if err != nil {
		return nil, fmt.Errorf("stop simulation: %w", err)
	}
	deps.Log.Info("simulation stopped")
	return deps.Store.Read(ctx)
}

// ResetSimulation stops the simulation and replaces the world with an
// empty grid, seeded from scenario when one is named. An empty name falls
// back to simulation.default_scenario.
func ResetSimulation(ctx context.Context, deps *Deps, scenario string) (*world.State, error) {
	seed, err := scenarioSeed(deps, scenario)
	if err != nil {
		return nil, err
	}
	var st *world.State
	if deps.Scheduler != nil {
		st, err = deps.Scheduler.Reset(ctx, seed)
	} else {
		st, err = deps.Store.ResetWith(ctx, seed)
	}
	if err != nil {
		return nil, fmt.Errorf("reset world: %w", err)
	}
	deps.Log.Info("world reset", zap.String("scenario", scenario), zap.Int("entities", len(st.Entities)))
	return st, nil
}

// SimulationState returns the current world.
func SimulationState(ctx context.Context, deps *Deps) (*world.State, error) {
	return deps.Store.Read(ctx)
}

func scenarioSeed(deps *Deps, name string) (func(*world.State) error, error) {
	if name == "" {
		name = deps.sim().DefaultScenario
	}
	if name == "" {
		return nil, nil
	}
	sc := deps.Scenarios.Get(name)
	if sc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return func(s *world.State) error {
		next := deps.Engine.Apply(s, sc.Batch())
		next.AppendLog(world.LogEntry{
			Timestamp: deps.now(),
			Message:   fmt.Sprintf("Scenario loaded: %s", sc.Name),
			Type:      world.LogSystem,
		})
		*s = *next
		return nil
	}, nil
}
