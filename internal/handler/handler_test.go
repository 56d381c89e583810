package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vyuha/server/internal/config"
	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/persist"
	"github.com/vyuha/server/internal/world"
)

var fixedNow = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

func newTestDeps(t *testing.T, o oracle.Oracle) *Deps {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	bus := event.NewBus()
	log := zap.NewNop()
	return &Deps{
		Config: cfg,
		Log:    log,
		Store:  persist.NewStore(persist.NewMemoryBackend(), world.Grid{Width: 20, Height: 20}, 50, bus, log),
		Engine: world.NewEngine(log),
		Bus:    bus,
		Oracle: o,
		Clock:  func() time.Time { return fixedNow },
	}
}

// reply returns an oracle that always answers raw.
func reply(raw string) oracle.Oracle {
	return oracle.Func(func(context.Context, oracle.Request) (string, error) { return raw, nil })
}

func seed(t *testing.T, deps *Deps, fn func(s *world.State)) {
	t.Helper()
	_, err := deps.Store.Update(context.Background(), func(s *world.State) error {
		fn(s)
		return nil
	})
	require.NoError(t, err)
}

func agent(id, name string, x, y int, props world.Properties) world.Entity {
	if props == nil {
		props = world.Properties{}
	}
	return world.Entity{
		ID: id, Type: world.TypeAgent, Name: name,
		Position: world.Position{X: x, Y: y},
		Status:   world.StatusIdle, Memory: []string{},
		Properties: props,
	}
}

func read(t *testing.T, deps *Deps) *world.State {
	t.Helper()
	st, err := deps.Store.Read(context.Background())
	require.NoError(t, err)
	return st
}

func lastLog(t *testing.T, s *world.State) world.LogEntry {
	t.Helper()
	require.NotEmpty(t, s.Log)
	return s.Log[len(s.Log)-1]
}
