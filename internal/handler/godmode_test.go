package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/data"
	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/world"
)

func TestGodMode_AppliesBatch(t *testing.T) {
	var got oracle.Request
	deps := newTestDeps(t, oracle.Func(func(_ context.Context, req oracle.Request) (string, error) {
		got = req
		return "```json\n" + `{
			"mutations": [
				{"type": "add_entity", "payload": {"id": "rock-1", "type": "obstacle", "name": "Rock", "position": {"x": 2, "y": 3}}},
				{"type": "add_global_rule", "payload": {"rule": "No running"}}
			],
			"message": "Placed a rock."
		}` + "\n```", nil
	}))

	res, err := GodMode(context.Background(), deps, "  put a rock at 2,3  ")
	require.NoError(t, err)
	assert.Equal(t, "Placed a rock.", res.Message)
	assert.Contains(t, string(res.Mutations), "add_entity")

	assert.Equal(t, oracle.PurposeGod, got.Purpose)
	assert.Equal(t, "put a rock at 2,3", got.Prompt)
	assert.Contains(t, got.System, "add_entity")
	require.NotNil(t, got.God)
	assert.Equal(t, "put a rock at 2,3", got.God.Command)

	st := read(t, deps)
	assert.Equal(t, res.State.Version, st.Version)
	rock := st.Entity("rock-1")
	require.NotNil(t, rock)
	assert.Equal(t, world.Position{X: 2, Y: 3}, rock.Position)
	assert.Equal(t, []string{"No running"}, st.GlobalRules)
	entry := lastLog(t, st)
	assert.Equal(t, world.LogGodMode, entry.Type)
	assert.Equal(t, "God Mode: put a rock at 2,3 → Placed a rock.", entry.Message)
}

func TestGodMode_MissingMutations(t *testing.T) {
	deps := newTestDeps(t, reply(`{"mutations": {"oops": true}, "message": "Nothing to do."}`))

	res, err := GodMode(context.Background(), deps, "relax")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(res.Mutations))
	st := read(t, deps)
	assert.Empty(t, st.Entities)
	assert.Equal(t, "God Mode: relax → Nothing to do.", lastLog(t, st).Message)
}

func TestGodMode_ParseFailure(t *testing.T) {
	deps := newTestDeps(t, reply("Sure! I added a dragon."))

	_, err := GodMode(context.Background(), deps, "add a dragon")
	var pe *GodModeParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "Sure! I added a dragon.", pe.Raw)

	st := read(t, deps)
	assert.Empty(t, st.Entities)
	entry := lastLog(t, st)
	assert.Equal(t, world.LogSystem, entry.Type)
	assert.Contains(t, entry.Message, "add a dragon")
}

func TestGodMode_RulesRunAfterBatch(t *testing.T) {
	deps := newTestDeps(t, reply(`{"mutations": [
		{"type": "add_structured_rule", "payload": {"id": "death", "type": "hard", "description": "no health",
			"check": {"property": "health", "operator": "<=", "value": 0}, "effect": "eliminate", "appliesTo": "agent"}}
	], "message": "Death is real now."}`))
	seed(t, deps, func(s *world.State) {
		s.Entities = append(s.Entities,
			agent("z", "Zombie", 1, 1, world.Properties{"health": 0.0}),
			agent("h", "Hero", 2, 2, world.Properties{"health": 10.0}),
		)
	})

	_, err := GodMode(context.Background(), deps, "make death real")
	require.NoError(t, err)
	st := read(t, deps)
	assert.Nil(t, st.Entity("z"))
	assert.NotNil(t, st.Entity("h"))
	assert.Equal(t, world.LogRuleViolation, lastLog(t, st).Type)
}

func TestGodMode_EliminationEventsOnlyForRemovedEntities(t *testing.T) {
	deps := newTestDeps(t, reply(`{"mutations": [], "message": "ok"}`))
	seed(t, deps, func(s *world.State) {
		s.Entities = append(s.Entities, agent("z", "Zombie", 1, 1, world.Properties{"health": 0.0, "score": -5.0}))
		s.StructuredRules = append(s.StructuredRules,
			world.StructuredRule{
				ID: "death", Check: world.RuleCheck{Property: "health", Operator: world.OpLE, Value: 0},
				Effect: world.EffectEliminate, AppliesTo: world.AppliesToAll,
			},
			world.StructuredRule{
				ID: "debt", Check: world.RuleCheck{Property: "score", Operator: world.OpLT, Value: 0},
				Effect: world.EffectEliminate, AppliesTo: world.AppliesToAll,
			},
		)
	})
	var eliminated []event.EntityEliminated
	event.Subscribe(deps.Bus, func(e event.EntityEliminated) { eliminated = append(eliminated, e) })

	_, err := GodMode(context.Background(), deps, "anything")
	require.NoError(t, err)

	deps.Bus.SwapBuffers()
	deps.Bus.DispatchAll()
	require.Len(t, eliminated, 1)
	assert.Equal(t, event.EntityEliminated{EntityID: "z", RuleID: "death"}, eliminated[0])
}

func TestGodMode_RulesCanBeDeferred(t *testing.T) {
	deps := newTestDeps(t, reply(`{"mutations": [], "message": "ok"}`))
	deps.Config.Simulation.RulesAfterGodMode = false
	seed(t, deps, func(s *world.State) {
		s.Entities = append(s.Entities, agent("z", "Zombie", 1, 1, world.Properties{"health": 0.0}))
		s.StructuredRules = append(s.StructuredRules, world.StructuredRule{
			ID: "death", Check: world.RuleCheck{Property: "health", Operator: world.OpLE, Value: 0},
			Effect: world.EffectEliminate, AppliesTo: world.AppliesToAll,
		})
	})

	_, err := GodMode(context.Background(), deps, "anything")
	require.NoError(t, err)
	assert.NotNil(t, read(t, deps).Entity("z"))
}

func TestGodMode_Empty(t *testing.T) {
	deps := newTestDeps(t, reply(`{}`))
	_, err := GodMode(context.Background(), deps, "   ")
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestGodMode_DotCommandsSkipOracle(t *testing.T) {
	deps := newTestDeps(t, oracle.Func(func(context.Context, oracle.Request) (string, error) {
		t.Fatal("oracle called for a console command")
		return "", nil
	}))

	res, err := GodMode(context.Background(), deps, ".grid 30 25")
	require.NoError(t, err)
	assert.Equal(t, "Grid resized to 30x25.", res.Message)
	st := read(t, deps)
	assert.Equal(t, world.Grid{Width: 30, Height: 25}, st.Grid)
	assert.Equal(t, "God Mode: .grid 30 25 → Grid resized to 30x25.", lastLog(t, st).Message)
}

func TestGMCommand_WorldEdits(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, oracle.Idle())
	seed(t, deps, func(s *world.State) {
		s.Entities = append(s.Entities, agent("r", "Red Soldier", 4, 4, nil))
		s.GlobalRules = []string{"be nice"}
	})

	_, err := HandleGMCommand(ctx, deps, ".env weather=rain temp=3 calm=true")
	require.NoError(t, err)
	env := read(t, deps).Environment
	assert.Equal(t, "rain", env["weather"])
	assert.Equal(t, 3.0, env["temp"])
	assert.Equal(t, true, env["calm"])

	res, err := HandleGMCommand(ctx, deps, ".spawn agent Zed Smith 3 4")
	require.NoError(t, err)
	assert.Equal(t, "Spawned agent Zed Smith at (3,4).", res.Message)
	var zed *world.Entity
	for i := range res.State.Entities {
		if res.State.Entities[i].Name == "Zed Smith" {
			zed = &res.State.Entities[i]
		}
	}
	require.NotNil(t, zed)
	assert.True(t, zed.IsAgent())
	assert.Equal(t, world.StatusIdle, zed.Status)
	assert.Equal(t, 100.0, zed.Properties["health"])

	res, err = HandleGMCommand(ctx, deps, ".kill red")
	require.NoError(t, err)
	assert.Equal(t, "Removed Red Soldier [r].", res.Message)
	assert.Nil(t, read(t, deps).Entity("r"))

	_, err = HandleGMCommand(ctx, deps, ".rule no stealing")
	require.NoError(t, err)
	_, err = HandleGMCommand(ctx, deps, ".unrule be nice")
	require.NoError(t, err)
	assert.Equal(t, []string{"no stealing"}, read(t, deps).GlobalRules)
}

func TestGMCommand_ReadOnly(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, oracle.Idle())
	seed(t, deps, func(s *world.State) {
		s.Entities = append(s.Entities, agent("a", "Alice", 1, 2, world.Properties{"score": 3.0}))
	})
	before := read(t, deps)

	res, err := HandleGMCommand(ctx, deps, ".who")
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Alice [a] at (1,2) idle {\"score\":3}")
	assert.Contains(t, res.Message, "Agents: 1")

	res, err = HandleGMCommand(ctx, deps, ".help")
	require.NoError(t, err)
	assert.Contains(t, res.Message, ".spawn")

	res, err = HandleGMCommand(ctx, deps, ".fly")
	require.NoError(t, err)
	assert.Equal(t, "Unknown command .fly, try .help", res.Message)

	res, err = HandleGMCommand(ctx, deps, ".grid ten 5")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(res.Mutations))

	assert.Equal(t, before.Version, read(t, deps).Version, "nothing written")
}

func TestGMCommand_Control(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, oracle.Idle())
	tbl, err := data.LoadScenarioTable("../../data/yaml/scenarios")
	require.NoError(t, err)
	deps.Scenarios = tbl

	res, err := HandleGMCommand(ctx, deps, ".start")
	require.NoError(t, err)
	assert.True(t, res.State.Running)

	res, err = HandleGMCommand(ctx, deps, ".stop")
	require.NoError(t, err)
	assert.False(t, res.State.Running)

	res, err = HandleGMCommand(ctx, deps, ".reset prisoners-dilemma")
	require.NoError(t, err)
	assert.Equal(t, "World reset with scenario prisoners-dilemma.", res.Message)
	assert.Len(t, res.State.Agents(), 4)
	assert.Equal(t, world.Grid{Width: 10, Height: 10}, res.State.Grid)
	assert.Equal(t, "Scenario loaded: prisoners-dilemma", lastLog(t, res.State).Message)

	res, err = HandleGMCommand(ctx, deps, ".scenarios")
	require.NoError(t, err)
	assert.Contains(t, res.Message, "survival")

	_, err = HandleGMCommand(ctx, deps, ".reset atlantis")
	assert.ErrorIs(t, err, ErrUnknownScenario)
}

func TestResetSimulation_Empty(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps(t, oracle.Idle())
	seed(t, deps, func(s *world.State) {
		s.Entities = append(s.Entities, agent("a", "Alice", 1, 1, nil))
		s.Running = true
		s.AppendLog(world.LogEntry{Message: "hello"})
	})

	st, err := ResetSimulation(ctx, deps, "")
	require.NoError(t, err)
	assert.Empty(t, st.Entities)
	assert.Empty(t, st.Log)
	assert.Zero(t, st.ActionCount)
	assert.False(t, st.Running)
	assert.Equal(t, world.Grid{Width: 20, Height: 20}, st.Grid)
}
