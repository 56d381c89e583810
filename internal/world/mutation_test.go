package world

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testState() *State {
	s := New(10, 10, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	s.Entities = append(s.Entities,
		Entity{ID: "agent-a", Type: TypeAgent, Name: "Alpha", Position: Position{X: 1, Y: 1},
			Status: StatusIdle, Memory: []string{}, Properties: Properties{"score": 0.0}},
		Entity{ID: "gold", Type: "resource", Name: "Gold", Position: Position{X: 2, Y: 2},
			Properties: Properties{"value": 50.0}},
	)
	s.GlobalRules = append(s.GlobalRules, "be kind")
	return s
}

func TestApply_ZeroMutationsRoundTrip(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := testState()

	out := e.Apply(in, nil)

	assert.Equal(t, in, out)
	assert.NotSame(t, in, out)
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := testState()
	before := in.Clone()

	e.Apply(in, []Mutation{
		NewMutation(MutRemoveEntity, map[string]any{"id": "gold"}),
		NewMutation(MutModifyEntity, map[string]any{"id": "agent-a", "name": "Changed"}),
		NewMutation(MutModifyEnvironment, map[string]any{"weather": "storm"}),
	})

	assert.Equal(t, before, in)
}

func TestApplyRaw_MalformedBatchIsNoop(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := testState()

	for _, raw := range []string{
		`{"type":"remove_entity","payload":{"id":"gold"}}`,
		`"remove everything"`,
		`null`,
		``,
	} {
		out, err := e.ApplyRaw(in, json.RawMessage(raw))
		assert.ErrorIs(t, err, ErrMalformedBatch, raw)
		assert.Equal(t, in, out, raw)
	}
}

func TestApplyRaw_SkipsNonConformingElements(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out, err := e.ApplyRaw(testState(), json.RawMessage(`[
		42,
		{"type":"remove_entity","payload":{"id":"gold"}},
		{"type":"teleport_everyone","payload":{}}
	]`))

	require.NoError(t, err)
	assert.Nil(t, out.Entity("gold"))
	assert.NotNil(t, out.Entity("agent-a"))
}

func TestApply_AddEntityAgentDefaults(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(testState(), []Mutation{
		NewMutation(MutAddEntity, map[string]any{
			"id": "agent-b", "type": "agent", "name": "Beta",
			"position": map[string]any{"x": 5, "y": 5},
		}),
		NewMutation(MutAddEntity, map[string]any{
			"id": "rock", "type": "obstacle", "name": "Rock",
			"position": map[string]any{"x": 99, "y": -4},
		}),
	})

	b := out.Entity("agent-b")
	require.NotNil(t, b)
	assert.Equal(t, StatusIdle, b.Status)
	assert.NotNil(t, b.Memory)
	assert.Empty(t, b.Memory)
	assert.Equal(t, 0, b.Delay)
	assert.NotNil(t, b.Properties)

	rock := out.Entity("rock")
	require.NotNil(t, rock)
	assert.Equal(t, Position{X: 9, Y: 0}, rock.Position)
	assert.Empty(t, rock.Status)
}

func TestApply_AddEntityDuplicateIDSkipped(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(testState(), []Mutation{
		NewMutation(MutAddEntity, map[string]any{"id": "gold", "type": "resource", "name": "Fake"}),
	})

	require.Len(t, out.Entities, 2)
	assert.Equal(t, "Gold", out.Entity("gold").Name)
}

func TestApply_AddEntityAgentAvoidsOccupiedCell(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(testState(), []Mutation{
		NewMutation(MutAddEntity, map[string]any{
			"id": "agent-b", "type": "agent", "name": "Beta",
			"position": map[string]any{"x": 1, "y": 1},
		}),
	})

	b := out.Entity("agent-b")
	require.NotNil(t, b)
	assert.NotEqual(t, out.Entity("agent-a").Position, b.Position)
	assert.Equal(t, Position{X: 1, Y: 0}, b.Position, "first neighbour in heading order is north")
}

func TestApply_ModifyEntityShallowMerge(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(testState(), []Mutation{
		NewMutation(MutModifyEntity, map[string]any{
			"id": "agent-a", "color": "#ef4444", "rules": "never trade",
			"properties": map[string]any{"health": 50},
		}),
		NewMutation(MutModifyEntity, map[string]any{"id": "missing", "name": "ghost"}),
	})

	a := out.Entity("agent-a")
	require.NotNil(t, a)
	assert.Equal(t, "Alpha", a.Name)
	assert.Equal(t, "#ef4444", a.Color)
	assert.Equal(t, "never trade", a.Rules)
	assert.Equal(t, Properties{"health": 50.0}, a.Properties)
	assert.Len(t, out.Entities, 2)
}

func TestApply_ModifyEntityClampsPosition(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(testState(), []Mutation{
		{Type: MutModifyEntity, Payload: json.RawMessage(`{"id":"agent-a","position":{"x":40,"y":3}}`)},
	})

	a := out.Entity("agent-a")
	require.NotNil(t, a)
	assert.Equal(t, Position{X: 9, Y: 3}, a.Position)
}

func TestApply_GlobalRules(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(testState(), []Mutation{
		NewMutation(MutAddGlobalRule, map[string]any{"rule": "no stealing"}),
		NewMutation(MutAddGlobalRule, map[string]any{"rule": "share food"}),
		NewMutation(MutRemoveGlobalRule, map[string]any{"rule": "be kind"}),
		NewMutation(MutRemoveGlobalRule, map[string]any{"rule": "not present"}),
	})

	assert.Equal(t, []string{"no stealing", "share food"}, out.GlobalRules)
}

func TestApply_ModifyGridClampsPositions(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := testState()
	in.Entities[0].Position = Position{X: 9, Y: 9}

	out := e.Apply(in, []Mutation{
		NewMutation(MutModifyGrid, map[string]any{"width": 5}),
		NewMutation(MutModifyGrid, map[string]any{"height": -3}),
	})

	assert.Equal(t, Grid{Width: 5, Height: 10}, out.Grid)
	for _, ent := range out.Entities {
		assert.True(t, out.Grid.Contains(ent.Position), ent.ID)
	}
	assert.Equal(t, Position{X: 4, Y: 9}, out.Entity("agent-a").Position)
}

func TestApply_ModifyGridSeparatesStackedAgents(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := New(10, 10, time.Now())
	in.Entities = []Entity{
		{ID: "a", Type: TypeAgent, Position: Position{X: 8, Y: 0}},
		{ID: "b", Type: TypeAgent, Position: Position{X: 9, Y: 0}},
	}

	out := e.Apply(in, []Mutation{NewMutation(MutModifyGrid, map[string]any{"width": 3})})

	assert.Equal(t, Position{X: 2, Y: 0}, out.Entity("a").Position)
	assert.NotEqual(t, out.Entity("a").Position, out.Entity("b").Position)
}

func TestApply_ModifyEnvironmentMerges(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := testState()
	in.Environment["visibility"] = 3.0

	out := e.Apply(in, []Mutation{
		NewMutation(MutModifyEnvironment, map[string]any{"weather": "storm", "visibility": 2}),
	})

	assert.Equal(t, map[string]any{"weather": "storm", "visibility": 2.0}, out.Environment)
}

func TestApply_FillArea(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(New(10, 10, time.Now()), []Mutation{
		NewMutation(MutFillArea, map[string]any{
			"x1": 2, "y1": 2, "x2": 0, "y2": 0,
			"entityType": "obstacle", "name": "Wall", "emoji": "🧱", "color": "#555",
			"properties": map[string]any{"solid": true},
		}),
	})

	require.Len(t, out.Entities, 9)
	seen := map[string]bool{}
	for x := 0; x <= 2; x++ {
		for y := 0; y <= 2; y++ {
			id := fmt.Sprintf("obstacle-%d-%d", x, y)
			ent := out.Entity(id)
			require.NotNil(t, ent, id)
			assert.Equal(t, Position{X: x, Y: y}, ent.Position)
			assert.Equal(t, "Wall", ent.Name)
			assert.Equal(t, Properties{"solid": true}, ent.Properties)
			seen[id] = true
		}
	}
	assert.Len(t, seen, 9)

	// Each cell owns its own property bag.
	out.Entities[0].Properties["solid"] = false
	assert.Equal(t, true, out.Entities[1].Properties["solid"])
}

func TestApply_FillAreaSkipsOutOfGridAndDuplicates(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(New(3, 3, time.Now()), []Mutation{
		NewMutation(MutFillArea, map[string]any{"x1": 1, "y1": 1, "x2": 4, "y2": 1, "entityType": "water"}),
		NewMutation(MutFillArea, map[string]any{"x1": 2, "y1": 1, "x2": 2, "y2": 2, "entityType": "water"}),
	})

	var ids []string
	for _, ent := range out.Entities {
		ids = append(ids, ent.ID)
	}
	assert.Equal(t, []string{"water-1-1", "water-2-1", "water-2-2"}, ids)
}

func TestApply_FillAreaClipsHugeCorners(t *testing.T) {
	e := NewEngine(zap.NewNop())
	done := make(chan *State, 1)
	go func() {
		done <- e.Apply(New(20, 20, time.Now()), []Mutation{
			NewMutation(MutFillArea, map[string]any{
				"x1": -2_000_000_000, "y1": -2_000_000_000, "x2": 2_000_000_000, "y2": 2_000_000_000,
				"entityType": "grass",
			}),
			NewMutation(MutFillArea, map[string]any{
				"x1": 50, "y1": 50, "x2": 2_000_000_000, "y2": 60, "entityType": "sand",
			}),
		})
	}()

	select {
	case out := <-done:
		assert.Len(t, out.Entities, 400)
		assert.NotNil(t, out.Entity("grass-0-0"))
		assert.NotNil(t, out.Entity("grass-19-19"))
	case <-time.After(3 * time.Second):
		t.Fatal("fill_area did not finish")
	}
}

func TestApply_ModifyEntityRetypeToAgentSeparates(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := New(10, 10, time.Now())
	in.Entities = append(in.Entities,
		Entity{ID: "agent-a", Type: TypeAgent, Name: "Alpha", Position: Position{X: 3, Y: 3}, Status: StatusIdle},
		Entity{ID: "rock", Type: "obstacle", Name: "Rock", Position: Position{X: 3, Y: 3}},
	)

	out := e.Apply(in, []Mutation{NewMutation(MutModifyEntity, map[string]any{"id": "rock", "type": TypeAgent})})

	a, rock := out.Entity("agent-a"), out.Entity("rock")
	require.NotNil(t, a)
	require.NotNil(t, rock)
	assert.True(t, rock.IsAgent())
	assert.Equal(t, Position{X: 3, Y: 3}, a.Position)
	assert.NotEqual(t, a.Position, rock.Position)
	assert.Equal(t, Position{X: 3, Y: 2}, rock.Position)
}

func TestApply_StructuredRules(t *testing.T) {
	e := NewEngine(zap.NewNop())
	out := e.Apply(testState(), []Mutation{
		NewMutation(MutAddStructuredRule, map[string]any{
			"id": "death", "type": "hard", "description": "dead agents leave",
			"check":  map[string]any{"property": "health", "operator": "<=", "value": 0},
			"effect": "eliminate", "appliesTo": "agent",
		}),
		NewMutation(MutAddStructuredRule, map[string]any{
			"id": "tax", "type": "soft", "description": "hoarding is taxed",
			"check":  map[string]any{"property": "score", "operator": ">", "value": 100},
			"effect": "penalize", "penalty": map[string]any{"property": "score", "amount": 5},
			"appliesTo": "all",
		}),
		NewMutation(MutAddStructuredRule, map[string]any{
			"id": "broken", "check": map[string]any{"property": "score", "operator": ">", "value": 1},
			"effect": "penalize", "appliesTo": "all",
		}),
		NewMutation(MutAddStructuredRule, map[string]any{
			"id": "death", "check": map[string]any{"property": "x", "operator": "==", "value": 1},
			"effect": "eliminate", "appliesTo": "all",
		}),
	})

	require.Len(t, out.StructuredRules, 2)
	assert.Equal(t, "death", out.StructuredRules[0].ID)
	assert.Nil(t, out.StructuredRules[0].Penalty)
	assert.Equal(t, &Penalty{Property: "score", Amount: 5}, out.StructuredRules[1].Penalty)

	out = e.Apply(out, []Mutation{NewMutation(MutRemoveStructuredRule, map[string]any{"id": "death"})})
	require.Len(t, out.StructuredRules, 1)
	assert.Equal(t, "tax", out.StructuredRules[0].ID)
}

func TestApply_UnknownTypeIgnored(t *testing.T) {
	e := NewEngine(zap.NewNop())
	in := testState()

	out := e.Apply(in, []Mutation{
		{Type: "add_rule", Payload: json.RawMessage(`{"rule":"x"}`)},
		{Type: "summon_dragon", Payload: json.RawMessage(`{}`)},
	})

	assert.Equal(t, in, out)
}
