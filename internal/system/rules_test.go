package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyuha/server/internal/world"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var deathRule = world.StructuredRule{
	ID: "death", Type: world.RuleHard, Description: "no health left",
	Check:     world.RuleCheck{Property: "health", Operator: world.OpLE, Value: 0},
	Effect:    world.EffectEliminate,
	AppliesTo: world.TypeAgent,
}

func TestEvaluateRules_Elimination(t *testing.T) {
	s := world.New(10, 10, fixedNow)
	s.StructuredRules = []world.StructuredRule{deathRule}
	s.Entities = []world.Entity{
		{ID: "dead", Type: world.TypeAgent, Properties: world.Properties{"health": 0.0}},
		{ID: "alive", Type: world.TypeAgent, Properties: world.Properties{"health": 50.0}},
		{ID: "nohealth", Type: world.TypeAgent, Properties: world.Properties{}},
		{ID: "text", Type: world.TypeAgent, Properties: world.Properties{"health": "low"}},
		{ID: "rock", Type: "obstacle", Properties: world.Properties{"health": 0.0}},
	}

	effects := EvaluateRules(s)

	require.Len(t, effects, 1)
	assert.Equal(t, "dead", effects[0].EntityID)
	assert.Equal(t, world.EffectEliminate, effects[0].Effect)
	assert.Len(t, s.Entities, 5, "evaluation is pure")
}

func TestEvaluateRules_RuleMajorOrder(t *testing.T) {
	tax := world.StructuredRule{
		ID:        "tax",
		Check:     world.RuleCheck{Property: "score", Operator: world.OpGT, Value: 10},
		Effect:    world.EffectPenalize,
		Penalty:   &world.Penalty{Property: "score", Amount: 3},
		AppliesTo: world.AppliesToAll,
	}
	s := world.New(10, 10, fixedNow)
	s.StructuredRules = []world.StructuredRule{tax, deathRule}
	s.Entities = []world.Entity{
		{ID: "a", Type: world.TypeAgent, Properties: world.Properties{"score": 20.0, "health": -1.0}},
		{ID: "b", Type: "resource", Properties: world.Properties{"score": 11.0}},
		{ID: "c", Type: world.TypeAgent, Properties: world.Properties{"health": 0.0}},
	}

	effects := EvaluateRules(s)

	var got []string
	for _, e := range effects {
		got = append(got, e.Rule.ID+":"+e.EntityID)
	}
	assert.Equal(t, []string{"tax:a", "tax:b", "death:a", "death:c"}, got)
	assert.Equal(t, &world.Penalty{Property: "score", Amount: 3}, effects[0].Penalty)
}

func TestApplyRuleEffects(t *testing.T) {
	tax := world.StructuredRule{
		ID: "tax", Description: "hoarding",
		Check:     world.RuleCheck{Property: "score", Operator: world.OpGT, Value: 10},
		Effect:    world.EffectPenalize,
		Penalty:   &world.Penalty{Property: "score", Amount: 3},
		AppliesTo: world.AppliesToAll,
	}
	s := world.New(10, 10, fixedNow)
	s.StructuredRules = []world.StructuredRule{deathRule, tax}
	s.Entities = []world.Entity{
		{ID: "a", Name: "Ann", Type: world.TypeAgent, Properties: world.Properties{"score": 20.0, "health": 0.0}},
		{ID: "b", Name: "Bob", Type: world.TypeAgent, Properties: world.Properties{"score": 12.0, "health": 5.0}},
	}

	effects := EvaluateRules(s)
	require.Len(t, effects, 3)
	applied, logged := ApplyRuleEffects(s, effects, fixedNow)

	require.Len(t, logged, 2, "penalty on an eliminated entity is skipped")
	require.Len(t, applied, 2)
	assert.Equal(t, "death:a", applied[0].Rule.ID+":"+applied[0].EntityID)
	assert.Equal(t, "tax:b", applied[1].Rule.ID+":"+applied[1].EntityID)
	assert.Nil(t, s.Entity("a"))
	assert.Equal(t, 9.0, s.Entity("b").Properties["score"])
	assert.Equal(t, world.LogRuleViolation, logged[0].Type)
	assert.Equal(t, "Ann was eliminated: no health left", logged[0].Message)
	assert.Equal(t, "Bob penalized 3 score: hoarding", logged[1].Message)
	assert.Len(t, s.Log, 2)
	assert.Equal(t, 2, s.ActionCount)
}

func TestApplyRuleEffects_PenaltyOnMissingProperty(t *testing.T) {
	rule := world.StructuredRule{
		ID:        "slow",
		Check:     world.RuleCheck{Property: "speed", Operator: world.OpGE, Value: 0},
		Effect:    world.EffectPenalize,
		Penalty:   &world.Penalty{Property: "score", Amount: 2},
		AppliesTo: world.AppliesToAll,
	}
	s := world.New(5, 5, fixedNow)
	s.StructuredRules = []world.StructuredRule{rule}
	s.Entities = []world.Entity{{ID: "x", Properties: world.Properties{"speed": 1.0}}}

	ApplyRuleEffects(s, EvaluateRules(s), fixedNow)

	assert.Equal(t, -2.0, s.Entities[0].Properties["score"])
}
