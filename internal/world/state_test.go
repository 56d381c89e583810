package world

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	s := New(0, -1, time.Now())
	assert.Equal(t, Grid{Width: DefaultGridWidth, Height: DefaultGridHeight}, s.Grid)
	assert.False(t, s.Running)
	assert.Zero(t, s.ActionCount)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	for _, key := range []string{`"entities":[]`, `"globalRules":[]`, `"structuredRules":[]`, `"environment":{}`, `"log":[]`} {
		assert.Contains(t, string(b), key)
	}
}

func TestAppendLog_CapsAtHundred(t *testing.T) {
	s := New(5, 5, time.Now())
	for i := 0; i < 130; i++ {
		s.AppendLog(LogEntry{Message: fmt.Sprintf("entry %d", i), Type: LogSystem})
	}

	require.Len(t, s.Log, LogCap)
	assert.Equal(t, "entry 30", s.Log[0].Message)
	assert.Equal(t, "entry 129", s.Log[LogCap-1].Message)
	assert.Equal(t, 130, s.ActionCount)
	assert.False(t, s.Log[0].Timestamp.IsZero())
}

func TestRemember_CapsAtTwenty(t *testing.T) {
	var e Entity
	for i := 0; i < 25; i++ {
		e.Remember(fmt.Sprintf("m%d", i))
	}

	require.Len(t, e.Memory, MemoryCap)
	assert.Equal(t, "m5", e.Memory[0])
	assert.Equal(t, []string{"m22", "m23", "m24"}, e.RecentMemory(3))
}

func TestClone_IsDeep(t *testing.T) {
	s := testState()
	s.StructuredRules = []StructuredRule{{ID: "r", Penalty: &Penalty{Property: "score", Amount: 1}}}
	c := s.Clone()

	c.Entities[0].Properties["score"] = 99.0
	c.Entities[0].Memory = append(c.Entities[0].Memory, "x")
	c.StructuredRules[0].Penalty.Amount = 7
	c.Environment["k"] = "v"
	c.GlobalRules[0] = "changed"

	assert.Equal(t, 0.0, s.Entities[0].Properties["score"])
	assert.Empty(t, s.Entities[0].Memory)
	assert.Equal(t, 1.0, s.StructuredRules[0].Penalty.Amount)
	assert.NotContains(t, s.Environment, "k")
	assert.Equal(t, "be kind", s.GlobalRules[0])
}

func TestNearby_ChebyshevExcludesOwnCell(t *testing.T) {
	s := New(10, 10, time.Now())
	s.Entities = []Entity{
		{ID: "self", Position: Position{X: 5, Y: 5}},
		{ID: "diag", Position: Position{X: 7, Y: 7}},
		{ID: "far", Position: Position{X: 8, Y: 5}},
		{ID: "edge", Position: Position{X: 3, Y: 4}},
	}

	var ids []string
	for _, e := range s.Nearby(Position{X: 5, Y: 5}, 2) {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"diag", "edge"}, ids)
}

func TestAgentLookup(t *testing.T) {
	s := testState()
	assert.NotNil(t, s.Agent("agent-a"))
	assert.Nil(t, s.Agent("gold"))
	assert.Nil(t, s.Agent("nobody"))
	assert.Len(t, s.Agents(), 1)

	assert.True(t, s.RemoveEntity("gold"))
	assert.False(t, s.RemoveEntity("gold"))
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		"agent":    KindAgent,
		"resource": KindAbsorbable,
		"item":     KindAbsorbable,
		"object":   KindAbsorbable,
		"wall":     KindTerrain,
		"water":    KindTerrain,
		"portal":   KindGeneric,
		"Agent":    KindGeneric,
	}
	for typ, want := range cases {
		assert.Equal(t, want, KindOf(typ), typ)
	}
}

func TestAsNumber(t *testing.T) {
	for _, v := range []any{3.0, float32(3), 3, int64(3), json.Number("3")} {
		n, ok := AsNumber(v)
		assert.True(t, ok, "%T", v)
		assert.Equal(t, 3.0, n)
	}
	for _, v := range []any{"3", true, nil, json.Number("x")} {
		_, ok := AsNumber(v)
		assert.False(t, ok, "%v", v)
	}
}

func TestOperatorCompare(t *testing.T) {
	assert.True(t, OpLE.Compare(0, 0))
	assert.True(t, OpLT.Compare(-1, 0))
	assert.False(t, OpGT.Compare(0, 0))
	assert.True(t, OpGE.Compare(1, 1))
	assert.True(t, OpEQ.Compare(2, 2))
	assert.True(t, OpNE.Compare(2, 3))
	assert.False(t, Operator("~=").Compare(1, 1))
}
