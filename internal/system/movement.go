package system

import (
	"fmt"

	"github.com/vyuha/server/internal/world"
)

// DefaultMobility bounds the per-axis step of an agent without a numeric
// "mobility" property.
const DefaultMobility = 2

type MoveOutcome int

const (
	MoveOK         MoveOutcome = iota
	MoveRedirected             // target held by another agent, took a neighbour
	MoveStuck                  // target and every usable neighbour held
)

// MoveResult reports where an agent ends up.
type MoveResult struct {
	From, To world.Position
	Outcome  MoveOutcome
}

// Mobility returns the agent's per-axis step limit.
func Mobility(e *world.Entity) int {
	m := world.ClampInt(e.Properties.NumberOr("mobility", DefaultMobility))
	if m < 0 {
		return 0
	}
	return m
}

// ResolveMove computes the destination of agent idx moving by (dx, dy).
// The delta is clamped to the agent's mobility per axis and the target
// clamped into the grid. When another agent holds the target the eight
// neighbours of the target are scanned in heading order (N, NE, E, SE, S,
// SW, W, NW) and the first free cell that is not the current cell and is
// still within mobility is taken. s is not modified.
func ResolveMove(s *world.State, idx int, dx, dy int) MoveResult {
	agent := &s.Entities[idx]
	from := agent.Position
	mob := Mobility(agent)

	dx = clampInt(dx, -mob, mob)
	dy = clampInt(dy, -mob, mob)
	to := s.Grid.Clamp(world.Position{X: from.X + dx, Y: from.Y + dy})

	occ := world.NewOccupancy(s)
	if !occ.Blocked(to, agent.ID) {
		return MoveResult{From: from, To: to, Outcome: MoveOK}
	}

	alt, ok := occ.FreeNeighbor(s.Grid, to, agent.ID, func(p world.Position) bool {
		return p != from && absInt(p.X-from.X) <= mob && absInt(p.Y-from.Y) <= mob
	})
	if !ok {
		return MoveResult{From: from, To: from, Outcome: MoveStuck}
	}
	return MoveResult{From: from, To: alt, Outcome: MoveRedirected}
}

// Describe renders the log line for a move.
func (r MoveResult) Describe(name string) string {
	switch r.Outcome {
	case MoveStuck:
		return fmt.Sprintf("%s is stuck at (%d,%d)", name, r.From.X, r.From.Y)
	case MoveRedirected:
		return fmt.Sprintf("%s moved to (%d,%d) (blocked, went around)", name, r.To.X, r.To.Y)
	default:
		return fmt.Sprintf("%s moved to (%d,%d)", name, r.To.X, r.To.Y)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
