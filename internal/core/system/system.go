package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput     Phase = iota // 0: reconcile agent loops
	PhasePreUpdate              // 1: process last tick's events
	PhaseOutput                 // 2: push snapshots
	PhasePersist                // 3: journal flush + snapshot archive
)

// DrainPhases are run once on shutdown after the agent loops have
// stopped. PhaseInput is left out so no loop is restarted.
var DrainPhases = []Phase{PhasePreUpdate, PhaseOutput, PhasePersist}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
