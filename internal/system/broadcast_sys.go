package system

import (
	"time"

	"github.com/vyuha/server/internal/core/event"
	coresys "github.com/vyuha/server/internal/core/system"
	"github.com/vyuha/server/internal/world"
)

// Publisher pushes world snapshots to observers.
type Publisher interface {
	Publish(s *world.State)
}

// BroadcastSystem publishes the newest committed world once per tick, so
// a burst of commits reaches observers as one snapshot. Phase 4 (Output).
type BroadcastSystem struct {
	pub    Publisher
	latest *world.State
}

func NewBroadcastSystem(bus *event.Bus, pub Publisher) *BroadcastSystem {
	s := &BroadcastSystem{pub: pub}
	event.Subscribe(bus, func(e event.StateCommitted) {
		if s.latest == nil || e.State.Version >= s.latest.Version {
			s.latest = e.State
		}
	})
	return s
}

func (s *BroadcastSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *BroadcastSystem) Update(_ time.Duration) {
	if s.latest == nil {
		return
	}
	s.pub.Publish(s.latest)
	s.latest = nil
}
