package system

import (
	"context"
	"time"

	coresys "github.com/vyuha/server/internal/core/system"
	"go.uber.org/zap"
)

// AgentSyncSystem keeps the scheduler in step with the stored world:
// agents added by God Mode get a loop, and a stop issued by another
// process halts the local loops. Phase 0 (Input).
type AgentSyncSystem struct {
	sched     *Scheduler
	log       *zap.Logger
	tickCount int
	interval  int // sync every N ticks
}

func NewAgentSyncSystem(sched *Scheduler, log *zap.Logger, intervalTicks int) *AgentSyncSystem {
	return &AgentSyncSystem{sched: sched, log: log, interval: max(intervalTicks, 1)}
}

func (s *AgentSyncSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *AgentSyncSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sched.Sync(ctx); err != nil {
		s.log.Warn("agent sync failed", zap.Error(err))
	}
}
