package system

import (
	"context"
	"time"

	"github.com/vyuha/server/internal/core/event"
	coresys "github.com/vyuha/server/internal/core/system"
	"github.com/vyuha/server/internal/persist"
	"github.com/vyuha/server/internal/world"
	"go.uber.org/zap"
)

// JournalSystem copies every activity log entry into a durable journal,
// batching what arrived since the last flush. Phase 5 (Persist).
type JournalSystem struct {
	journal   persist.Journal
	log       *zap.Logger
	pending   []world.LogEntry
	tickCount int
	interval  int // flush every N ticks
}

func NewJournalSystem(bus *event.Bus, journal persist.Journal, log *zap.Logger, intervalTicks int) *JournalSystem {
	s := &JournalSystem{journal: journal, log: log, interval: max(intervalTicks, 1)}
	// Handlers run on the tick goroutine, same as Update.
	event.Subscribe(bus, func(e event.LogAppended) {
		s.pending = append(s.pending, e.Entries...)
	})
	return s
}

func (s *JournalSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *JournalSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.Flush()
}

// Flush writes everything pending. Entries stay pending when the write
// fails and go out with the next flush.
func (s *JournalSystem) Flush() {
	if len(s.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.journal.Append(ctx, s.pending); err != nil {
		s.log.Error("journal flush failed", zap.Int("entries", len(s.pending)), zap.Error(err))
		return
	}
	s.pending = s.pending[:0]
}

// Pending returns the number of entries waiting for the next flush.
func (s *JournalSystem) Pending() int { return len(s.pending) }
