package system

import (
	"time"

	"github.com/vyuha/server/internal/core/event"
	coresys "github.com/vyuha/server/internal/core/system"
	"github.com/vyuha/server/internal/persist"
	"github.com/vyuha/server/internal/world"
	"go.uber.org/zap"
)

// SnapshotSystem archives the latest committed world at a fixed interval,
// skipping intervals with no commits. Phase 5 (Persist).
type SnapshotSystem struct {
	archive *persist.SnapshotArchive
	log     *zap.Logger
	every   time.Duration
	since   time.Duration
	latest  *world.State
	saved   uint64 // version of the last archived world
	now     func() time.Time
}

func NewSnapshotSystem(bus *event.Bus, archive *persist.SnapshotArchive, every time.Duration, log *zap.Logger) *SnapshotSystem {
	s := &SnapshotSystem{archive: archive, log: log, every: every, now: time.Now}
	event.Subscribe(bus, func(e event.StateCommitted) {
		s.latest = e.State
	})
	return s
}

func (s *SnapshotSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *SnapshotSystem) Update(dt time.Duration) {
	s.since += dt
	if s.since < s.every {
		return
	}
	s.since = 0
	s.SaveNow()
}

// SaveNow archives the latest world if it changed since the last save.
func (s *SnapshotSystem) SaveNow() {
	if s.latest == nil || s.latest.Version == s.saved {
		return
	}
	path, err := s.archive.Save(s.latest, s.now())
	if err != nil {
		s.log.Error("snapshot failed", zap.Error(err))
		return
	}
	s.saved = s.latest.Version
	s.log.Debug("snapshot saved", zap.String("path", path), zap.Uint64("version", s.saved))
}
