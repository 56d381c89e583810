package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/world"
)

// Backend holds the single world document. Implementations must make
// SaveIf atomic with respect to other SaveIf calls, in this process and
// any other process sharing the backend.
type Backend interface {
	Load(ctx context.Context) (*world.State, error)
	Save(ctx context.Context, s *world.State) error
	// SaveIf stores s only when the stored version equals expected (0 when
	// nothing is stored yet) and returns ErrConflict otherwise.
	SaveIf(ctx context.Context, s *world.State, expected uint64) error
	Close() error
}

// Store is the world state contract shared by agent loops, God Mode and
// the control surface. All writes go through Update, which retries the
// whole read-modify-write on version conflicts.
type Store struct {
	backend Backend
	grid    world.Grid
	retries uint64
	bus     *event.Bus
	log     *zap.Logger
	now     func() time.Time
}

func NewStore(backend Backend, grid world.Grid, casRetries int, bus *event.Bus, log *zap.Logger) *Store {
	if casRetries < 1 {
		casRetries = 1
	}
	return &Store{
		backend: backend,
		grid:    grid,
		retries: uint64(casRetries),
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
}

// Read returns the current world. A store that was never written yields
// a fresh, unsaved world.
func (s *Store) Read(ctx context.Context) (*world.State, error) {
	st, err := s.backend.Load(ctx)
	if errors.Is(err, ErrNoState) {
		return s.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read world: %w", err)
	}
	st.Normalize()
	return st, nil
}

// Update loads the world, applies fn to a private copy and saves it only
// if nobody else committed in between. On conflict fn runs again against
// the newer state, so fn must be free of side effects outside the state.
// An error from fn aborts without writing.
func (s *Store) Update(ctx context.Context, fn func(*world.State) error) (*world.State, error) {
	var committed *world.State
	var prev *world.State
	attempts := 0
	backoff := retry.NewExponential(5 * time.Millisecond)
	backoff = retry.WithJitter(5*time.Millisecond, backoff)
	backoff = retry.WithCappedDuration(250*time.Millisecond, backoff)
	backoff = retry.WithMaxRetries(s.retries, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		cur, err := s.Read(ctx)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.Version = cur.Version + 1
		if next.Running {
			next.Time.Elapsed = s.now().Sub(next.Time.Started).Milliseconds()
		}
		if err := s.backend.SaveIf(ctx, next, cur.Version); err != nil {
			if errors.Is(err, ErrConflict) {
				return retry.RetryableError(err)
			}
			return fmt.Errorf("save world: %w", err)
		}
		prev, committed = cur, next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.log.Warn("world update gave up after conflicts", zap.Int("attempts", attempts))
		}
		return nil, err
	}
	if attempts > 1 {
		s.log.Debug("world update retried", zap.Int("attempts", attempts), zap.Uint64("version", committed.Version))
	}
	s.publish(prev, committed)
	return committed, nil
}

// Write replaces the world with st. The stored version keeps increasing.
func (s *Store) Write(ctx context.Context, st *world.State) error {
	_, err := s.Update(ctx, func(cur *world.State) error {
		*cur = *st.Clone()
		return nil
	})
	return err
}

// Reset replaces the world with an empty grid, stopped.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.ResetWith(ctx, nil)
	return err
}

// ResetWith resets the world and lets seed populate it in the same write.
func (s *Store) ResetWith(ctx context.Context, seed func(*world.State) error) (*world.State, error) {
	return s.Update(ctx, func(cur *world.State) error {
		*cur = *s.fresh()
		if seed != nil {
			return seed(cur)
		}
		return nil
	})
}

func (s *Store) SetRunning(ctx context.Context, running bool) error {
	_, err := s.Update(ctx, func(cur *world.State) error {
		if running && !cur.Running {
			// Elapsed counts only while running.
			cur.Time.Started = s.now().UTC().Add(-time.Duration(cur.Time.Elapsed) * time.Millisecond)
		}
		cur.Running = running
		return nil
	})
	return err
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) fresh() *world.State {
	return world.New(s.grid.Width, s.grid.Height, s.now())
}

func (s *Store) publish(prev, next *world.State) {
	if s.bus == nil {
		return
	}
	event.Emit(s.bus, event.StateCommitted{State: next.Clone()})
	if entries := appendedEntries(prev, next); len(entries) > 0 {
		event.Emit(s.bus, event.LogAppended{Entries: entries})
	}
}

// appendedEntries returns the log entries next has over prev. Every log
// append bumps ActionCount, so the difference counts the new tail.
func appendedEntries(prev, next *world.State) []world.LogEntry {
	n := next.ActionCount - prev.ActionCount
	if next.ActionCount < prev.ActionCount {
		n = next.ActionCount // reset
	}
	n = min(n, len(next.Log))
	if n <= 0 {
		return nil
	}
	return append([]world.LogEntry(nil), next.Log[len(next.Log)-n:]...)
}

func encodeState(s *world.State) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode world: %w", err)
	}
	return b, nil
}

func decodeState(b []byte) (*world.State, error) {
	var s world.State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode world: %w", err)
	}
	return &s, nil
}

// decodeVersion reads only the version field of a stored document.
func decodeVersion(b []byte) (uint64, error) {
	var v struct {
		Version uint64 `json:"version"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return 0, fmt.Errorf("decode world version: %w", err)
	}
	return v.Version, nil
}
