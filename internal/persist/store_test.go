package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/world"
)

var fixedNow = time.Date(2026, 4, 5, 6, 7, 8, 0, time.UTC)

func newTestStore(t *testing.T, b Backend, bus *event.Bus) *Store {
	t.Helper()
	s := NewStore(b, world.Grid{Width: 20, Height: 20}, 50, bus, zap.NewNop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestStore_ReadBeforeWriteIsFresh(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), nil)

	st, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, world.Grid{Width: 20, Height: 20}, st.Grid)
	assert.Zero(t, st.Version)
	assert.False(t, st.Running)
	assert.Equal(t, fixedNow, st.Time.Started)
}

func TestStore_UpdateBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)

	for i := 1; i <= 3; i++ {
		st, err := s.Update(ctx, func(w *world.State) error {
			w.GlobalRules = append(w.GlobalRules, fmt.Sprint(i))
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), st.Version)
	}
	st, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, st.GlobalRules)
}

func TestStore_UpdateErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)
	boom := errors.New("boom")

	_, err := s.Update(ctx, func(w *world.State) error {
		w.GlobalRules = append(w.GlobalRules, "lost")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	st, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.GlobalRules)
	assert.Zero(t, st.Version)
}

func TestStore_ConcurrentUpdatesNeverLoseWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)

	const writers, each = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				_, err := s.Update(ctx, func(st *world.State) error {
					st.AppendLog(world.LogEntry{Message: fmt.Sprintf("%d/%d", w, i), Type: world.LogSystem})
					return nil
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	st, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, writers*each, st.ActionCount)
	assert.Equal(t, uint64(writers*each), st.Version)
}

func TestStore_ResetKeepsVersionIncreasing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)

	_, err := s.Update(ctx, func(w *world.State) error {
		w.Entities = append(w.Entities, world.Entity{ID: "x"})
		w.AppendLog(world.LogEntry{Message: "m"})
		w.Running = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))

	st, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Version)
	assert.Empty(t, st.Entities)
	assert.Empty(t, st.Log)
	assert.Zero(t, st.ActionCount)
	assert.False(t, st.Running)
}

func TestStore_WriteReplacesDocument(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)
	require.NoError(t, s.SetRunning(ctx, true))

	doc := world.New(3, 3, fixedNow)
	doc.Version = 77
	require.NoError(t, s.Write(ctx, doc))

	st, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, world.Grid{Width: 3, Height: 3}, st.Grid)
	assert.Equal(t, uint64(2), st.Version, "stored version is never taken from the caller")
}

func TestStore_SetRunningTracksElapsed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), nil)
	require.NoError(t, s.SetRunning(ctx, true))

	s.now = func() time.Time { return fixedNow.Add(1500 * time.Millisecond) }
	st, err := s.Update(ctx, func(*world.State) error { return nil })
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, int64(1500), st.Time.Elapsed)

	require.NoError(t, s.SetRunning(ctx, false))
	st, err = s.Read(ctx)
	require.NoError(t, err)
	assert.False(t, st.Running)
}

// flakyBackend fails the first n conditional saves with a conflict.
type flakyBackend struct {
	*MemoryBackend
	conflicts int
}

func (f *flakyBackend) SaveIf(ctx context.Context, s *world.State, expected uint64) error {
	if f.conflicts > 0 {
		f.conflicts--
		return ErrConflict
	}
	return f.MemoryBackend.SaveIf(ctx, s, expected)
}

func TestStore_RetriesConflicts(t *testing.T) {
	calls := 0
	s := newTestStore(t, &flakyBackend{MemoryBackend: NewMemoryBackend(), conflicts: 3}, nil)

	_, err := s.Update(context.Background(), func(*world.State) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestStore_GivesUpAfterRetries(t *testing.T) {
	b := &flakyBackend{MemoryBackend: NewMemoryBackend(), conflicts: 1000}
	s := NewStore(b, world.Grid{Width: 5, Height: 5}, 2, nil, zap.NewNop())

	_, err := s.Update(context.Background(), func(*world.State) error { return nil })
	assert.ErrorIs(t, err, ErrConflict)
}

func TestStore_PublishesCommits(t *testing.T) {
	bus := event.NewBus()
	var commits []uint64
	var logged []string
	event.Subscribe(bus, func(e event.StateCommitted) { commits = append(commits, e.State.Version) })
	event.Subscribe(bus, func(e event.LogAppended) {
		for _, l := range e.Entries {
			logged = append(logged, l.Message)
		}
	})
	s := newTestStore(t, NewMemoryBackend(), bus)
	ctx := context.Background()

	_, err := s.Update(ctx, func(w *world.State) error {
		w.AppendLog(world.LogEntry{Message: "a"})
		w.AppendLog(world.LogEntry{Message: "b"})
		return nil
	})
	require.NoError(t, err)
	_, err = s.Update(ctx, func(*world.State) error { return nil })
	require.NoError(t, err)

	bus.SwapBuffers()
	bus.DispatchAll()

	assert.Equal(t, []uint64{1, 2}, commits)
	assert.Equal(t, []string{"a", "b"}, logged)
}

func TestAppendedEntries_AfterLogWraps(t *testing.T) {
	prev := world.New(5, 5, fixedNow)
	for i := 0; i < 150; i++ {
		prev.AppendLog(world.LogEntry{Message: fmt.Sprint(i)})
	}
	next := prev.Clone()
	next.AppendLog(world.LogEntry{Message: "new"})

	got := appendedEntries(prev, next)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Message)
}
