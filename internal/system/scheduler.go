package system

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/vyuha/server/internal/config"
	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/persist"
	"github.com/vyuha/server/internal/world"
)

var (
	// ErrAgentGone ends an agent loop: the agent is no longer in the world.
	ErrAgentGone = errors.New("agent gone")
	// ErrTurnFailed is a turn that failed without touching the world (bad
	// oracle answer, oracle unreachable). The loop keeps its normal pace.
	ErrTurnFailed = errors.New("turn failed")
)

// TurnOutcome is what the scheduler needs from a finished turn.
type TurnOutcome struct {
	Delay   time.Duration
	Rest    time.Duration
	Running bool
}

// TurnRunner plays one turn for an agent.
type TurnRunner interface {
	Turn(ctx context.Context, agentID string) (TurnOutcome, error)
}

// Scheduler runs one independent loop per agent while the simulation is
// running. There is no global turn order.
type Scheduler struct {
	store  *persist.Store
	runner TurnRunner
	cfg    config.SimulationConfig
	bus    *event.Bus
	log    *zap.Logger

	mu  sync.Mutex
	gen *generation // nil while stopped
}

// generation is the set of loops started between one start and stop.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
	loops  map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(store *persist.Store, runner TurnRunner, cfg config.SimulationConfig, bus *event.Bus, log *zap.Logger) *Scheduler {
	s := &Scheduler{
		store:  store,
		runner: runner,
		cfg:    cfg,
		bus:    bus,
		log:    log,
	}
	if bus != nil {
		event.Subscribe(bus, func(e event.EntityEliminated) {
			s.drop(e.EntityID)
		})
	}
	return s
}

// Start marks the world running and starts a loop for every agent.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.SetRunning(ctx, true); err != nil {
		return err
	}
	return s.Sync(ctx)
}

// Stop ends all loops, waits for in-flight turns to finish and marks the
// world stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.Halt()
	return s.store.SetRunning(ctx, false)
}

// Halt ends all loops and waits for them without touching the world. Used
// on shutdown so that a restarted server resumes a running simulation.
func (s *Scheduler) Halt() {
	s.mu.Lock()
	g := s.gen
	s.gen = nil
	s.mu.Unlock()
	if g == nil {
		return
	}
	g.cancel()
	g.wg.Wait()
}

// Reset stops the simulation and replaces the world. seed, when not nil,
// populates the fresh world in the same write.
func (s *Scheduler) Reset(ctx context.Context, seed func(*world.State) error) (*world.State, error) {
	s.Halt()
	return s.store.ResetWith(ctx, seed)
}

// Sync reconciles loops with the stored world: while it is running every
// agent has a loop, and when it is not (another process stopped it) all
// loops end.
func (s *Scheduler) Sync(ctx context.Context) error {
	st, err := s.store.Read(ctx)
	if err != nil {
		return err
	}
	if !st.Running {
		if s.Running() {
			s.log.Info("simulation is stopped, halting agent loops")
			s.Halt()
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == nil {
		gctx, cancel := context.WithCancel(context.Background())
		s.gen = &generation{ctx: gctx, cancel: cancel, loops: make(map[string]context.CancelFunc)}
	}
	g := s.gen
	for _, a := range st.Agents() {
		if _, ok := g.loops[a.ID]; ok {
			continue
		}
		lctx, cancel := context.WithCancel(g.ctx)
		g.loops[a.ID] = cancel
		g.wg.Add(1)
		go s.loop(lctx, g, a.ID)
		s.log.Debug("agent loop started", zap.String("agent", a.ID))
	}
	return nil
}

// Active returns the number of running agent loops.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == nil {
		return 0
	}
	return len(s.gen.loops)
}

// Running reports whether loops are being kept alive.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != nil
}

func (s *Scheduler) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == nil {
		return
	}
	if cancel, ok := s.gen.loops[id]; ok {
		cancel()
		delete(s.gen.loops, id)
	}
}

func (s *Scheduler) loop(ctx context.Context, g *generation, id string) {
	defer g.wg.Done()
	backoff := s.newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		out, err := s.runner.Turn(ctx, id)

		var pause time.Duration
		switch {
		case err == nil:
			if !out.Running {
				s.ended(g, id, "simulation stopped")
				return
			}
			backoff = s.newBackoff()
			pause = max(out.Delay, 0) + min(max(out.Rest, 0), s.cfg.MaxRest) + s.cfg.BaseInterval
		case errors.Is(err, ErrAgentGone):
			s.ended(g, id, "agent gone")
			return
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrTurnFailed):
			s.log.Warn("agent turn failed", zap.String("agent", id), zap.Error(err))
			pause = s.cfg.BaseInterval
		default:
			d, stop := backoff.Next()
			if stop {
				d = s.cfg.MaxBackoff
			}
			s.log.Error("agent turn error, backing off",
				zap.String("agent", id), zap.Duration("backoff", d), zap.Error(err))
			pause = d
		}

		t := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (s *Scheduler) newBackoff() retry.Backoff {
	base := s.cfg.ErrorBackoff
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if s.cfg.MaxBackoff > 0 {
		b = retry.WithCappedDuration(s.cfg.MaxBackoff, b)
	}
	return b
}

// ended forgets a loop that exited on its own.
func (s *Scheduler) ended(g *generation, id, reason string) {
	s.mu.Lock()
	if cancel, ok := g.loops[id]; ok {
		cancel()
		delete(g.loops, id)
	}
	s.mu.Unlock()
	s.log.Info("agent loop ended", zap.String("agent", id), zap.String("reason", reason))
	if s.bus != nil {
		event.Emit(s.bus, event.AgentLoopEnded{AgentID: id, Reason: reason})
	}
}
