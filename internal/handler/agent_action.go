package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/system"
	"github.com/vyuha/server/internal/world"
	"go.uber.org/zap"
)

// TurnResult is what one agent turn applied.
type TurnResult struct {
	AgentID  string
	Decision *oracle.Decision
	Delay    time.Duration // the agent's configured delay
	RestTime time.Duration // oracle-suggested pause, capped by max_rest
	Message  string        // the action log line
	Effects  []system.RuleEffect
	State    *world.State
}

var errUnchanged = errors.New("unchanged")

// RunTurn asks the oracle what agentID does next and applies it.
//
// The agent shows as thinking while the oracle is consulted. The decision
// is then applied against a fresh read of the world together with the
// structured rules, in one write. Every failure after the thinking flag is
// set puts the agent back to idle.
func RunTurn(ctx context.Context, deps *Deps, agentID string) (*TurnResult, error) {
	cur, err := deps.Store.Read(ctx)
	if err != nil {
		return nil, err
	}
	if cur.Agent(agentID) == nil {
		return nil, &NotFoundError{ID: agentID}
	}

	thinking, err := deps.Store.Update(ctx, func(s *world.State) error {
		a := s.Agent(agentID)
		if a == nil {
			return &NotFoundError{ID: agentID}
		}
		a.Status = world.StatusThinking
		return nil
	})
	if err != nil {
		return nil, err
	}

	ac := agentContext(deps, thinking, thinking.Agent(agentID))
	prompt, err := oracle.RenderAgentPrompt(ac)
	if err != nil {
		restoreIdle(ctx, deps, agentID)
		return nil, fmt.Errorf("render agent prompt: %w", err)
	}

	raw, err := deps.Oracle.Complete(ctx, oracle.Request{
		Purpose: oracle.PurposeAgent,
		System:  oracle.AgentSystem,
		Prompt:  prompt,
		Agent:   ac,
	})
	if err != nil {
		restoreIdle(ctx, deps, agentID)
		return nil, &OracleError{Err: err}
	}
	dec, err := oracle.ParseDecision(raw)
	if err != nil {
		deps.Log.Warn("unparseable agent decision",
			zap.String("agent", agentID),
			zap.String("raw", clip(raw, 200)),
			zap.Error(err))
		restoreIdle(ctx, deps, agentID)
		return nil, &DecisionParseError{Raw: raw, Err: err}
	}
	// Stopped while the oracle was answering: discard the decision.
	if err := ctx.Err(); err != nil {
		restoreIdle(ctx, deps, agentID)
		return nil, err
	}

	var res *TurnResult
	committed, err := deps.Store.Update(ctx, func(s *world.State) error {
		res = &TurnResult{AgentID: agentID, Decision: dec}
		return applyDecision(deps, s, dec, res)
	})
	if err != nil {
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			restoreIdle(ctx, deps, agentID)
		}
		return nil, err
	}
	res.State = committed

	emitEliminations(deps, res.Effects)
	deps.Log.Debug("agent turn",
		zap.String("agent", agentID),
		zap.String("action", string(dec.Action)),
		zap.String("result", res.Message),
		zap.Int("effects", len(res.Effects)))
	return res, nil
}

// applyDecision runs inside Store.Update and may run more than once.
func applyDecision(deps *Deps, s *world.State, dec *oracle.Decision, res *TurnResult) error {
	id := res.AgentID
	idx := s.EntityIndex(id)
	if idx < 0 || !s.Entities[idx].IsAgent() {
		return &NotFoundError{ID: id}
	}
	agent := &s.Entities[idx]
	name := agent.Name
	if dec.Thought != "" {
		agent.Remember(dec.Thought)
	}
	agent.Status = world.StatusActing

	var msg string
	switch dec.Action {
	case oracle.ActionMove:
		mv := dec.Move()
		r := system.ResolveMove(s, idx, mv.DX, mv.DY)
		agent.Position = r.To
		msg = r.Describe(name)
	case oracle.ActionInteract:
		msg = interact(deps, s, idx, dec.Interact())
	case oracle.ActionSpeak:
		msg = fmt.Sprintf("%s says: \"%s\"", name, dec.Speak().Message)
	default:
		msg = fmt.Sprintf("%s waits", name)
	}

	// interact may have shifted the slice
	agent = s.Entity(id)
	agent.Status = world.StatusIdle
	res.Delay = time.Duration(max(agent.Delay, 0)) * time.Millisecond
	res.RestTime = min(dec.Rest(), deps.sim().MaxRest)
	res.Message = msg

	now := deps.now()
	s.AppendLog(world.LogEntry{Timestamp: now, AgentID: id, Message: msg, Type: world.LogAction})

	res.Effects, _ = system.ApplyRuleEffects(s, system.EvaluateRules(s), now)
	return nil
}

func interact(deps *Deps, s *world.State, idx int, in oracle.InteractData) string {
	actor := &s.Entities[idx]
	label := strings.TrimSpace(in.Interaction)
	if label == "" {
		label = "interact"
	}
	ti := system.ResolveTarget(s, in.TargetID)
	if ti < 0 {
		return fmt.Sprintf("%s tried to %s with %q but found no such target", actor.Name, label, in.TargetID)
	}
	if ti == idx {
		return fmt.Sprintf("%s tried to %s with itself", actor.Name, label)
	}
	target := &s.Entities[ti]
	r := system.ResolveInteraction(actor, target, label, deps.sim().InteractionRange)
	if !r.Valid {
		return r.Message
	}
	actor.Properties = r.ActorProps
	if r.TargetProps != nil {
		target.Properties = r.TargetProps
	}
	if target.Kind() == world.KindAbsorbable {
		s.RemoveEntity(target.ID)
	}
	return r.Message
}

// agentContext gathers what the agent can see from s.
func agentContext(deps *Deps, s *world.State, agent *world.Entity) *oracle.AgentContext {
	sim := deps.sim()
	ac := &oracle.AgentContext{
		Self:        agent.Clone(),
		Memory:      agent.RecentMemory(sim.MemoryTail),
		Grid:        s.Grid,
		GlobalRules: s.GlobalRules,
		Environment: s.Environment,
	}
	for _, e := range s.Nearby(agent.Position, sim.NearbyRadius) {
		if e.Kind() == world.KindTerrain {
			ac.Terrain = append(ac.Terrain, e)
		} else {
			ac.Interactable = append(ac.Interactable, e)
		}
	}
	for _, r := range s.StructuredRules {
		if r.Description != "" {
			ac.Enforced = append(ac.Enforced, r.Description)
		} else {
			ac.Enforced = append(ac.Enforced, fmt.Sprintf("%s %s %g -> %s", r.Check.Property, r.Check.Operator, r.Check.Value, r.Effect))
		}
	}
	return ac
}

// restoreIdle clears a thinking flag left by an aborted turn. It runs even
// when ctx is already cancelled.
func restoreIdle(ctx context.Context, deps *Deps, agentID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	_, err := deps.Store.Update(ctx, func(s *world.State) error {
		a := s.Agent(agentID)
		if a == nil || a.Status == world.StatusIdle {
			return errUnchanged
		}
		a.Status = world.StatusIdle
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		deps.Log.Error("restore agent status", zap.String("agent", agentID), zap.Error(err))
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
