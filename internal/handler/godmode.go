package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vyuha/server/internal/core/event"
	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/system"
	"github.com/vyuha/server/internal/world"
	"go.uber.org/zap"
)

// ErrEmptyCommand is a God Mode request with no text.
var ErrEmptyCommand = errors.New("god mode command is empty")

const (
	godMaxTokens   = 4096
	godTemperature = 0.7
)

// GodModeResult is the outcome of one God Mode command.
type GodModeResult struct {
	Message   string
	Mutations json.RawMessage // the batch as applied, always an array
	State     *world.State
}

// GodMode turns a natural-language command into a mutation batch through
// the oracle and applies it. Commands starting with "." are console
// commands and never reach the oracle.
func GodMode(ctx context.Context, deps *Deps, command string) (*GodModeResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrEmptyCommand
	}
	if strings.HasPrefix(command, ".") {
		return HandleGMCommand(ctx, deps, command)
	}

	cur, err := deps.Store.Read(ctx)
	if err != nil {
		return nil, err
	}
	sys, err := oracle.RenderGodSystem(cur)
	if err != nil {
		return nil, fmt.Errorf("render god mode prompt: %w", err)
	}
	raw, err := deps.Oracle.Complete(ctx, oracle.Request{
		Purpose:     oracle.PurposeGod,
		System:      sys,
		Prompt:      command,
		MaxTokens:   godMaxTokens,
		Temperature: godTemperature,
		God:         &oracle.GodContext{Command: command, State: cur},
	})
	if err != nil {
		return nil, &OracleError{Err: err}
	}

	resp, err := oracle.ParseGodResponse(raw)
	if err != nil {
		deps.Log.Warn("unparseable god mode response",
			zap.String("command", command),
			zap.String("raw", clip(raw, 200)),
			zap.Error(err))
		appendLog(ctx, deps, world.LogSystem, fmt.Sprintf("God Mode could not interpret: %s", command))
		return nil, &GodModeParseError{Raw: raw, Err: err}
	}

	muts, err := deps.Engine.DecodeBatch(resp.Mutations)
	if err != nil {
		// ParseGodResponse only passes arrays through
		muts = nil
	}
	st, err := applyBatch(ctx, deps, muts, fmt.Sprintf("God Mode: %s → %s", command, resp.Message))
	if err != nil {
		return nil, err
	}
	deps.Log.Info("god mode",
		zap.String("command", command),
		zap.Int("mutations", len(muts)),
		zap.Uint64("version", st.Version))
	return &GodModeResult{Message: resp.Message, Mutations: resp.Mutations, State: st}, nil
}

// applyBatch applies muts and one god-mode log entry in a single write,
// followed by the structured rules when configured.
func applyBatch(ctx context.Context, deps *Deps, muts []world.Mutation, logMsg string) (*world.State, error) {
	var effects []system.RuleEffect
	st, err := deps.Store.Update(ctx, func(s *world.State) error {
		next := deps.Engine.Apply(s, muts)
		now := deps.now()
		next.AppendLog(world.LogEntry{Timestamp: now, Message: logMsg, Type: world.LogGodMode})
		effects = nil
		if deps.sim().RulesAfterGodMode {
			effects, _ = system.ApplyRuleEffects(next, system.EvaluateRules(next), now)
		}
		*s = *next
		return nil
	})
	if err != nil {
		return nil, err
	}
	emitEliminations(deps, effects)
	return st, nil
}

// appendLog writes a single log entry. Failures are only logged.
func appendLog(ctx context.Context, deps *Deps, typ world.LogType, msg string) {
	_, err := deps.Store.Update(ctx, func(s *world.State) error {
		s.AppendLog(world.LogEntry{Timestamp: deps.now(), Message: msg, Type: typ})
		return nil
	})
	if err != nil {
		deps.Log.Error("append log entry", zap.String("message", msg), zap.Error(err))
	}
}

func emitEliminations(deps *Deps, effects []system.RuleEffect) {
	if deps.Bus == nil {
		return
	}
	for _, eff := range effects {
		if eff.Effect == world.EffectEliminate {
			event.Emit(deps.Bus, event.EntityEliminated{EntityID: eff.EntityID, RuleID: eff.Rule.ID})
		}
	}
}
