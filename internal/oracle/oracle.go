// Package oracle turns world context into decisions. Agents ask it what to
// do next; God Mode asks it to translate a command into mutations. The
// answer is free text that the parse functions validate.
package oracle

import (
	"context"

	"github.com/vyuha/server/internal/world"
)

type Purpose string

const (
	PurposeAgent Purpose = "agent"
	PurposeGod   Purpose = "god"
)

// Request is one oracle call. System and Prompt are the rendered text;
// Agent or God carries the same context in structured form for oracles
// that do not read text.
type Request struct {
	Purpose     Purpose
	System      string
	Prompt      string
	MaxTokens   int     // 0 uses the provider default
	Temperature float64 // 0 uses the provider default

	Agent *AgentContext
	God   *GodContext
}

// AgentContext is what an agent knows when deciding.
type AgentContext struct {
	Self         world.Entity
	Memory       []string
	Interactable []world.Entity
	Terrain      []world.Entity
	Grid         world.Grid
	GlobalRules  []string
	Enforced     []string // structured rule descriptions
	Environment  map[string]any
}

type GodContext struct {
	Command string
	State   *world.State
}

// Oracle answers a Request with free text.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Idle is an oracle that always waits and never changes the world. Used
// when no model is configured.
func Idle() Oracle {
	return Func(func(_ context.Context, req Request) (string, error) {
		if req.Purpose == PurposeGod {
			return `{"mutations":[],"message":"No oracle configured; nothing changed."}`, nil
		}
		return `{"action":"wait","data":{},"thought":"Nothing to decide."}`, nil
	})
}
