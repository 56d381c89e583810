package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vyuha/server/internal/system"
	"github.com/vyuha/server/internal/world"
)

// HandleGMCommand processes a "." prefixed console command. Commands that
// change the world become a mutation batch applied like a God Mode
// answer; the others act on the simulation directly.
func HandleGMCommand(ctx context.Context, deps *Deps, text string) (*GodModeResult, error) {
	text = strings.TrimSpace(text)
	parts := strings.Fields(strings.TrimPrefix(text, "."))
	out := &gmReply{}
	if len(parts) == 0 {
		gmHelp(out)
		return gmResult(ctx, deps, out, nil, nil)
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	var (
		muts []world.Mutation
		st   *world.State
		err  error
	)
	switch cmd {
	case "help":
		gmHelp(out)
	case "who":
		err = gmWho(ctx, out, deps)
	case "scenarios":
		gmScenarios(out, deps)
	case "start":
		st, err = StartSimulation(ctx, deps)
		out.msg("Simulation started.")
	case "stop":
		st, err = StopSimulation(ctx, deps)
		out.msg("Simulation stopped.")
	case "reset":
		st, err = gmReset(ctx, out, args, deps)
	case "grid":
		muts = gmGrid(out, args)
	case "env":
		muts = gmEnv(out, args)
	case "kill", "remove":
		muts, err = gmKill(ctx, out, args, deps)
	case "rule":
		muts = gmRule(out, args, world.MutAddGlobalRule)
	case "unrule":
		muts = gmRule(out, args, world.MutRemoveGlobalRule)
	case "spawn":
		muts = gmSpawn(out, args)
	default:
		out.msgf("Unknown command .%s, try .help", cmd)
	}
	if err != nil {
		return nil, err
	}
	if len(muts) > 0 {
		st, err = applyBatch(ctx, deps, muts, fmt.Sprintf("God Mode: %s → %s", text, out.text()))
		if err != nil {
			return nil, err
		}
	}
	return gmResult(ctx, deps, out, muts, st)
}

func gmResult(ctx context.Context, deps *Deps, out *gmReply, muts []world.Mutation, st *world.State) (*GodModeResult, error) {
	if st == nil {
		var err error
		if st, err = deps.Store.Read(ctx); err != nil {
			return nil, err
		}
	}
	if muts == nil {
		muts = []world.Mutation{}
	}
	raw, err := json.Marshal(muts)
	if err != nil {
		return nil, fmt.Errorf("encode mutations: %w", err)
	}
	return &GodModeResult{Message: out.text(), Mutations: raw, State: st}, nil
}

// --- Helper ---

type gmReply struct {
	lines []string
}

func (r *gmReply) msg(s string) { r.lines = append(r.lines, s) }

func (r *gmReply) msgf(format string, a ...any) { r.msg(fmt.Sprintf(format, a...)) }

func (r *gmReply) text() string { return strings.Join(r.lines, "\n") }

// --- Commands ---

func gmHelp(out *gmReply) {
	out.msg("=== God Mode commands ===")
	out.msg(".start / .stop  - run or pause the agents")
	out.msg(".reset [scenario]  - empty the world, optionally loading a scenario")
	out.msg(".scenarios  - list loaded scenarios")
	out.msg(".who  - list agents")
	out.msg(".grid <w> <h>  - resize the grid")
	out.msg(".env <key>=<value> ...  - set environment values")
	out.msg(".spawn <type> <name> <x> <y>  - add an entity")
	out.msg(".kill <id|name>  - remove an entity")
	out.msg(".rule <text>  - add a global rule")
	out.msg(".unrule <text>  - remove a global rule")
	out.msg("Anything else is sent to the oracle.")
}

func gmWho(ctx context.Context, out *gmReply, deps *Deps) error {
	st, err := deps.Store.Read(ctx)
	if err != nil {
		return err
	}
	agents := st.Agents()
	for _, a := range agents {
		out.msgf("  %s [%s] at %s %s %s", a.Name, a.ID, a.Position, a.Status, propsText(a.Properties))
	}
	out.msgf("Agents: %d", len(agents))
	return nil
}

func gmScenarios(out *gmReply, deps *Deps) {
	names := deps.Scenarios.Names()
	if len(names) == 0 {
		out.msg("No scenarios loaded.")
		return
	}
	for _, n := range names {
		out.msgf("  %s  %s", n, deps.Scenarios.Get(n).Description)
	}
}

func gmReset(ctx context.Context, out *gmReply, args []string, deps *Deps) (*world.State, error) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	st, err := ResetSimulation(ctx, deps, name)
	if err != nil {
		return nil, err
	}
	if name == "" {
		out.msg("World reset.")
	} else {
		out.msgf("World reset with scenario %s.", name)
	}
	return st, nil
}

func gmGrid(out *gmReply, args []string) []world.Mutation {
	if len(args) < 2 {
		out.msg("Usage: .grid <w> <h>")
		return nil
	}
	w, err1 := strconv.Atoi(args[0])
	h, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		out.msg("Grid size must be two positive numbers.")
		return nil
	}
	out.msgf("Grid resized to %dx%d.", w, h)
	return []world.Mutation{world.NewMutation(world.MutModifyGrid, world.Grid{Width: w, Height: h})}
}

func gmEnv(out *gmReply, args []string) []world.Mutation {
	env := map[string]any{}
	var keys []string
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			out.msgf("Ignoring %q, expected key=value.", a)
			continue
		}
		env[k] = parseEnvValue(v)
		keys = append(keys, k)
	}
	if len(env) == 0 {
		out.msg("Usage: .env <key>=<value> ...")
		return nil
	}
	out.msgf("Environment updated: %s.", strings.Join(keys, ", "))
	return []world.Mutation{world.NewMutation(world.MutModifyEnvironment, env)}
}

func parseEnvValue(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func gmKill(ctx context.Context, out *gmReply, args []string, deps *Deps) ([]world.Mutation, error) {
	if len(args) < 1 {
		out.msg("Usage: .kill <id|name>")
		return nil, nil
	}
	st, err := deps.Store.Read(ctx)
	if err != nil {
		return nil, err
	}
	ref := strings.Join(args, " ")
	i := system.ResolveTarget(st, ref)
	if i < 0 {
		out.msgf("Nothing matches %q.", ref)
		return nil, nil
	}
	e := st.Entities[i]
	out.msgf("Removed %s [%s].", e.Name, e.ID)
	return []world.Mutation{world.NewMutation(world.MutRemoveEntity, map[string]string{"id": e.ID})}, nil
}

func gmRule(out *gmReply, args []string, t world.MutationType) []world.Mutation {
	rule := strings.Join(args, " ")
	if rule == "" {
		out.msg("Usage: .rule <text> / .unrule <text>")
		return nil
	}
	if t == world.MutAddGlobalRule {
		out.msgf("Rule added: %s", rule)
	} else {
		out.msgf("Rule removed: %s", rule)
	}
	return []world.Mutation{world.NewMutation(t, map[string]string{"rule": rule})}
}

var spawnEmoji = map[string]string{
	world.TypeAgent: "🧑",
	"resource":      "💎",
	"item":          "📦",
	"object":        "📦",
	"obstacle":      "🪨",
	"wall":          "🧱",
	"water":         "🌊",
	"zone":          "⬜",
}

func gmSpawn(out *gmReply, args []string) []world.Mutation {
	if len(args) < 4 {
		out.msg("Usage: .spawn <type> <name> <x> <y>")
		return nil
	}
	x, err1 := strconv.Atoi(args[len(args)-2])
	y, err2 := strconv.Atoi(args[len(args)-1])
	if err1 != nil || err2 != nil {
		out.msg("Coordinates must be numbers.")
		return nil
	}
	typ := strings.ToLower(args[0])
	name := strings.Join(args[1:len(args)-2], " ")
	ent := world.Entity{
		Type:       typ,
		Name:       name,
		Position:   world.Position{X: x, Y: y},
		Emoji:      spawnEmoji[typ],
		Color:      "#888888",
		Properties: world.Properties{},
	}
	if ent.Emoji == "" {
		ent.Emoji = "❔"
	}
	if typ == world.TypeAgent {
		ent.Properties = world.Properties{"health": 100.0, "score": 0.0}
	}
	out.msgf("Spawned %s %s at (%d,%d).", typ, name, x, y)
	return []world.Mutation{world.NewMutation(world.MutAddEntity, ent)}
}

func propsText(p world.Properties) string {
	if len(p) == 0 {
		return "{}"
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "{?}"
	}
	return string(b)
}
