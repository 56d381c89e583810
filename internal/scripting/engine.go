package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/world"
)

// Engine wraps a single gopher-lua VM that plays the decision oracle.
// Agent loops call it from many goroutines; calls are serialized.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	vm.SetGlobal("API_VERSION", lua.LNumber(1))
	vm.SetGlobal("chebyshev", vm.NewFunction(luaChebyshev))

	e := &Engine{vm: vm, log: log}

	// core helpers first, then the decision scripts that use them
	for _, sub := range []string{"core", "agent", "god"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString runs a chunk of Lua source, mainly for tests and embedding.
func (e *Engine) LoadString(src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.vm.DoString(src)
}

const (
	fallbackDecision = `{"action":"wait","data":{},"thought":"My instincts are silent."}`
	fallbackGod      = `{"mutations":[],"message":"No god_command script is loaded."}`
)

// Complete calls agent_decide(ctx) or god_command(ctx) and encodes the
// returned table as JSON. A missing function yields a harmless default;
// a script error is returned to the caller.
func (e *Engine) Complete(ctx context.Context, req oracle.Request) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		name     string
		arg      any
		fallback string
	)
	switch {
	case req.Purpose == oracle.PurposeGod && req.God != nil:
		name, arg, fallback = "god_command", godTable(req.God), fallbackGod
	case req.Agent != nil:
		name, arg, fallback = "agent_decide", agentTable(req.Agent), fallbackDecision
	default:
		return "", fmt.Errorf("lua oracle: request without context")
	}

	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		e.log.Warn("lua function not found", zap.String("name", name))
		return fallback, nil
	}

	lctx, err := e.toLua(arg)
	if err != nil {
		return "", err
	}

	e.vm.SetContext(ctx)
	defer e.vm.RemoveContext()

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lctx); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return "", fmt.Errorf("lua %s: %w", name, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	if s, ok := result.(lua.LString); ok {
		return string(s), nil
	}
	rt, ok := result.(*lua.LTable)
	if !ok {
		return fallback, nil
	}
	if req.Purpose != oracle.PurposeGod {
		e.log.Debug("lua decision", zap.String("agent", req.Agent.Self.ID), zap.String("action", lStr(rt, "action")))
	}
	b, err := json.Marshal(fromLua(result))
	if err != nil {
		return "", fmt.Errorf("lua %s result: %w", name, err)
	}
	return string(b), nil
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}

type luaEntity struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Type       string           `json:"type"`
	X          int              `json:"x"`
	Y          int              `json:"y"`
	Status     string           `json:"status,omitempty"`
	Rules      string           `json:"rules,omitempty"`
	Properties world.Properties `json:"props"`
}

func toLuaEntity(e world.Entity) luaEntity {
	return luaEntity{
		ID: e.ID, Name: e.Name, Type: e.Type,
		X: e.Position.X, Y: e.Position.Y,
		Status: string(e.Status), Rules: e.Rules,
		Properties: e.Properties,
	}
}

func toLuaEntities(es []world.Entity) []luaEntity {
	out := make([]luaEntity, 0, len(es))
	for _, e := range es {
		out = append(out, toLuaEntity(e))
	}
	return out
}

func agentTable(ac *oracle.AgentContext) any {
	return map[string]any{
		"self":         toLuaEntity(ac.Self),
		"memory":       ac.Memory,
		"interactable": toLuaEntities(ac.Interactable),
		"terrain":      toLuaEntities(ac.Terrain),
		"grid":         ac.Grid,
		"global_rules": ac.GlobalRules,
		"enforced":     ac.Enforced,
		"environment":  ac.Environment,
	}
}

func godTable(gc *oracle.GodContext) any {
	t := map[string]any{"command": gc.Command}
	if gc.State != nil {
		t["grid"] = gc.State.Grid
		t["entities"] = toLuaEntities(gc.State.Entities)
		t["global_rules"] = gc.State.GlobalRules
		t["running"] = gc.State.Running
	}
	return t
}

// toLua converts a JSON-shaped Go value into Lua values via a JSON round
// trip, so struct tags decide the field names.
func (e *Engine) toLua(v any) (lua.LValue, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return lua.LNil, fmt.Errorf("lua context: %w", err)
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return lua.LNil, fmt.Errorf("lua context: %w", err)
	}
	return e.valueToLua(generic), nil
}

func (e *Engine) valueToLua(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		t := e.vm.NewTable()
		for i, item := range x {
			t.RawSetInt(i+1, e.valueToLua(item))
		}
		return t
	case map[string]any:
		t := e.vm.NewTable()
		for k, item := range x {
			t.RawSetString(k, e.valueToLua(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value back to Go. Tables with only positive
// integer keys become slices; others become maps. Empty tables become
// empty maps.
func fromLua(v lua.LValue) any {
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		return float64(x)
	case lua.LString:
		return string(x)
	case *lua.LTable:
		if n := x.MaxN(); n > 0 && countKeys(x) == n {
			arr := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				arr = append(arr, fromLua(x.RawGetInt(i)))
			}
			return arr
		}
		m := map[string]any{}
		x.ForEach(func(k, val lua.LValue) {
			m[lua.LVAsString(k)] = fromLua(val)
		})
		return m
	default:
		return nil
	}
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(_, _ lua.LValue) { n++ })
	return n
}

// luaChebyshev(x1, y1, x2, y2) returns the grid distance between two cells.
func luaChebyshev(L *lua.LState) int {
	dx := L.CheckInt(1) - L.CheckInt(3)
	dy := L.CheckInt(2) - L.CheckInt(4)
	L.Push(lua.LNumber(max(abs(dx), abs(dy))))
	return 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// --- Lua helpers ---

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

// Functions lists the oracle entry points the loaded scripts define.
func (e *Engine) Functions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, name := range []string{"agent_decide", "god_command"} {
		if e.vm.GetGlobal(name) != lua.LNil {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
