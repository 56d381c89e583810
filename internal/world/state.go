package world

import (
	"time"
)

const (
	// LogCap is the number of activity log entries kept in the document.
	LogCap = 100
	// MemoryCap is the number of memories an agent keeps.
	MemoryCap = 20

	DefaultGridWidth  = 20
	DefaultGridHeight = 20
)

// State is the single shared world document. Every writer replaces it as a
// whole; Version increases with each committed write.
type State struct {
	Grid            Grid             `json:"grid"`
	Entities        []Entity         `json:"entities"`
	GlobalRules     []string         `json:"globalRules"`
	StructuredRules []StructuredRule `json:"structuredRules"`
	Environment     map[string]any   `json:"environment"`
	Log             []LogEntry       `json:"log"`
	Time            Clock            `json:"time"`
	ActionCount     int              `json:"actionCount"`
	Running         bool             `json:"running"`
	Version         uint64           `json:"version"`
}

type Grid struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Contains reports whether p is a valid cell.
func (g Grid) Contains(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Width && p.Y < g.Height
}

// Clamp moves p to the nearest valid cell.
func (g Grid) Clamp(p Position) Position {
	return Position{X: clampInt(p.X, 0, g.Width-1), Y: clampInt(p.Y, 0, g.Height-1)}
}

type Clock struct {
	Started time.Time `json:"started"`
	Elapsed int64     `json:"elapsed"` // milliseconds since Started
}

type LogType string

const (
	LogAction        LogType = "action"
	LogGodMode       LogType = "god-mode"
	LogSystem        LogType = "system"
	LogRuleViolation LogType = "rule-violation"
)

type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agentId,omitempty"`
	Message   string    `json:"message"`
	Type      LogType   `json:"type"`
}

// New returns an empty world of the given size, stopped, started now.
func New(width, height int, now time.Time) *State {
	if width <= 0 {
		width = DefaultGridWidth
	}
	if height <= 0 {
		height = DefaultGridHeight
	}
	return &State{
		Grid:            Grid{Width: width, Height: height},
		Entities:        []Entity{},
		GlobalRules:     []string{},
		StructuredRules: []StructuredRule{},
		Environment:     map[string]any{},
		Log:             []LogEntry{},
		Time:            Clock{Started: now.UTC()},
	}
}

// Clone returns a deep copy safe to mutate. Nil collections stay nil.
func (s *State) Clone() *State {
	out := *s
	if s.Entities != nil {
		out.Entities = make([]Entity, len(s.Entities))
		for i := range s.Entities {
			out.Entities[i] = s.Entities[i].Clone()
		}
	}
	if s.GlobalRules != nil {
		out.GlobalRules = append(make([]string, 0, len(s.GlobalRules)), s.GlobalRules...)
	}
	if s.StructuredRules != nil {
		out.StructuredRules = make([]StructuredRule, len(s.StructuredRules))
		for i, r := range s.StructuredRules {
			if r.Penalty != nil {
				p := *r.Penalty
				r.Penalty = &p
			}
			out.StructuredRules[i] = r
		}
	}
	if s.Environment != nil {
		out.Environment = make(map[string]any, len(s.Environment))
		for k, v := range s.Environment {
			out.Environment[k] = v
		}
	}
	if s.Log != nil {
		out.Log = append(make([]LogEntry, 0, len(s.Log)), s.Log...)
	}
	return &out
}

// Normalize fills nil collections so the document always serializes with
// arrays and objects, whatever backend or payload produced it.
func (s *State) Normalize() {
	if s.Entities == nil {
		s.Entities = []Entity{}
	}
	if s.GlobalRules == nil {
		s.GlobalRules = []string{}
	}
	if s.StructuredRules == nil {
		s.StructuredRules = []StructuredRule{}
	}
	if s.Environment == nil {
		s.Environment = map[string]any{}
	}
	if s.Log == nil {
		s.Log = []LogEntry{}
	}
	for i := range s.Entities {
		if s.Entities[i].Properties == nil {
			s.Entities[i].Properties = Properties{}
		}
	}
}

// EntityIndex returns the position of id in Entities, or -1.
func (s *State) EntityIndex(id string) int {
	for i := range s.Entities {
		if s.Entities[i].ID == id {
			return i
		}
	}
	return -1
}

// Entity returns a pointer into Entities for id, or nil.
func (s *State) Entity(id string) *Entity {
	if i := s.EntityIndex(id); i >= 0 {
		return &s.Entities[i]
	}
	return nil
}

// Agent returns the entity for id only when it is an agent.
func (s *State) Agent(id string) *Entity {
	e := s.Entity(id)
	if e == nil || !e.IsAgent() {
		return nil
	}
	return e
}

// Agents returns copies of all agent entities in document order.
func (s *State) Agents() []Entity {
	var out []Entity
	for i := range s.Entities {
		if s.Entities[i].IsAgent() {
			out = append(out, s.Entities[i])
		}
	}
	return out
}

// RemoveEntity deletes id and reports whether it existed.
func (s *State) RemoveEntity(id string) bool {
	i := s.EntityIndex(id)
	if i < 0 {
		return false
	}
	s.Entities = append(s.Entities[:i:i], s.Entities[i+1:]...)
	return true
}

// Nearby returns entities within Chebyshev radius of p, excluding p itself.
func (s *State) Nearby(p Position, radius int) []Entity {
	var out []Entity
	for _, e := range s.Entities {
		dx := absInt(e.Position.X - p.X)
		dy := absInt(e.Position.Y - p.Y)
		if dx <= radius && dy <= radius && (dx > 0 || dy > 0) {
			out = append(out, e)
		}
	}
	return out
}

// AppendLog adds entry to the ring, evicting the oldest entries beyond
// LogCap, and counts it as an action.
func (s *State) AppendLog(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.Log = append(s.Log, entry)
	if over := len(s.Log) - LogCap; over > 0 {
		s.Log = append([]LogEntry{}, s.Log[over:]...)
	}
	s.ActionCount++
}

// ClampPositions pulls every entity back inside the grid.
func (s *State) ClampPositions() {
	for i := range s.Entities {
		s.Entities[i].Position = s.Grid.Clamp(s.Entities[i].Position)
	}
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
