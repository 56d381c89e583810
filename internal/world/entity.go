package world

import "fmt"

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

type AgentStatus string

const (
	StatusIdle     AgentStatus = "idle"
	StatusThinking AgentStatus = "thinking"
	StatusActing   AgentStatus = "acting"
)

const TypeAgent = "agent"

// Entity is anything that occupies a grid cell. Status, Rules, Memory and
// Delay are only meaningful for agents.
type Entity struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	Position   Position    `json:"position"`
	Emoji      string      `json:"emoji"`
	Color      string      `json:"color"`
	Status     AgentStatus `json:"status,omitempty"`
	Rules      string      `json:"rules,omitempty"`
	Memory     []string    `json:"memory,omitempty"`
	Delay      int         `json:"delay,omitempty"` // milliseconds
	Properties Properties  `json:"properties"`
}

func (e *Entity) IsAgent() bool { return e.Type == TypeAgent }

// Kind maps the open type string onto a behaviour class.
func (e *Entity) Kind() Kind { return KindOf(e.Type) }

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	if e.Memory != nil {
		e.Memory = append(make([]string, 0, len(e.Memory)), e.Memory...)
	}
	if e.Properties != nil {
		e.Properties = e.Properties.Clone()
	}
	return e
}

// Remember appends a memory, keeping only the newest MemoryCap entries.
func (e *Entity) Remember(m string) {
	e.Memory = append(e.Memory, m)
	if over := len(e.Memory) - MemoryCap; over > 0 {
		e.Memory = append([]string{}, e.Memory[over:]...)
	}
}

// RecentMemory returns up to n newest memories, oldest first.
func (e *Entity) RecentMemory(n int) []string {
	if len(e.Memory) <= n {
		return e.Memory
	}
	return e.Memory[len(e.Memory)-n:]
}

// Kind is the closed set of behaviours an entity type can have. New
// custom types fall through to KindGeneric.
type Kind int

const (
	KindGeneric Kind = iota
	KindAgent
	KindAbsorbable // consumed on interaction, properties transfer to the actor
	KindTerrain    // scenery; shown to agents as non-interactable
)

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindAbsorbable:
		return "absorbable"
	case KindTerrain:
		return "terrain"
	default:
		return "generic"
	}
}

func KindOf(typ string) Kind {
	switch typ {
	case TypeAgent:
		return KindAgent
	case "resource", "object", "item":
		return KindAbsorbable
	case "obstacle", "wall", "water", "zone", "terrain":
		return KindTerrain
	default:
		return KindGeneric
	}
}
