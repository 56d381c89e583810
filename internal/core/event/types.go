package event

import "github.com/vyuha/server/internal/world"

// StateCommitted is emitted after every successful write to the world
// store. State is a private copy; subscribers must not mutate it.
type StateCommitted struct {
	State *world.State
}

// LogAppended carries the activity log entries added by one commit, in
// order.
type LogAppended struct {
	Entries []world.LogEntry
}

// EntityEliminated is emitted for every entity removed by a structured rule.
type EntityEliminated struct {
	EntityID string
	RuleID   string
}

// AgentLoopEnded is emitted when an agent loop exits on its own.
type AgentLoopEnded struct {
	AgentID string
	Reason  string
}
