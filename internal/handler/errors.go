package handler

import (
	"fmt"

	"github.com/vyuha/server/internal/system"
)

// NotFoundError reports an agent id that does not name a live agent.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("agent %q not found", e.ID) }

// Is lets agent loops treat a vanished agent as the end of the loop.
func (e *NotFoundError) Is(target error) bool { return target == system.ErrAgentGone }

// DecisionParseError is an oracle answer that was not a valid decision.
// Raw is the answer as received.
type DecisionParseError struct {
	Raw string
	Err error
}

func (e *DecisionParseError) Error() string {
	return fmt.Sprintf("parse agent decision: %v", e.Err)
}

func (e *DecisionParseError) Unwrap() error { return e.Err }

func (e *DecisionParseError) Is(target error) bool { return target == system.ErrTurnFailed }

// OracleError wraps a transport failure talking to the oracle.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string { return fmt.Sprintf("oracle: %v", e.Err) }

func (e *OracleError) Unwrap() error { return e.Err }

func (e *OracleError) Is(target error) bool { return target == system.ErrTurnFailed }

// GodModeParseError is a God Mode answer that could not be parsed.
type GodModeParseError struct {
	Raw string
	Err error
}

func (e *GodModeParseError) Error() string {
	return fmt.Sprintf("parse god mode response: %v", e.Err)
}

func (e *GodModeParseError) Unwrap() error { return e.Err }
