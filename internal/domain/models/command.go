package models

import (
	"github.com/edgeweave/devicecore/pkg/errors"
)

// CommandOrigin distinguishes commands issued by a local paired client
// from commands pulled from the cloud command queue.
type CommandOrigin string

const (
	OriginLocal CommandOrigin = "local"
	OriginCloud CommandOrigin = "cloud"
)

// CommandState is a command instance's lifecycle state. done, cancelled
// and expired are terminal sinks: once reached, no further transition is
// legal (spec.md §3 invariants).
type CommandState string

const (
	CommandQueued     CommandState = "queued"
	CommandInProgress CommandState = "inProgress"
	CommandPaused     CommandState = "paused"
	CommandError      CommandState = "error"
	CommandDone       CommandState = "done"
	CommandCancelled  CommandState = "cancelled"
	CommandExpired    CommandState = "expired"
)

// IsTerminal reports whether state is a sink state.
func (s CommandState) IsTerminal() bool {
	return s == CommandDone || s == CommandCancelled || s == CommandExpired
}

// CommandInstance is one queued invocation of a "trait.command" against a
// specific component.
type CommandInstance struct {
	ID         string
	Name       string // "trait.command"
	Component  string // dotted component path
	Origin     CommandOrigin
	State      CommandState
	Parameters map[string]interface{}
	Progress   map[string]interface{}
	Results    map[string]interface{}
	Role       Scope // minimum role required to have issued this command
}

// Trait returns the trait part of Name (everything before the first
// '.'), or "" if Name has no '.'.
func (c *CommandInstance) Trait() string {
	for i, r := range c.Name {
		if r == '.' {
			return c.Name[:i]
		}
	}
	return ""
}

// Transition moves the command to newState, rejecting any transition out
// of a terminal state.
func (c *CommandInstance) Transition(newState CommandState) error {
	if c.State.IsTerminal() {
		return errors.Newf(errors.InvalidState, "command %s is in terminal state %s", c.ID, c.State)
	}
	c.State = newState
	return nil
}
