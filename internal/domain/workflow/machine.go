package workflow

import "context"

// StateMachine tracks the current state of one task or instance and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is configured in the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger and reports the transition taken
	Fire(ctx context.Context, trigger Trigger) (Transition, error)

	// PermittedTriggers returns all triggers configured in the current state
	PermittedTriggers() []Trigger
}

// Transition describes one successful Fire
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// Changed reports whether the transition moved to a different state
func (t Transition) Changed() bool {
	return t.From != t.To
}
