package workflow

import (
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// BuildTaskStateMachine creates the one-directional task machine.
// eligible guards start and complete; assign is a reentry on open tasks.
func BuildTaskStateMachine(status entity.TaskStatus, eligible domainwf.GuardFunc) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// NOT_STARTED state transitions
	builder.Configure(domainwf.StateNotStarted).
		PermitIf(domainwf.TriggerStart, domainwf.StateInProgress, eligible).
		PermitIf(domainwf.TriggerComplete, domainwf.StateCompleted, eligible).
		PermitReentry(domainwf.TriggerAssign)

	// IN_PROGRESS state transitions
	builder.Configure(domainwf.StateInProgress).
		PermitIf(domainwf.TriggerComplete, domainwf.StateCompleted, eligible).
		PermitReentry(domainwf.TriggerAssign)

	// COMPLETED is terminal

	return builder.Build(domainwf.State(status))
}

// BuildInstanceStateMachine creates the workflow instance machine
func BuildInstanceStateMachine(status entity.InstanceStatus) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	// NOT_STARTED state transitions
	builder.Configure(domainwf.StateNotStarted).
		Permit(domainwf.TriggerStart, domainwf.StateInProgress).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// IN_PROGRESS state transitions
	builder.Configure(domainwf.StateInProgress).
		Permit(domainwf.TriggerComplete, domainwf.StateCompleted).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	// COMPLETED and CANCELLED are terminal states - no outgoing transitions

	return builder.Build(domainwf.State(status))
}
