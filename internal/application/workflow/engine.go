package workflow

import (
	"context"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

// WorkflowEngine orchestrates workflow instances and their tasks.
// Every mutating operation runs in one transaction and returns the new state
// along with the audit records it committed.
type WorkflowEngine interface {
	// Instantiate snapshots a template into a new NOT_STARTED instance
	Instantiate(ctx context.Context, cmd InstantiateCommand) (*InstanceResult, error)

	// StartInstance moves a NOT_STARTED instance to IN_PROGRESS
	StartInstance(ctx context.Context, cmd InstanceCommand) (*InstanceResult, error)

	// CancelInstance freezes an open instance
	CancelInstance(ctx context.Context, cmd InstanceCommand) (*InstanceResult, error)

	// AssignTask sets the assignee of an open task
	AssignTask(ctx context.Context, cmd AssignCommand) (*TaskResult, error)

	// StartTask moves an eligible task to IN_PROGRESS
	StartTask(ctx context.Context, cmd TaskCommand) (*TaskResult, error)

	// CompleteTask completes an eligible task and re-evaluates progress.
	// Completing a COMPLETED task succeeds with NoOp set.
	CompleteTask(ctx context.Context, cmd TaskCommand) (*TaskResult, error)

	// GetInstanceProgress returns a read-only view of an instance
	GetInstanceProgress(ctx context.Context, actor entity.Actor, instanceID string) (*Progress, error)
}

// InstantiateCommand names a template by id, or by type to use the
// highest active version of that type
type InstantiateCommand struct {
	TemplateID   string
	WorkflowType entity.WorkflowType
	EmployeeID   string
	// Assignees overrides step assignees by step key
	Assignees map[string]string
	Actor     entity.Actor
	At        time.Time
}

// InstanceCommand targets one instance
type InstanceCommand struct {
	InstanceID string
	Reason     string
	Actor      entity.Actor
	At         time.Time
}

// TaskCommand targets one task
type TaskCommand struct {
	TaskID string
	Actor  entity.Actor
	At     time.Time
}

// AssignCommand assigns a task to a user
type AssignCommand struct {
	TaskID   string
	Assignee string
	Actor    entity.Actor
	At       time.Time
}

// InstanceResult is the committed outcome of an instance operation
type InstanceResult struct {
	Instance *entity.WorkflowInstance
	Tasks    []*entity.Task
	Audit    []*entity.AuditLog
}

// TaskResult is the committed outcome of a task operation
type TaskResult struct {
	Task     *entity.Task
	Instance *entity.WorkflowInstance
	// Unlocked lists direct dependents that became eligible
	Unlocked []string
	// InstanceCompleted is set when this operation completed the instance
	InstanceCompleted bool
	// NoOp is set when nothing changed and nothing was audited
	NoOp  bool
	Audit []*entity.AuditLog
}

// Progress is a read-only view of an instance
type Progress struct {
	Instance     *entity.WorkflowInstance
	Tasks        []*entity.Task
	Dependencies []*entity.TaskDependency
	// Eligible lists the not-yet-completed tasks that can be acted on now
	Eligible  []string
	Completed int
	Total     int
}

// Percent returns completion as a percentage
func (p *Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) * 100 / float64(p.Total)
}
