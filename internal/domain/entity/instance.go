package entity

import "time"

// WorkflowInstance is one employee's run of a workflow template.
// It owns the ids of its tasks; the task graph is snapshotted at instantiation
// and the template is never re-read.
type WorkflowInstance struct {
	ID               string         `json:"id"`
	TemplateID       string         `json:"template_id"`
	TemplateVersion  int            `json:"template_version"`
	WorkflowType     WorkflowType   `json:"workflow_type"`
	EmployeeID       string         `json:"employee_id"`
	InitiatedBy      string         `json:"initiated_by"`
	Status           InstanceStatus `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	TaskIDs          []string       `json:"task_ids"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CancelledAt      *time.Time     `json:"cancelled_at,omitempty"`

	// Version is the optimistic concurrency token; stores bump it on every save
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Frozen reports whether tasks of this instance can no longer change
func (i *WorkflowInstance) Frozen() bool {
	return i.Status.IsTerminal()
}

// Clone returns a deep copy so callers never share mutable state with a store
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	c := *i
	c.TaskIDs = append([]string(nil), i.TaskIDs...)
	c.StartedAt = cloneTime(i.StartedAt)
	c.CompletedAt = cloneTime(i.CompletedAt)
	c.CancelledAt = cloneTime(i.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
