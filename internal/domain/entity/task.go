package entity

import "time"

// Task is a unit of work inside a workflow instance.
// It holds a non-owning reference to its instance by id.
type Task struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	StepKey     string     `json:"step_key"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TaskType    TaskType   `json:"task_type"`
	Status      TaskStatus `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	StartedBy   string     `json:"started_by,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Version is the optimistic concurrency token; stores bump it on every save
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsCompleted reports whether the task has been completed
func (t *Task) IsCompleted() bool {
	return t.Status == TaskStatusCompleted
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.DueDate = cloneTime(t.DueDate)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

// TaskDependency states that TaskID depends on PrerequisiteTaskID
type TaskDependency struct {
	ID                 string         `json:"id"`
	InstanceID         string         `json:"instance_id"`
	TaskID             string         `json:"task_id"`
	PrerequisiteTaskID string         `json:"prerequisite_task_id"`
	DependencyType     DependencyType `json:"dependency_type"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Blocking reports whether the edge gates eligibility
func (d *TaskDependency) Blocking() bool {
	return d.DependencyType == DependencySequential
}
