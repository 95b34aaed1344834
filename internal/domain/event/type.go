package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceCreated   Type = "instance.created"
	TypeInstanceStarted   Type = "instance.started"
	TypeInstanceCompleted Type = "instance.completed"
	TypeInstanceCancelled Type = "instance.cancelled"
	TypeTaskAssigned      Type = "task.assigned"
	TypeTaskStarted       Type = "task.started"
	TypeTaskCompleted     Type = "task.completed"
	TypeTaskUnlocked      Type = "task.unlocked"
	TypeTaskOverdue       Type = "task.overdue"
	TypeTemplateCreated   Type = "template.created"
	TypeTemplateActivated Type = "template.activated"
	TypeEmployeeCreated   Type = "employee.created"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceCreated,
		TypeInstanceStarted,
		TypeInstanceCompleted,
		TypeInstanceCancelled,
		TypeTaskAssigned,
		TypeTaskStarted,
		TypeTaskCompleted,
		TypeTaskUnlocked,
		TypeTaskOverdue,
		TypeTemplateCreated,
		TypeTemplateActivated,
		TypeEmployeeCreated:
		return true
	default:
		return false
	}
}

// All returns every defined event type
func All() []Type {
	return []Type{
		TypeInstanceCreated,
		TypeInstanceStarted,
		TypeInstanceCompleted,
		TypeInstanceCancelled,
		TypeTaskAssigned,
		TypeTaskStarted,
		TypeTaskCompleted,
		TypeTaskUnlocked,
		TypeTaskOverdue,
		TypeTemplateCreated,
		TypeTemplateActivated,
		TypeEmployeeCreated,
	}
}
