package entity

// WorkflowType classifies a template and the instances built from it
type WorkflowType string

const (
	WorkflowTypeOnboarding  WorkflowType = "ONBOARDING"
	WorkflowTypeOffboarding WorkflowType = "OFFBOARDING"
)

// IsValid reports whether the workflow type is known
func (t WorkflowType) IsValid() bool {
	return t == WorkflowTypeOnboarding || t == WorkflowTypeOffboarding
}

// InstanceStatus is the lifecycle status of a WorkflowInstance
type InstanceStatus string

const (
	InstanceStatusNotStarted InstanceStatus = "NOT_STARTED"
	InstanceStatusInProgress InstanceStatus = "IN_PROGRESS"
	InstanceStatusCompleted  InstanceStatus = "COMPLETED"
	InstanceStatusCancelled  InstanceStatus = "CANCELLED"
)

// IsTerminal reports whether no further instance transitions are possible.
// Tasks of a terminal instance are frozen.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled
}

// TaskStatus is the lifecycle status of a Task
type TaskStatus string

const (
	TaskStatusNotStarted TaskStatus = "NOT_STARTED"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusCompleted  TaskStatus = "COMPLETED"
)

// TaskType is the category of work a task represents
type TaskType string

const (
	TaskTypeFormCompletion TaskType = "FORM_COMPLETION"
	TaskTypeChecklist      TaskType = "CHECKLIST"
	TaskTypeApproval       TaskType = "APPROVAL"
)

// IsValid reports whether the task type is known
func (t TaskType) IsValid() bool {
	switch t {
	case TaskTypeFormCompletion, TaskTypeChecklist, TaskTypeApproval:
		return true
	default:
		return false
	}
}

// DependencyType controls whether a prerequisite edge blocks its dependent
type DependencyType string

const (
	// DependencySequential blocks the dependent until the prerequisite is COMPLETED
	DependencySequential DependencyType = "SEQUENTIAL"
	// DependencyParallel is advisory only
	DependencyParallel DependencyType = "PARALLEL"
)

// IsValid reports whether the dependency type is known
func (t DependencyType) IsValid() bool {
	return t == DependencySequential || t == DependencyParallel
}

// AuditAction is the kind of change an audit record describes
type AuditAction string

const (
	AuditActionCreated       AuditAction = "CREATED"
	AuditActionUpdated       AuditAction = "UPDATED"
	AuditActionDeleted       AuditAction = "DELETED"
	AuditActionCompleted     AuditAction = "COMPLETED"
	AuditActionAssigned      AuditAction = "ASSIGNED"
	AuditActionStatusChanged AuditAction = "STATUS_CHANGED"
)

// EntityType names the kind of entity an audit record refers to
type EntityType string

const (
	EntityTypeWorkflowInstance EntityType = "WORKFLOW_INSTANCE"
	EntityTypeTask             EntityType = "TASK"
	EntityTypeEmployee         EntityType = "EMPLOYEE"
	EntityTypeTemplate         EntityType = "TEMPLATE"
	EntityTypeUser             EntityType = "USER"
)

// Role is the access role of an actor
type Role string

const (
	RoleHRAdmin     Role = "HR_ADMIN"
	RoleManager     Role = "MANAGER"
	RoleTechSupport Role = "TECH_SUPPORT"
	RoleFinance     Role = "FINANCE"
	RoleSystemAdmin Role = "SYSTEM_ADMIN"
)

// IsValid reports whether the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleHRAdmin, RoleManager, RoleTechSupport, RoleFinance, RoleSystemAdmin:
		return true
	default:
		return false
	}
}

// EmployeeStatus is the employment status of an Employee
type EmployeeStatus string

const (
	EmployeeStatusPending     EmployeeStatus = "PENDING"
	EmployeeStatusActive      EmployeeStatus = "ACTIVE"
	EmployeeStatusOffboarding EmployeeStatus = "OFFBOARDING"
	EmployeeStatusDeparted    EmployeeStatus = "DEPARTED"
)

// IsValid reports whether the employee status is known
func (s EmployeeStatus) IsValid() bool {
	switch s {
	case EmployeeStatusPending, EmployeeStatusActive, EmployeeStatusOffboarding, EmployeeStatusDeparted:
		return true
	default:
		return false
	}
}
