package port

import (
	"context"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

// Repositories return (nil, nil) when a single entity is not found.
// Update methods compare the entity's Version with the stored one, bump it on
// success and fail with domainwf.ErrConcurrentModification otherwise.

// TemplateRepository defines persistence operations for WorkflowTemplate
type TemplateRepository interface {
	Create(ctx context.Context, tpl *entity.WorkflowTemplate) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	SetActive(ctx context.Context, id string, active bool) error
	// ListActiveByType returns active templates, highest version first
	ListActiveByType(ctx context.Context, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error)
	// ListVersions returns every version of a template lineage, highest first
	ListVersions(ctx context.Context, name string, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error)
}

// EmployeeRepository defines persistence operations for Employee
type EmployeeRepository interface {
	Create(ctx context.Context, emp *entity.Employee) error
	GetByID(ctx context.Context, id string) (*entity.Employee, error)
	GetByEmail(ctx context.Context, email string) (*entity.Employee, error)
	ListByStatus(ctx context.Context, status entity.EmployeeStatus) ([]*entity.Employee, error)
	UpdateStatus(ctx context.Context, id string, status entity.EmployeeStatus) error
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	Create(ctx context.Context, inst *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	Update(ctx context.Context, inst *entity.WorkflowInstance) error
	ListByEmployee(ctx context.Context, employeeID string) ([]*entity.WorkflowInstance, error)
	ListByStatus(ctx context.Context, status entity.InstanceStatus) ([]*entity.WorkflowInstance, error)
}

// TaskRepository defines persistence operations for Task
type TaskRepository interface {
	Create(ctx context.Context, task *entity.Task) error
	GetByID(ctx context.Context, id string) (*entity.Task, error)
	Update(ctx context.Context, task *entity.Task) error
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.Task, error)
	// ListByAssignee returns tasks assigned to a user; an empty status matches any
	ListByAssignee(ctx context.Context, assignee string, status entity.TaskStatus) ([]*entity.Task, error)
	// ListOverdue returns open tasks of open instances due before the given
	// time, earliest due first; limit <= 0 means no limit
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.Task, error)
}

// DependencyRepository defines persistence operations for TaskDependency
type DependencyRepository interface {
	Create(ctx context.Context, dep *entity.TaskDependency) error
	ListByInstance(ctx context.Context, instanceID string) ([]*entity.TaskDependency, error)
	ListByTask(ctx context.Context, taskID string) ([]*entity.TaskDependency, error)
	ListByPrerequisite(ctx context.Context, taskID string) ([]*entity.TaskDependency, error)
}

// AuditRepository is the append-only audit sink
type AuditRepository interface {
	// Append stores the record and assigns its Sequence
	Append(ctx context.Context, rec *entity.AuditLog) error
	// ListByEntity returns records oldest first
	ListByEntity(ctx context.Context, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error)
	// ListByActor returns records newest first; limit <= 0 means no limit
	ListByActor(ctx context.Context, actorID string, limit int) ([]*entity.AuditLog, error)
}

// TransactionManager handles database transactions.
// Repositories called with the ctx passed to fn join the transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Repositories groups every repository of one storage backend
type Repositories struct {
	Templates    TemplateRepository
	Employees    EmployeeRepository
	Instances    InstanceRepository
	Tasks        TaskRepository
	Dependencies DependencyRepository
	Audit        AuditRepository
}
