package service

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// QueryService answers read-side questions. Every query is gated.
type QueryService interface {
	// TasksForAssignee lists tasks assigned to assignee; an empty status matches any
	TasksForAssignee(ctx context.Context, actor entity.Actor, assignee string, status entity.TaskStatus) ([]*entity.Task, error)
	TasksForInstance(ctx context.Context, actor entity.Actor, instanceID string) ([]*entity.Task, error)
	InstancesForEmployee(ctx context.Context, actor entity.Actor, employeeID string) ([]*entity.WorkflowInstance, error)
	InstancesByStatus(ctx context.Context, actor entity.Actor, status entity.InstanceStatus) ([]*entity.WorkflowInstance, error)
	// OverdueTasks lists open tasks of open instances due before the given time
	OverdueTasks(ctx context.Context, actor entity.Actor, before time.Time, limit int) ([]*entity.Task, error)
	// Prerequisites lists the edges on which taskID depends
	Prerequisites(ctx context.Context, actor entity.Actor, taskID string) ([]*entity.TaskDependency, error)
	// Dependents lists the edges that depend on taskID
	Dependents(ctx context.Context, actor entity.Actor, taskID string) ([]*entity.TaskDependency, error)
	AuditForEntity(ctx context.Context, actor entity.Actor, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error)
	AuditForActor(ctx context.Context, actor entity.Actor, actorID string, limit int) ([]*entity.AuditLog, error)
}

type queryService struct {
	repos port.Repositories
	gate  port.Authorizer
	audit AuditRecorder
}

// NewQueryService creates a QueryService
func NewQueryService(repos port.Repositories, gate port.Authorizer, audit AuditRecorder) QueryService {
	return &queryService{repos: repos, gate: gate, audit: audit}
}

func (s *queryService) TasksForAssignee(ctx context.Context, actor entity.Actor, assignee string, status entity.TaskStatus) ([]*entity.Task, error) {
	if err := s.gate.Authorize(actor, policy.ActionViewTasks, policy.Target{OwnerID: assignee}).Err(); err != nil {
		return nil, err
	}
	return s.repos.Tasks.ListByAssignee(ctx, assignee, status)
}

func (s *queryService) TasksForInstance(ctx context.Context, actor entity.Actor, instanceID string) ([]*entity.Task, error) {
	if _, err := s.authorizeInstance(ctx, actor, instanceID); err != nil {
		return nil, err
	}
	return s.repos.Tasks.ListByInstance(ctx, instanceID)
}

func (s *queryService) InstancesForEmployee(ctx context.Context, actor entity.Actor, employeeID string) ([]*entity.WorkflowInstance, error) {
	emp, err := s.repos.Employees.GetByID(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, employeeID)
	}
	if err := s.gate.Authorize(actor, policy.ActionViewInstance, policy.Target{Employee: emp}).Err(); err != nil {
		return nil, err
	}
	return s.repos.Instances.ListByEmployee(ctx, employeeID)
}

// InstancesByStatus spans every employee, so only full-access roles pass the gate
func (s *queryService) InstancesByStatus(ctx context.Context, actor entity.Actor, status entity.InstanceStatus) ([]*entity.WorkflowInstance, error) {
	if err := s.gate.Authorize(actor, policy.ActionViewInstance, policy.Target{}).Err(); err != nil {
		return nil, err
	}
	return s.repos.Instances.ListByStatus(ctx, status)
}

func (s *queryService) OverdueTasks(ctx context.Context, actor entity.Actor, before time.Time, limit int) ([]*entity.Task, error) {
	if err := s.gate.Authorize(actor, policy.ActionViewInstance, policy.Target{}).Err(); err != nil {
		return nil, err
	}
	return s.repos.Tasks.ListOverdue(ctx, before, limit)
}

func (s *queryService) Prerequisites(ctx context.Context, actor entity.Actor, taskID string) ([]*entity.TaskDependency, error) {
	if err := s.authorizeTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	return s.repos.Dependencies.ListByTask(ctx, taskID)
}

func (s *queryService) Dependents(ctx context.Context, actor entity.Actor, taskID string) ([]*entity.TaskDependency, error) {
	if err := s.authorizeTask(ctx, actor, taskID); err != nil {
		return nil, err
	}
	return s.repos.Dependencies.ListByPrerequisite(ctx, taskID)
}

func (s *queryService) AuditForEntity(ctx context.Context, actor entity.Actor, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error) {
	target, err := s.auditTarget(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(actor, policy.ActionViewAudit, target).Err(); err != nil {
		return nil, err
	}
	return s.audit.ByEntity(ctx, entityType, entityID)
}

func (s *queryService) AuditForActor(ctx context.Context, actor entity.Actor, actorID string, limit int) ([]*entity.AuditLog, error) {
	if err := s.gate.Authorize(actor, policy.ActionViewAudit, policy.Target{OwnerID: actorID}).Err(); err != nil {
		return nil, err
	}
	return s.audit.ByActor(ctx, actorID, limit)
}

func (s *queryService) authorizeInstance(ctx context.Context, actor entity.Actor, instanceID string) (*entity.WorkflowInstance, error) {
	inst, err := s.repos.Instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: instance %s", domainwf.ErrNotFound, instanceID)
	}
	emp, err := s.repos.Employees.GetByID(ctx, inst.EmployeeID)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(actor, policy.ActionViewInstance, policy.Target{Employee: emp, Instance: inst}).Err(); err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *queryService) authorizeTask(ctx context.Context, actor entity.Actor, taskID string) error {
	task, err := s.repos.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
	}
	inst, err := s.repos.Instances.GetByID(ctx, task.InstanceID)
	if err != nil {
		return err
	}
	var emp *entity.Employee
	if inst != nil {
		if emp, err = s.repos.Employees.GetByID(ctx, inst.EmployeeID); err != nil {
			return err
		}
	}
	return s.gate.Authorize(actor, policy.ActionViewInstance, policy.Target{Employee: emp, Instance: inst, Task: task}).Err()
}

// auditTarget resolves the employee behind an audited entity so manager rules can apply
func (s *queryService) auditTarget(ctx context.Context, entityType entity.EntityType, entityID string) (policy.Target, error) {
	var target policy.Target
	var err error

	switch entityType {
	case entity.EntityTypeEmployee:
		target.Employee, err = s.repos.Employees.GetByID(ctx, entityID)
	case entity.EntityTypeWorkflowInstance:
		if target.Instance, err = s.repos.Instances.GetByID(ctx, entityID); err == nil && target.Instance != nil {
			target.Employee, err = s.repos.Employees.GetByID(ctx, target.Instance.EmployeeID)
		}
	case entity.EntityTypeTask:
		if target.Task, err = s.repos.Tasks.GetByID(ctx, entityID); err == nil && target.Task != nil {
			if target.Instance, err = s.repos.Instances.GetByID(ctx, target.Task.InstanceID); err == nil && target.Instance != nil {
				target.Employee, err = s.repos.Employees.GetByID(ctx, target.Instance.EmployeeID)
			}
		}
	}
	return target, err
}
