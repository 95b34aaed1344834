package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
	"github.com/garyjia/employee-lifecycle/pkg/utils"
)

// CreateEmployeeInput describes a new employee record
type CreateEmployeeInput struct {
	FirstName  string
	LastName   string
	Email      string
	JobRole    string
	Department string
	StartDate  *time.Time
	ManagerID  string
	Actor      entity.Actor
	At         time.Time
}

// EmployeeService manages the subjects of lifecycle workflows
type EmployeeService interface {
	Create(ctx context.Context, in CreateEmployeeInput) (*entity.Employee, error)
	Get(ctx context.Context, id string) (*entity.Employee, error)
	FindByEmail(ctx context.Context, email string) (*entity.Employee, error)
	ListByStatus(ctx context.Context, status entity.EmployeeStatus) ([]*entity.Employee, error)
	UpdateStatus(ctx context.Context, actor entity.Actor, id string, status entity.EmployeeStatus, at time.Time) (*entity.Employee, error)
}

type employeeService struct {
	repo   port.EmployeeRepository
	tx     port.TransactionManager
	gate   port.Authorizer
	audit  AuditRecorder
	logger Logger
}

// NewEmployeeService creates an EmployeeService
func NewEmployeeService(
	repo port.EmployeeRepository,
	tx port.TransactionManager,
	gate port.Authorizer,
	audit AuditRecorder,
	logger Logger,
) EmployeeService {
	return &employeeService{
		repo:   repo,
		tx:     tx,
		gate:   gate,
		audit:  audit,
		logger: orNop(logger),
	}
}

func (s *employeeService) Create(ctx context.Context, in CreateEmployeeInput) (*entity.Employee, error) {
	if err := s.gate.Authorize(in.Actor, policy.ActionManageEmployee, policy.Target{}).Err(); err != nil {
		return nil, err
	}

	emp := &entity.Employee{
		ID:         entity.NewID(),
		FirstName:  utils.SanitizeString(strings.TrimSpace(in.FirstName)),
		LastName:   utils.SanitizeString(strings.TrimSpace(in.LastName)),
		Email:      strings.ToLower(strings.TrimSpace(in.Email)),
		JobRole:    utils.SanitizeString(in.JobRole),
		Department: utils.SanitizeString(in.Department),
		StartDate:  in.StartDate,
		ManagerID:  in.ManagerID,
		Status:     entity.EmployeeStatusPending,
	}

	if emp.FirstName == "" {
		return nil, fmt.Errorf("%w: first name is required", domainwf.ErrInvalidInput)
	}
	if err := utils.ValidateEmail(emp.Email); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrInvalidInput, err)
	}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.repo.GetByEmail(ctx, emp.Email)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: employee with email %s already exists", domainwf.ErrInvalidInput, emp.Email)
		}

		if err := s.repo.Create(ctx, emp); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, AuditEntry{
			EntityType: entity.EntityTypeEmployee,
			EntityID:   emp.ID,
			Action:     entity.AuditActionCreated,
			Actor:      in.Actor,
			At:         in.At,
			Details: map[string]interface{}{
				"email":      emp.Email,
				"job_role":   emp.JobRole,
				"manager_id": emp.ManagerID,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Employee created", "employee_id", emp.ID, "email", emp.Email)
	return emp, nil
}

func (s *employeeService) Get(ctx context.Context, id string) (*entity.Employee, error) {
	emp, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, id)
	}
	return emp, nil
}

func (s *employeeService) FindByEmail(ctx context.Context, email string) (*entity.Employee, error) {
	emp, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	if emp == nil {
		return nil, fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, email)
	}
	return emp, nil
}

func (s *employeeService) ListByStatus(ctx context.Context, status entity.EmployeeStatus) ([]*entity.Employee, error) {
	return s.repo.ListByStatus(ctx, status)
}

func (s *employeeService) UpdateStatus(ctx context.Context, actor entity.Actor, id string, status entity.EmployeeStatus, at time.Time) (*entity.Employee, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown employee status %q", domainwf.ErrInvalidInput, status)
	}

	var updated *entity.Employee
	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		emp, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if emp == nil {
			return fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, id)
		}
		if err := s.gate.Authorize(actor, policy.ActionManageEmployee, policy.Target{Employee: emp}).Err(); err != nil {
			return err
		}
		if emp.Status == status {
			updated = emp
			return nil
		}

		if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, AuditEntry{
			EntityType: entity.EntityTypeEmployee,
			EntityID:   id,
			Action:     entity.AuditActionStatusChanged,
			Actor:      actor,
			At:         at,
			Details:    map[string]interface{}{"from": string(emp.Status), "to": string(status)},
		}); err != nil {
			return err
		}

		emp.Status = status
		updated = emp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
