package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// EmployeeRepository implements port.EmployeeRepository
type EmployeeRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewEmployeeRepository creates a new employee repository
func NewEmployeeRepository(db *sqlite.DB, logger *zap.Logger) port.EmployeeRepository {
	return &EmployeeRepository{
		db:     db,
		logger: logger,
	}
}

const employeeColumns = `id, first_name, last_name, email, job_role, department, start_date, manager_id, status, created_at, updated_at`

// Create inserts an employee
func (r *EmployeeRepository) Create(ctx context.Context, emp *entity.Employee) error {
	query := `
		INSERT INTO employees (` + employeeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	emp.CreatedAt, emp.UpdatedAt = now, now

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		emp.ID,
		emp.FirstName,
		emp.LastName,
		emp.Email,
		emp.JobRole,
		emp.Department,
		nullTime(emp.StartDate),
		emp.ManagerID,
		emp.Status,
		emp.CreatedAt,
		emp.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create employee", zap.String("email", emp.Email), zap.Error(err))
		return fmt.Errorf("failed to create employee: %w", err)
	}

	return nil
}

// GetByID retrieves an employee by ID
func (r *EmployeeRepository) GetByID(ctx context.Context, id string) (*entity.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = ?`
	return r.get(ctx, query, id)
}

// GetByEmail retrieves an employee by email
func (r *EmployeeRepository) GetByEmail(ctx context.Context, email string) (*entity.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE email = ?`
	return r.get(ctx, query, email)
}

func (r *EmployeeRepository) get(ctx context.Context, query string, arg string) (*entity.Employee, error) {
	emp, err := scanEmployee(r.db.Executor(ctx).QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get employee", zap.String("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return emp, nil
}

// ListByStatus returns employees in a lifecycle status ordered by email
func (r *EmployeeRepository) ListByStatus(ctx context.Context, status entity.EmployeeStatus) ([]*entity.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE status = ? ORDER BY email`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, status)
	if err != nil {
		r.logger.Error("Failed to list employees", zap.String("status", string(status)), zap.Error(err))
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []*entity.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		employees = append(employees, emp)
	}

	return employees, rows.Err()
}

// UpdateStatus updates the lifecycle status of an employee
func (r *EmployeeRepository) UpdateStatus(ctx context.Context, id string, status entity.EmployeeStatus) error {
	query := `UPDATE employees SET status = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		r.logger.Error("Failed to update employee status", zap.String("id", id), zap.Error(err))
		return fmt.Errorf("failed to update employee status: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, id)
	}

	return nil
}

func scanEmployee(row rowScanner) (*entity.Employee, error) {
	var emp entity.Employee
	var startDate sql.NullTime

	err := row.Scan(
		&emp.ID,
		&emp.FirstName,
		&emp.LastName,
		&emp.Email,
		&emp.JobRole,
		&emp.Department,
		&startDate,
		&emp.ManagerID,
		&emp.Status,
		&emp.CreatedAt,
		&emp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	emp.StartDate = timePtr(startDate)
	return &emp, nil
}
