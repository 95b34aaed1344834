package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sqlite.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, template_id, template_version, workflow_type, employee_id, initiated_by,
	status, current_step_index, task_ids, started_at, completed_at, cancelled_at,
	version, created_at, updated_at`

// Create inserts a new workflow instance at version 1
func (r *InstanceRepository) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (` + instanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	taskIDs, err := encodeJSON(nonNil(inst.TaskIDs))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	inst.Version = 1
	inst.CreatedAt, inst.UpdatedAt = now, now

	_, err = r.db.Executor(ctx).ExecContext(ctx, query,
		inst.ID,
		inst.TemplateID,
		inst.TemplateVersion,
		inst.WorkflowType,
		inst.EmployeeID,
		inst.InitiatedBy,
		inst.Status,
		inst.CurrentStepIndex,
		taskIDs,
		nullTime(inst.StartedAt),
		nullTime(inst.CompletedAt),
		nullTime(inst.CancelledAt),
		inst.Version,
		inst.CreatedAt,
		inst.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.String("id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	inst, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return inst, nil
}

// Update saves the instance if its version still matches and bumps the version
func (r *InstanceRepository) Update(ctx context.Context, inst *entity.WorkflowInstance) error {
	query := `
		UPDATE workflow_instances
		SET status = ?, current_step_index = ?, task_ids = ?,
			started_at = ?, completed_at = ?, cancelled_at = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	taskIDs, err := encodeJSON(nonNil(inst.TaskIDs))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		inst.Status,
		inst.CurrentStepIndex,
		taskIDs,
		nullTime(inst.StartedAt),
		nullTime(inst.CompletedAt),
		nullTime(inst.CancelledAt),
		now,
		inst.ID,
		inst.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.String("id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to update instance: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return r.missOrConflict(ctx, inst)
	}

	inst.Version++
	inst.UpdatedAt = now
	return nil
}

func (r *InstanceRepository) missOrConflict(ctx context.Context, inst *entity.WorkflowInstance) error {
	var stored int64
	err := r.db.Executor(ctx).QueryRowContext(ctx, `SELECT version FROM workflow_instances WHERE id = ?`, inst.ID).Scan(&stored)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: instance %s", domainwf.ErrNotFound, inst.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to read instance version: %w", err)
	}
	r.logger.Info("Instance version conflict",
		zap.String("id", inst.ID),
		zap.Int64("expected", inst.Version),
		zap.Int64("actual", stored))
	return fmt.Errorf("%w: instance %s at version %d, expected %d",
		domainwf.ErrConcurrentModification, inst.ID, stored, inst.Version)
}

// ListByEmployee returns the instances of one employee, oldest first
func (r *InstanceRepository) ListByEmployee(ctx context.Context, employeeID string) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE employee_id = ? ORDER BY created_at, id`
	return r.list(ctx, query, employeeID)
}

// ListByStatus returns instances in a status, oldest first
func (r *InstanceRepository) ListByStatus(ctx context.Context, status entity.InstanceStatus) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE status = ? ORDER BY created_at, id`
	return r.list(ctx, query, status)
}

func (r *InstanceRepository) list(ctx context.Context, query string, arg interface{}) ([]*entity.WorkflowInstance, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, inst)
	}

	return instances, rows.Err()
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	var taskIDs string
	var startedAt, completedAt, cancelledAt sql.NullTime

	err := row.Scan(
		&inst.ID,
		&inst.TemplateID,
		&inst.TemplateVersion,
		&inst.WorkflowType,
		&inst.EmployeeID,
		&inst.InitiatedBy,
		&inst.Status,
		&inst.CurrentStepIndex,
		&taskIDs,
		&startedAt,
		&completedAt,
		&cancelledAt,
		&inst.Version,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(taskIDs), &inst.TaskIDs); err != nil {
		return nil, fmt.Errorf("failed to decode task ids: %w", err)
	}
	inst.StartedAt = timePtr(startedAt)
	inst.CompletedAt = timePtr(completedAt)
	inst.CancelledAt = timePtr(cancelledAt)
	return &inst, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
