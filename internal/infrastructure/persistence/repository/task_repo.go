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

// TaskRepository implements port.TaskRepository
type TaskRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqlite.DB, logger *zap.Logger) port.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

const taskColumns = `id, instance_id, step_key, title, description, task_type, status,
	assigned_to, due_date, started_at, started_by, completed_by, completed_at,
	version, created_at, updated_at`

// Create inserts a task at version 1
func (r *TaskRepository) Create(ctx context.Context, task *entity.Task) error {
	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	task.Version = 1
	task.CreatedAt, task.UpdatedAt = now, now

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		task.ID,
		task.InstanceID,
		task.StepKey,
		task.Title,
		task.Description,
		task.TaskType,
		task.Status,
		task.AssignedTo,
		nullTime(task.DueDate),
		nullTime(task.StartedAt),
		task.StartedBy,
		task.CompletedBy,
		nullTime(task.CompletedAt),
		task.Version,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create task",
			zap.String("instance_id", task.InstanceID),
			zap.String("step_key", task.StepKey),
			zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get task by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// Update saves the task if its version still matches and bumps the version
func (r *TaskRepository) Update(ctx context.Context, task *entity.Task) error {
	query := `
		UPDATE tasks
		SET status = ?, assigned_to = ?, due_date = ?, started_at = ?, started_by = ?,
			completed_by = ?, completed_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`

	now := time.Now().UTC()
	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		task.Status,
		task.AssignedTo,
		nullTime(task.DueDate),
		nullTime(task.StartedAt),
		task.StartedBy,
		task.CompletedBy,
		nullTime(task.CompletedAt),
		now,
		task.ID,
		task.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update task", zap.String("id", task.ID), zap.Error(err))
		return fmt.Errorf("failed to update task: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var stored int64
		err := r.db.Executor(ctx).QueryRowContext(ctx, `SELECT version FROM tasks WHERE id = ?`, task.ID).Scan(&stored)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: task %s", domainwf.ErrNotFound, task.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to read task version: %w", err)
		}
		return fmt.Errorf("%w: task %s at version %d, expected %d",
			domainwf.ErrConcurrentModification, task.ID, stored, task.Version)
	}

	task.Version++
	task.UpdatedAt = now
	return nil
}

// ListByInstance returns the tasks of an instance in creation order
func (r *TaskRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE instance_id = ? ORDER BY rowid`
	return r.list(ctx, query, instanceID)
}

// ListByAssignee returns tasks assigned to a user; an empty status matches any
func (r *TaskRepository) ListByAssignee(ctx context.Context, assignee string, status entity.TaskStatus) ([]*entity.Task, error) {
	if status == "" {
		query := `SELECT ` + taskColumns + ` FROM tasks WHERE assigned_to = ? ORDER BY created_at, rowid`
		return r.list(ctx, query, assignee)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE assigned_to = ? AND status = ? ORDER BY created_at, rowid`
	return r.list(ctx, query, assignee, status)
}

// ListOverdue returns open tasks of open instances due before the given time
func (r *TaskRepository) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM tasks
		WHERE status != ? AND due_date IS NOT NULL AND due_date < ?
			AND instance_id IN (SELECT id FROM workflow_instances WHERE status IN (?, ?))
		ORDER BY due_date, id`
	args := []interface{}{
		entity.TaskStatusCompleted, before.UTC(),
		entity.InstanceStatusNotStarted, entity.InstanceStatusInProgress,
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.list(ctx, query, args...)
}

func (r *TaskRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.Task, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list tasks", zap.Error(err))
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*entity.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*entity.Task, error) {
	var task entity.Task
	var dueDate, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.InstanceID,
		&task.StepKey,
		&task.Title,
		&task.Description,
		&task.TaskType,
		&task.Status,
		&task.AssignedTo,
		&dueDate,
		&startedAt,
		&task.StartedBy,
		&task.CompletedBy,
		&completedAt,
		&task.Version,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.DueDate = timePtr(dueDate)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)
	return &task, nil
}
