package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DependencyRepository implements port.DependencyRepository
type DependencyRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewDependencyRepository creates a new task dependency repository
func NewDependencyRepository(db *sqlite.DB, logger *zap.Logger) port.DependencyRepository {
	return &DependencyRepository{
		db:     db,
		logger: logger,
	}
}

const dependencyColumns = `id, instance_id, task_id, prerequisite_task_id, dependency_type, created_at`

// Create inserts a dependency edge
func (r *DependencyRepository) Create(ctx context.Context, dep *entity.TaskDependency) error {
	query := `INSERT INTO task_dependencies (` + dependencyColumns + `) VALUES (?, ?, ?, ?, ?, ?)`

	dep.CreatedAt = time.Now().UTC()
	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		dep.ID,
		dep.InstanceID,
		dep.TaskID,
		dep.PrerequisiteTaskID,
		dep.DependencyType,
		dep.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create dependency",
			zap.String("task_id", dep.TaskID),
			zap.String("prerequisite_task_id", dep.PrerequisiteTaskID),
			zap.Error(err))
		return fmt.Errorf("failed to create dependency: %w", err)
	}

	return nil
}

// ListByInstance returns every edge of an instance
func (r *DependencyRepository) ListByInstance(ctx context.Context, instanceID string) ([]*entity.TaskDependency, error) {
	return r.list(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE instance_id = ? ORDER BY rowid`, instanceID)
}

// ListByTask returns the prerequisites edges of a task
func (r *DependencyRepository) ListByTask(ctx context.Context, taskID string) ([]*entity.TaskDependency, error) {
	return r.list(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE task_id = ? ORDER BY rowid`, taskID)
}

// ListByPrerequisite returns the edges pointing at a prerequisite
func (r *DependencyRepository) ListByPrerequisite(ctx context.Context, taskID string) ([]*entity.TaskDependency, error) {
	return r.list(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE prerequisite_task_id = ? ORDER BY rowid`, taskID)
}

func (r *DependencyRepository) list(ctx context.Context, query string, arg string) ([]*entity.TaskDependency, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		r.logger.Error("Failed to list dependencies", zap.String("key", arg), zap.Error(err))
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var deps []*entity.TaskDependency
	for rows.Next() {
		var dep entity.TaskDependency
		if err := rows.Scan(
			&dep.ID,
			&dep.InstanceID,
			&dep.TaskID,
			&dep.PrerequisiteTaskID,
			&dep.DependencyType,
			&dep.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		deps = append(deps, &dep)
	}

	return deps, rows.Err()
}
