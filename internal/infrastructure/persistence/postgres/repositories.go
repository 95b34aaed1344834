package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

type templateRepo struct{ s *Store }

const templateColumns = `id, name, type, version, definition::text, active, created_by, activated_at, created_at, updated_at`

func (r *templateRepo) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	now := time.Now().UTC()
	tpl.CreatedAt, tpl.UpdatedAt = now, now

	_, err := r.s.q(ctx).Exec(ctx, `
		INSERT INTO workflow_templates (id, name, type, version, definition, active, created_by, activated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tpl.ID, tpl.Name, string(tpl.Type), tpl.Version, tpl.Definition, tpl.Active,
		tpl.CreatedBy, tpl.ActivatedAt, tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		r.s.logger.Error("Failed to create template", zap.String("name", tpl.Name), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *templateRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	tpl, err := scanTemplate(r.s.q(ctx).QueryRow(ctx, `SELECT `+templateColumns+` FROM workflow_templates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return tpl, nil
}

func (r *templateRepo) SetActive(ctx context.Context, id string, active bool) error {
	now := time.Now().UTC()
	tag, err := r.s.q(ctx).Exec(ctx, `
		UPDATE workflow_templates
		SET active = $1, updated_at = $2,
			activated_at = CASE WHEN $1 AND activated_at IS NULL THEN $2 ELSE activated_at END
		WHERE id = $3`, active, now, id)
	if err != nil {
		return fmt.Errorf("failed to set template active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: template %s", domainwf.ErrNotFound, id)
	}
	return nil
}

func (r *templateRepo) ListActiveByType(ctx context.Context, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	return r.list(ctx, `SELECT `+templateColumns+` FROM workflow_templates WHERE type = $1 AND active ORDER BY version DESC, id`, string(typ))
}

func (r *templateRepo) ListVersions(ctx context.Context, name string, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	return r.list(ctx, `SELECT `+templateColumns+` FROM workflow_templates WHERE name = $1 AND type = $2 ORDER BY version DESC`, name, string(typ))
}

func (r *templateRepo) list(ctx context.Context, query string, args ...any) ([]*entity.WorkflowTemplate, error) {
	rows, err := r.s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []*entity.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func scanTemplate(row pgx.Row) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	var typ string
	err := row.Scan(&tpl.ID, &tpl.Name, &typ, &tpl.Version, &tpl.Definition, &tpl.Active,
		&tpl.CreatedBy, &tpl.ActivatedAt, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return nil, err
	}
	tpl.Type = entity.WorkflowType(typ)
	return &tpl, nil
}

type employeeRepo struct{ s *Store }

const employeeColumns = `id, first_name, last_name, email, job_role, department, start_date, manager_id, status, created_at, updated_at`

func (r *employeeRepo) Create(ctx context.Context, emp *entity.Employee) error {
	now := time.Now().UTC()
	emp.CreatedAt, emp.UpdatedAt = now, now

	_, err := r.s.q(ctx).Exec(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		emp.ID, emp.FirstName, emp.LastName, emp.Email, emp.JobRole, emp.Department,
		emp.StartDate, emp.ManagerID, string(emp.Status), emp.CreatedAt, emp.UpdatedAt,
	)
	if err != nil {
		r.s.logger.Error("Failed to create employee", zap.String("email", emp.Email), zap.Error(err))
		return fmt.Errorf("failed to create employee: %w", err)
	}
	return nil
}

func (r *employeeRepo) GetByID(ctx context.Context, id string) (*entity.Employee, error) {
	return r.get(ctx, `SELECT `+employeeColumns+` FROM employees WHERE id = $1`, id)
}

func (r *employeeRepo) GetByEmail(ctx context.Context, email string) (*entity.Employee, error) {
	return r.get(ctx, `SELECT `+employeeColumns+` FROM employees WHERE email = $1`, email)
}

func (r *employeeRepo) get(ctx context.Context, query, arg string) (*entity.Employee, error) {
	emp, err := scanEmployee(r.s.q(ctx).QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return emp, nil
}

func (r *employeeRepo) ListByStatus(ctx context.Context, status entity.EmployeeStatus) ([]*entity.Employee, error) {
	rows, err := r.s.q(ctx).Query(ctx, `SELECT `+employeeColumns+` FROM employees WHERE status = $1 ORDER BY email`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var out []*entity.Employee
	for rows.Next() {
		emp, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, emp)
	}
	return out, rows.Err()
}

func (r *employeeRepo) UpdateStatus(ctx context.Context, id string, status entity.EmployeeStatus) error {
	tag, err := r.s.q(ctx).Exec(ctx, `UPDATE employees SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update employee status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, id)
	}
	return nil
}

func scanEmployee(row pgx.Row) (*entity.Employee, error) {
	var emp entity.Employee
	var status string
	err := row.Scan(&emp.ID, &emp.FirstName, &emp.LastName, &emp.Email, &emp.JobRole, &emp.Department,
		&emp.StartDate, &emp.ManagerID, &status, &emp.CreatedAt, &emp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	emp.Status = entity.EmployeeStatus(status)
	return &emp, nil
}

type instanceRepo struct{ s *Store }

const instanceColumns = `id, template_id, template_version, workflow_type, employee_id, initiated_by,
	status, current_step_index, task_ids, started_at, completed_at, cancelled_at,
	version, created_at, updated_at`

func (r *instanceRepo) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	now := time.Now().UTC()
	inst.Version = 1
	inst.CreatedAt, inst.UpdatedAt = now, now

	_, err := r.s.q(ctx).Exec(ctx, `
		INSERT INTO workflow_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		inst.ID, inst.TemplateID, inst.TemplateVersion, string(inst.WorkflowType), inst.EmployeeID,
		inst.InitiatedBy, string(inst.Status), inst.CurrentStepIndex, taskIDs(inst.TaskIDs),
		inst.StartedAt, inst.CompletedAt, inst.CancelledAt, inst.Version, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		r.s.logger.Error("Failed to create instance", zap.String("id", inst.ID), zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	inst, err := scanInstance(r.s.q(ctx).QueryRow(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return inst, nil
}

func (r *instanceRepo) Update(ctx context.Context, inst *entity.WorkflowInstance) error {
	now := time.Now().UTC()
	tag, err := r.s.q(ctx).Exec(ctx, `
		UPDATE workflow_instances
		SET status = $1, current_step_index = $2, task_ids = $3,
			started_at = $4, completed_at = $5, cancelled_at = $6,
			version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`,
		string(inst.Status), inst.CurrentStepIndex, taskIDs(inst.TaskIDs),
		inst.StartedAt, inst.CompletedAt, inst.CancelledAt, now, inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.s.missOrConflict(ctx, "workflow_instances", "instance", inst.ID, inst.Version)
	}
	inst.Version++
	inst.UpdatedAt = now
	return nil
}

func (r *instanceRepo) ListByEmployee(ctx context.Context, employeeID string) ([]*entity.WorkflowInstance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE employee_id = $1 ORDER BY created_at, id`, employeeID)
}

func (r *instanceRepo) ListByStatus(ctx context.Context, status entity.InstanceStatus) ([]*entity.WorkflowInstance, error) {
	return r.list(ctx, `SELECT `+instanceColumns+` FROM workflow_instances WHERE status = $1 ORDER BY created_at, id`, string(status))
}

func (r *instanceRepo) list(ctx context.Context, query string, arg string) ([]*entity.WorkflowInstance, error) {
	rows, err := r.s.q(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var out []*entity.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanInstance(row pgx.Row) (*entity.WorkflowInstance, error) {
	var inst entity.WorkflowInstance
	var typ, status string
	err := row.Scan(&inst.ID, &inst.TemplateID, &inst.TemplateVersion, &typ, &inst.EmployeeID,
		&inst.InitiatedBy, &status, &inst.CurrentStepIndex, &inst.TaskIDs,
		&inst.StartedAt, &inst.CompletedAt, &inst.CancelledAt, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.WorkflowType = entity.WorkflowType(typ)
	inst.Status = entity.InstanceStatus(status)
	return &inst, nil
}

func taskIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

type taskRepo struct{ s *Store }

const taskColumns = `id, instance_id, step_key, title, description, task_type, status,
	assigned_to, due_date, started_at, started_by, completed_by, completed_at,
	version, created_at, updated_at`

func (r *taskRepo) Create(ctx context.Context, task *entity.Task) error {
	now := time.Now().UTC()
	task.Version = 1
	task.CreatedAt, task.UpdatedAt = now, now

	_, err := r.s.q(ctx).Exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		task.ID, task.InstanceID, task.StepKey, task.Title, task.Description, string(task.TaskType),
		string(task.Status), task.AssignedTo, task.DueDate, task.StartedAt, task.StartedBy,
		task.CompletedBy, task.CompletedAt, task.Version, task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		r.s.logger.Error("Failed to create task", zap.String("instance_id", task.InstanceID), zap.Error(err))
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *taskRepo) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	task, err := scanTask(r.s.q(ctx).QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (r *taskRepo) Update(ctx context.Context, task *entity.Task) error {
	now := time.Now().UTC()
	tag, err := r.s.q(ctx).Exec(ctx, `
		UPDATE tasks
		SET status = $1, assigned_to = $2, due_date = $3, started_at = $4, started_by = $5,
			completed_by = $6, completed_at = $7, version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10`,
		string(task.Status), task.AssignedTo, task.DueDate, task.StartedAt, task.StartedBy,
		task.CompletedBy, task.CompletedAt, now, task.ID, task.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.s.missOrConflict(ctx, "tasks", "task", task.ID, task.Version)
	}
	task.Version++
	task.UpdatedAt = now
	return nil
}

func (r *taskRepo) ListByInstance(ctx context.Context, instanceID string) ([]*entity.Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM tasks WHERE instance_id = $1 ORDER BY seq`, instanceID)
}

func (r *taskRepo) ListByAssignee(ctx context.Context, assignee string, status entity.TaskStatus) ([]*entity.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE assigned_to = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at, seq`, assignee, string(status))
}

func (r *taskRepo) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.Task, error) {
	return r.list(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status <> $1 AND due_date IS NOT NULL AND due_date < $2
			AND instance_id IN (SELECT id FROM workflow_instances WHERE status IN ($3, $4))
		ORDER BY due_date, id
		LIMIT NULLIF($5, 0)`,
		string(entity.TaskStatusCompleted), before.UTC(),
		string(entity.InstanceStatusNotStarted), string(entity.InstanceStatusInProgress), max(limit, 0))
}

func (r *taskRepo) list(ctx context.Context, query string, args ...any) ([]*entity.Task, error) {
	rows, err := r.s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var out []*entity.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (*entity.Task, error) {
	var task entity.Task
	var typ, status string
	err := row.Scan(&task.ID, &task.InstanceID, &task.StepKey, &task.Title, &task.Description, &typ, &status,
		&task.AssignedTo, &task.DueDate, &task.StartedAt, &task.StartedBy, &task.CompletedBy, &task.CompletedAt,
		&task.Version, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.TaskType = entity.TaskType(typ)
	task.Status = entity.TaskStatus(status)
	return &task, nil
}

type dependencyRepo struct{ s *Store }

const dependencyColumns = `id, instance_id, task_id, prerequisite_task_id, dependency_type, created_at`

func (r *dependencyRepo) Create(ctx context.Context, dep *entity.TaskDependency) error {
	dep.CreatedAt = time.Now().UTC()
	_, err := r.s.q(ctx).Exec(ctx, `INSERT INTO task_dependencies (`+dependencyColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		dep.ID, dep.InstanceID, dep.TaskID, dep.PrerequisiteTaskID, string(dep.DependencyType), dep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dependency: %w", err)
	}
	return nil
}

func (r *dependencyRepo) ListByInstance(ctx context.Context, instanceID string) ([]*entity.TaskDependency, error) {
	return r.list(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE instance_id = $1 ORDER BY created_at, id`, instanceID)
}

func (r *dependencyRepo) ListByTask(ctx context.Context, taskID string) ([]*entity.TaskDependency, error) {
	return r.list(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE task_id = $1 ORDER BY created_at, id`, taskID)
}

func (r *dependencyRepo) ListByPrerequisite(ctx context.Context, taskID string) ([]*entity.TaskDependency, error) {
	return r.list(ctx, `SELECT `+dependencyColumns+` FROM task_dependencies WHERE prerequisite_task_id = $1 ORDER BY created_at, id`, taskID)
}

func (r *dependencyRepo) list(ctx context.Context, query, arg string) ([]*entity.TaskDependency, error) {
	rows, err := r.s.q(ctx).Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list dependencies: %w", err)
	}
	defer rows.Close()

	var out []*entity.TaskDependency
	for rows.Next() {
		var dep entity.TaskDependency
		var typ string
		if err := rows.Scan(&dep.ID, &dep.InstanceID, &dep.TaskID, &dep.PrerequisiteTaskID, &typ, &dep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		dep.DependencyType = entity.DependencyType(typ)
		out = append(out, &dep)
	}
	return out, rows.Err()
}

type auditRepo struct{ s *Store }

const auditColumns = `sequence, id, entity_type, entity_id, action, actor_id, actor_role, change_details, timestamp`

func (r *auditRepo) Append(ctx context.Context, rec *entity.AuditLog) error {
	details := rec.ChangeDetails
	if details == nil {
		details = map[string]interface{}{}
	}

	err := r.s.q(ctx).QueryRow(ctx, `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, actor_id, actor_role, change_details, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING sequence`,
		rec.ID, string(rec.EntityType), rec.EntityID, string(rec.Action), rec.ActorID,
		string(rec.ActorRole), details, rec.Timestamp.UTC(),
	).Scan(&rec.Sequence)
	if err != nil {
		r.s.logger.Error("Failed to append audit log",
			zap.String("entity_type", string(rec.EntityType)),
			zap.String("entity_id", rec.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to append audit log: %w", err)
	}
	return nil
}

func (r *auditRepo) ListByEntity(ctx context.Context, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error) {
	return r.list(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE entity_type = $1 AND entity_id = $2 ORDER BY sequence`,
		string(entityType), entityID)
}

func (r *auditRepo) ListByActor(ctx context.Context, actorID string, limit int) ([]*entity.AuditLog, error) {
	if limit <= 0 {
		return r.list(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE actor_id = $1 ORDER BY timestamp DESC, sequence DESC`, actorID)
	}
	return r.list(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE actor_id = $1 ORDER BY timestamp DESC, sequence DESC LIMIT $2`,
		actorID, limit)
}

func (r *auditRepo) list(ctx context.Context, query string, args ...any) ([]*entity.AuditLog, error) {
	rows, err := r.s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var out []*entity.AuditLog
	for rows.Next() {
		var rec entity.AuditLog
		var entityType, action, role string
		if err := rows.Scan(&rec.Sequence, &rec.ID, &entityType, &rec.EntityID, &action, &rec.ActorID,
			&role, &rec.ChangeDetails, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		rec.EntityType = entity.EntityType(entityType)
		rec.Action = entity.AuditAction(action)
		rec.ActorRole = entity.Role(role)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s *Store) missOrConflict(ctx context.Context, table, kind, id string, expected int64) error {
	var stored int64
	err := s.q(ctx).QueryRow(ctx, `SELECT version FROM `+table+` WHERE id = $1`, id).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", domainwf.ErrNotFound, kind, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s version: %w", kind, err)
	}
	return fmt.Errorf("%w: %s %s at version %d, expected %d",
		domainwf.ErrConcurrentModification, kind, id, stored, expected)
}
