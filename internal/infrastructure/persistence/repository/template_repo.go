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

// TemplateRepository implements port.TemplateRepository
type TemplateRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewTemplateRepository creates a new template repository
func NewTemplateRepository(db *sqlite.DB, logger *zap.Logger) port.TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

const templateColumns = `id, name, type, version, definition, active, created_by, activated_at, created_at, updated_at`

// Create inserts a new template version
func (r *TemplateRepository) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC()
	tpl.CreatedAt, tpl.UpdatedAt = now, now

	_, err := r.db.Executor(ctx).ExecContext(ctx, query,
		tpl.ID,
		tpl.Name,
		tpl.Type,
		tpl.Version,
		tpl.Definition,
		tpl.Active,
		tpl.CreatedBy,
		nullTime(tpl.ActivatedAt),
		tpl.CreatedAt,
		tpl.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create template", zap.String("name", tpl.Name), zap.Error(err))
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

// GetByID retrieves a template by ID
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM workflow_templates WHERE id = ?`

	tpl, err := scanTemplate(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get template by ID", zap.String("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	return tpl, nil
}

// SetActive flips the active flag; activated_at is stamped on first activation
func (r *TemplateRepository) SetActive(ctx context.Context, id string, active bool) error {
	now := time.Now().UTC()
	query := `
		UPDATE workflow_templates
		SET active = ?, updated_at = ?,
			activated_at = CASE WHEN ? AND activated_at IS NULL THEN ? ELSE activated_at END
		WHERE id = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query, active, now, active, now, id)
	if err != nil {
		r.logger.Error("Failed to set template active", zap.String("id", id), zap.Bool("active", active), zap.Error(err))
		return fmt.Errorf("failed to set template active: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: template %s", domainwf.ErrNotFound, id)
	}

	return nil
}

// ListActiveByType returns active templates of a type, highest version first
func (r *TemplateRepository) ListActiveByType(ctx context.Context, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	query := `
		SELECT ` + templateColumns + ` FROM workflow_templates
		WHERE type = ? AND active = 1
		ORDER BY version DESC, id
	`
	return r.list(ctx, query, typ)
}

// ListVersions returns every version of a template lineage, highest first
func (r *TemplateRepository) ListVersions(ctx context.Context, name string, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	query := `
		SELECT ` + templateColumns + ` FROM workflow_templates
		WHERE name = ? AND type = ?
		ORDER BY version DESC
	`
	return r.list(ctx, query, name, typ)
}

func (r *TemplateRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.WorkflowTemplate, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list templates", zap.Error(err))
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*entity.WorkflowTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, tpl)
	}

	return templates, rows.Err()
}

func scanTemplate(row rowScanner) (*entity.WorkflowTemplate, error) {
	var tpl entity.WorkflowTemplate
	var activatedAt sql.NullTime

	err := row.Scan(
		&tpl.ID,
		&tpl.Name,
		&tpl.Type,
		&tpl.Version,
		&tpl.Definition,
		&tpl.Active,
		&tpl.CreatedBy,
		&activatedAt,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tpl.ActivatedAt = timePtr(activatedAt)
	return &tpl, nil
}
