package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AuditRepository implements port.AuditRepository over the append-only audit_logs table
type AuditRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlite.DB, logger *zap.Logger) port.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

const auditColumns = `sequence, id, entity_type, entity_id, action, actor_id, actor_role, change_details, timestamp`

// Append inserts an audit record and assigns its sequence
func (r *AuditRepository) Append(ctx context.Context, rec *entity.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, entity_type, entity_id, action, actor_id, actor_role, change_details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	details := rec.ChangeDetails
	if details == nil {
		details = map[string]interface{}{}
	}
	encoded, err := encodeJSON(details)
	if err != nil {
		return err
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		rec.ID,
		rec.EntityType,
		rec.EntityID,
		rec.Action,
		rec.ActorID,
		rec.ActorRole,
		encoded,
		rec.Timestamp.UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to append audit log",
			zap.String("entity_type", string(rec.EntityType)),
			zap.String("entity_id", rec.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to append audit log: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit sequence: %w", err)
	}

	rec.Sequence = seq
	return nil
}

// ListByEntity returns the trail of one entity, oldest first
func (r *AuditRepository) ListByEntity(ctx context.Context, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE entity_type = ? AND entity_id = ? ORDER BY sequence`
	return r.list(ctx, query, entityType, entityID)
}

// ListByActor returns what one actor did, newest first
func (r *AuditRepository) ListByActor(ctx context.Context, actorID string, limit int) ([]*entity.AuditLog, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE actor_id = ? ORDER BY timestamp DESC, sequence DESC LIMIT ?`
	return r.list(ctx, query, actorID, limit)
}

func (r *AuditRepository) list(ctx context.Context, query string, args ...interface{}) ([]*entity.AuditLog, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list audit logs", zap.Error(err))
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*entity.AuditLog
	for rows.Next() {
		var rec entity.AuditLog
		var details string
		if err := rows.Scan(
			&rec.Sequence,
			&rec.ID,
			&rec.EntityType,
			&rec.EntityID,
			&rec.Action,
			&rec.ActorID,
			&rec.ActorRole,
			&details,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if err := json.Unmarshal([]byte(details), &rec.ChangeDetails); err != nil {
			return nil, fmt.Errorf("failed to decode change details: %w", err)
		}
		logs = append(logs, &rec)
	}

	return logs, rows.Err()
}
