package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// AuditEntry is one state change to record
type AuditEntry struct {
	EntityType entity.EntityType
	EntityID   string
	Action     entity.AuditAction
	Actor      entity.Actor
	Details    map[string]interface{}
	At         time.Time
}

// AuditRecorder appends audit records in the caller's transaction and answers
// trail queries. Any failure to append is returned as ErrAuditWriteFailure so
// the enclosing transaction rolls back.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) (*entity.AuditLog, error)
	ByEntity(ctx context.Context, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error)
	ByActor(ctx context.Context, actorID string, limit int) ([]*entity.AuditLog, error)
}

type auditRecorder struct {
	repo   port.AuditRepository
	newID  func() string
	logger Logger
}

// RecorderOption configures the audit recorder
type RecorderOption func(*auditRecorder)

// WithAuditIDGenerator replaces the record id generator
func WithAuditIDGenerator(fn func() string) RecorderOption {
	return func(r *auditRecorder) {
		r.newID = fn
	}
}

// NewAuditRecorder creates an AuditRecorder over the audit sink
func NewAuditRecorder(repo port.AuditRepository, logger Logger, opts ...RecorderOption) AuditRecorder {
	r := &auditRecorder{
		repo:   repo,
		newID:  entity.NewID,
		logger: orNop(logger),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *auditRecorder) Record(ctx context.Context, entry AuditEntry) (*entity.AuditLog, error) {
	if err := entry.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainwf.ErrAuditWriteFailure, err)
	}

	rec := &entity.AuditLog{
		ID:            r.newID(),
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		Action:        entry.Action,
		ActorID:       entry.Actor.ID,
		ActorRole:     entry.Actor.Role,
		ChangeDetails: copyDetails(entry.Details),
		Timestamp:     entry.At,
	}

	if err := r.repo.Append(ctx, rec); err != nil {
		r.logger.Error("Failed to append audit record",
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", domainwf.ErrAuditWriteFailure, err)
	}

	return rec, nil
}

func (r *auditRecorder) ByEntity(ctx context.Context, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error) {
	logs, err := r.repo.ListByEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit by entity: %w", err)
	}
	return logs, nil
}

func (r *auditRecorder) ByActor(ctx context.Context, actorID string, limit int) ([]*entity.AuditLog, error) {
	logs, err := r.repo.ListByActor(ctx, actorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit by actor: %w", err)
	}
	return logs, nil
}

func (e AuditEntry) validate() error {
	switch {
	case e.EntityType == "":
		return errors.New("entity type is required")
	case e.EntityID == "":
		return errors.New("entity id is required")
	case e.Action == "":
		return errors.New("action is required")
	case e.Actor.ID == "":
		return errors.New("actor is required")
	case e.At.IsZero():
		return errors.New("timestamp is required")
	}
	return nil
}

func copyDetails(in map[string]interface{}) map[string]interface{} {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
