package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/graph"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
	"github.com/garyjia/employee-lifecycle/pkg/utils"
)

// CreateTemplateInput describes a new template version
type CreateTemplateInput struct {
	Name       string
	Type       entity.WorkflowType
	Definition entity.TemplateDefinition
	// Activate makes the new version the active one of its lineage
	Activate bool
	Actor    entity.Actor
	At       time.Time
}

// TemplateService manages versioned workflow templates
type TemplateService interface {
	Create(ctx context.Context, in CreateTemplateInput) (*entity.WorkflowTemplate, error)
	Activate(ctx context.Context, actor entity.Actor, id string, at time.Time) (*entity.WorkflowTemplate, error)
	Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error)
	ListActive(ctx context.Context, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error)
	ListVersions(ctx context.Context, name string, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error)
}

type templateService struct {
	repo   port.TemplateRepository
	tx     port.TransactionManager
	gate   port.Authorizer
	audit  AuditRecorder
	logger Logger
}

// NewTemplateService creates a TemplateService
func NewTemplateService(
	repo port.TemplateRepository,
	tx port.TransactionManager,
	gate port.Authorizer,
	audit AuditRecorder,
	logger Logger,
) TemplateService {
	return &templateService{
		repo:   repo,
		tx:     tx,
		gate:   gate,
		audit:  audit,
		logger: orNop(logger),
	}
}

// ValidateDefinition checks a template definition, including its dependency graph
func ValidateDefinition(def *entity.TemplateDefinition) error {
	def.Normalize()
	if err := def.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domainwf.ErrInvalidTemplate, err)
	}
	for _, step := range def.Steps {
		if err := utils.ValidateStepKey(step.Key); err != nil {
			return fmt.Errorf("%w: %v", domainwf.ErrInvalidTemplate, err)
		}
	}
	if _, err := graph.FromSteps(def.Steps); err != nil {
		var cycle *graph.CycleError
		if errors.As(err, &cycle) {
			return err
		}
		return fmt.Errorf("%w: %v", domainwf.ErrInvalidTemplate, err)
	}
	return nil
}

func (s *templateService) Create(ctx context.Context, in CreateTemplateInput) (*entity.WorkflowTemplate, error) {
	if err := s.gate.Authorize(in.Actor, policy.ActionManageTemplate, policy.Target{}).Err(); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: template name is required", domainwf.ErrInvalidInput)
	}
	if !in.Type.IsValid() {
		return nil, fmt.Errorf("%w: unknown workflow type %q", domainwf.ErrInvalidInput, in.Type)
	}

	def := in.Definition
	if err := ValidateDefinition(&def); err != nil {
		return nil, err
	}
	encoded, err := def.Encode()
	if err != nil {
		return nil, err
	}

	var created *entity.WorkflowTemplate
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		versions, err := s.repo.ListVersions(ctx, name, in.Type)
		if err != nil {
			return err
		}
		next := 1
		if len(versions) > 0 {
			next = versions[0].Version + 1
		}

		tpl := &entity.WorkflowTemplate{
			ID:         entity.NewID(),
			Name:       name,
			Type:       in.Type,
			Version:    next,
			Definition: encoded,
			CreatedBy:  in.Actor.ID,
		}
		if err := s.repo.Create(ctx, tpl); err != nil {
			return err
		}

		if _, err := s.audit.Record(ctx, AuditEntry{
			EntityType: entity.EntityTypeTemplate,
			EntityID:   tpl.ID,
			Action:     entity.AuditActionCreated,
			Actor:      in.Actor,
			At:         in.At,
			Details: map[string]interface{}{
				"name":    tpl.Name,
				"type":    string(tpl.Type),
				"version": tpl.Version,
				"steps":   len(def.Steps),
			},
		}); err != nil {
			return err
		}

		if in.Activate {
			if err := s.activate(ctx, in.Actor, tpl, in.At); err != nil {
				return err
			}
		}

		created = tpl
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create template", "name", name, "type", in.Type, "error", err)
		return nil, err
	}

	s.logger.Info("Template created",
		"template_id", created.ID,
		"name", created.Name,
		"version", created.Version,
		"active", created.Active,
	)
	return s.repo.GetByID(ctx, created.ID)
}

func (s *templateService) Activate(ctx context.Context, actor entity.Actor, id string, at time.Time) (*entity.WorkflowTemplate, error) {
	if err := s.gate.Authorize(actor, policy.ActionManageTemplate, policy.Target{}).Err(); err != nil {
		return nil, err
	}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		tpl, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if tpl == nil {
			return fmt.Errorf("%w: template %s", domainwf.ErrNotFound, id)
		}
		if tpl.Active {
			return nil
		}
		return s.activate(ctx, actor, tpl, at)
	})
	if err != nil {
		return nil, err
	}

	return s.repo.GetByID(ctx, id)
}

// activate turns tpl on and every other version of its lineage off
func (s *templateService) activate(ctx context.Context, actor entity.Actor, tpl *entity.WorkflowTemplate, at time.Time) error {
	versions, err := s.repo.ListVersions(ctx, tpl.Name, tpl.Type)
	if err != nil {
		return err
	}

	for _, v := range versions {
		if v.ID == tpl.ID || !v.Active {
			continue
		}
		if err := s.repo.SetActive(ctx, v.ID, false); err != nil {
			return err
		}
		if _, err := s.audit.Record(ctx, AuditEntry{
			EntityType: entity.EntityTypeTemplate,
			EntityID:   v.ID,
			Action:     entity.AuditActionUpdated,
			Actor:      actor,
			At:         at,
			Details:    map[string]interface{}{"active": false, "superseded_by": tpl.ID},
		}); err != nil {
			return err
		}
	}

	if err := s.repo.SetActive(ctx, tpl.ID, true); err != nil {
		return err
	}
	tpl.Active = true

	_, err = s.audit.Record(ctx, AuditEntry{
		EntityType: entity.EntityTypeTemplate,
		EntityID:   tpl.ID,
		Action:     entity.AuditActionUpdated,
		Actor:      actor,
		At:         at,
		Details:    map[string]interface{}{"active": true, "version": tpl.Version},
	})
	return err
}

func (s *templateService) Get(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	tpl, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, fmt.Errorf("%w: template %s", domainwf.ErrNotFound, id)
	}
	return tpl, nil
}

func (s *templateService) ListActive(ctx context.Context, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	return s.repo.ListActiveByType(ctx, typ)
}

func (s *templateService) ListVersions(ctx context.Context, name string, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	return s.repo.ListVersions(ctx, name, typ)
}
