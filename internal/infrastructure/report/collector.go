package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
)

// ProgressReader loads the progress view of an instance
type ProgressReader interface {
	GetInstanceProgress(ctx context.Context, actor entity.Actor, instanceID string) (*workflow.Progress, error)
}

// AuditReader loads the audit trail of one entity
type AuditReader interface {
	AuditForEntity(ctx context.Context, actor entity.Actor, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error)
}

// EmployeeReader loads an employee
type EmployeeReader interface {
	Get(ctx context.Context, id string) (*entity.Employee, error)
}

// Collector gathers everything an InstanceReport needs, with the
// permissions of the requesting actor
type Collector struct {
	progress  ProgressReader
	audit     AuditReader
	employees EmployeeReader
	now       func() time.Time
}

// NewCollector creates a Collector
func NewCollector(progress ProgressReader, audit AuditReader, employees EmployeeReader) *Collector {
	return &Collector{
		progress:  progress,
		audit:     audit,
		employees: employees,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Collect loads the instance, its employee and the merged audit trail of the
// instance and all its tasks in commit order
func (c *Collector) Collect(ctx context.Context, actor entity.Actor, instanceID string) (*InstanceReport, error) {
	p, err := c.progress.GetInstanceProgress(ctx, actor, instanceID)
	if err != nil {
		return nil, err
	}

	trail, err := c.audit.AuditForEntity(ctx, actor, entity.EntityTypeWorkflowInstance, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read instance audit: %w", err)
	}
	for _, t := range p.Tasks {
		recs, err := c.audit.AuditForEntity(ctx, actor, entity.EntityTypeTask, t.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit of task %s: %w", t.ID, err)
		}
		trail = append(trail, recs...)
	}
	sort.SliceStable(trail, func(i, j int) bool { return trail[i].Sequence < trail[j].Sequence })

	emp, err := c.employees.Get(ctx, p.Instance.EmployeeID)
	if err != nil {
		return nil, err
	}

	return &InstanceReport{
		Progress:    p,
		Employee:    emp,
		Audit:       trail,
		GeneratedAt: c.now(),
	}, nil
}
