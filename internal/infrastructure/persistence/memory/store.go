// Package memory is an in-process storage backend. Transactions are serialized
// and rolled back by restoring a snapshot, so it offers serializable isolation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

type contextKey string

const txKey contextKey = "memory-tx"

type state struct {
	templates    map[string]*entity.WorkflowTemplate
	employees    map[string]*entity.Employee
	instances    map[string]*entity.WorkflowInstance
	tasks        map[string]*entity.Task
	dependencies map[string]*entity.TaskDependency
	audit        []*entity.AuditLog
	auditSeq     int64
}

func newState() *state {
	return &state{
		templates:    make(map[string]*entity.WorkflowTemplate),
		employees:    make(map[string]*entity.Employee),
		instances:    make(map[string]*entity.WorkflowInstance),
		tasks:        make(map[string]*entity.Task),
		dependencies: make(map[string]*entity.TaskDependency),
	}
}

func (s *state) snapshot() *state {
	c := newState()
	for k, v := range s.templates {
		cp := *v
		c.templates[k] = &cp
	}
	for k, v := range s.employees {
		cp := *v
		c.employees[k] = &cp
	}
	for k, v := range s.instances {
		c.instances[k] = v.Clone()
	}
	for k, v := range s.tasks {
		c.tasks[k] = v.Clone()
	}
	for k, v := range s.dependencies {
		cp := *v
		c.dependencies[k] = &cp
	}
	c.audit = append([]*entity.AuditLog(nil), s.audit...)
	c.auditSeq = s.auditSeq
	return c
}

// Store holds all entities in memory and implements port.TransactionManager
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	data *state
	now  func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithClock sets the clock used for created_at/updated_at bookkeeping
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{data: newState(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repositories returns the repository bundle backed by this store
func (s *Store) Repositories() port.Repositories {
	return port.Repositories{
		Templates:    &templateRepo{s},
		Employees:    &employeeRepo{s},
		Instances:    &instanceRepo{s},
		Tasks:        &taskRepo{s},
		Dependencies: &dependencyRepo{s},
		Audit:        &auditRepo{s},
	}
}

// WithTransaction runs fn with exclusive access; any error restores the prior state
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	saved := s.data.snapshot()
	s.mu.RUnlock()

	rollback := func() {
		s.mu.Lock()
		s.data = saved
		s.mu.Unlock()
	}

	defer func() {
		if p := recover(); p != nil {
			rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey, true)); err != nil {
		rollback()
		return err
	}
	return nil
}

func (s *Store) read(fn func(d *state)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.data)
}

func (s *Store) write(fn func(d *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func conflict(kind, id string, expected, actual int64) error {
	return fmt.Errorf("%w: %s %s at version %d, expected %d", domainwf.ErrConcurrentModification, kind, id, actual, expected)
}

type templateRepo struct{ s *Store }

func (r *templateRepo) Create(ctx context.Context, tpl *entity.WorkflowTemplate) error {
	return r.s.write(func(d *state) error {
		if _, exists := d.templates[tpl.ID]; exists {
			return fmt.Errorf("template %s already exists", tpl.ID)
		}
		for _, t := range d.templates {
			if t.Name == tpl.Name && t.Type == tpl.Type && t.Version == tpl.Version {
				return fmt.Errorf("template %s/%s version %d already exists", tpl.Type, tpl.Name, tpl.Version)
			}
		}
		now := r.s.now()
		tpl.CreatedAt, tpl.UpdatedAt = now, now
		cp := *tpl
		d.templates[tpl.ID] = &cp
		return nil
	})
}

func (r *templateRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowTemplate, error) {
	var out *entity.WorkflowTemplate
	r.s.read(func(d *state) {
		if t, ok := d.templates[id]; ok {
			cp := *t
			out = &cp
		}
	})
	return out, nil
}

func (r *templateRepo) SetActive(ctx context.Context, id string, active bool) error {
	return r.s.write(func(d *state) error {
		t, ok := d.templates[id]
		if !ok {
			return fmt.Errorf("%w: template %s", domainwf.ErrNotFound, id)
		}
		now := r.s.now()
		t.Active = active
		t.UpdatedAt = now
		if active && t.ActivatedAt == nil {
			t.ActivatedAt = &now
		}
		return nil
	})
}

func (r *templateRepo) ListActiveByType(ctx context.Context, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	return r.list(func(t *entity.WorkflowTemplate) bool { return t.Active && t.Type == typ }), nil
}

func (r *templateRepo) ListVersions(ctx context.Context, name string, typ entity.WorkflowType) ([]*entity.WorkflowTemplate, error) {
	return r.list(func(t *entity.WorkflowTemplate) bool { return t.Name == name && t.Type == typ }), nil
}

func (r *templateRepo) list(match func(*entity.WorkflowTemplate) bool) []*entity.WorkflowTemplate {
	var out []*entity.WorkflowTemplate
	r.s.read(func(d *state) {
		for _, t := range d.templates {
			if match(t) {
				cp := *t
				out = append(out, &cp)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version > out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type employeeRepo struct{ s *Store }

func (r *employeeRepo) Create(ctx context.Context, emp *entity.Employee) error {
	return r.s.write(func(d *state) error {
		if _, exists := d.employees[emp.ID]; exists {
			return fmt.Errorf("employee %s already exists", emp.ID)
		}
		for _, e := range d.employees {
			if e.Email == emp.Email {
				return fmt.Errorf("employee with email %s already exists", emp.Email)
			}
		}
		now := r.s.now()
		emp.CreatedAt, emp.UpdatedAt = now, now
		cp := *emp
		d.employees[emp.ID] = &cp
		return nil
	})
}

func (r *employeeRepo) GetByID(ctx context.Context, id string) (*entity.Employee, error) {
	var out *entity.Employee
	r.s.read(func(d *state) {
		if e, ok := d.employees[id]; ok {
			cp := *e
			out = &cp
		}
	})
	return out, nil
}

func (r *employeeRepo) GetByEmail(ctx context.Context, email string) (*entity.Employee, error) {
	var out *entity.Employee
	r.s.read(func(d *state) {
		for _, e := range d.employees {
			if e.Email == email {
				cp := *e
				out = &cp
				return
			}
		}
	})
	return out, nil
}

func (r *employeeRepo) ListByStatus(ctx context.Context, status entity.EmployeeStatus) ([]*entity.Employee, error) {
	var out []*entity.Employee
	r.s.read(func(d *state) {
		for _, e := range d.employees {
			if e.Status == status {
				cp := *e
				out = append(out, &cp)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (r *employeeRepo) UpdateStatus(ctx context.Context, id string, status entity.EmployeeStatus) error {
	return r.s.write(func(d *state) error {
		e, ok := d.employees[id]
		if !ok {
			return fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, id)
		}
		e.Status = status
		e.UpdatedAt = r.s.now()
		return nil
	})
}

type instanceRepo struct{ s *Store }

func (r *instanceRepo) Create(ctx context.Context, inst *entity.WorkflowInstance) error {
	return r.s.write(func(d *state) error {
		if _, exists := d.instances[inst.ID]; exists {
			return fmt.Errorf("instance %s already exists", inst.ID)
		}
		now := r.s.now()
		inst.Version = 1
		inst.CreatedAt, inst.UpdatedAt = now, now
		d.instances[inst.ID] = inst.Clone()
		return nil
	})
}

func (r *instanceRepo) GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	var out *entity.WorkflowInstance
	r.s.read(func(d *state) {
		out = d.instances[id].Clone()
	})
	return out, nil
}

func (r *instanceRepo) Update(ctx context.Context, inst *entity.WorkflowInstance) error {
	return r.s.write(func(d *state) error {
		stored, ok := d.instances[inst.ID]
		if !ok {
			return fmt.Errorf("%w: instance %s", domainwf.ErrNotFound, inst.ID)
		}
		if stored.Version != inst.Version {
			return conflict("instance", inst.ID, inst.Version, stored.Version)
		}
		inst.Version++
		inst.UpdatedAt = r.s.now()
		d.instances[inst.ID] = inst.Clone()
		return nil
	})
}

func (r *instanceRepo) ListByEmployee(ctx context.Context, employeeID string) ([]*entity.WorkflowInstance, error) {
	return r.list(func(i *entity.WorkflowInstance) bool { return i.EmployeeID == employeeID }), nil
}

func (r *instanceRepo) ListByStatus(ctx context.Context, status entity.InstanceStatus) ([]*entity.WorkflowInstance, error) {
	return r.list(func(i *entity.WorkflowInstance) bool { return i.Status == status }), nil
}

func (r *instanceRepo) list(match func(*entity.WorkflowInstance) bool) []*entity.WorkflowInstance {
	var out []*entity.WorkflowInstance
	r.s.read(func(d *state) {
		for _, i := range d.instances {
			if match(i) {
				out = append(out, i.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type taskRepo struct{ s *Store }

func (r *taskRepo) Create(ctx context.Context, task *entity.Task) error {
	return r.s.write(func(d *state) error {
		if _, exists := d.tasks[task.ID]; exists {
			return fmt.Errorf("task %s already exists", task.ID)
		}
		now := r.s.now()
		task.Version = 1
		task.CreatedAt, task.UpdatedAt = now, now
		d.tasks[task.ID] = task.Clone()
		return nil
	})
}

func (r *taskRepo) GetByID(ctx context.Context, id string) (*entity.Task, error) {
	var out *entity.Task
	r.s.read(func(d *state) {
		out = d.tasks[id].Clone()
	})
	return out, nil
}

func (r *taskRepo) Update(ctx context.Context, task *entity.Task) error {
	return r.s.write(func(d *state) error {
		stored, ok := d.tasks[task.ID]
		if !ok {
			return fmt.Errorf("%w: task %s", domainwf.ErrNotFound, task.ID)
		}
		if stored.Version != task.Version {
			return conflict("task", task.ID, task.Version, stored.Version)
		}
		task.Version++
		task.UpdatedAt = r.s.now()
		d.tasks[task.ID] = task.Clone()
		return nil
	})
}

func (r *taskRepo) ListByInstance(ctx context.Context, instanceID string) ([]*entity.Task, error) {
	var order []string
	r.s.read(func(d *state) {
		if inst, ok := d.instances[instanceID]; ok {
			order = append(order, inst.TaskIDs...)
		}
	})
	out := r.list(func(t *entity.Task) bool { return t.InstanceID == instanceID })
	if len(order) > 0 {
		pos := make(map[string]int, len(order))
		for i, id := range order {
			pos[id] = i
		}
		sort.SliceStable(out, func(i, j int) bool { return pos[out[i].ID] < pos[out[j].ID] })
	}
	return out, nil
}

func (r *taskRepo) ListByAssignee(ctx context.Context, assignee string, status entity.TaskStatus) ([]*entity.Task, error) {
	return r.list(func(t *entity.Task) bool {
		return t.AssignedTo == assignee && (status == "" || t.Status == status)
	}), nil
}

func (r *taskRepo) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.Task, error) {
	var out []*entity.Task
	r.s.read(func(d *state) {
		for _, t := range d.tasks {
			if t.IsCompleted() || t.DueDate == nil || !t.DueDate.Before(before) {
				continue
			}
			if inst, ok := d.instances[t.InstanceID]; !ok || inst.Status.IsTerminal() {
				continue
			}
			out = append(out, t.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate.Equal(*out[j].DueDate) {
			return out[i].DueDate.Before(*out[j].DueDate)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *taskRepo) list(match func(*entity.Task) bool) []*entity.Task {
	var out []*entity.Task
	r.s.read(func(d *state) {
		for _, t := range d.tasks {
			if match(t) {
				out = append(out, t.Clone())
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

type dependencyRepo struct{ s *Store }

func (r *dependencyRepo) Create(ctx context.Context, dep *entity.TaskDependency) error {
	return r.s.write(func(d *state) error {
		if _, exists := d.dependencies[dep.ID]; exists {
			return fmt.Errorf("dependency %s already exists", dep.ID)
		}
		dep.CreatedAt = r.s.now()
		cp := *dep
		d.dependencies[dep.ID] = &cp
		return nil
	})
}

func (r *dependencyRepo) ListByInstance(ctx context.Context, instanceID string) ([]*entity.TaskDependency, error) {
	return r.list(func(d *entity.TaskDependency) bool { return d.InstanceID == instanceID }), nil
}

func (r *dependencyRepo) ListByTask(ctx context.Context, taskID string) ([]*entity.TaskDependency, error) {
	return r.list(func(d *entity.TaskDependency) bool { return d.TaskID == taskID }), nil
}

func (r *dependencyRepo) ListByPrerequisite(ctx context.Context, taskID string) ([]*entity.TaskDependency, error) {
	return r.list(func(d *entity.TaskDependency) bool { return d.PrerequisiteTaskID == taskID }), nil
}

func (r *dependencyRepo) list(match func(*entity.TaskDependency) bool) []*entity.TaskDependency {
	var out []*entity.TaskDependency
	r.s.read(func(d *state) {
		for _, dep := range d.dependencies {
			if match(dep) {
				cp := *dep
				out = append(out, &cp)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type auditRepo struct{ s *Store }

func (r *auditRepo) Append(ctx context.Context, rec *entity.AuditLog) error {
	return r.s.write(func(d *state) error {
		d.auditSeq++
		rec.Sequence = d.auditSeq
		cp := *rec
		d.audit = append(d.audit, &cp)
		return nil
	})
}

func (r *auditRepo) ListByEntity(ctx context.Context, entityType entity.EntityType, entityID string) ([]*entity.AuditLog, error) {
	var out []*entity.AuditLog
	r.s.read(func(d *state) {
		for _, a := range d.audit {
			if a.EntityType == entityType && a.EntityID == entityID {
				cp := *a
				out = append(out, &cp)
			}
		}
	})
	return out, nil
}

func (r *auditRepo) ListByActor(ctx context.Context, actorID string, limit int) ([]*entity.AuditLog, error) {
	var out []*entity.AuditLog
	r.s.read(func(d *state) {
		for i := len(d.audit) - 1; i >= 0; i-- {
			a := d.audit[i]
			if a.ActorID != actorID {
				continue
			}
			cp := *a
			out = append(out, &cp)
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Verify interface compliance
var _ port.TransactionManager = (*Store)(nil)
