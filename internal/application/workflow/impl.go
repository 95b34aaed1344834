package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/employee-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/application/service"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/event"
	"github.com/garyjia/employee-lifecycle/internal/domain/graph"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// DefaultMaxRetries is how often an operation is retried after a version conflict
const DefaultMaxRetries = 3

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	repos      port.Repositories
	txManager  port.TransactionManager
	gate       port.Authorizer
	audit      service.AuditRecorder
	dispatcher dispatcher.Dispatcher
	locker     port.InstanceLocker
	logger     service.Logger
	newID      func() string
	maxRetries int
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher that receives committed events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLocker serializes operations per instance
func WithLocker(l port.InstanceLocker) EngineOption {
	return func(e *engineImpl) {
		e.locker = l
	}
}

// WithMaxRetries sets how often a version conflict is retried; 0 disables retries
func WithMaxRetries(n int) EngineOption {
	return func(e *engineImpl) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithLogger sets the engine logger
func WithLogger(l service.Logger) EngineOption {
	return func(e *engineImpl) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithIDGenerator replaces the generator for instance, task and dependency ids
func WithIDGenerator(fn func() string) EngineOption {
	return func(e *engineImpl) {
		e.newID = fn
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// NewEngine creates a new workflow engine
func NewEngine(
	repos port.Repositories,
	txManager port.TransactionManager,
	gate port.Authorizer,
	audit service.AuditRecorder,
	opts ...EngineOption,
) WorkflowEngine {
	e := &engineImpl{
		repos:      repos,
		txManager:  txManager,
		gate:       gate,
		audit:      audit,
		logger:     nopLogger{},
		newID:      entity.NewID,
		maxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// change collects what one transaction attempt produced
type change struct {
	audit  []*entity.AuditLog
	events []*event.Event
}

func (c *change) record(ctx context.Context, rec service.AuditRecorder, entry service.AuditEntry) error {
	log, err := rec.Record(ctx, entry)
	if err != nil {
		return err
	}
	c.audit = append(c.audit, log)
	return nil
}

func (c *change) emit(evt *event.Event) {
	c.events = append(c.events, evt)
}

// run executes op under the instance lock, retrying version conflicts.
// Events are handed to the dispatcher only after a successful commit.
func (e *engineImpl) run(ctx context.Context, name, instanceID string, op func(ctx context.Context, c *change) error) error {
	if e.locker != nil && instanceID != "" {
		release, err := e.locker.Lock(ctx, instanceID)
		if err != nil {
			return fmt.Errorf("failed to lock instance %s: %w", instanceID, err)
		}
		defer release()
	}

	var c *change
	var err error
	for attempt := 0; ; attempt++ {
		c = &change{}
		err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			return op(txCtx, c)
		})
		if err == nil || !domainwf.IsRetryable(err) || attempt >= e.maxRetries {
			break
		}
		e.logger.Info("Retrying after concurrent modification",
			"operation", name,
			"instance_id", instanceID,
			"attempt", attempt+1,
			"error", err,
		)
	}
	if err != nil {
		return err
	}

	if e.dispatcher != nil && len(c.events) > 0 {
		e.dispatcher.Publish(ctx, c.events...)
	}
	return nil
}

// Instantiate snapshots a template into a new instance with its tasks and dependencies
func (e *engineImpl) Instantiate(ctx context.Context, cmd InstantiateCommand) (*InstanceResult, error) {
	var result *InstanceResult

	err := e.run(ctx, "instantiate", "", func(ctx context.Context, c *change) error {
		tpl, err := e.resolveTemplate(ctx, cmd)
		if err != nil {
			return err
		}

		emp, err := e.repos.Employees.GetByID(ctx, cmd.EmployeeID)
		if err != nil {
			return err
		}
		if emp == nil {
			return fmt.Errorf("%w: employee %s", domainwf.ErrNotFound, cmd.EmployeeID)
		}

		if err := e.gate.Authorize(cmd.Actor, policy.ActionInstantiate, policy.Target{Employee: emp}).Err(); err != nil {
			return err
		}

		if !tpl.Active {
			return fmt.Errorf("%w: template %s version %d is not active", domainwf.ErrInvalidState, tpl.Name, tpl.Version)
		}

		def, err := entity.ParseDefinition(tpl.Definition)
		if err != nil {
			return fmt.Errorf("%w: %v", domainwf.ErrInvalidTemplate, err)
		}
		// a cycle aborts here, before anything is written
		if err := service.ValidateDefinition(def); err != nil {
			return err
		}

		inst, tasks, deps, err := e.snapshot(tpl, def, emp, cmd)
		if err != nil {
			return err
		}

		if err := e.repos.Instances.Create(ctx, inst); err != nil {
			return err
		}
		for _, t := range tasks {
			if err := e.repos.Tasks.Create(ctx, t); err != nil {
				return err
			}
		}
		for _, d := range deps {
			if err := e.repos.Dependencies.Create(ctx, d); err != nil {
				return err
			}
		}

		if err := c.record(ctx, e.audit, service.AuditEntry{
			EntityType: entity.EntityTypeWorkflowInstance,
			EntityID:   inst.ID,
			Action:     entity.AuditActionCreated,
			Actor:      cmd.Actor,
			At:         cmd.At,
			Details: map[string]interface{}{
				"template_id":      tpl.ID,
				"template_version": tpl.Version,
				"employee_id":      emp.ID,
				"task_count":       len(tasks),
			},
		}); err != nil {
			return err
		}
		for _, t := range tasks {
			if err := c.record(ctx, e.audit, service.AuditEntry{
				EntityType: entity.EntityTypeTask,
				EntityID:   t.ID,
				Action:     entity.AuditActionCreated,
				Actor:      cmd.Actor,
				At:         cmd.At,
				Details: map[string]interface{}{
					"instance_id": inst.ID,
					"step_key":    t.StepKey,
					"assigned_to": t.AssignedTo,
				},
			}); err != nil {
				return err
			}
		}

		c.emit(event.NewEvent(event.TypeInstanceCreated, inst.ID, map[string]interface{}{
			"employee_id": emp.ID,
			"template_id": tpl.ID,
			"task_count":  len(tasks),
		}, cmd.At).WithActor(cmd.Actor.ID))

		result = &InstanceResult{Instance: inst, Tasks: tasks, Audit: c.audit}
		return nil
	})
	if err != nil {
		e.logger.Error("Failed to instantiate workflow",
			"template_id", cmd.TemplateID,
			"workflow_type", cmd.WorkflowType,
			"employee_id", cmd.EmployeeID,
			"error", err,
		)
		return nil, err
	}

	e.logger.Info("Workflow instantiated",
		"instance_id", result.Instance.ID,
		"employee_id", result.Instance.EmployeeID,
		"tasks", len(result.Tasks),
	)
	return result, nil
}

func (e *engineImpl) resolveTemplate(ctx context.Context, cmd InstantiateCommand) (*entity.WorkflowTemplate, error) {
	if cmd.TemplateID != "" {
		tpl, err := e.repos.Templates.GetByID(ctx, cmd.TemplateID)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, fmt.Errorf("%w: template %s", domainwf.ErrNotFound, cmd.TemplateID)
		}
		return tpl, nil
	}

	if !cmd.WorkflowType.IsValid() {
		return nil, fmt.Errorf("%w: a template id or workflow type is required", domainwf.ErrInvalidInput)
	}
	active, err := e.repos.Templates.ListActiveByType(ctx, cmd.WorkflowType)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, fmt.Errorf("%w: no active %s template", domainwf.ErrNotFound, cmd.WorkflowType)
	}
	return active[0], nil
}

// snapshot copies the template steps into new entities and validates the graph
func (e *engineImpl) snapshot(
	tpl *entity.WorkflowTemplate,
	def *entity.TemplateDefinition,
	emp *entity.Employee,
	cmd InstantiateCommand,
) (*entity.WorkflowInstance, []*entity.Task, []*entity.TaskDependency, error) {
	inst := &entity.WorkflowInstance{
		ID:              e.newID(),
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		WorkflowType:    tpl.Type,
		EmployeeID:      emp.ID,
		InitiatedBy:     cmd.Actor.ID,
		Status:          entity.InstanceStatusNotStarted,
	}

	byKey := make(map[string]string, len(def.Steps))
	tasks := make([]*entity.Task, 0, len(def.Steps))
	for _, step := range def.Steps {
		if _, dup := byKey[step.Key]; dup {
			return nil, nil, nil, fmt.Errorf("%w: duplicate step key %q", domainwf.ErrInvalidTemplate, step.Key)
		}
		task := &entity.Task{
			ID:          e.newID(),
			InstanceID:  inst.ID,
			StepKey:     step.Key,
			Title:       step.Title,
			Description: step.Description,
			TaskType:    step.TaskType,
			Status:      entity.TaskStatusNotStarted,
			AssignedTo:  step.AssignTo,
		}
		if a, ok := cmd.Assignees[step.Key]; ok {
			task.AssignedTo = a
		}
		if step.DueInDays > 0 {
			due := cmd.At.Add(time.Duration(step.DueInDays) * 24 * time.Hour)
			task.DueDate = &due
		}
		byKey[step.Key] = task.ID
		inst.TaskIDs = append(inst.TaskIDs, task.ID)
		tasks = append(tasks, task)
	}

	var deps []*entity.TaskDependency
	for _, step := range def.Steps {
		for _, d := range step.DependsOn {
			prereq, ok := byKey[d.Key]
			if !ok {
				return nil, nil, nil, fmt.Errorf("%w: step %q depends on unknown step %q", domainwf.ErrInvalidTemplate, step.Key, d.Key)
			}
			typ := d.Type
			if typ == "" {
				typ = entity.DependencySequential
			}
			deps = append(deps, &entity.TaskDependency{
				ID:                 e.newID(),
				InstanceID:         inst.ID,
				TaskID:             byKey[step.Key],
				PrerequisiteTaskID: prereq,
				DependencyType:     typ,
			})
		}
	}

	if _, err := graph.FromDependencies(inst.TaskIDs, deps); err != nil {
		return nil, nil, nil, err
	}

	return inst, tasks, deps, nil
}

// StartInstance moves a NOT_STARTED instance to IN_PROGRESS without starting tasks
func (e *engineImpl) StartInstance(ctx context.Context, cmd InstanceCommand) (*InstanceResult, error) {
	var result *InstanceResult

	err := e.run(ctx, "start_instance", cmd.InstanceID, func(ctx context.Context, c *change) error {
		inst, emp, err := e.loadInstance(ctx, cmd.InstanceID)
		if err != nil {
			return err
		}
		if err := e.gate.Authorize(cmd.Actor, policy.ActionStartInstance, policy.Target{Employee: emp, Instance: inst}).Err(); err != nil {
			return err
		}

		if err := e.startInstance(ctx, c, inst, cmd.Actor, cmd.At); err != nil {
			return err
		}
		if err := e.repos.Instances.Update(ctx, inst); err != nil {
			return err
		}

		result = &InstanceResult{Instance: inst, Audit: c.audit}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow instance started", "instance_id", cmd.InstanceID, "actor", cmd.Actor.ID)
	return result, nil
}

// startInstance fires START on the instance and audits it; the caller saves
func (e *engineImpl) startInstance(ctx context.Context, c *change, inst *entity.WorkflowInstance, actor entity.Actor, at time.Time) error {
	tr, err := BuildInstanceStateMachine(inst.Status).Fire(ctx, domainwf.TriggerStart)
	if err != nil {
		return fmt.Errorf("instance %s: %w", inst.ID, err)
	}

	inst.Status = entity.InstanceStatus(tr.To)
	inst.StartedAt = &at

	if err := c.record(ctx, e.audit, service.AuditEntry{
		EntityType: entity.EntityTypeWorkflowInstance,
		EntityID:   inst.ID,
		Action:     entity.AuditActionStatusChanged,
		Actor:      actor,
		At:         at,
		Details:    map[string]interface{}{"from": string(tr.From), "to": string(tr.To)},
	}); err != nil {
		return err
	}

	c.emit(event.NewEvent(event.TypeInstanceStarted, inst.ID, nil, at).WithActor(actor.ID))
	return nil
}

// CancelInstance freezes an instance. Task statuses are left untouched.
func (e *engineImpl) CancelInstance(ctx context.Context, cmd InstanceCommand) (*InstanceResult, error) {
	var result *InstanceResult

	err := e.run(ctx, "cancel_instance", cmd.InstanceID, func(ctx context.Context, c *change) error {
		inst, emp, err := e.loadInstance(ctx, cmd.InstanceID)
		if err != nil {
			return err
		}
		if err := e.gate.Authorize(cmd.Actor, policy.ActionCancelInstance, policy.Target{Employee: emp, Instance: inst}).Err(); err != nil {
			return err
		}

		tr, err := BuildInstanceStateMachine(inst.Status).Fire(ctx, domainwf.TriggerCancel)
		if err != nil {
			return fmt.Errorf("instance %s: %w", inst.ID, err)
		}
		inst.Status = entity.InstanceStatus(tr.To)
		inst.CancelledAt = &cmd.At

		if err := e.repos.Instances.Update(ctx, inst); err != nil {
			return err
		}

		details := map[string]interface{}{"from": string(tr.From), "to": string(tr.To)}
		if cmd.Reason != "" {
			details["reason"] = cmd.Reason
		}
		if err := c.record(ctx, e.audit, service.AuditEntry{
			EntityType: entity.EntityTypeWorkflowInstance,
			EntityID:   inst.ID,
			Action:     entity.AuditActionStatusChanged,
			Actor:      cmd.Actor,
			At:         cmd.At,
			Details:    details,
		}); err != nil {
			return err
		}

		c.emit(event.NewEvent(event.TypeInstanceCancelled, inst.ID, map[string]interface{}{
			"reason": cmd.Reason,
		}, cmd.At).WithActor(cmd.Actor.ID))

		result = &InstanceResult{Instance: inst, Audit: c.audit}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow instance cancelled", "instance_id", cmd.InstanceID, "actor", cmd.Actor.ID)
	return result, nil
}

// AssignTask sets the assignee of a task that is not yet completed
func (e *engineImpl) AssignTask(ctx context.Context, cmd AssignCommand) (*TaskResult, error) {
	if cmd.Assignee == "" {
		return nil, fmt.Errorf("%w: assignee is required", domainwf.ErrInvalidInput)
	}

	instanceID, err := e.instanceOf(ctx, cmd.TaskID)
	if err != nil {
		return nil, err
	}

	var result *TaskResult
	err = e.run(ctx, "assign_task", instanceID, func(ctx context.Context, c *change) error {
		s, err := e.loadTaskScope(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if err := e.gate.Authorize(cmd.Actor, policy.ActionAssignTask, s.target()).Err(); err != nil {
			return err
		}
		if err := s.checkOpen(); err != nil {
			return err
		}

		machine := BuildTaskStateMachine(s.task.Status, nil)
		if _, err := machine.Fire(ctx, domainwf.TriggerAssign); err != nil {
			return fmt.Errorf("task %s: %w", s.task.ID, err)
		}

		previous := s.task.AssignedTo
		s.task.AssignedTo = cmd.Assignee
		if err := e.repos.Tasks.Update(ctx, s.task); err != nil {
			return err
		}

		if err := c.record(ctx, e.audit, service.AuditEntry{
			EntityType: entity.EntityTypeTask,
			EntityID:   s.task.ID,
			Action:     entity.AuditActionAssigned,
			Actor:      cmd.Actor,
			At:         cmd.At,
			Details:    map[string]interface{}{"from": previous, "to": cmd.Assignee},
		}); err != nil {
			return err
		}

		c.emit(event.NewEvent(event.TypeTaskAssigned, s.inst.ID, map[string]interface{}{
			"assignee": cmd.Assignee,
		}, cmd.At).WithTask(s.task.ID).WithActor(cmd.Actor.ID))

		result = &TaskResult{Task: s.task, Instance: s.inst, Audit: c.audit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// StartTask moves an eligible NOT_STARTED task to IN_PROGRESS
func (e *engineImpl) StartTask(ctx context.Context, cmd TaskCommand) (*TaskResult, error) {
	instanceID, err := e.instanceOf(ctx, cmd.TaskID)
	if err != nil {
		return nil, err
	}

	var result *TaskResult
	err = e.run(ctx, "start_task", instanceID, func(ctx context.Context, c *change) error {
		s, err := e.loadTaskScope(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if err := e.gate.Authorize(cmd.Actor, policy.ActionStartTask, s.target()).Err(); err != nil {
			return err
		}
		if err := s.checkOpen(); err != nil {
			return err
		}

		tr, err := BuildTaskStateMachine(s.task.Status, s.eligibleGuard()).Fire(ctx, domainwf.TriggerStart)
		if err != nil {
			return fmt.Errorf("task %s: %w", s.task.ID, err)
		}

		if err := e.autoStart(ctx, c, s, cmd.Actor, cmd.At); err != nil {
			return err
		}

		s.task.Status = entity.TaskStatus(tr.To)
		s.task.StartedAt = &cmd.At
		s.task.StartedBy = cmd.Actor.ID
		if err := e.repos.Tasks.Update(ctx, s.task); err != nil {
			return err
		}
		if err := e.saveInstance(ctx, s); err != nil {
			return err
		}

		if err := c.record(ctx, e.audit, service.AuditEntry{
			EntityType: entity.EntityTypeTask,
			EntityID:   s.task.ID,
			Action:     entity.AuditActionStatusChanged,
			Actor:      cmd.Actor,
			At:         cmd.At,
			Details:    map[string]interface{}{"from": string(tr.From), "to": string(tr.To)},
		}); err != nil {
			return err
		}

		c.emit(event.NewEvent(event.TypeTaskStarted, s.inst.ID, nil, cmd.At).
			WithTask(s.task.ID).WithActor(cmd.Actor.ID))

		result = &TaskResult{Task: s.task, Instance: s.inst, Audit: c.audit}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteTask completes an eligible task, unlocks its direct dependents and
// completes the instance when every task is done, all in one transaction
func (e *engineImpl) CompleteTask(ctx context.Context, cmd TaskCommand) (*TaskResult, error) {
	instanceID, err := e.instanceOf(ctx, cmd.TaskID)
	if err != nil {
		return nil, err
	}

	var result *TaskResult
	err = e.run(ctx, "complete_task", instanceID, func(ctx context.Context, c *change) error {
		s, err := e.loadTaskScope(ctx, cmd.TaskID)
		if err != nil {
			return err
		}
		if err := e.gate.Authorize(cmd.Actor, policy.ActionCompleteTask, s.target()).Err(); err != nil {
			return err
		}

		if s.task.IsCompleted() {
			result = &TaskResult{Task: s.task, Instance: s.inst, NoOp: true}
			return nil
		}
		if err := s.checkOpen(); err != nil {
			return err
		}

		tr, err := BuildTaskStateMachine(s.task.Status, s.eligibleGuard()).Fire(ctx, domainwf.TriggerComplete)
		if err != nil {
			return fmt.Errorf("task %s: %w", s.task.ID, err)
		}

		if err := e.autoStart(ctx, c, s, cmd.Actor, cmd.At); err != nil {
			return err
		}

		s.task.Status = entity.TaskStatus(tr.To)
		s.task.CompletedAt = &cmd.At
		s.task.CompletedBy = cmd.Actor.ID
		if err := e.repos.Tasks.Update(ctx, s.task); err != nil {
			return err
		}
		s.statuses[s.task.ID] = s.task.Status

		if err := c.record(ctx, e.audit, service.AuditEntry{
			EntityType: entity.EntityTypeTask,
			EntityID:   s.task.ID,
			Action:     entity.AuditActionCompleted,
			Actor:      cmd.Actor,
			At:         cmd.At,
			Details:    map[string]interface{}{"from": string(tr.From), "to": string(tr.To)},
		}); err != nil {
			return err
		}
		c.emit(event.NewEvent(event.TypeTaskCompleted, s.inst.ID, nil, cmd.At).
			WithTask(s.task.ID).WithActor(cmd.Actor.ID))

		unlocked := s.graph.Unlocked(s.task.ID, s.statuses)
		for _, id := range unlocked {
			c.emit(event.NewEvent(event.TypeTaskUnlocked, s.inst.ID, map[string]interface{}{
				"unlocked_by": s.task.ID,
			}, cmd.At).WithTask(id))
		}

		completed := false
		if s.allCompleted() {
			itr, err := BuildInstanceStateMachine(s.inst.Status).Fire(ctx, domainwf.TriggerComplete)
			if err != nil {
				return fmt.Errorf("instance %s: %w", s.inst.ID, err)
			}
			s.inst.Status = entity.InstanceStatus(itr.To)
			s.inst.CompletedAt = &cmd.At
			completed = true

			if err := c.record(ctx, e.audit, service.AuditEntry{
				EntityType: entity.EntityTypeWorkflowInstance,
				EntityID:   s.inst.ID,
				Action:     entity.AuditActionCompleted,
				Actor:      cmd.Actor,
				At:         cmd.At,
				Details:    map[string]interface{}{"from": string(itr.From), "to": string(itr.To), "last_task_id": s.task.ID},
			}); err != nil {
				return err
			}
			c.emit(event.NewEvent(event.TypeInstanceCompleted, s.inst.ID, nil, cmd.At).WithActor(cmd.Actor.ID))
		}

		if err := e.saveInstance(ctx, s); err != nil {
			return err
		}

		result = &TaskResult{
			Task:              s.task,
			Instance:          s.inst,
			Unlocked:          unlocked,
			InstanceCompleted: completed,
			Audit:             c.audit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.NoOp {
		e.logger.Info("Task completed",
			"task_id", cmd.TaskID,
			"instance_id", instanceID,
			"unlocked", len(result.Unlocked),
			"instance_completed", result.InstanceCompleted,
		)
	}
	return result, nil
}

// autoStart starts a NOT_STARTED instance when one of its tasks is acted on
func (e *engineImpl) autoStart(ctx context.Context, c *change, s *taskScope, actor entity.Actor, at time.Time) error {
	if s.inst.Status != entity.InstanceStatusNotStarted {
		return nil
	}
	return e.startInstance(ctx, c, s.inst, actor, at)
}

// saveInstance refreshes the derived step index and saves the instance.
// Saving bumps the instance version, so concurrent task operations on one
// instance conflict here even without a lock.
func (e *engineImpl) saveInstance(ctx context.Context, s *taskScope) error {
	s.inst.CurrentStepIndex = s.completedCount()
	return e.repos.Instances.Update(ctx, s.inst)
}

// GetInstanceProgress returns the tasks, dependencies and currently eligible tasks of an instance
func (e *engineImpl) GetInstanceProgress(ctx context.Context, actor entity.Actor, instanceID string) (*Progress, error) {
	inst, emp, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := e.gate.Authorize(actor, policy.ActionViewInstance, policy.Target{Employee: emp, Instance: inst}).Err(); err != nil {
		return nil, err
	}

	tasks, err := e.repos.Tasks.ListByInstance(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	deps, err := e.repos.Dependencies.ListByInstance(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	g, err := graph.FromDependencies(inst.TaskIDs, deps)
	if err != nil {
		return nil, fmt.Errorf("instance %s has a corrupt dependency graph: %w", inst.ID, err)
	}

	statuses := make(map[string]entity.TaskStatus, len(tasks))
	completed := 0
	for _, t := range tasks {
		statuses[t.ID] = t.Status
		if t.IsCompleted() {
			completed++
		}
	}

	p := &Progress{
		Instance:     inst,
		Tasks:        tasks,
		Dependencies: deps,
		Completed:    completed,
		Total:        len(tasks),
	}
	if !inst.Frozen() {
		p.Eligible = g.Eligible(statuses)
	}
	return p, nil
}

func (e *engineImpl) loadInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, *entity.Employee, error) {
	inst, err := e.repos.Instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	if inst == nil {
		return nil, nil, fmt.Errorf("%w: instance %s", domainwf.ErrNotFound, instanceID)
	}
	emp, err := e.repos.Employees.GetByID(ctx, inst.EmployeeID)
	if err != nil {
		return nil, nil, err
	}
	return inst, emp, nil
}

// instanceOf resolves the lock key of a task. The owning instance never changes.
func (e *engineImpl) instanceOf(ctx context.Context, taskID string) (string, error) {
	task, err := e.repos.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
	}
	return task.InstanceID, nil
}

// taskScope is everything a task operation reads, loaded inside its transaction
type taskScope struct {
	task     *entity.Task
	inst     *entity.WorkflowInstance
	emp      *entity.Employee
	graph    *graph.Graph
	statuses map[string]entity.TaskStatus
}

func (e *engineImpl) loadTaskScope(ctx context.Context, taskID string) (*taskScope, error) {
	task, err := e.repos.Tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", domainwf.ErrNotFound, taskID)
	}

	inst, emp, err := e.loadInstance(ctx, task.InstanceID)
	if err != nil {
		return nil, err
	}

	tasks, err := e.repos.Tasks.ListByInstance(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	deps, err := e.repos.Dependencies.ListByInstance(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	g, err := graph.FromDependencies(inst.TaskIDs, deps)
	if err != nil {
		return nil, fmt.Errorf("instance %s has a corrupt dependency graph: %w", inst.ID, err)
	}

	statuses := make(map[string]entity.TaskStatus, len(tasks))
	for _, t := range tasks {
		statuses[t.ID] = t.Status
	}

	return &taskScope{task: task, inst: inst, emp: emp, graph: g, statuses: statuses}, nil
}

func (s *taskScope) target() policy.Target {
	return policy.Target{Employee: s.emp, Instance: s.inst, Task: s.task}
}

// checkOpen rejects any task transition once the instance is terminal
func (s *taskScope) checkOpen() error {
	if s.inst.Frozen() {
		return fmt.Errorf("%w: %w: instance %s is %s", domainwf.ErrInvalidState, domainwf.ErrInvalidTransition, s.inst.ID, s.inst.Status)
	}
	return nil
}

func (s *taskScope) eligibleGuard() domainwf.GuardFunc {
	return func(ctx context.Context) error {
		if s.graph.IsEligible(s.task.ID, s.statuses) {
			return nil
		}
		var pending []string
		for _, p := range s.graph.Prerequisites(s.task.ID) {
			if s.statuses[p] != entity.TaskStatusCompleted {
				pending = append(pending, p)
			}
		}
		return fmt.Errorf("%w: task %s waits on %v", domainwf.ErrNotEligible, s.task.ID, pending)
	}
}

func (s *taskScope) completedCount() int {
	n := 0
	for _, st := range s.statuses {
		if st == entity.TaskStatusCompleted {
			n++
		}
	}
	return n
}

func (s *taskScope) allCompleted() bool {
	return len(s.statuses) > 0 && s.completedCount() == len(s.statuses)
}
