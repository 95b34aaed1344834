// Package storetest is a behavioural suite every storage backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// Backend is one freshly initialised store
type Backend struct {
	Repos port.Repositories
	Tx    port.TransactionManager
}

// Factory returns an empty backend for a subtest
type Factory func(t *testing.T) Backend

// Run executes the suite against backends produced by newBackend
func Run(t *testing.T, newBackend Factory) {
	t.Run("templates", func(t *testing.T) { testTemplates(t, newBackend(t)) })
	t.Run("employees", func(t *testing.T) { testEmployees(t, newBackend(t)) })
	t.Run("instances and tasks", func(t *testing.T) { testInstancesAndTasks(t, newBackend(t)) })
	t.Run("optimistic versions", func(t *testing.T) { testOptimisticVersions(t, newBackend(t)) })
	t.Run("overdue tasks", func(t *testing.T) { testOverdueTasks(t, newBackend(t)) })
	t.Run("dependencies", func(t *testing.T) { testDependencies(t, newBackend(t)) })
	t.Run("audit", func(t *testing.T) { testAudit(t, newBackend(t)) })
	t.Run("transactions", func(t *testing.T) { testTransactions(t, newBackend(t)) })
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedTemplate(t *testing.T, b Backend, id string, version int, active bool) *entity.WorkflowTemplate {
	t.Helper()
	tpl := &entity.WorkflowTemplate{
		ID:         id,
		Name:       "standard-onboarding",
		Type:       entity.WorkflowTypeOnboarding,
		Version:    version,
		Definition: `{"steps":[{"key":"laptop","title":"Provision laptop","task_type":"CHECKLIST"}]}`,
		Active:     active,
		CreatedBy:  "hr-1",
	}
	require.NoError(t, b.Repos.Templates.Create(context.Background(), tpl))
	return tpl
}

func seedEmployee(t *testing.T, b Backend, id, email string) *entity.Employee {
	t.Helper()
	emp := &entity.Employee{
		ID:        id,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		JobRole:   "Engineer",
		ManagerID: "mgr-1",
		Status:    entity.EmployeeStatusPending,
	}
	require.NoError(t, b.Repos.Employees.Create(context.Background(), emp))
	return emp
}

func seedInstance(t *testing.T, b Backend, taskCount int) (*entity.WorkflowInstance, []*entity.Task) {
	t.Helper()
	ctx := context.Background()
	tpl := seedTemplate(t, b, "tpl-1", 1, true)
	emp := seedEmployee(t, b, "emp-1", "ada@example.com")

	inst := &entity.WorkflowInstance{
		ID:              "inst-1",
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		WorkflowType:    tpl.Type,
		EmployeeID:      emp.ID,
		InitiatedBy:     "hr-1",
		Status:          entity.InstanceStatusNotStarted,
	}
	for i := 0; i < taskCount; i++ {
		inst.TaskIDs = append(inst.TaskIDs, "task-"+string(rune('a'+i)))
	}
	require.NoError(t, b.Repos.Instances.Create(ctx, inst))

	var tasks []*entity.Task
	for i, id := range inst.TaskIDs {
		task := &entity.Task{
			ID:         id,
			InstanceID: inst.ID,
			StepKey:    "step-" + string(rune('a'+i)),
			Title:      "Step",
			TaskType:   entity.TaskTypeChecklist,
			Status:     entity.TaskStatusNotStarted,
		}
		if i%2 == 0 {
			task.AssignedTo = "tech-1"
		}
		require.NoError(t, b.Repos.Tasks.Create(ctx, task))
		tasks = append(tasks, task)
	}
	return inst, tasks
}

func testTemplates(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := b.Repos.Templates

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	seedTemplate(t, b, "tpl-1", 1, false)
	seedTemplate(t, b, "tpl-2", 2, false)

	got, err := repo.GetByID(ctx, "tpl-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "standard-onboarding", got.Name)
	assert.Equal(t, 1, got.Version)
	assert.False(t, got.Active)
	assert.Contains(t, got.Definition, "laptop")

	active, err := repo.ListActiveByType(ctx, entity.WorkflowTypeOnboarding)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repo.SetActive(ctx, "tpl-1", true))
	require.NoError(t, repo.SetActive(ctx, "tpl-2", true))

	active, err = repo.ListActiveByType(ctx, entity.WorkflowTypeOnboarding)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "tpl-2", active[0].ID, "highest version first")
	assert.NotNil(t, active[0].ActivatedAt)

	offboarding, err := repo.ListActiveByType(ctx, entity.WorkflowTypeOffboarding)
	require.NoError(t, err)
	assert.Empty(t, offboarding)

	versions, err := repo.ListVersions(ctx, "standard-onboarding", entity.WorkflowTypeOnboarding)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)

	require.NoError(t, repo.SetActive(ctx, "tpl-2", false))
	active, err = repo.ListActiveByType(ctx, entity.WorkflowTypeOnboarding)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "tpl-1", active[0].ID)

	err = repo.SetActive(ctx, "nope", true)
	assert.True(t, errors.Is(err, domainwf.ErrNotFound), "got %v", err)
}

func testEmployees(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := b.Repos.Employees

	start := base.AddDate(0, 0, 14)
	emp := &entity.Employee{
		ID:         "emp-1",
		FirstName:  "Grace",
		LastName:   "Hopper",
		Email:      "grace@example.com",
		JobRole:    "Engineer",
		Department: "Platform",
		StartDate:  &start,
		ManagerID:  "mgr-1",
		Status:     entity.EmployeeStatusPending,
	}
	require.NoError(t, repo.Create(ctx, emp))
	seedEmployee(t, b, "emp-2", "ada@example.com")

	dup := *emp
	dup.ID = "emp-3"
	assert.Error(t, repo.Create(ctx, &dup), "email is unique")

	got, err := repo.GetByID(ctx, "emp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Grace Hopper", got.FullName())
	require.NotNil(t, got.StartDate)
	assert.True(t, got.StartDate.Equal(start))

	byEmail, err := repo.GetByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, "emp-2", byEmail.ID)

	none, err := repo.GetByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, repo.UpdateStatus(ctx, "emp-1", entity.EmployeeStatusActive))

	pending, err := repo.ListByStatus(ctx, entity.EmployeeStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "emp-2", pending[0].ID)

	err = repo.UpdateStatus(ctx, "nope", entity.EmployeeStatusActive)
	assert.True(t, errors.Is(err, domainwf.ErrNotFound), "got %v", err)
}

func testInstancesAndTasks(t *testing.T, b Backend) {
	ctx := context.Background()
	inst, tasks := seedInstance(t, b, 3)
	assert.Equal(t, int64(1), inst.Version)

	got, err := b.Repos.Instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inst.TaskIDs, got.TaskIDs)
	assert.Equal(t, entity.InstanceStatusNotStarted, got.Status)
	assert.Nil(t, got.StartedAt)

	missing, err := b.Repos.Instances.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	started := base
	got.Status = entity.InstanceStatusInProgress
	got.StartedAt = &started
	require.NoError(t, b.Repos.Instances.Update(ctx, got))
	assert.Equal(t, int64(2), got.Version)

	reloaded, err := b.Repos.Instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Version)
	require.NotNil(t, reloaded.StartedAt)
	assert.True(t, reloaded.StartedAt.Equal(started))

	inProgress, err := b.Repos.Instances.ListByStatus(ctx, entity.InstanceStatusInProgress)
	require.NoError(t, err)
	assert.Len(t, inProgress, 1)

	byEmployee, err := b.Repos.Instances.ListByEmployee(ctx, inst.EmployeeID)
	require.NoError(t, err)
	assert.Len(t, byEmployee, 1)

	list, err := b.Repos.Tasks.ListByInstance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, task := range list {
		assert.Equal(t, tasks[i].ID, task.ID, "tasks keep creation order")
	}

	task := list[0]
	due := base.AddDate(0, 0, 3)
	task.Status = entity.TaskStatusCompleted
	task.CompletedBy = "tech-1"
	task.CompletedAt = &due
	task.DueDate = &due
	require.NoError(t, b.Repos.Tasks.Update(ctx, task))
	assert.Equal(t, int64(2), task.Version)

	stored, err := b.Repos.Tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted())
	assert.Equal(t, "tech-1", stored.CompletedBy)

	assigned, err := b.Repos.Tasks.ListByAssignee(ctx, "tech-1", "")
	require.NoError(t, err)
	assert.Len(t, assigned, 2)

	open, err := b.Repos.Tasks.ListByAssignee(ctx, "tech-1", entity.TaskStatusNotStarted)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, tasks[2].ID, open[0].ID)

	none, err := b.Repos.Tasks.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func testOverdueTasks(t *testing.T, b Backend) {
	ctx := context.Background()
	inst, tasks := seedInstance(t, b, 4)

	// a: due yesterday, b: due in a week, c: due two days ago but completed, d: no due date
	setDue := func(task *entity.Task, due time.Time, status entity.TaskStatus) {
		t.Helper()
		task.DueDate = &due
		task.Status = status
		require.NoError(t, b.Repos.Tasks.Update(ctx, task))
	}
	setDue(tasks[0], base.AddDate(0, 0, -1), entity.TaskStatusInProgress)
	setDue(tasks[1], base.AddDate(0, 0, 7), entity.TaskStatusNotStarted)
	setDue(tasks[2], base.AddDate(0, 0, -2), entity.TaskStatusCompleted)

	overdue, err := b.Repos.Tasks.ListOverdue(ctx, base, 0)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, tasks[0].ID, overdue[0].ID)

	later, err := b.Repos.Tasks.ListOverdue(ctx, base.AddDate(0, 0, 10), 0)
	require.NoError(t, err)
	require.Len(t, later, 2)
	assert.Equal(t, tasks[0].ID, later[0].ID, "earliest due first")
	assert.Equal(t, tasks[1].ID, later[1].ID)

	limited, err := b.Repos.Tasks.ListOverdue(ctx, base.AddDate(0, 0, 10), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stored, err := b.Repos.Instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	stored.Status = entity.InstanceStatusCancelled
	require.NoError(t, b.Repos.Instances.Update(ctx, stored))

	frozen, err := b.Repos.Tasks.ListOverdue(ctx, base.AddDate(0, 0, 10), 0)
	require.NoError(t, err)
	assert.Empty(t, frozen, "tasks of a cancelled instance are never overdue")
}

func testOptimisticVersions(t *testing.T, b Backend) {
	ctx := context.Background()
	inst, tasks := seedInstance(t, b, 1)

	first, err := b.Repos.Instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)
	second, err := b.Repos.Instances.GetByID(ctx, inst.ID)
	require.NoError(t, err)

	first.CurrentStepIndex = 1
	require.NoError(t, b.Repos.Instances.Update(ctx, first))

	second.Status = entity.InstanceStatusCancelled
	err = b.Repos.Instances.Update(ctx, second)
	assert.True(t, errors.Is(err, domainwf.ErrConcurrentModification), "got %v", err)

	stale, err := b.Repos.Tasks.GetByID(ctx, tasks[0].ID)
	require.NoError(t, err)
	fresh, err := b.Repos.Tasks.GetByID(ctx, tasks[0].ID)
	require.NoError(t, err)

	fresh.AssignedTo = "fin-1"
	require.NoError(t, b.Repos.Tasks.Update(ctx, fresh))

	stale.Status = entity.TaskStatusInProgress
	err = b.Repos.Tasks.Update(ctx, stale)
	assert.True(t, errors.Is(err, domainwf.ErrConcurrentModification), "got %v", err)

	ghost := &entity.Task{ID: "ghost", Version: 1}
	err = b.Repos.Tasks.Update(ctx, ghost)
	assert.True(t, errors.Is(err, domainwf.ErrNotFound), "got %v", err)
}

func testDependencies(t *testing.T, b Backend) {
	ctx := context.Background()
	inst, tasks := seedInstance(t, b, 3)

	edges := []*entity.TaskDependency{
		{ID: "dep-1", InstanceID: inst.ID, TaskID: tasks[1].ID, PrerequisiteTaskID: tasks[0].ID, DependencyType: entity.DependencySequential},
		{ID: "dep-2", InstanceID: inst.ID, TaskID: tasks[2].ID, PrerequisiteTaskID: tasks[0].ID, DependencyType: entity.DependencyParallel},
	}
	for _, e := range edges {
		require.NoError(t, b.Repos.Dependencies.Create(ctx, e))
	}

	all, err := b.Repos.Dependencies.ListByInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byTask, err := b.Repos.Dependencies.ListByTask(ctx, tasks[1].ID)
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.True(t, byTask[0].Blocking())

	dependents, err := b.Repos.Dependencies.ListByPrerequisite(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Len(t, dependents, 2)
}

func testAudit(t *testing.T, b Backend) {
	ctx := context.Background()
	repo := b.Repos.Audit

	records := []*entity.AuditLog{
		{ID: "a-1", EntityType: entity.EntityTypeTask, EntityID: "t-1", Action: entity.AuditActionStatusChanged, ActorID: "tech-1", ActorRole: entity.RoleTechSupport, Timestamp: base},
		{ID: "a-2", EntityType: entity.EntityTypeTask, EntityID: "t-1", Action: entity.AuditActionCompleted, ActorID: "tech-1", ActorRole: entity.RoleTechSupport, Timestamp: base.Add(time.Minute),
			ChangeDetails: map[string]interface{}{"from": "IN_PROGRESS", "to": "COMPLETED"}},
		{ID: "a-3", EntityType: entity.EntityTypeWorkflowInstance, EntityID: "inst-1", Action: entity.AuditActionCompleted, ActorID: "tech-1", Timestamp: base.Add(2 * time.Minute)},
		{ID: "a-4", EntityType: entity.EntityTypeTask, EntityID: "t-2", Action: entity.AuditActionAssigned, ActorID: "hr-1", Timestamp: base.Add(3 * time.Minute)},
	}

	var last int64
	for _, r := range records {
		require.NoError(t, repo.Append(ctx, r))
		assert.Greater(t, r.Sequence, last, "sequence increases")
		last = r.Sequence
	}

	trail, err := repo.ListByEntity(ctx, entity.EntityTypeTask, "t-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "a-1", trail[0].ID)
	assert.Equal(t, "COMPLETED", trail[1].Detail("to"))
	assert.Equal(t, entity.RoleTechSupport, trail[1].ActorRole)

	byActor, err := repo.ListByActor(ctx, "tech-1", 0)
	require.NoError(t, err)
	require.Len(t, byActor, 3)
	assert.Equal(t, "a-3", byActor[0].ID, "newest first")

	limited, err := repo.ListByActor(ctx, "tech-1", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func testTransactions(t *testing.T, b Backend) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := b.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		seedTemplateCtx(t, ctx, b, "tpl-rolled-back")
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := b.Repos.Templates.GetByID(ctx, "tpl-rolled-back")
	require.NoError(t, err)
	assert.Nil(t, got, "rolled back write must not be visible")

	err = b.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		seedTemplateCtx(t, ctx, b, "tpl-outer")
		return b.Tx.WithTransaction(ctx, func(ctx context.Context) error {
			seedTemplateCtx(t, ctx, b, "tpl-inner")
			return nil
		})
	})
	require.NoError(t, err)

	for _, id := range []string{"tpl-outer", "tpl-inner"} {
		got, err := b.Repos.Templates.GetByID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got, "committed %s", id)
	}

	err = b.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		seedTemplateCtx(t, ctx, b, "tpl-nested-fail")
		return b.Tx.WithTransaction(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)
	got, err = b.Repos.Templates.GetByID(ctx, "tpl-nested-fail")
	require.NoError(t, err)
	assert.Nil(t, got, "inner failure rolls back the outer transaction")
}

func seedTemplateCtx(t *testing.T, ctx context.Context, b Backend, id string) {
	t.Helper()
	require.NoError(t, b.Repos.Templates.Create(ctx, &entity.WorkflowTemplate{
		ID:         id,
		Name:       id,
		Type:       entity.WorkflowTypeOffboarding,
		Version:    1,
		Definition: `{"steps":[]}`,
	}))
}
