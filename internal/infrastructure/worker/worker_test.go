package worker

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/employee-lifecycle/internal/application/port"
	"github.com/garyjia/employee-lifecycle/internal/application/service"
	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/event"
	"github.com/garyjia/employee-lifecycle/internal/domain/policy"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/report"
	"github.com/garyjia/employee-lifecycle/internal/infrastructure/storage"
)

var (
	hrAdmin = entity.Actor{ID: "hr-1", Role: entity.RoleHRAdmin}
	t0      = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, events ...*event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) Events() []*event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*event.Event(nil), p.events...)
}

type fixture struct {
	store     *memory.Store
	repos     port.Repositories
	engine    workflow.WorkflowEngine
	templates service.TemplateService
	employees service.EmployeeService
	queries   service.QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()
	gate := policy.NewGate()
	audit := service.NewAuditRecorder(repos.Audit, nil)
	return &fixture{
		store:     store,
		repos:     repos,
		engine:    workflow.NewEngine(repos, store, gate, audit),
		templates: service.NewTemplateService(repos.Templates, store, gate, audit, nil),
		employees: service.NewEmployeeService(repos.Employees, store, gate, audit, nil),
		queries:   service.NewQueryService(repos, gate, audit),
	}
}

// instantiate creates a two step onboarding instance; the first step is due after one day
func (f *fixture) instantiate(t *testing.T) *workflow.InstanceResult {
	t.Helper()
	ctx := context.Background()

	emp, err := f.employees.Create(ctx, service.CreateEmployeeInput{
		FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com", Actor: hrAdmin, At: t0,
	})
	require.NoError(t, err)

	tpl, err := f.templates.Create(ctx, service.CreateTemplateInput{
		Name: "onboarding",
		Type: entity.WorkflowTypeOnboarding,
		Definition: entity.TemplateDefinition{Steps: []entity.StepDefinition{
			{Key: "laptop", Title: "Provision laptop", TaskType: entity.TaskTypeChecklist, DueInDays: 1},
			{Key: "badge", Title: "Print badge", TaskType: entity.TaskTypeChecklist, DueInDays: 5,
				DependsOn: []entity.StepDependency{{Key: "laptop"}}},
		}},
		Activate: true,
		Actor:    hrAdmin,
		At:       t0,
	})
	require.NoError(t, err)

	res, err := f.engine.Instantiate(ctx, workflow.InstantiateCommand{
		TemplateID: tpl.ID, EmployeeID: emp.ID, Actor: hrAdmin, At: t0,
	})
	require.NoError(t, err)
	require.Len(t, res.Tasks, 2)
	return res
}

func TestOverdueScanner_ScanOnce(t *testing.T) {
	f := newFixture(t)
	res := f.instantiate(t)
	pub := &recordingPublisher{}

	scanner := NewOverdueScanner(OverdueScannerConfig{}, f.repos.Tasks, pub, zap.NewNop())
	clock := t0.Add(2 * 24 * time.Hour)
	scanner.now = func() time.Time { return clock }
	ctx := context.Background()

	n, err := scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	events := pub.Events()
	require.Len(t, events, 1)
	assert.Equal(t, event.TypeTaskOverdue, events[0].Type)
	assert.Equal(t, res.Tasks[0].ID, events[0].TaskID)
	assert.Equal(t, res.Instance.ID, events[0].InstanceID)
	assert.Equal(t, "laptop", events[0].GetPayloadString("step_key"))
	assert.Equal(t, "24h0m0s", events[0].GetPayloadString("overdue_by"))

	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a task is reported once per due date")

	clock = t0.Add(6 * 24 * time.Hour)
	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "badge becomes overdue too")

	_, err = f.engine.CancelInstance(ctx, workflow.InstanceCommand{
		InstanceID: res.Instance.ID, Reason: "offer withdrawn", Actor: hrAdmin, At: clock,
	})
	require.NoError(t, err)

	n, err = scanner.ScanOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	stats := scanner.Stats()
	assert.Equal(t, 4, stats.Scans)
	assert.Equal(t, 2, stats.Reported)
	assert.NoError(t, stats.LastError)
}

type failingTasks struct{ port.TaskRepository }

func (failingTasks) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*entity.Task, error) {
	return nil, errors.New("database is locked")
}

func TestOverdueScanner_ListError(t *testing.T) {
	scanner := NewOverdueScanner(OverdueScannerConfig{}, failingTasks{}, &recordingPublisher{}, nil)

	_, err := scanner.ScanOnce(context.Background())
	assert.ErrorContains(t, err, "database is locked")
	assert.Error(t, scanner.Stats().LastError)
}

func TestManager_StartStop(t *testing.T) {
	f := newFixture(t)
	pub := &recordingPublisher{}
	scanner := NewOverdueScanner(OverdueScannerConfig{PollInterval: 5 * time.Millisecond}, f.repos.Tasks, pub, nil)

	m := NewManager(zap.NewNop())
	m.Register(scanner)
	assert.Equal(t, 1, m.Count())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.Error(t, m.StartAll(context.Background()))
	assert.Error(t, scanner.Start(context.Background()), "scanner is already running")

	require.Eventually(t, func() bool { return scanner.Stats().Scans > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.StopAll())
	assert.False(t, m.IsRunning())
	assert.NoError(t, m.StopAll(), "stopping twice is fine")
}

func TestReportArchiver_Handle(t *testing.T) {
	f := newFixture(t)
	res := f.instantiate(t)
	ctx := context.Background()

	_, err := f.engine.CancelInstance(ctx, workflow.InstanceCommand{
		InstanceID: res.Instance.ID, Reason: "offer withdrawn", Actor: hrAdmin, At: t0.Add(time.Hour),
	})
	require.NoError(t, err)

	files := storage.NewLocalFileStorage(t.TempDir(), zap.NewNop())
	archiver := NewReportArchiver(
		report.NewCollector(f.engine, f.queries, f.employees),
		report.NewWorkbookWriter(zap.NewNop()),
		files,
		zap.NewNop(),
	)

	evt := event.NewEvent(event.TypeInstanceCancelled, res.Instance.ID, nil, t0.Add(time.Hour))
	require.NoError(t, archiver.Handle(ctx, evt))

	dest := ArchivePath(res.Instance.ID, entity.InstanceStatusCancelled)
	assert.Contains(t, dest, "report-cancelled.xlsx")
	require.True(t, files.Exists(ctx, dest))

	content, err := files.Read(ctx, dest)
	require.NoError(t, err)
	wb, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	defer wb.Close()

	status, err := wb.GetCellValue(report.SheetSummary, "B4")
	require.NoError(t, err)
	assert.Equal(t, string(entity.InstanceStatusCancelled), status)
}

func TestReportArchiver_RejectsOpenInstance(t *testing.T) {
	f := newFixture(t)
	res := f.instantiate(t)

	archiver := NewReportArchiver(
		report.NewCollector(f.engine, f.queries, f.employees),
		report.NewWorkbookWriter(nil),
		storage.NewLocalFileStorage(t.TempDir(), nil),
		nil,
	)

	evt := event.NewEvent(event.TypeInstanceCompleted, res.Instance.ID, nil, t0)
	assert.ErrorContains(t, archiver.Handle(context.Background(), evt), "not terminal")

	missing := event.NewEvent(event.TypeInstanceCompleted, "nope", nil, t0)
	assert.Error(t, archiver.Handle(context.Background(), missing))
}
