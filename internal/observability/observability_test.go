package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/employee-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/event"
	"github.com/garyjia/employee-lifecycle/internal/domain/graph"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// stubEngine answers every operation through optional funcs
type stubEngine struct {
	completeFunc func(ctx context.Context, cmd workflow.TaskCommand) (*workflow.TaskResult, error)
	cancelFunc   func(ctx context.Context, cmd workflow.InstanceCommand) (*workflow.InstanceResult, error)
}

func (s *stubEngine) Instantiate(ctx context.Context, cmd workflow.InstantiateCommand) (*workflow.InstanceResult, error) {
	return &workflow.InstanceResult{Instance: &entity.WorkflowInstance{ID: "inst-new"}}, nil
}

func (s *stubEngine) StartInstance(ctx context.Context, cmd workflow.InstanceCommand) (*workflow.InstanceResult, error) {
	return &workflow.InstanceResult{}, nil
}

func (s *stubEngine) CancelInstance(ctx context.Context, cmd workflow.InstanceCommand) (*workflow.InstanceResult, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return &workflow.InstanceResult{}, nil
}

func (s *stubEngine) AssignTask(ctx context.Context, cmd workflow.AssignCommand) (*workflow.TaskResult, error) {
	return &workflow.TaskResult{}, nil
}

func (s *stubEngine) StartTask(ctx context.Context, cmd workflow.TaskCommand) (*workflow.TaskResult, error) {
	return &workflow.TaskResult{}, nil
}

func (s *stubEngine) CompleteTask(ctx context.Context, cmd workflow.TaskCommand) (*workflow.TaskResult, error) {
	if s.completeFunc != nil {
		return s.completeFunc(ctx, cmd)
	}
	return &workflow.TaskResult{}, nil
}

func (s *stubEngine) GetInstanceProgress(ctx context.Context, actor entity.Actor, instanceID string) (*workflow.Progress, error) {
	return &workflow.Progress{}, nil
}

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	return reader, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

var manager = entity.Actor{ID: "mgr-1", Role: entity.RoleManager}

func TestInstrument_CompleteTaskSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	_, mp := setupTestMeter()

	stub := &stubEngine{completeFunc: func(ctx context.Context, cmd workflow.TaskCommand) (*workflow.TaskResult, error) {
		return &workflow.TaskResult{
			Instance:          &entity.WorkflowInstance{ID: "inst-1"},
			Unlocked:          []string{"t-2", "t-3"},
			InstanceCompleted: false,
		}, nil
	}}
	engine := InstrumentWith(stub, tracer, mp.Meter("test"))

	if _, err := engine.CompleteTask(context.Background(), workflow.TaskCommand{TaskID: "t-1", Actor: manager}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "lifecycle.engine.complete_task" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}

	want := map[attribute.Key]string{
		attrTaskID:     "t-1",
		attrInstanceID: "inst-1",
		attrActorRole:  string(entity.RoleManager),
		attrOutcome:    "ok",
	}
	for key, value := range want {
		got, ok := spanAttr(span, key)
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}
		if got.AsString() != value {
			t.Errorf("%s = %q, want %q", key, got.AsString(), value)
		}
	}
	if got, _ := spanAttr(span, attrUnlocked); got.AsInt64() != 2 {
		t.Errorf("unlocked = %d, want 2", got.AsInt64())
	}
}

func TestInstrument_ErrorSpanAndMetrics(t *testing.T) {
	sr, tracer := setupTestTracer()
	reader, mp := setupTestMeter()

	denied := fmt.Errorf("%w: manager mgr-1 does not manage employee emp-2", domainwf.ErrUnauthorized)
	stub := &stubEngine{cancelFunc: func(ctx context.Context, cmd workflow.InstanceCommand) (*workflow.InstanceResult, error) {
		return nil, denied
	}}
	engine := InstrumentWith(stub, tracer, mp.Meter("test"))

	_, err := engine.CancelInstance(context.Background(), workflow.InstanceCommand{InstanceID: "inst-1", Actor: manager})
	if !errors.Is(err, domainwf.ErrUnauthorized) {
		t.Fatalf("error not passed through: %v", err)
	}
	if _, err := engine.StartInstance(context.Background(), workflow.InstanceCommand{InstanceID: "inst-1", Actor: manager}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("expected RecordError to add an event")
	}

	rm := collectMetrics(t, reader)
	ops := findMetric(rm, "lifecycle.engine.operations")
	if ops == nil {
		t.Fatal("lifecycle.engine.operations not found")
	}
	sum, ok := ops.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("expected Sum[int64] data type")
	}

	byOutcome := map[string]int64{}
	for _, dp := range sum.DataPoints {
		outcome, _ := dp.Attributes.Value("outcome")
		byOutcome[outcome.AsString()] += dp.Value
	}
	if byOutcome["unauthorized"] != 1 || byOutcome["ok"] != 1 {
		t.Errorf("operations by outcome = %v", byOutcome)
	}

	duration := findMetric(rm, "lifecycle.engine.duration")
	if duration == nil {
		t.Fatal("lifecycle.engine.duration not found")
	}
	if _, ok := duration.Data.(metricdata.Histogram[float64]); !ok {
		t.Error("expected Histogram[float64] data type")
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("task t-1: %w", domainwf.ErrNotFound), "not_found"},
		{fmt.Errorf("%w: %w", domainwf.ErrGuardFailed, domainwf.ErrNotEligible), "not_eligible"},
		{fmt.Errorf("%w: %w: frozen", domainwf.ErrInvalidState, domainwf.ErrInvalidTransition), "invalid_state"},
		{domainwf.ErrInvalidTransition, "invalid_transition"},
		{&graph.CycleError{Path: []string{"a", "b", "a"}}, "cycle"},
		{domainwf.ErrConcurrentModification, "conflict"},
		{fmt.Errorf("%w: disk full", domainwf.ErrAuditWriteFailure), "audit_failure"},
		{context.DeadlineExceeded, "cancelled"},
		{errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCountEvents(t *testing.T) {
	reader, mp := setupTestMeter()
	d := dispatcher.NewDispatcher()
	defer d.Close()

	CountEventsWith(d, mp.Meter("test"))

	ctx := context.Background()
	if err := d.Dispatch(ctx, event.NewEvent(event.TypeTaskCompleted, "inst-1", nil, time.Time{})); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := d.Dispatch(ctx, event.NewEvent(event.TypeTaskCompleted, "inst-1", nil, time.Time{})); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := d.Dispatch(ctx, event.NewEvent(event.TypeInstanceCompleted, "inst-1", nil, time.Time{})); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	m := findMetric(collectMetrics(t, reader), "lifecycle.events")
	if m == nil {
		t.Fatal("lifecycle.events not found")
	}
	sum := m.Data.(metricdata.Sum[int64])
	byType := map[string]int64{}
	for _, dp := range sum.DataPoints {
		typ, _ := dp.Attributes.Value("type")
		byType[typ.AsString()] += dp.Value
	}
	if byType["task.completed"] != 2 || byType["instance.completed"] != 1 {
		t.Errorf("events by type = %v", byType)
	}
}
