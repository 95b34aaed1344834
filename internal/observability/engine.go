// Package observability wraps the workflow engine and the event dispatcher
// with OpenTelemetry spans and metrics.
package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/garyjia/employee-lifecycle/internal/application/workflow"
	"github.com/garyjia/employee-lifecycle/internal/domain/entity"
	"github.com/garyjia/employee-lifecycle/internal/domain/graph"
	domainwf "github.com/garyjia/employee-lifecycle/internal/domain/workflow"
)

// scopeName is the instrumentation scope for lifecycle telemetry
const scopeName = "github.com/garyjia/employee-lifecycle"

// Span attribute keys
const (
	attrOperation  = attribute.Key("lifecycle.operation")
	attrInstanceID = attribute.Key("lifecycle.instance.id")
	attrTaskID     = attribute.Key("lifecycle.task.id")
	attrTemplateID = attribute.Key("lifecycle.template.id")
	attrEmployeeID = attribute.Key("lifecycle.employee.id")
	attrActorRole  = attribute.Key("lifecycle.actor.role")
	attrOutcome    = attribute.Key("lifecycle.outcome")
	attrNoOp       = attribute.Key("lifecycle.task.noop")
	attrUnlocked   = attribute.Key("lifecycle.task.unlocked")
	attrCompleted  = attribute.Key("lifecycle.instance.completed")
)

type instrumentedEngine struct {
	next       workflow.WorkflowEngine
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	operations metric.Int64Counter
}

// Instrument wraps engine with the global TracerProvider and MeterProvider.
// With no providers configured both are noop.
func Instrument(engine workflow.WorkflowEngine) workflow.WorkflowEngine {
	return InstrumentWith(engine, otel.Tracer(scopeName), otel.Meter(scopeName))
}

// InstrumentWith wraps engine with the given tracer and meter.
//
// Instruments:
//   - lifecycle.engine.duration (Float64Histogram, seconds)
//   - lifecycle.engine.operations (Int64Counter)
//
// both with attributes operation and outcome.
func InstrumentWith(engine workflow.WorkflowEngine, tracer trace.Tracer, meter metric.Meter) workflow.WorkflowEngine {
	duration, _ := meter.Float64Histogram(
		"lifecycle.engine.duration",
		metric.WithDescription("Duration of workflow engine operations in seconds"),
		metric.WithUnit("s"),
	)
	operations, _ := meter.Int64Counter(
		"lifecycle.engine.operations",
		metric.WithDescription("Total number of workflow engine operations"),
		metric.WithUnit("{operation}"),
	)

	return &instrumentedEngine{
		next:       engine,
		tracer:     tracer,
		duration:   duration,
		operations: operations,
	}
}

func (e *instrumentedEngine) observe(ctx context.Context, op string, actor entity.Actor, attrs []attribute.KeyValue, fn func(ctx context.Context, span trace.Span) error) error {
	attrs = append(attrs, attrOperation.String(op), attrActorRole.String(string(actor.Role)))
	ctx, span := e.tracer.Start(ctx, "lifecycle.engine."+op,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx, span)
	elapsed := time.Since(start).Seconds()

	outcome := Outcome(err)
	span.SetAttributes(attrOutcome.String(outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	set := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("outcome", outcome),
	)
	e.duration.Record(ctx, elapsed, set)
	e.operations.Add(ctx, 1, set)

	return err
}

func (e *instrumentedEngine) Instantiate(ctx context.Context, cmd workflow.InstantiateCommand) (*workflow.InstanceResult, error) {
	var res *workflow.InstanceResult
	attrs := []attribute.KeyValue{
		attrTemplateID.String(cmd.TemplateID),
		attrEmployeeID.String(cmd.EmployeeID),
	}
	err := e.observe(ctx, "instantiate", cmd.Actor, attrs, func(ctx context.Context, span trace.Span) error {
		var err error
		res, err = e.next.Instantiate(ctx, cmd)
		if res != nil && res.Instance != nil {
			span.SetAttributes(attrInstanceID.String(res.Instance.ID))
		}
		return err
	})
	return res, err
}

func (e *instrumentedEngine) StartInstance(ctx context.Context, cmd workflow.InstanceCommand) (*workflow.InstanceResult, error) {
	return e.instanceOp(ctx, "start_instance", cmd, e.next.StartInstance)
}

func (e *instrumentedEngine) CancelInstance(ctx context.Context, cmd workflow.InstanceCommand) (*workflow.InstanceResult, error) {
	return e.instanceOp(ctx, "cancel_instance", cmd, e.next.CancelInstance)
}

func (e *instrumentedEngine) instanceOp(ctx context.Context, op string, cmd workflow.InstanceCommand,
	call func(context.Context, workflow.InstanceCommand) (*workflow.InstanceResult, error)) (*workflow.InstanceResult, error) {
	var res *workflow.InstanceResult
	err := e.observe(ctx, op, cmd.Actor, []attribute.KeyValue{attrInstanceID.String(cmd.InstanceID)},
		func(ctx context.Context, _ trace.Span) error {
			var err error
			res, err = call(ctx, cmd)
			return err
		})
	return res, err
}

func (e *instrumentedEngine) AssignTask(ctx context.Context, cmd workflow.AssignCommand) (*workflow.TaskResult, error) {
	var res *workflow.TaskResult
	err := e.observe(ctx, "assign_task", cmd.Actor, []attribute.KeyValue{attrTaskID.String(cmd.TaskID)},
		func(ctx context.Context, span trace.Span) error {
			var err error
			res, err = e.next.AssignTask(ctx, cmd)
			annotateTask(span, res)
			return err
		})
	return res, err
}

func (e *instrumentedEngine) StartTask(ctx context.Context, cmd workflow.TaskCommand) (*workflow.TaskResult, error) {
	return e.taskOp(ctx, "start_task", cmd, e.next.StartTask)
}

func (e *instrumentedEngine) CompleteTask(ctx context.Context, cmd workflow.TaskCommand) (*workflow.TaskResult, error) {
	return e.taskOp(ctx, "complete_task", cmd, e.next.CompleteTask)
}

func (e *instrumentedEngine) taskOp(ctx context.Context, op string, cmd workflow.TaskCommand,
	call func(context.Context, workflow.TaskCommand) (*workflow.TaskResult, error)) (*workflow.TaskResult, error) {
	var res *workflow.TaskResult
	err := e.observe(ctx, op, cmd.Actor, []attribute.KeyValue{attrTaskID.String(cmd.TaskID)},
		func(ctx context.Context, span trace.Span) error {
			var err error
			res, err = call(ctx, cmd)
			annotateTask(span, res)
			return err
		})
	return res, err
}

func (e *instrumentedEngine) GetInstanceProgress(ctx context.Context, actor entity.Actor, instanceID string) (*workflow.Progress, error) {
	var res *workflow.Progress
	err := e.observe(ctx, "get_progress", actor, []attribute.KeyValue{attrInstanceID.String(instanceID)},
		func(ctx context.Context, _ trace.Span) error {
			var err error
			res, err = e.next.GetInstanceProgress(ctx, actor, instanceID)
			return err
		})
	return res, err
}

func annotateTask(span trace.Span, res *workflow.TaskResult) {
	if res == nil {
		return
	}
	if res.Instance != nil {
		span.SetAttributes(attrInstanceID.String(res.Instance.ID))
	}
	span.SetAttributes(
		attrNoOp.Bool(res.NoOp),
		attrUnlocked.Int(len(res.Unlocked)),
		attrCompleted.Bool(res.InstanceCompleted),
	)
}

// Outcome classifies an engine error into a low-cardinality label
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domainwf.ErrNotFound):
		return "not_found"
	case errors.Is(err, domainwf.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domainwf.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, domainwf.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, domainwf.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, graph.ErrCycle):
		return "cycle"
	case errors.Is(err, domainwf.ErrInvalidTemplate):
		return "invalid_template"
	case errors.Is(err, domainwf.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domainwf.ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, domainwf.ErrAuditWriteFailure):
		return "audit_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
