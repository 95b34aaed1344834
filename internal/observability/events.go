package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/garyjia/employee-lifecycle/internal/application/dispatcher"
	"github.com/garyjia/employee-lifecycle/internal/domain/event"
)

// EventCounterName is the handler name used when subscribing to the dispatcher
const EventCounterName = "observability.event_counter"

// CountEvents subscribes a lifecycle.events counter to every event type
// published through d, using the global MeterProvider.
func CountEvents(d dispatcher.Dispatcher) {
	CountEventsWith(d, otel.Meter(scopeName))
}

// CountEventsWith subscribes the counter using meter
func CountEventsWith(d dispatcher.Dispatcher, meter metric.Meter) {
	d.SubscribeAll(EventCounterName, EventCounter(meter))
}

// EventCounter returns a handler that counts events by type
func EventCounter(meter metric.Meter) dispatcher.Handler {
	counter, _ := meter.Int64Counter(
		"lifecycle.events",
		metric.WithDescription("Committed domain events published"),
		metric.WithUnit("{event}"),
	)

	return func(ctx context.Context, evt *event.Event) error {
		counter.Add(ctx, 1, metric.WithAttributes(attribute.String("type", evt.Type.String())))
		return nil
	}
}
