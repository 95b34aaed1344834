package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a committed domain fact, published after its transaction succeeds.
// Handlers observe events; they never take part in the transaction.
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	InstanceID    string                 `json:"instance_id,omitempty"`
	TaskID        string                 `json:"task_id,omitempty"`
	ActorID       string                 `json:"actor_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a domain event stamped with the operation time
func NewEvent(eventType Type, instanceID string, payload map[string]interface{}, at time.Time) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		InstanceID:    instanceID,
		Payload:       payload,
		Timestamp:     at,
		CorrelationID: id,
	}
}

// NewEventWithCorrelation creates an event linked to a correlation chain
func NewEventWithCorrelation(eventType Type, instanceID string, payload map[string]interface{}, at time.Time, correlationID string) *Event {
	evt := NewEvent(eventType, instanceID, payload, at)
	evt.CorrelationID = correlationID
	return evt
}

// WithTask returns a copy of the event bound to a task
func (e *Event) WithTask(taskID string) *Event {
	c := e.clone()
	c.TaskID = taskID
	return c
}

// WithActor returns a copy of the event attributed to an actor
func (e *Event) WithActor(actorID string) *Event {
	c := e.clone()
	c.ActorID = actorID
	return c
}

// WithPayload returns a new Event with an added payload key-value pair
func (e *Event) WithPayload(key string, value interface{}) *Event {
	c := e.clone()
	c.Payload[key] = value
	return c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

func (e *Event) clone() *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	c := *e
	c.Payload = payload
	return &c
}
