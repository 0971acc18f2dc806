// Package eventbus provides the event types and bus implementations used to
// observe query decomposition and execution.
package eventbus

import (
	"context"
	"time"
)

// EventType represents the type of an event
type EventType string

// Standard event types
const (
	// Decomposition events
	EventDecompositionStarted EventType = "decomposition_started"
	EventDecompositionSuccess EventType = "decomposition_success"
	EventDecompositionFailure EventType = "decomposition_failure"

	// Plan validation events
	EventPlanValidationSuccess EventType = "plan_validation_success"
	EventPlanValidationFailure EventType = "plan_validation_failure"

	// Sub-query execution events
	EventSubQueryStarted  EventType = "subquery_execution_started"
	EventSubQuerySuccess  EventType = "subquery_execution_success"
	EventSubQueryFailure  EventType = "subquery_execution_failure"
	EventSubQuerySkipped  EventType = "subquery_execution_skipped"
	EventSubQueryCacheHit EventType = "subquery_cache_hit"

	// Query processing events
	EventQueryProcessingStarted EventType = "query_processing_started"
	EventQueryProcessingSuccess EventType = "query_processing_success"
	EventQueryProcessingFailure EventType = "query_processing_failure"

	// Async query processing events
	EventQueryAsyncStarted   EventType = "query_async_processing_started"
	EventQueryAsyncSuccess   EventType = "query_async_processing_success"
	EventQueryAsyncFailure   EventType = "query_async_processing_failure"
	EventQueryAsyncCancelled EventType = "query_async_processing_cancelled"

	// System events
	EventSystemError   EventType = "system_error"
	EventSystemWarning EventType = "system_warning"
)

// EventHandler is a function that handles events
type EventHandler func(context.Context, Event) error

// Event represents something that has happened within the system
type Event interface {
	// Type returns the event type
	Type() EventType

	// Payload returns the event data
	Payload() interface{}

	// Metadata returns additional information about the event
	Metadata() map[string]interface{}

	// Timestamp returns when the event occurred
	Timestamp() int64

	// Source returns information about what generated the event
	Source() string
}

// EventBus is the central event dispatch system
type EventBus interface {
	// Publish sends an event to all subscribed handlers
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for specific event types
	// Returns a subscription ID that can be used to unsubscribe
	Subscribe(eventTypes []EventType, handler EventHandler) (string, error)

	// SubscribeAll registers a handler for all event types
	// Returns a subscription ID that can be used to unsubscribe
	SubscribeAll(handler EventHandler) (string, error)

	// Unsubscribe removes a subscription by ID
	Unsubscribe(subscriptionID string) error

	// Close shuts down the event bus, cleaning up resources
	Close() error
}

// BaseEvent is a simple implementation of the Event interface
type BaseEvent struct {
	eventType  EventType
	payload    interface{}
	metadata   map[string]interface{}
	timestamp  int64
	sourceInfo string
}

// NewEvent creates a new BaseEvent
func NewEvent(
	eventType EventType,
	payload interface{},
	source string,
	metadata map[string]interface{},
) *BaseEvent {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &BaseEvent{
		eventType:  eventType,
		payload:    payload,
		metadata:   metadata,
		timestamp:  time.Now().UnixNano(),
		sourceInfo: source,
	}
}

// Type returns the event type
func (e *BaseEvent) Type() EventType {
	return e.eventType
}

// Payload returns the event data
func (e *BaseEvent) Payload() interface{} {
	return e.payload
}

// Metadata returns additional information about the event
func (e *BaseEvent) Metadata() map[string]interface{} {
	return e.metadata
}

// Timestamp returns when the event occurred
func (e *BaseEvent) Timestamp() int64 {
	return e.timestamp
}

// Source returns information about what generated the event
func (e *BaseEvent) Source() string {
	return e.sourceInfo
}

// WithMetadata adds or updates a metadata entry and returns the same event.
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	e.metadata[key] = value
	return e
}
