// Package events carries discrete lifecycle events from the review engine to
// an external sink. The engine emits events at run, specialist, context, and
// queue boundaries; sinks decide transport.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	KindRunStarted          Kind = "run_started"
	KindStepCompleted       Kind = "step_completed"
	KindSpecialistSpawned   Kind = "specialist_spawned"
	KindSpecialistCompleted Kind = "specialist_completed"
	KindContextResolved     Kind = "context_resolved"
	KindQueueEnqueued       Kind = "queue_enqueued"
	KindQueueCompleted      Kind = "queue_completed"
	KindQueueFailed         Kind = "queue_failed"
)

// Event is one discrete lifecycle event.
type Event struct {
	Kind      Kind           `json:"kind"`
	RunID     string         `json:"run_id,omitempty"`
	Specialty string         `json:"specialty,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (e *Event) Schema() message.Type {
	return EventType
}

// Validate validates the event.
func (e *Event) Validate() error {
	if e.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *Event) MarshalJSON() ([]byte, error) {
	type Alias Event
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	type Alias Event
	return json.Unmarshal(data, (*Alias)(e))
}

// EventType is the message type for review lifecycle events.
var EventType = message.Type{
	Domain:   "review",
	Category: "lifecycle",
	Version:  "v1",
}

// Sink receives lifecycle events. Implementations must be safe for
// concurrent use; Emit must never block the caller on a slow transport.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(context.Context, Event) {}
