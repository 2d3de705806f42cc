package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
)

// SlogSink writes events as structured log lines.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging through the given logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Emit logs the event at Info with its fields as attributes.
func (s *SlogSink) Emit(_ context.Context, ev Event) {
	attrs := make([]any, 0, 6+2*len(ev.Fields))
	attrs = append(attrs, "kind", string(ev.Kind))
	if ev.RunID != "" {
		attrs = append(attrs, "run_id", ev.RunID)
	}
	if ev.Specialty != "" {
		attrs = append(attrs, "specialty", ev.Specialty)
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, k, v)
	}
	s.logger.Info("Review event", attrs...)
}

// reviewEventSubject is where NATSSink publishes lifecycle events.
const reviewEventSubject = "review.event.lifecycle"

// NATSSink publishes events to a JetStream subject.
type NATSSink struct {
	client *natsclient.Client
	logger *slog.Logger
}

// NewNATSSink creates a sink publishing through the given NATS client.
func NewNATSSink(client *natsclient.Client, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSink{client: client, logger: logger}
}

// Emit publishes the event. Publish failures are logged, never surfaced;
// lifecycle events are advisory and must not affect the run.
func (s *NATSSink) Emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	baseMsg := message.NewBaseMessage(EventType, &ev, "review-engine")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		s.logger.Warn("Failed to marshal review event", "kind", ev.Kind, "error", err)
		return
	}

	if err := s.client.PublishToStream(ctx, reviewEventSubject, data); err != nil {
		s.logger.Warn("Failed to publish review event", "kind", ev.Kind, "error", err)
	}
}

// MemorySink records events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Emit appends the event.
func (s *MemorySink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a snapshot of emitted events.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
