package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Coldaine/repo-analysis-suite/events"
)

// pollInterval is how often waiters re-read the record.
const pollInterval = 500 * time.Millisecond

// DefaultWaitTimeout bounds WaitForResult when the caller passes zero.
const DefaultWaitTimeout = 10 * time.Minute

// Queue layers dedup and lifecycle semantics over a Store.
type Queue struct {
	store  Store
	logger *slog.Logger
	sink   events.Sink
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithSink sets the lifecycle event sink.
func WithSink(sink events.Sink) QueueOption {
	return func(q *Queue) {
		q.sink = sink
	}
}

// New creates a queue over the given store.
func New(store Store, opts ...QueueOption) *Queue {
	q := &Queue{
		store:  store,
		logger: slog.Default(),
		sink:   events.Discard,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue submits a request. If a request with the same identity is already
// pending or in progress, the existing id is returned and no new entry is
// created. A finished identity may be resubmitted; its record is reset to
// pending and queued again.
func (q *Queue) Enqueue(ctx context.Context, req Request) (string, error) {
	if req.ID == "" {
		id, err := DedupID(req.Type, req.Params)
		if err != nil {
			return "", err
		}
		req.ID = id
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Status = StatusPending
	req.Result = nil

	existing, err := q.store.GetRecord(ctx, req.ID)
	switch {
	case err == nil && !existing.Status.Terminal():
		q.logger.Debug("Duplicate workflow request", "id", req.ID, "type", req.Type)
		return req.ID, nil
	case err == nil:
		// Finished earlier; reset and run again.
		if err := q.store.UpdateRecord(ctx, req); err != nil {
			return "", fmt.Errorf("reset request %s: %w", req.ID, err)
		}
	case errors.Is(err, ErrNotFound):
		if err := q.store.CreateRecord(ctx, req); err != nil {
			if errors.Is(err, ErrExists) {
				// Lost a race with an identical concurrent enqueue.
				return req.ID, nil
			}
			return "", err
		}
	default:
		return "", err
	}

	if err := q.store.PushPending(ctx, req.ID); err != nil {
		return "", err
	}

	q.logger.Info("Workflow request enqueued", "id", req.ID, "type", req.Type, "requester", req.Requester)
	q.emit(ctx, events.KindQueueEnqueued, req)
	return req.ID, nil
}

// GetNext pops the oldest pending request, or nil when the queue is empty.
// An id whose record has expired is dropped.
func (q *Queue) GetNext(ctx context.Context) (*Request, error) {
	id, ok, err := q.store.PopPending(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	req, err := q.store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			q.logger.Warn("Pending id has no record, dropping", "id", id)
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

// MarkInProgress transitions pending -> in_progress.
func (q *Queue) MarkInProgress(ctx context.Context, id string) error {
	return q.transition(ctx, id, StatusPending, StatusInProgress, nil)
}

// MarkCompleted transitions in_progress -> completed with the result.
func (q *Queue) MarkCompleted(ctx context.Context, id string, result map[string]any) error {
	if err := q.transition(ctx, id, StatusInProgress, StatusCompleted, result); err != nil {
		return err
	}
	q.emit(ctx, events.KindQueueCompleted, Request{ID: id})
	return nil
}

// MarkFailed transitions in_progress -> failed with the error message.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause string) error {
	result := map[string]any{"error": cause}
	if err := q.transition(ctx, id, StatusInProgress, StatusFailed, result); err != nil {
		return err
	}
	q.emit(ctx, events.KindQueueFailed, Request{ID: id})
	return nil
}

// transition applies a monotonic status change. A terminal record is never
// revisited.
func (q *Queue) transition(ctx context.Context, id string, from, to Status, result map[string]any) error {
	req, err := q.store.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return fmt.Errorf("request %s already %s, cannot mark %s", id, req.Status, to)
	}
	if req.Status != from {
		return fmt.Errorf("request %s is %s, cannot mark %s", id, req.Status, to)
	}

	req.Status = to
	if result != nil {
		req.Result = result
	}
	return q.store.UpdateRecord(ctx, req)
}

// WaitForResult polls until the request reaches a terminal status or the
// timeout elapses. A failed request surfaces its stored error; a missing
// record surfaces ErrNotFound; running out of time surfaces ErrTimeout.
func (q *Queue) WaitForResult(ctx context.Context, id string, timeout time.Duration) (map[string]any, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		req, err := q.store.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}

		switch req.Status {
		case StatusCompleted:
			return req.Result, nil
		case StatusFailed:
			cause := "unknown"
			if msg, ok := req.Result["error"].(string); ok && msg != "" {
				cause = msg
			}
			return nil, fmt.Errorf("workflow request %s failed: %s", id, cause)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("request %s after %s: %w", id, timeout, ErrTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StatusOf reports the current status of a request.
func (q *Queue) StatusOf(ctx context.Context, id string) (Status, error) {
	req, err := q.store.GetRecord(ctx, id)
	if err != nil {
		return "", err
	}
	return req.Status, nil
}

func (q *Queue) emit(ctx context.Context, kind events.Kind, req Request) {
	q.sink.Emit(ctx, events.Event{
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Fields:    map[string]any{"request": req.ID, "type": req.Type},
	})
}
