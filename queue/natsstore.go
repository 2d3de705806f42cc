package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// recordBucket holds request records keyed by dedup id.
	recordBucket = "REVIEW_WORKFLOW"

	// pendingStream carries the FIFO list of pending request ids.
	pendingStream  = "REVIEW_WORKFLOW_PENDING"
	pendingSubject = "workflow.pending"
	pendingDurable = "workflow-worker"

	// DefaultProcessingTimeout matches the worker's per-request budget.
	// Record TTL is twice this, so finished records linger long enough
	// for waiters to read them.
	DefaultProcessingTimeout = 10 * time.Minute
)

// NATSStore persists records in a JetStream KV bucket and the pending list
// in a work-queue stream. The stream gives FIFO ordering across producers;
// the KV bucket's atomic create gives dedup safety under races.
type NATSStore struct {
	records  jetstream.KeyValue
	js       jetstream.JetStream
	consumer jetstream.Consumer
}

// NewNATSStore creates the bucket, stream, and worker consumer if needed.
func NewNATSStore(ctx context.Context, nc *natsclient.Client, processingTimeout time.Duration) (*NATSStore, error) {
	if processingTimeout <= 0 {
		processingTimeout = DefaultProcessingTimeout
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	records, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      recordBucket,
		Description: "Workflow request records",
		TTL:         2 * processingTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update record bucket: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        pendingStream,
		Description: "FIFO pending workflow request ids",
		Subjects:    []string{pendingSubject},
		Retention:   jetstream.WorkQueuePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update pending stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:   pendingDurable,
		AckPolicy: jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update worker consumer: %w", err)
	}

	return &NATSStore{records: records, js: js, consumer: consumer}, nil
}

// CreateRecord atomically stores a new record. A concurrent create for the
// same id loses with ErrExists.
func (s *NATSStore) CreateRecord(ctx context.Context, req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := s.records.Create(ctx, req.ID, data); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("record %s: %w", req.ID, ErrExists)
		}
		return fmt.Errorf("store request: %w", err)
	}
	return nil
}

// GetRecord loads a record by id.
func (s *NATSStore) GetRecord(ctx context.Context, id string) (Request, error) {
	entry, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return Request{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return Request{}, fmt.Errorf("load request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(entry.Value(), &req); err != nil {
		return Request{}, fmt.Errorf("decode request %s: %w", id, err)
	}
	return req, nil
}

// UpdateRecord overwrites an existing record.
func (s *NATSStore) UpdateRecord(ctx context.Context, req Request) error {
	if _, err := s.records.Get(ctx, req.ID); err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("record %s: %w", req.ID, ErrNotFound)
		}
		return fmt.Errorf("load request: %w", err)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if _, err := s.records.Put(ctx, req.ID, data); err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return nil
}

// PushPending publishes the id onto the work-queue stream.
func (s *NATSStore) PushPending(ctx context.Context, id string) error {
	if _, err := s.js.Publish(ctx, pendingSubject, []byte(id)); err != nil {
		return fmt.Errorf("push pending id: %w", err)
	}
	return nil
}

// PopPending fetches the oldest pending id, returning false when the
// stream is empty.
func (s *NATSStore) PopPending(_ context.Context) (string, bool, error) {
	batch, err := s.consumer.Fetch(1, jetstream.FetchMaxWait(250*time.Millisecond))
	if err != nil {
		return "", false, fmt.Errorf("fetch pending id: %w", err)
	}

	for msg := range batch.Messages() {
		id := string(msg.Data())
		if err := msg.Ack(); err != nil {
			return "", false, fmt.Errorf("ack pending id: %w", err)
		}
		return id, true, nil
	}
	if err := batch.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		return "", false, fmt.Errorf("fetch pending id: %w", err)
	}
	return "", false, nil
}
