package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for waiters and lifecycle transitions.
var (
	// ErrNotFound means no record exists for the given id.
	ErrNotFound = errors.New("workflow request not found")

	// ErrTimeout means a waiter gave up before the request reached a
	// terminal status.
	ErrTimeout = errors.New("workflow request timed out")

	// ErrExists means a record with the same id is already active.
	ErrExists = errors.New("workflow request already exists")
)

// Store persists request records and the FIFO pending list. CreateRecord
// must be atomic: of two concurrent creates for the same id, exactly one
// succeeds and the other returns ErrExists.
type Store interface {
	CreateRecord(ctx context.Context, req Request) error
	GetRecord(ctx context.Context, id string) (Request, error)
	UpdateRecord(ctx context.Context, req Request) error
	PushPending(ctx context.Context, id string) error
	PopPending(ctx context.Context) (string, bool, error)
}

// MemoryStore is an in-process Store for tests and single-process
// deployments.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Request
	pending []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Request)}
}

// CreateRecord stores a new record, failing if one already exists.
func (s *MemoryStore) CreateRecord(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[req.ID]; ok {
		return fmt.Errorf("record %s: %w", req.ID, ErrExists)
	}
	s.records[req.ID] = req
	return nil
}

// GetRecord loads a record by id.
func (s *MemoryStore) GetRecord(_ context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.records[id]
	if !ok {
		return Request{}, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return req, nil
}

// UpdateRecord overwrites an existing record.
func (s *MemoryStore) UpdateRecord(_ context.Context, req Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[req.ID]; !ok {
		return fmt.Errorf("record %s: %w", req.ID, ErrNotFound)
	}
	s.records[req.ID] = req
	return nil
}

// PushPending appends an id to the FIFO pending list.
func (s *MemoryStore) PushPending(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, id)
	return nil
}

// PopPending removes and returns the oldest pending id.
func (s *MemoryStore) PopPending(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return "", false, nil
	}
	id := s.pending[0]
	s.pending = s.pending[1:]
	return id, true, nil
}

// PendingLen reports the current pending list length. Intended for tests
// and health reporting.
func (s *MemoryStore) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
