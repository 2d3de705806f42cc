// Package queue provides a deduplicating workflow queue. Side-effecting
// actions (running CI, fetching test results) are submitted as requests;
// identical requests from concurrent submitters converge on a single queue
// entry and a single execution, and every waiter observes the one result.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a workflow request. Transitions are
// monotonic: pending -> in_progress -> {completed, failed}.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request types the worker knows how to execute.
const (
	TypeRunCI           = "run_ci"
	TypeGetTestResults  = "get_test_results"
	TypeRunSpecificTest = "run_specific_test"
)

// Request is one workflow request. The ID is derived from Type and Params,
// never caller-supplied, so identical submissions share an identity.
type Request struct {
	ID        string         `json:"id"`
	Requester string         `json:"requester"`
	Type      string         `json:"type"`
	Params    map[string]any `json:"params"`
	CreatedAt time.Time      `json:"created_at"`
	Status    Status         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
}

// NewRequest builds a pending request with its derived ID.
func NewRequest(requester, requestType string, params map[string]any) (Request, error) {
	id, err := DedupID(requestType, params)
	if err != nil {
		return Request{}, err
	}
	return Request{
		ID:        id,
		Requester: requester,
		Type:      requestType,
		Params:    params,
		CreatedAt: time.Now().UTC(),
		Status:    StatusPending,
	}, nil
}

// DedupID derives the request identity from the type and canonicalized
// parameters. json.Marshal sorts map keys, so parameter order never changes
// the hash.
func DedupID(requestType string, params map[string]any) (string, error) {
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("canonicalize params: %w", err)
	}
	sum := sha256.Sum256([]byte(requestType + ":" + string(canonical)))
	return hex.EncodeToString(sum[:]), nil
}
