package orchestrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Coldaine/repo-analysis-suite/review"
)

// maxSimilarChanges bounds how many history hints a run loads.
const maxSimilarChanges = 3

// HistoryRecord is one completed review stored for cross-run memory.
type HistoryRecord struct {
	Number       int            `json:"number"`
	Title        string         `json:"title"`
	Complexity   string         `json:"complexity"`
	Summary      string         `json:"summary"`
	ChangedFiles []string       `json:"changed_files"`
	Outcome      review.Outcome `json:"outcome"`
	ReviewedAt   time.Time      `json:"reviewed_at"`
}

// HistoryStore persists completed reviews and answers similarity queries.
type HistoryStore interface {
	Save(ctx context.Context, rec HistoryRecord) error
	FindSimilar(ctx context.Context, changedFiles []string) ([]review.SimilarChange, error)
}

// historyBucket is the KV bucket backing cross-run review memory.
const historyBucket = "REVIEW_HISTORY"

// historyTTL keeps hints fresh without unbounded growth.
const historyTTL = 90 * 24 * time.Hour

// NATSHistory stores review history in a JetStream KV bucket.
type NATSHistory struct {
	bucket jetstream.KeyValue
}

// NewNATSHistory creates the history bucket if needed.
func NewNATSHistory(nc *natsclient.Client) (*NATSHistory, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:      historyBucket,
		Description: "Completed change reviews for cross-run memory",
		TTL:         historyTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	return &NATSHistory{bucket: bucket}, nil
}

// Save stores one completed review keyed by change number.
func (h *NATSHistory) Save(ctx context.Context, rec HistoryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	if _, err := h.bucket.Put(ctx, fmt.Sprintf("change-%d", rec.Number), data); err != nil {
		return fmt.Errorf("store history record: %w", err)
	}
	return nil
}

// FindSimilar returns past reviews whose changed files overlap the given
// set, most overlapping first.
func (h *NATSHistory) FindSimilar(ctx context.Context, changedFiles []string) ([]review.SimilarChange, error) {
	keys, err := h.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list history keys: %w", err)
	}

	var records []HistoryRecord
	for _, key := range keys {
		entry, err := h.bucket.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec HistoryRecord
		if err := json.Unmarshal(entry.Value(), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return rankByOverlap(records, changedFiles), nil
}

// MemoryHistory is an in-process HistoryStore for tests and single-process
// deployments.
type MemoryHistory struct {
	mu      sync.Mutex
	records map[int]HistoryRecord
}

// NewMemoryHistory creates an empty history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[int]HistoryRecord)}
}

// Save stores one completed review.
func (h *MemoryHistory) Save(_ context.Context, rec HistoryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records[rec.Number] = rec
	return nil
}

// FindSimilar returns past reviews with overlapping changed files.
func (h *MemoryHistory) FindSimilar(_ context.Context, changedFiles []string) ([]review.SimilarChange, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records := make([]HistoryRecord, 0, len(h.records))
	for _, rec := range h.records {
		records = append(records, rec)
	}
	return rankByOverlap(records, changedFiles), nil
}

// rankByOverlap orders history records by changed-file overlap and keeps the
// top hints.
func rankByOverlap(records []HistoryRecord, changedFiles []string) []review.SimilarChange {
	changed := make(map[string]bool, len(changedFiles))
	for _, f := range changedFiles {
		changed[f] = true
	}

	type scored struct {
		rec     HistoryRecord
		overlap int
	}
	var candidates []scored
	for _, rec := range records {
		overlap := 0
		for _, f := range rec.ChangedFiles {
			if changed[f] {
				overlap++
			}
		}
		if overlap > 0 {
			candidates = append(candidates, scored{rec: rec, overlap: overlap})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].overlap != candidates[j].overlap {
			return candidates[i].overlap > candidates[j].overlap
		}
		return candidates[i].rec.Number > candidates[j].rec.Number
	})

	if len(candidates) > maxSimilarChanges {
		candidates = candidates[:maxSimilarChanges]
	}

	out := make([]review.SimilarChange, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, review.SimilarChange{
			Number:     c.rec.Number,
			Title:      c.rec.Title,
			Complexity: c.rec.Complexity,
			Summary:    c.rec.Summary,
		})
	}
	return out
}
