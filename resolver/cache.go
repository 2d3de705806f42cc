package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Coldaine/repo-analysis-suite/review"
)

// DefaultTTL bounds how long a context record stays valid in the external
// cache tier.
const DefaultTTL = time.Hour

// CacheKey builds the composite cache key for a context request: type,
// normalized query, and sorted target files. Identical requests always
// produce identical keys regardless of file order or query whitespace.
func CacheKey(contextType, query string, files []string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")

	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	return contextType + ":" + normalized + ":" + strings.Join(sorted, ",")
}

// TTLCache is the external cache tier. Implementations expire entries after
// the TTL they were stored with.
type TTLCache interface {
	Get(ctx context.Context, key string) (review.ContextRecord, bool, error)
	Set(ctx context.Context, key string, rec review.ContextRecord, ttl time.Duration) error
}

// MemoryCache is a process-local TTLCache used in tests and single-process
// deployments.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	now     func() time.Time
}

type memoryCacheEntry struct {
	rec       review.ContextRecord
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

// Get returns a non-expired entry for the key.
func (c *MemoryCache) Get(_ context.Context, key string) (review.ContextRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return review.ContextRecord{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return review.ContextRecord{}, false, nil
	}
	return entry.rec, true, nil
}

// Set stores an entry with the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, rec review.ContextRecord, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryCacheEntry{rec: rec, expiresAt: c.now().Add(ttl)}
	return nil
}

// contextCacheBucket is the KV bucket backing the shared cache tier.
const contextCacheBucket = "REVIEW_CONTEXT_CACHE"

// NATSCache is a TTLCache backed by a JetStream KV bucket, shared across
// review processes. Expiry is enforced by the bucket TTL.
type NATSCache struct {
	bucket jetstream.KeyValue
}

// NewNATSCache creates the cache bucket if needed. The TTL applies to every
// entry; per-call TTLs passed to Set are ignored in favor of the bucket TTL.
func NewNATSCache(nc *natsclient.Client, ttl time.Duration) (*NATSCache, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	// CreateOrUpdateKeyValue is idempotent and handles race conditions
	bucket, err := js.CreateOrUpdateKeyValue(context.Background(), jetstream.KeyValueConfig{
		Bucket:      contextCacheBucket,
		Description: "Cached context-gathering results for change reviews",
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update kv bucket: %w", err)
	}

	return &NATSCache{bucket: bucket}, nil
}

// Get loads a cached record by key.
func (c *NATSCache) Get(ctx context.Context, key string) (review.ContextRecord, bool, error) {
	entry, err := c.bucket.Get(ctx, kvKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return review.ContextRecord{}, false, nil
		}
		return review.ContextRecord{}, false, fmt.Errorf("get cached context: %w", err)
	}

	var rec review.ContextRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return review.ContextRecord{}, false, fmt.Errorf("unmarshal cached context: %w", err)
	}
	return rec, true, nil
}

// Set stores a record. Expiry follows the bucket TTL.
func (c *NATSCache) Set(ctx context.Context, key string, rec review.ContextRecord, _ time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal context record: %w", err)
	}
	if _, err := c.bucket.Put(ctx, kvKey(key), data); err != nil {
		return fmt.Errorf("store cached context: %w", err)
	}
	return nil
}

// kvKey hashes the composite key into a KV-safe fixed-length key. Composite
// keys contain free-form query text that NATS key syntax does not allow.
func kvKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
