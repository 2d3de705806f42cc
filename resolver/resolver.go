package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Coldaine/repo-analysis-suite/events"
	"github.com/Coldaine/repo-analysis-suite/llm"
	"github.com/Coldaine/repo-analysis-suite/review"
)

// maxToolAttempts bounds retries of one provider before the chain advances.
const maxToolAttempts = 3

// retryBackoffBase is the initial delay between provider retries.
const retryBackoffBase = 500 * time.Millisecond

// Request is one context-gathering request.
type Request struct {
	// Type is the context type, e.g. "code_search".
	Type string

	// Query is the free-form question the tool should answer.
	Query string

	// Files scopes the request to specific paths, if any.
	Files []string

	// Iteration is the specialist iteration requesting this context.
	Iteration int

	// FailFast makes tool failure an error instead of a failed record.
	FailFast bool
}

// Resolver resolves context requests through the capability chain with a
// two-tier cache. One Resolver serves one review run; the in-run tier is
// scoped to its lifetime.
type Resolver struct {
	registry *Registry
	cache    TTLCache
	ttl      time.Duration
	backoff  time.Duration
	logger   *slog.Logger
	sink     events.Sink

	mu  sync.Mutex
	run map[string]review.ContextRecord
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets the external cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithSink sets the lifecycle event sink.
func WithSink(sink events.Sink) Option {
	return func(r *Resolver) {
		r.sink = sink
	}
}

// WithRetryBackoff sets the initial delay between provider retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(r *Resolver) {
		r.backoff = d
	}
}

// New creates a resolver over the given registry. A nil cache disables the
// external tier; the in-run tier is always active.
func New(registry *Registry, cache TTLCache, opts ...Option) *Resolver {
	r := &Resolver{
		registry: registry,
		cache:    cache,
		ttl:      DefaultTTL,
		backoff:  retryBackoffBase,
		logger:   slog.Default(),
		sink:     events.Discard,
		run:      make(map[string]review.ContextRecord),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve turns a request into a context record. Tool failures come back as
// failed records, never as errors, unless the request asks to fail fast.
// Exhausting the provider chain yields a synthetic record.
func (r *Resolver) Resolve(ctx context.Context, req Request) (review.ContextRecord, error) {
	if req.Type == "" {
		return review.ContextRecord{}, fmt.Errorf("context type is required")
	}

	key := CacheKey(req.Type, req.Query, req.Files)

	if rec, ok := r.runGet(key); ok {
		r.logger.Debug("Context cache hit (run)", "type", req.Type, "key", key)
		r.emit(ctx, req, "run_cache")
		return rec, nil
	}

	if r.cache != nil {
		rec, ok, err := r.cache.Get(ctx, key)
		if err != nil {
			r.logger.Warn("External context cache read failed",
				"type", req.Type,
				"key", key,
				"error", err)
		} else if ok {
			r.logger.Debug("Context cache hit (external)", "type", req.Type, "key", key)
			r.runPut(key, rec)
			r.emit(ctx, req, "external_cache")
			return rec, nil
		}
	}

	rec, err := r.invokeChain(ctx, req, key)
	if err != nil {
		return review.ContextRecord{}, err
	}

	r.runPut(key, rec)
	if r.cache != nil && !rec.Synthetic && !rec.Failed {
		if err := r.cache.Set(ctx, key, rec, r.ttl); err != nil {
			r.logger.Warn("External context cache write failed",
				"type", req.Type,
				"key", key,
				"error", err)
		}
	}
	return rec, nil
}

// invokeChain walks the candidate chain, retrying transient failures per
// provider before advancing.
func (r *Resolver) invokeChain(ctx context.Context, req Request, key string) (review.ContextRecord, error) {
	candidates := r.registry.Candidates(req.Type, req.Query)
	if len(candidates) == 0 {
		r.logger.Warn("No provider for context type, synthesizing",
			"type", req.Type,
			"query", req.Query)
		r.emit(ctx, req, "synthetic")
		return r.syntheticRecord(req, key), nil
	}

	args := map[string]any{
		"query": req.Query,
		"files": req.Files,
	}

	var lastErr error
	for _, d := range candidates {
		result, err := r.invokeWithRetry(ctx, d, args)
		if err == nil {
			r.emit(ctx, req, "resolved")
			return r.successRecord(req, key, result), nil
		}

		lastErr = err
		r.logger.Warn("Context provider failed, trying next in chain",
			"type", req.Type,
			"provider", d.ID,
			"error", err)

		if ctx.Err() != nil {
			break
		}
	}

	if req.FailFast {
		return review.ContextRecord{}, fmt.Errorf("resolve %s context: %w", req.Type, lastErr)
	}

	r.emit(ctx, req, "failed")
	return r.failedRecord(req, key, lastErr), nil
}

// invokeWithRetry invokes one provider with bounded retries on transient
// errors. Fatal errors and context cancellation stop immediately.
func (r *Resolver) invokeWithRetry(ctx context.Context, d Descriptor, args map[string]any) (map[string]any, error) {
	var lastErr error
	backoff := r.backoff

	for attempt := 1; attempt <= maxToolAttempts; attempt++ {
		result, err := d.Invoker.Invoke(ctx, args)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if llm.IsFatal(err) || ctx.Err() != nil {
			return nil, lastErr
		}

		if attempt < maxToolAttempts {
			r.logger.Debug("Provider call failed, retrying",
				"provider", d.ID,
				"attempt", attempt,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return nil, lastErr
}

func (r *Resolver) successRecord(req Request, key string, result map[string]any) review.ContextRecord {
	summary, _ := result["summary"].(string)
	return review.ContextRecord{
		Iteration:   req.Iteration,
		ContextType: req.Type,
		Result:      result,
		Summary:     summary,
		CacheKey:    key,
		GatheredAt:  time.Now().UTC(),
	}
}

func (r *Resolver) failedRecord(req Request, key string, cause error) review.ContextRecord {
	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}
	return review.ContextRecord{
		Iteration:   req.Iteration,
		ContextType: req.Type,
		Result:      map[string]any{"error": msg},
		Summary:     fmt.Sprintf("context gathering failed: %s", msg),
		Failed:      true,
		CacheKey:    key,
		GatheredAt:  time.Now().UTC(),
	}
}

func (r *Resolver) syntheticRecord(req Request, key string) review.ContextRecord {
	return review.ContextRecord{
		Iteration:   req.Iteration,
		ContextType: req.Type,
		Result: map[string]any{
			"synthetic": true,
			"query":     req.Query,
		},
		Summary:    fmt.Sprintf("no provider available for %s; result is a placeholder", req.Type),
		Synthetic:  true,
		CacheKey:   key,
		GatheredAt: time.Now().UTC(),
	}
}

func (r *Resolver) runGet(key string) (review.ContextRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.run[key]
	return rec, ok
}

func (r *Resolver) runPut(key string, rec review.ContextRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.run[key] = rec
}

func (r *Resolver) emit(ctx context.Context, req Request, outcome string) {
	r.sink.Emit(ctx, events.Event{
		Kind:      events.KindContextResolved,
		Timestamp: time.Now().UTC(),
		Fields: map[string]any{
			"context_type": req.Type,
			"outcome":      outcome,
		},
	})
}
