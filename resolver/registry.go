// Package resolver turns context-gathering requests into results. It selects
// a provider through a capability fallback chain, invokes it with bounded
// retries, and caches results so identical requests within a run or a TTL
// window hit the underlying tool at most once.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Invoker executes one context-gathering call.
type Invoker interface {
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	return f(ctx, args)
}

// Descriptor describes one registered provider for fallback-chain matching.
type Descriptor struct {
	// ID uniquely names the provider.
	ID string

	// Capability is the context type this provider serves, e.g. "code_search".
	Capability string

	// Description is matched against query keywords to break ties between
	// providers declaring the same capability.
	Description string

	// Match is an optional predicate consulted as a last resort before
	// synthesis. May be nil.
	Match func(query string) bool

	// Invoker executes the call.
	Invoker Invoker
}

// Registry holds an ordered list of provider descriptors plus per-type
// fallback overrides. Registration order is the tiebreak of last resort.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	fallbacks   map[string]string // context type -> descriptor ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fallbacks: make(map[string]string)}
}

// Register adds a provider. IDs must be unique.
func (r *Registry) Register(d Descriptor) error {
	if d.ID == "" {
		return fmt.Errorf("descriptor ID is required")
	}
	if d.Capability == "" {
		return fmt.Errorf("descriptor %s: capability is required", d.ID)
	}
	if d.Invoker == nil {
		return fmt.Errorf("descriptor %s: invoker is required", d.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.descriptors {
		if existing.ID == d.ID {
			return fmt.Errorf("descriptor %s already registered", d.ID)
		}
	}
	r.descriptors = append(r.descriptors, d)
	return nil
}

// SetFallback configures an explicit fallback provider for a context type,
// consulted when no provider declares the capability exactly.
func (r *Registry) SetFallback(contextType, descriptorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.descriptors {
		if d.ID == descriptorID {
			r.fallbacks[contextType] = descriptorID
			return nil
		}
	}
	return fmt.Errorf("fallback for %s references unknown descriptor %q", contextType, descriptorID)
}

// Candidates returns the ordered fallback chain for a request: exact
// capability matches (best keyword match first), then the configured
// fallback provider, then capability-prefix and predicate matches. An empty
// result means the caller must synthesize.
func (r *Registry) Candidates(contextType, query string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Descriptor

	// Tier 1: exact capability match, ranked by keyword overlap.
	type scored struct {
		d     Descriptor
		score int
		order int
	}
	var exact []scored
	for i, d := range r.descriptors {
		if d.Capability == contextType {
			exact = append(exact, scored{d: d, score: keywordScore(d.Description, query), order: i})
		}
	}
	sort.SliceStable(exact, func(i, j int) bool {
		if exact[i].score != exact[j].score {
			return exact[i].score > exact[j].score
		}
		return exact[i].order < exact[j].order
	})
	for _, s := range exact {
		out = append(out, s.d)
		seen[s.d.ID] = true
	}

	// Tier 2: explicitly configured fallback for this type.
	if id, ok := r.fallbacks[contextType]; ok && !seen[id] {
		for _, d := range r.descriptors {
			if d.ID == id {
				out = append(out, d)
				seen[id] = true
				break
			}
		}
	}

	// Tier 3: capability-prefix match, then predicate match.
	prefix := capabilityPrefix(contextType)
	for _, d := range r.descriptors {
		if seen[d.ID] {
			continue
		}
		if prefix != "" && capabilityPrefix(d.Capability) == prefix {
			out = append(out, d)
			seen[d.ID] = true
		}
	}
	for _, d := range r.descriptors {
		if seen[d.ID] {
			continue
		}
		if d.Match != nil && d.Match(query) {
			out = append(out, d)
			seen[d.ID] = true
		}
	}

	return out
}

// keywordScore counts query words present in a provider description.
func keywordScore(description, query string) int {
	desc := strings.ToLower(description)
	score := 0
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if len(word) < 3 {
			continue
		}
		if strings.Contains(desc, word) {
			score++
		}
	}
	return score
}

// capabilityPrefix returns the leading segment of a capability name, so
// "code_search" and "code_structure" share the "code" family.
func capabilityPrefix(capability string) string {
	if i := strings.IndexAny(capability, "_-"); i > 0 {
		return capability[:i]
	}
	return capability
}
