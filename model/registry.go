package model

import (
	"fmt"
	"sync"
	"time"
)

// EndpointConfig describes one reachable model endpoint.
type EndpointConfig struct {
	// Model is the provider-side model identifier.
	Model string `json:"model" yaml:"model"`

	// Provider names the wire protocol ("openai" covers any OpenAI-compatible
	// endpoint, including local inference servers).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the endpoint base URL.
	URL string `json:"url" yaml:"url"`

	// APIKeyEnv names the environment variable holding the API key, if any.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	// MaxTokens is the context window size, 0 for provider default.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// failureThreshold is the consecutive-failure count that opens an endpoint's
// circuit; cooldownPeriod is how long it stays open.
const (
	failureThreshold = 3
	cooldownPeriod   = 2 * time.Minute
)

type endpointHealth struct {
	failures  int
	openUntil time.Time
}

// Registry resolves capabilities to endpoint fallback chains and tracks
// endpoint health so repeatedly failing endpoints are skipped.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*EndpointConfig
	chains    map[Capability][]string
	health    map[string]*endpointHealth
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		endpoints: make(map[string]*EndpointConfig),
		chains:    make(map[Capability][]string),
		health:    make(map[string]*endpointHealth),
	}
}

// AddEndpoint registers a named endpoint.
func (r *Registry) AddEndpoint(name string, cfg EndpointConfig) error {
	if name == "" {
		return fmt.Errorf("endpoint name is required")
	}
	if cfg.URL == "" {
		return fmt.Errorf("endpoint %s: url is required", name)
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[name] = &cfg
	return nil
}

// SetChain declares the ordered fallback chain for a capability.
func (r *Registry) SetChain(cap Capability, names []string) error {
	if !cap.IsValid() {
		return fmt.Errorf("unknown capability %q", cap)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		if _, ok := r.endpoints[name]; !ok {
			return fmt.Errorf("chain for %s references unknown endpoint %q", cap, name)
		}
	}
	r.chains[cap] = append([]string(nil), names...)
	return nil
}

// GetEndpoint returns the endpoint config for a name, or nil.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.endpoints[name]
}

// GetFallbackChain returns the configured chain for a capability.
func (r *Registry) GetFallbackChain(cap Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.chains[cap]...)
}

// GetAvailableFallbackChain returns the chain for a capability with
// circuit-open endpoints filtered out. If every endpoint is unavailable the
// full chain is returned so callers still make an attempt.
func (r *Registry) GetAvailableFallbackChain(cap Capability) []string {
	full := r.GetFallbackChain(cap)

	available := make([]string, 0, len(full))
	for _, name := range full {
		if r.IsEndpointAvailable(name) {
			available = append(available, name)
		}
	}
	if len(available) == 0 {
		return full
	}
	return available
}

// IsEndpointAvailable reports whether the endpoint's circuit is closed.
func (r *Registry) IsEndpointAvailable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.health[name]
	if !ok {
		return true
	}
	if h.failures < failureThreshold {
		return true
	}
	return time.Now().After(h.openUntil)
}

// MarkEndpointSuccess records a successful call, closing the circuit.
func (r *Registry) MarkEndpointSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.health, name)
}

// MarkEndpointFailure records a failed call; enough consecutive failures
// open the circuit for the cooldown period.
func (r *Registry) MarkEndpointFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.health[name]
	if !ok {
		h = &endpointHealth{}
		r.health[name] = h
	}
	h.failures++
	if h.failures >= failureThreshold {
		h.openUntil = time.Now().Add(cooldownPeriod)
	}
}
