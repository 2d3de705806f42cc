package model

import "testing"

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.AddEndpoint("primary", EndpointConfig{Model: "gpt-4o-mini", URL: "http://localhost:8080/v1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.AddEndpoint("backup", EndpointConfig{Model: "llama3", URL: "http://localhost:11434/v1"}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetChain(CapabilityAnalysis, []string{"primary", "backup"}); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestParseCapability(t *testing.T) {
	tests := []struct {
		in   string
		want Capability
	}{
		{"planning", CapabilityPlanning},
		{"analysis", CapabilityAnalysis},
		{"fast", CapabilityFast},
		{"bogus", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseCapability(tt.in); got != tt.want {
				t.Errorf("ParseCapability(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSetChainRejectsUnknownEndpoint(t *testing.T) {
	r := NewRegistry()
	if err := r.SetChain(CapabilityFast, []string{"ghost"}); err == nil {
		t.Fatal("expected error for unknown endpoint")
	}
}

func TestFallbackChainOrder(t *testing.T) {
	r := testRegistry(t)
	chain := r.GetFallbackChain(CapabilityAnalysis)
	if len(chain) != 2 || chain[0] != "primary" || chain[1] != "backup" {
		t.Fatalf("chain = %v, want [primary backup]", chain)
	}
}

func TestCircuitBreakerSkipsFailingEndpoint(t *testing.T) {
	r := testRegistry(t)

	for i := 0; i < failureThreshold; i++ {
		r.MarkEndpointFailure("primary")
	}

	if r.IsEndpointAvailable("primary") {
		t.Error("primary should be unavailable after repeated failures")
	}

	chain := r.GetAvailableFallbackChain(CapabilityAnalysis)
	if len(chain) != 1 || chain[0] != "backup" {
		t.Fatalf("available chain = %v, want [backup]", chain)
	}

	r.MarkEndpointSuccess("primary")
	if !r.IsEndpointAvailable("primary") {
		t.Error("primary should be available again after success")
	}
}

func TestAllEndpointsDownReturnsFullChain(t *testing.T) {
	r := testRegistry(t)
	for _, name := range []string{"primary", "backup"} {
		for i := 0; i < failureThreshold; i++ {
			r.MarkEndpointFailure(name)
		}
	}

	chain := r.GetAvailableFallbackChain(CapabilityAnalysis)
	if len(chain) != 2 {
		t.Fatalf("expected full chain when all endpoints are down, got %v", chain)
	}
}
