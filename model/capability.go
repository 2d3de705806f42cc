// Package model provides capability-based model selection for review tasks.
// Instead of hardcoding model names, callers specify capabilities (planning,
// analysis, fast) and the registry resolves them to configured endpoints with
// fallback chains.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityPlanning is for deciding what context a specialist needs.
	CapabilityPlanning Capability = "planning"

	// CapabilityAnalysis is for reviewing a diff against gathered context.
	CapabilityAnalysis Capability = "analysis"

	// CapabilityFast is for quick responses, e.g. summarizing tool output.
	CapabilityFast Capability = "fast"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityPlanning, CapabilityAnalysis, CapabilityFast:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for
// invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
