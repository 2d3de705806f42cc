// Package specialist implements the bounded iterate-or-finalize review loop.
// One specialist examines a change from a single angle (alignment, testing,
// security, dependencies), gathering context through the resolver until it
// has enough to issue a verdict.
package specialist

import (
	"fmt"
	"sort"

	"github.com/Coldaine/repo-analysis-suite/model"
)

// Template configures one review specialty.
type Template struct {
	// Specialty is the stable identifier, e.g. "security".
	Specialty string

	// Name is the human-readable reviewer title.
	Name string

	// Capability selects the model pool for planning and analysis.
	Capability model.Capability

	// MaxIterations bounds analyze passes.
	MaxIterations int

	// ContextBudget bounds simultaneous context requests per iteration.
	ContextBudget int

	// Focus lists the questions this reviewer examines, verbatim in prompts.
	Focus []string
}

var templates = map[string]Template{
	"alignment": {
		Specialty:     "alignment",
		Name:          "Architecture Alignment Reviewer",
		Capability:    model.CapabilityAnalysis,
		MaxIterations: 3,
		ContextBudget: 2,
		Focus: []string{
			"Does this change align with existing architectural patterns?",
			"Are there inconsistencies with repo conventions?",
			"Does this introduce technical debt?",
		},
	},
	"dependencies": {
		Specialty:     "dependencies",
		Name:          "Dependency Management Reviewer",
		Capability:    model.CapabilityAnalysis,
		MaxIterations: 2,
		ContextBudget: 2,
		Focus: []string{
			"Are there dependency conflicts?",
			"Are versions appropriate?",
			"Are there security vulnerabilities in new dependencies?",
			"Is the dependency actually needed?",
		},
	},
	"testing": {
		Specialty:     "testing",
		Name:          "Test Coverage Reviewer",
		Capability:    model.CapabilityAnalysis,
		MaxIterations: 2,
		ContextBudget: 1,
		Focus: []string{
			"Is test coverage adequate?",
			"Are tests meaningful?",
			"Do tests follow repo patterns?",
			"Are there missing edge cases?",
		},
	},
	"security": {
		Specialty:     "security",
		Name:          "Security Reviewer",
		Capability:    model.CapabilityAnalysis,
		MaxIterations: 2,
		ContextBudget: 2,
		Focus: []string{
			"Are there security vulnerabilities?",
			"Are inputs validated?",
			"Are there injection risks?",
			"Is authentication/authorization proper?",
		},
	},
}

// TemplateFor returns the template for a specialty. Unknown specialties are
// a configuration error and surface to the caller.
func TemplateFor(specialty string) (Template, error) {
	t, ok := templates[specialty]
	if !ok {
		return Template{}, fmt.Errorf("unknown specialty %q (valid: %v)", specialty, Specialties())
	}
	return t, nil
}

// Specialties lists all known specialties in stable order.
func Specialties() []string {
	out := make([]string, 0, len(templates))
	for name := range templates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
