package revieworchestrator

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the review-orchestrator component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "review-orchestrator",
		Factory:     NewComponent,
		Schema:      component.ConfigSchema{},
		Type:        "processor",
		Protocol:    "review",
		Domain:      "reviewd",
		Description: "Runs multi-specialist reviews for change requests",
		Version:     "0.1.0",
	})
}
