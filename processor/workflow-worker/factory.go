package workflowworker

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the workflow-worker component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "workflow-worker",
		Factory:     NewComponent,
		Schema:      component.ConfigSchema{},
		Type:        "processor",
		Protocol:    "review",
		Domain:      "reviewd",
		Description: "Executes deduplicated workflow requests from the queue",
		Version:     "0.1.0",
	})
}
