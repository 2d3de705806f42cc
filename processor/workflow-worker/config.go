// Package workflowworker provides the background worker that executes
// deduplicated workflow requests (CI runs, test queries) from the queue.
package workflowworker

import (
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"
)

// Config holds configuration for the workflow-worker component.
type Config struct {
	// ProcessingTimeout is the per-request budget; record TTL is twice this.
	ProcessingTimeout string `json:"processing_timeout" schema:"type:string,description:Per-request processing budget,category:advanced,default:10m"`

	// CIProvider selects the CI runner ("github" or "mock").
	CIProvider string `json:"ci_provider" schema:"type:string,description:CI runner backend,category:basic,default:mock"`

	// WorkflowFile is the CI workflow to dispatch.
	WorkflowFile string `json:"workflow_file" schema:"type:string,description:CI workflow file to dispatch,category:basic,default:test.yml"`

	// RepoPath is the repository path for gh CLI operations.
	RepoPath string `json:"repo_path" schema:"type:string,description:Repository path for CI dispatch,category:basic"`

	// Ports defines the component's input/output ports.
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ProcessingTimeout: "10m",
		CIProvider:        "mock",
		WorkflowFile:      "test.yml",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "pending",
					Subject:     "workflow.pending",
					Required:    true,
					Description: "Pending workflow request ids",
				},
			},
			Outputs: []component.PortDefinition{},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.CIProvider != "mock" && c.CIProvider != "github" {
		return fmt.Errorf("ci_provider must be \"mock\" or \"github\"")
	}
	return nil
}

// GetProcessingTimeout parses the processing timeout duration.
func (c *Config) GetProcessingTimeout() time.Duration {
	if c.ProcessingTimeout == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.ProcessingTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}
