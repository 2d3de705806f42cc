// Package revieworchestrator provides a JetStream processor that runs
// multi-specialist reviews for submitted change requests.
package revieworchestrator

import (
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"
)

// Config holds configuration for the review-orchestrator component.
type Config struct {
	// StreamName is the JetStream stream to consume from.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream name,category:basic,default:REVIEW"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:basic,default:review-orchestrator"`

	// TriggerSubject is the subject pattern for review requests.
	TriggerSubject string `json:"trigger_subject" schema:"type:string,description:Subject pattern for review requests,category:basic,default:review.request"`

	// ResultSubject is where completed review reports are published.
	ResultSubject string `json:"result_subject" schema:"type:string,description:Subject for completed reviews,category:basic,default:review.result"`

	// RepoPath is the repository path for tool access.
	RepoPath string `json:"repo_path" schema:"type:string,description:Repository path for tool access,category:basic"`

	// Concurrency bounds specialists in flight per review.
	Concurrency int `json:"concurrency" schema:"type:int,description:Specialists in flight per review,category:advanced,default:4"`

	// SpecialistTimeout is the wall-clock limit per specialist.
	SpecialistTimeout string `json:"specialist_timeout" schema:"type:string,description:Wall-clock limit per specialist,category:advanced,default:5m"`

	// Specialists overrides the planned roster (empty = default roster).
	Specialists []string `json:"specialists" schema:"type:array,description:Planned specialist roster,category:advanced"`

	// Ports defines the component's input/output ports.
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:        "REVIEW",
		ConsumerName:      "review-orchestrator",
		TriggerSubject:    "review.request",
		ResultSubject:     "review.result",
		Concurrency:       4,
		SpecialistTimeout: "5m",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "trigger",
					Subject:     "review.request",
					Required:    true,
					Description: "Change review request",
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "result",
					Subject:     "review.result",
					Required:    false,
					Description: "Completed review report",
				},
			},
		},
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.TriggerSubject == "" {
		return fmt.Errorf("trigger_subject is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency cannot be negative")
	}
	return nil
}

// GetSpecialistTimeout parses the specialist timeout duration.
func (c *Config) GetSpecialistTimeout() time.Duration {
	if c.SpecialistTimeout == "" {
		return 5 * time.Minute
	}
	d, err := time.ParseDuration(c.SpecialistTimeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
