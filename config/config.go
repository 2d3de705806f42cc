// Package config provides configuration loading and management for reviewd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Coldaine/repo-analysis-suite/model"
)

// Config represents the complete reviewd configuration
type Config struct {
	Model  ModelConfig  `yaml:"model"`
	Repo   RepoConfig   `yaml:"repo"`
	NATS   NATSConfig   `yaml:"nats"`
	Review ReviewConfig `yaml:"review"`
	Queue  QueueConfig  `yaml:"queue"`
}

// ModelConfig configures LLM endpoints and capability chains
type ModelConfig struct {
	// Endpoints maps endpoint names to their connection settings
	Endpoints map[string]model.EndpointConfig `yaml:"endpoints"`
	// Chains maps capability names to ordered endpoint fallback chains
	Chains map[string][]string `yaml:"chains"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// RepoConfig configures the repository settings
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// ReviewConfig configures the review orchestrator
type ReviewConfig struct {
	// Specialists is the planned roster (empty = default roster)
	Specialists []string `yaml:"specialists"`
	// Concurrency bounds specialists in flight
	Concurrency int `yaml:"concurrency"`
	// SpecialistTimeout is the wall-clock limit per specialist
	SpecialistTimeout time.Duration `yaml:"specialist_timeout"`
	// FailFast aborts a specialist on its first context failure
	FailFast bool `yaml:"fail_fast"`
}

// QueueConfig configures the workflow queue and worker
type QueueConfig struct {
	// ProcessingTimeout is the per-request budget; record TTL is twice this
	ProcessingTimeout time.Duration `yaml:"processing_timeout"`
	// CIProvider selects the CI runner ("github" or "mock")
	CIProvider string `yaml:"ci_provider"`
	// WorkflowFile is the CI workflow to dispatch (default: test.yml)
	WorkflowFile string `yaml:"workflow_file"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Endpoints: map[string]model.EndpointConfig{
				"local": {
					Model:    "qwen2.5-coder:32b",
					Provider: "openai",
					URL:      "http://localhost:11434/v1",
				},
			},
			Chains: map[string][]string{
				string(model.CapabilityAnalysis): {"local"},
				string(model.CapabilityFast):     {"local"},
			},
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Repo: RepoConfig{
			Path: "", // Auto-detect
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Review: ReviewConfig{
			Specialists:       nil, // Default roster
			Concurrency:       4,
			SpecialistTimeout: 300 * time.Second,
		},
		Queue: QueueConfig{
			ProcessingTimeout: 10 * time.Minute,
			CIProvider:        "mock",
			WorkflowFile:      "test.yml",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if len(c.Model.Endpoints) == 0 {
		return fmt.Errorf("model.endpoints is required")
	}
	for name, ep := range c.Model.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("model.endpoints.%s.url is required", name)
		}
	}
	for capName, chain := range c.Model.Chains {
		if !model.Capability(capName).IsValid() {
			return fmt.Errorf("model.chains: unknown capability %q", capName)
		}
		for _, name := range chain {
			if _, ok := c.Model.Endpoints[name]; !ok {
				return fmt.Errorf("model.chains.%s references unknown endpoint %q", capName, name)
			}
		}
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Review.Concurrency < 1 {
		return fmt.Errorf("review.concurrency must be at least 1")
	}
	if c.Queue.CIProvider != "mock" && c.Queue.CIProvider != "github" {
		return fmt.Errorf("queue.ci_provider must be \"mock\" or \"github\"")
	}
	return nil
}

// BuildRegistry converts the model section into a populated registry.
func (c *Config) BuildRegistry() (*model.Registry, error) {
	reg := model.NewRegistry()
	for name, ep := range c.Model.Endpoints {
		if err := reg.AddEndpoint(name, ep); err != nil {
			return nil, err
		}
	}
	for capName, chain := range c.Model.Chains {
		if err := reg.SetChain(model.Capability(capName), chain); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if len(other.Model.Endpoints) > 0 {
		c.Model.Endpoints = other.Model.Endpoints
	}
	if len(other.Model.Chains) > 0 {
		c.Model.Chains = other.Model.Chains
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Review
	if len(other.Review.Specialists) > 0 {
		c.Review.Specialists = other.Review.Specialists
	}
	if other.Review.Concurrency != 0 {
		c.Review.Concurrency = other.Review.Concurrency
	}
	if other.Review.SpecialistTimeout != 0 {
		c.Review.SpecialistTimeout = other.Review.SpecialistTimeout
	}
	if other.Review.FailFast {
		c.Review.FailFast = true
	}

	// Queue
	if other.Queue.ProcessingTimeout != 0 {
		c.Queue.ProcessingTimeout = other.Queue.ProcessingTimeout
	}
	if other.Queue.CIProvider != "" {
		c.Queue.CIProvider = other.Queue.CIProvider
	}
	if other.Queue.WorkflowFile != "" {
		c.Queue.WorkflowFile = other.Queue.WorkflowFile
	}
}
