package workflowworker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/Coldaine/repo-analysis-suite/events"
	"github.com/Coldaine/repo-analysis-suite/queue"
)

// Component implements the workflow-worker processor. It owns the single
// worker loop for this process.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	repoPath   string

	// Lifecycle.
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewComponent constructs a workflow-worker Component from raw JSON config.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults.
	defaults := DefaultConfig()
	if cfg.ProcessingTimeout == "" {
		cfg.ProcessingTimeout = defaults.ProcessingTimeout
	}
	if cfg.CIProvider == "" {
		cfg.CIProvider = defaults.CIProvider
	}
	if cfg.WorkflowFile == "" {
		cfg.WorkflowFile = defaults.WorkflowFile
	}
	if cfg.Ports == nil {
		cfg.Ports = defaults.Ports
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	repoPath := cfg.RepoPath
	if repoPath == "" {
		if env := os.Getenv("REVIEW_REPO_PATH"); env != "" {
			repoPath = env
		} else {
			repoPath, _ = os.Getwd()
		}
	}

	return &Component{
		name:       "workflow-worker",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		repoPath:   repoPath,
	}, nil
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized workflow-worker",
		"ci_provider", c.config.CIProvider,
		"processing_timeout", c.config.ProcessingTimeout)
	return nil
}

// Start launches the worker loop.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	store, err := queue.NewNATSStore(subCtx, c.natsClient, c.config.GetProcessingTimeout())
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create queue store: %w", err)
	}

	q := queue.New(store,
		queue.WithLogger(c.logger),
		queue.WithSink(events.NewNATSSink(c.natsClient, c.logger)))

	var ci queue.CIRunner
	if c.config.CIProvider == "github" && queue.IsGHAvailable() {
		ci = queue.NewGHRunner(c.repoPath, c.config.WorkflowFile)
	} else {
		if c.config.CIProvider == "github" {
			c.logger.Warn("gh CLI not available, falling back to mock CI runner")
		}
		ci = &queue.MockRunner{}
	}

	worker := queue.NewWorker(q, ci, queue.WithWorkerLogger(c.logger))

	go func() {
		defer close(c.done)
		_ = worker.Run(subCtx)
	}()

	c.logger.Info("workflow-worker started", "ci_provider", c.config.CIProvider)
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	cancel()
}

// Stop gracefully stops the worker loop.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	cancel := c.cancel
	done := c.done
	c.running = false
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(timeout):
			c.logger.Warn("Worker did not stop within timeout")
		}
	}

	c.logger.Info("workflow-worker stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "workflow-worker",
		Type:        "processor",
		Description: "Executes deduplicated workflow requests from the queue",
		Version:     "0.1.0",
	}
}

// InputPorts returns the configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, def := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        def.Name,
			Direction:   component.DirectionInput,
			Required:    def.Required,
			Description: def.Description,
			Config:      component.NATSPort{Subject: def.Subject},
		}
	}
	return ports
}

// OutputPorts returns the configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}
	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, def := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        def.Name,
			Direction:   component.DirectionOutput,
			Required:    def.Required,
			Description: def.Description,
			Config:      component.NATSPort{Subject: def.Subject},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return component.ConfigSchema{}
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
