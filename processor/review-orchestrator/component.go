package revieworchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Coldaine/repo-analysis-suite/config"
	"github.com/Coldaine/repo-analysis-suite/events"
	"github.com/Coldaine/repo-analysis-suite/llm"
	"github.com/Coldaine/repo-analysis-suite/orchestrate"
	"github.com/Coldaine/repo-analysis-suite/resolver"
	"github.com/Coldaine/repo-analysis-suite/review"
	"github.com/Coldaine/repo-analysis-suite/specialist"
	"github.com/Coldaine/repo-analysis-suite/tools"
)

// ReviewRequest is the trigger payload for one review run.
type ReviewRequest struct {
	Metadata     review.ChangeMetadata `json:"metadata"`
	Diff         string                `json:"diff"`
	ChangedFiles []string              `json:"changed_files,omitempty"`
}

// Schema returns the message type for this payload.
func (r *ReviewRequest) Schema() message.Type {
	return RequestType
}

// Validate validates the request.
func (r *ReviewRequest) Validate() error {
	if err := r.Metadata.Validate(); err != nil {
		return err
	}
	if r.Diff == "" {
		return fmt.Errorf("diff is required")
	}
	return nil
}

// MarshalJSON marshals the request to JSON.
func (r *ReviewRequest) MarshalJSON() ([]byte, error) {
	type Alias ReviewRequest
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the request from JSON.
func (r *ReviewRequest) UnmarshalJSON(data []byte) error {
	type Alias ReviewRequest
	return json.Unmarshal(data, (*Alias)(r))
}

// ReviewCompleted is the result payload published after a run.
type ReviewCompleted struct {
	Metadata review.ChangeMetadata  `json:"metadata"`
	Report   review.AggregateReport `json:"report"`
	Verdicts []review.Verdict       `json:"verdicts"`
}

// Schema returns the message type for this payload.
func (r *ReviewCompleted) Schema() message.Type {
	return ResultType
}

// Validate validates the result.
func (r *ReviewCompleted) Validate() error {
	return r.Metadata.Validate()
}

// MarshalJSON marshals the result to JSON.
func (r *ReviewCompleted) MarshalJSON() ([]byte, error) {
	type Alias ReviewCompleted
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the result from JSON.
func (r *ReviewCompleted) UnmarshalJSON(data []byte) error {
	type Alias ReviewCompleted
	return json.Unmarshal(data, (*Alias)(r))
}

// Message types for review requests and results.
var (
	RequestType = message.Type{Domain: "review", Category: "request", Version: "v1"}
	ResultType  = message.Type{Domain: "review", Category: "result", Version: "v1"}
)

// Component implements the review-orchestrator processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	llmClient  llm.Completer
	repoPath   string

	// JetStream consumer state.
	consumer jetstream.Consumer

	// Lifecycle.
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Built at Start, once NATS is available.
	orchestrator *orchestrate.Orchestrator

	// Metrics.
	reviewsProcessed atomic.Int64
	reviewsPassed    atomic.Int64
	reviewsNeedWork  atomic.Int64
	reviewsFailed    atomic.Int64
	lastActivityMu   sync.RWMutex
	lastActivity     time.Time
}

// NewComponent constructs a review-orchestrator Component from raw JSON config.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var cfg Config
	if err := json.Unmarshal(rawConfig, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults.
	defaults := DefaultConfig()
	if cfg.StreamName == "" {
		cfg.StreamName = defaults.StreamName
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = defaults.ConsumerName
	}
	if cfg.TriggerSubject == "" {
		cfg.TriggerSubject = defaults.TriggerSubject
	}
	if cfg.ResultSubject == "" {
		cfg.ResultSubject = defaults.ResultSubject
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.SpecialistTimeout == "" {
		cfg.SpecialistTimeout = defaults.SpecialistTimeout
	}
	if cfg.Ports == nil {
		cfg.Ports = defaults.Ports
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Resolve repo path.
	repoPath := cfg.RepoPath
	if repoPath == "" {
		if env := os.Getenv("REVIEW_REPO_PATH"); env != "" {
			repoPath = env
		} else {
			repoPath, _ = os.Getwd()
		}
	}

	logger := deps.GetLogger()

	appConfig, err := config.NewLoader(logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load app config: %w", err)
	}
	registry, err := appConfig.BuildRegistry()
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}

	return &Component{
		name:       "review-orchestrator",
		config:     cfg,
		natsClient: deps.NATSClient,
		logger:     logger,
		repoPath:   repoPath,
		llmClient:  llm.NewClient(registry, llm.WithLogger(logger)),
	}, nil
}

// Initialize prepares the component for startup.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized review-orchestrator",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"repo", c.repoPath)
	return nil
}

// Start begins consuming review requests from JetStream.
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
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(subCtx, jetstream.StreamConfig{
		Name:        c.config.StreamName,
		Description: "Change review requests and results",
		Subjects:    []string{"review.>"},
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create stream %s: %w", c.config.StreamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.TriggerSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.config.GetSpecialistTimeout() + 60*time.Second,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	if err := c.buildOrchestrator(); err != nil {
		c.rollbackStart(cancel)
		return err
	}

	go c.consumeLoop(subCtx)

	c.logger.Info("review-orchestrator started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.TriggerSubject)

	return nil
}

// buildOrchestrator wires the resolver, specialists, history, and sink.
func (c *Component) buildOrchestrator() error {
	toolRegistry := resolver.NewRegistry()
	if err := tools.RegisterAll(toolRegistry, c.repoPath); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	cache, err := resolver.NewNATSCache(c.natsClient, resolver.DefaultTTL)
	if err != nil {
		return fmt.Errorf("create context cache: %w", err)
	}

	sink := events.NewNATSSink(c.natsClient, c.logger)
	res := resolver.New(toolRegistry, cache,
		resolver.WithLogger(c.logger),
		resolver.WithSink(sink))

	history, err := orchestrate.NewNATSHistory(c.natsClient)
	if err != nil {
		return fmt.Errorf("create review history: %w", err)
	}

	runnerFor := func(specialty string) (orchestrate.SpecialistRunner, error) {
		return specialist.New(specialty, c.llmClient, res,
			specialist.WithLogger(c.logger),
			specialist.WithSink(sink))
	}

	opts := []orchestrate.Option{
		orchestrate.WithLogger(c.logger),
		orchestrate.WithSink(sink),
		orchestrate.WithHistory(history),
		orchestrate.WithConcurrency(c.config.Concurrency),
		orchestrate.WithSpecialistTimeout(c.config.GetSpecialistTimeout()),
	}
	if len(c.config.Specialists) > 0 {
		opts = append(opts, orchestrate.WithPlanner(orchestrate.NewFixedPlanner(c.config.Specialists...)))
	}

	c.orchestrator = orchestrate.New(c.repoPath, runnerFor, opts...)
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleMessage(ctx, msg)
		}

		if msgs.Error() != nil && msgs.Error() != context.DeadlineExceeded {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.reviewsProcessed.Add(1)
	c.updateLastActivity()

	var envelope struct {
		Payload ReviewRequest `json:"payload"`
	}
	if err := json.Unmarshal(msg.Data(), &envelope); err != nil {
		c.reviewsFailed.Add(1)
		c.logger.Error("Failed to parse review request", "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			c.logger.Warn("Failed to NAK message", "error", nakErr)
		}
		return
	}
	request := envelope.Payload

	if err := request.Validate(); err != nil {
		c.logger.Error("Invalid review request", "error", err)
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("Failed to ACK invalid message", "error", ackErr)
		}
		return
	}

	c.logger.Info("Processing review request",
		"change", request.Metadata.Number,
		"title", request.Metadata.Title,
		"files", len(request.ChangedFiles))

	// Signal in-progress to prevent redelivery during the run.
	if err := msg.InProgress(); err != nil {
		c.logger.Debug("Failed to signal in-progress", "error", err)
	}

	state, report, err := c.orchestrator.Run(ctx, request.Metadata, request.Diff, request.ChangedFiles)
	if err != nil {
		c.reviewsFailed.Add(1)
		c.logger.Error("Review run failed",
			"change", request.Metadata.Number,
			"error", err)
		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("Failed to ACK message", "error", ackErr)
		}
		return
	}

	if report.OverallOutcome == review.OutcomePass {
		c.reviewsPassed.Add(1)
	} else {
		c.reviewsNeedWork.Add(1)
	}

	c.publishResult(ctx, request.Metadata, state.Verdicts, report)

	if ackErr := msg.Ack(); ackErr != nil {
		c.logger.Warn("Failed to ACK message", "error", ackErr)
	}

	c.logger.Info("Review completed",
		"change", request.Metadata.Number,
		"verdict", report.OverallOutcome,
		"specialists", len(state.Verdicts))
}

func (c *Component) publishResult(ctx context.Context, meta review.ChangeMetadata, verdicts []review.Verdict, report review.AggregateReport) {
	result := ReviewCompleted{
		Metadata: meta,
		Report:   report,
		Verdicts: verdicts,
	}

	baseMsg := message.NewBaseMessage(ResultType, &result, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Warn("Failed to marshal review result", "change", meta.Number, "error", err)
		return
	}

	if err := c.natsClient.PublishToStream(ctx, c.config.ResultSubject, data); err != nil {
		c.logger.Warn("Failed to publish review result", "change", meta.Number, "error", err)
	}
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}

	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.logger.Info("review-orchestrator stopped",
		"reviews_processed", c.reviewsProcessed.Load(),
		"reviews_passed", c.reviewsPassed.Load(),
		"reviews_needs_work", c.reviewsNeedWork.Load(),
		"reviews_failed", c.reviewsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "review-orchestrator",
		Type:        "processor",
		Description: "Runs multi-specialist reviews for change requests",
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
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.reviewsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
