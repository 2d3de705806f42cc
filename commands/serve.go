package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/Coldaine/repo-analysis-suite/config"
	revieworchestrator "github.com/Coldaine/repo-analysis-suite/processor/review-orchestrator"
	workflowworker "github.com/Coldaine/repo-analysis-suite/processor/workflow-worker"
)

const shutdownTimeout = 30 * time.Second

// runnable is the lifecycle surface shared by our processor components.
type runnable interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// namedComponent pairs a component with its registry name for logging.
type namedComponent struct {
	name string
	comp runnable
}

// newServeCommand builds the long-running service command. It starts the
// review-orchestrator and workflow-worker processors against NATS, watches
// the project config for changes, and blocks until a shutdown signal.
func newServeCommand(flags *rootFlags) *cobra.Command {
	var natsURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the review service",
		Long: `Serve runs the NATS-backed review service: the review-orchestrator
consumes review requests and publishes reports, and the workflow-worker
executes queued CI and test requests.

Edits to the project config (reviewd.yaml) are applied live by restarting
the processors with the new settings.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.logLevel)

			cfg, err := loadConfig(logger, flags)
			if err != nil {
				return err
			}

			url := natsURL
			if url == "" {
				url = cfg.NATS.URL
			}
			if url == "" {
				url = "nats://localhost:4222"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("Connecting to NATS", "url", url)
			client, err := natsclient.NewClient(url,
				natsclient.WithName(appName),
				natsclient.WithMaxReconnects(-1),
				natsclient.WithReconnectWait(time.Second),
			)
			if err != nil {
				return fmt.Errorf("create NATS client: %w", err)
			}
			defer client.Close(ctx)

			deps := component.Dependencies{
				Logger:     logger,
				NATSClient: client,
			}

			started, err := startComponents(ctx, deps, componentConfigs(cfg), logger)
			if err != nil {
				return err
			}
			defer func() {
				stopComponents(started, logger)
			}()

			reloads := watchProjectConfig(ctx, logger)

			logger.Info("Review service ready", "version", Version)
			for {
				select {
				case <-ctx.Done():
					logger.Info("Received shutdown signal")
					return nil

				case <-reloads:
					newCfg, err := loadConfig(logger, flags)
					if err != nil {
						logger.Warn("Ignoring config reload", "error", err)
						continue
					}

					logger.Info("Restarting components with reloaded config")
					stopComponents(started, logger)
					started, err = startComponents(ctx, deps, componentConfigs(newCfg), logger)
					if err != nil {
						return fmt.Errorf("restart components: %w", err)
					}
				}
			}
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default: from config)")

	return cmd
}

// watchProjectConfig starts a config watcher when a project config exists.
// Each valid on-disk change produces one signal on the returned channel.
func watchProjectConfig(ctx context.Context, logger *slog.Logger) <-chan struct{} {
	reloads := make(chan struct{}, 1)

	path := config.NewLoader(logger).FindProjectConfig()
	if path == "" {
		logger.Debug("No project config to watch")
		return reloads
	}

	w, err := config.NewWatcher(path, logger, func(*config.Config) {
		select {
		case reloads <- struct{}{}:
		default:
		}
	})
	if err != nil {
		logger.Warn("Config watcher unavailable", "path", path, "error", err)
		return reloads
	}

	go func() { _ = w.Run(ctx) }()
	logger.Info("Watching config for changes", "path", path)
	return reloads
}

// componentConfigs maps the app config onto per-component configs.
func componentConfigs(cfg *config.Config) map[string]any {
	orchCfg := revieworchestrator.DefaultConfig()
	orchCfg.RepoPath = cfg.Repo.Path
	orchCfg.Concurrency = cfg.Review.Concurrency
	orchCfg.SpecialistTimeout = cfg.Review.SpecialistTimeout.String()
	orchCfg.Specialists = cfg.Review.Specialists

	workerCfg := workflowworker.DefaultConfig()
	workerCfg.RepoPath = cfg.Repo.Path
	workerCfg.ProcessingTimeout = cfg.Queue.ProcessingTimeout.String()
	workerCfg.CIProvider = cfg.Queue.CIProvider
	workerCfg.WorkflowFile = cfg.Queue.WorkflowFile

	return map[string]any{
		"review-orchestrator": orchCfg,
		"workflow-worker":     workerCfg,
	}
}

// startComponents constructs, initializes, and starts the processors. On any
// failure the already-started ones are stopped before returning.
func startComponents(ctx context.Context, deps component.Dependencies, configs map[string]any, logger *slog.Logger) ([]namedComponent, error) {
	components, err := buildComponents(deps, configs)
	if err != nil {
		return nil, err
	}

	started := make([]namedComponent, 0, len(components))
	for name, comp := range components {
		if err := comp.Initialize(); err != nil {
			stopComponents(started, logger)
			return nil, fmt.Errorf("initialize %s: %w", name, err)
		}
		if err := comp.Start(ctx); err != nil {
			stopComponents(started, logger)
			return nil, fmt.Errorf("start %s: %w", name, err)
		}
		started = append(started, namedComponent{name: name, comp: comp})
		logger.Info("Component started", "component", name)
	}
	return started, nil
}

// stopComponents stops components in reverse start order.
func stopComponents(started []namedComponent, logger *slog.Logger) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].comp.Stop(shutdownTimeout); err != nil {
			logger.Error("Error stopping component", "component", started[i].name, "error", err)
		}
	}
}

// buildComponents constructs processor components from their typed configs.
func buildComponents(deps component.Dependencies, configs map[string]any) (map[string]runnable, error) {
	factories := map[string]func(json.RawMessage, component.Dependencies) (component.Discoverable, error){
		"review-orchestrator": revieworchestrator.NewComponent,
		"workflow-worker":     workflowworker.NewComponent,
	}

	out := make(map[string]runnable, len(configs))
	for name, cfg := range configs {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("marshal %s config: %w", name, err)
		}
		comp, err := factories[name](raw, deps)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		run, ok := comp.(runnable)
		if !ok {
			return nil, fmt.Errorf("component %s does not support lifecycle control", name)
		}
		out[name] = run
	}
	return out, nil
}
