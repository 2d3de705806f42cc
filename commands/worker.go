package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/Coldaine/repo-analysis-suite/events"
	"github.com/Coldaine/repo-analysis-suite/queue"
)

// newWorkerCommand builds the standalone workflow worker command.
func newWorkerCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the workflow queue worker",
		Long: `Worker consumes pending workflow requests (CI runs, test queries) and
executes them. With a NATS URL configured the queue is durable and shared;
otherwise an in-memory queue is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.logLevel)

			cfg, err := loadConfig(logger, flags)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			queueOpts := []queue.QueueOption{queue.WithLogger(logger)}
			var store queue.Store

			if cfg.NATS.URL != "" {
				logger.Info("Connecting to NATS", "url", cfg.NATS.URL)
				client, err := natsclient.NewClient(cfg.NATS.URL,
					natsclient.WithName(appName),
					natsclient.WithMaxReconnects(-1),
					natsclient.WithReconnectWait(time.Second),
				)
				if err != nil {
					return fmt.Errorf("create NATS client: %w", err)
				}
				defer client.Close(ctx)

				store, err = queue.NewNATSStore(ctx, client, cfg.Queue.ProcessingTimeout)
				if err != nil {
					return fmt.Errorf("create queue store: %w", err)
				}
				queueOpts = append(queueOpts, queue.WithSink(events.NewNATSSink(client, logger)))
			} else {
				logger.Info("No NATS URL configured, using in-memory queue")
				store = queue.NewMemoryStore()
				queueOpts = append(queueOpts, queue.WithSink(events.NewSlogSink(logger)))
			}

			q := queue.New(store, queueOpts...)

			var ci queue.CIRunner
			if cfg.Queue.CIProvider == "github" && queue.IsGHAvailable() {
				ci = queue.NewGHRunner(cfg.Repo.Path, cfg.Queue.WorkflowFile)
			} else {
				if cfg.Queue.CIProvider == "github" {
					logger.Warn("gh CLI not available, falling back to mock CI runner")
				}
				ci = &queue.MockRunner{}
			}

			worker := queue.NewWorker(q, ci, queue.WithWorkerLogger(logger))

			logger.Info("Worker started", "ci_provider", cfg.Queue.CIProvider)
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	return cmd
}
