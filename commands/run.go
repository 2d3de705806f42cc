package commands

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Coldaine/repo-analysis-suite/events"
	"github.com/Coldaine/repo-analysis-suite/llm"
	"github.com/Coldaine/repo-analysis-suite/orchestrate"
	"github.com/Coldaine/repo-analysis-suite/resolver"
	"github.com/Coldaine/repo-analysis-suite/review"
	"github.com/Coldaine/repo-analysis-suite/specialist"
	"github.com/Coldaine/repo-analysis-suite/tools"
)

// newRunCommand builds the one-shot review command.
func newRunCommand(flags *rootFlags) *cobra.Command {
	var (
		number   int
		title    string
		branch   string
		base     string
		diffFile string
		files    []string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one review and print the report",
		Long: `Run reviews a single change. The diff is read from --diff-file, or from
stdin when the flag is omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(flags.logLevel)

			cfg, err := loadConfig(logger, flags)
			if err != nil {
				return err
			}

			diff, err := readDiff(diffFile)
			if err != nil {
				return err
			}
			if strings.TrimSpace(diff) == "" {
				return fmt.Errorf("empty diff: pass --diff-file or pipe a diff on stdin")
			}

			registry, err := cfg.BuildRegistry()
			if err != nil {
				return fmt.Errorf("build model registry: %w", err)
			}
			backend := llm.NewClient(registry, llm.WithLogger(logger))

			toolRegistry := resolver.NewRegistry()
			if err := tools.RegisterAll(toolRegistry, cfg.Repo.Path); err != nil {
				return fmt.Errorf("register tools: %w", err)
			}
			res := resolver.New(toolRegistry, resolver.NewMemoryCache(),
				resolver.WithLogger(logger),
				resolver.WithSink(events.NewSlogSink(logger)))

			runnerFor := func(specialty string) (orchestrate.SpecialistRunner, error) {
				return specialist.New(specialty, backend, res, specialist.WithLogger(logger))
			}

			opts := []orchestrate.Option{
				orchestrate.WithLogger(logger),
				orchestrate.WithHistory(orchestrate.NewMemoryHistory()),
				orchestrate.WithConcurrency(cfg.Review.Concurrency),
				orchestrate.WithSpecialistTimeout(cfg.Review.SpecialistTimeout),
				orchestrate.WithFailFast(cfg.Review.FailFast),
			}
			if len(cfg.Review.Specialists) > 0 {
				opts = append(opts, orchestrate.WithPlanner(orchestrate.NewFixedPlanner(cfg.Review.Specialists...)))
			}

			orchestrator := orchestrate.New(cfg.Repo.Path, runnerFor, opts...)

			meta := review.ChangeMetadata{
				Number:     number,
				Title:      title,
				Branch:     branch,
				BaseBranch: base,
			}

			state, report, err := orchestrator.Run(cmd.Context(), meta, diff, files)
			if err != nil {
				return err
			}

			printReport(cmd.OutOrStdout(), state.Verdicts, report)

			if report.OverallOutcome != review.OutcomePass {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&number, "number", 0, "Change number (required)")
	cmd.Flags().StringVar(&title, "title", "", "Change title")
	cmd.Flags().StringVar(&branch, "branch", "", "Source branch")
	cmd.Flags().StringVar(&base, "base", "main", "Base branch")
	cmd.Flags().StringVar(&diffFile, "diff-file", "", "Path to a unified diff (default: stdin)")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Changed file paths")
	_ = cmd.MarkFlagRequired("number")

	return cmd
}

func readDiff(diffFile string) (string, error) {
	if diffFile == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read diff from stdin: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(diffFile)
	if err != nil {
		return "", fmt.Errorf("read diff file: %w", err)
	}
	return string(data), nil
}

// printReport writes a human-readable review report.
func printReport(w io.Writer, verdicts []review.Verdict, report review.AggregateReport) {
	fmt.Fprintf(w, "\n== Review: %s ==\n\n", report.OverallOutcome)
	fmt.Fprintln(w, report.Summary)
	fmt.Fprintln(w)

	sorted := append([]review.Verdict(nil), verdicts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Specialty < sorted[j].Specialty })

	for _, v := range sorted {
		fmt.Fprintf(w, "%-14s %-11s confidence %.2f (%d iterations)\n",
			v.Specialty, v.Verdict, v.Confidence, v.IterationsUsed)
		for _, f := range v.Findings {
			location := f.File
			if f.Line > 0 {
				location = fmt.Sprintf("%s:%d", f.File, f.Line)
			}
			fmt.Fprintf(w, "    [%s] %s", f.Severity, f.Description)
			if location != "" {
				fmt.Fprintf(w, " (%s)", location)
			}
			fmt.Fprintln(w)
		}
	}
	fmt.Fprintln(w)
}
