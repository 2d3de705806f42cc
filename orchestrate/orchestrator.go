// Package orchestrate drives one change review end to end: load memory,
// plan specialists, run them concurrently under a bound, and collect the
// aggregate verdict. Steps are strictly sequential; each returns a partial
// update merged into the run state through the declared merge policies.
package orchestrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Coldaine/repo-analysis-suite/events"
	"github.com/Coldaine/repo-analysis-suite/review"
	"github.com/Coldaine/repo-analysis-suite/specialist"
)

const (
	// DefaultConcurrency bounds specialists in flight.
	DefaultConcurrency = 4

	// DefaultSpecialistTimeout is the wall-clock limit per specialist.
	DefaultSpecialistTimeout = 300 * time.Second
)

// degradedConfidence marks verdicts substituted for failed specialists.
const degradedConfidence = 0.1

// SpecialistRunner executes one specialist run. The concrete implementation
// is specialist.Subgraph; tests substitute their own.
type SpecialistRunner interface {
	Run(ctx context.Context, in specialist.Input) (specialist.Result, error)
}

// RunnerFactory builds the runner for a specialty. An error means the plan
// names a specialty the process is not configured for.
type RunnerFactory func(specialty string) (SpecialistRunner, error)

// Orchestrator drives review runs.
type Orchestrator struct {
	planner    Planner
	runnerFor  RunnerFactory
	history    HistoryStore
	repoRoot   string
	logger     *slog.Logger
	sink       events.Sink
	concurrent int64
	timeout    time.Duration
	failFast   bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPlanner sets the planner.
func WithPlanner(p Planner) Option {
	return func(o *Orchestrator) {
		o.planner = p
	}
}

// WithHistory sets the cross-run history store.
func WithHistory(h HistoryStore) Option {
	return func(o *Orchestrator) {
		o.history = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithSink sets the lifecycle event sink.
func WithSink(sink events.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithConcurrency bounds specialists in flight.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrent = int64(n)
		}
	}
}

// WithSpecialistTimeout sets the per-specialist wall-clock limit.
func WithSpecialistTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithFailFast aborts specialists on their first context failure.
func WithFailFast(failFast bool) Option {
	return func(o *Orchestrator) {
		o.failFast = failFast
	}
}

// New creates an orchestrator. The factory is required; everything else has
// defaults.
func New(repoRoot string, runnerFor RunnerFactory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		planner:    NewFixedPlanner(),
		runnerFor:  runnerFor,
		repoRoot:   repoRoot,
		logger:     slog.Default(),
		sink:       events.Discard,
		concurrent: DefaultConcurrency,
		timeout:    DefaultSpecialistTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run reviews one change. The returned state always carries one verdict and
// one orchestration entry per planned specialist, degraded or not.
func (o *Orchestrator) Run(ctx context.Context, meta review.ChangeMetadata, diff string, changedFiles []string) (*review.ReviewState, review.AggregateReport, error) {
	if err := meta.Validate(); err != nil {
		return nil, review.AggregateReport{}, fmt.Errorf("invalid change metadata: %w", err)
	}

	state := review.NewReviewState(meta, diff, changedFiles)
	o.emit(ctx, events.KindRunStarted, "", map[string]any{"change": meta.Number})

	steps := []struct {
		name string
		fn   func(context.Context, *review.ReviewState) (review.Update, error)
	}{
		{"load_memory", o.loadMemory},
		{"plan", o.plan},
		{"run_specialists", o.runSpecialists},
		{"collect", o.collect},
	}

	for _, step := range steps {
		update, err := step.fn(ctx, state)
		if err != nil {
			return state, review.AggregateReport{}, fmt.Errorf("step %s: %w", step.name, err)
		}
		if err := review.Apply(state, update); err != nil {
			return state, review.AggregateReport{}, fmt.Errorf("apply %s update: %w", step.name, err)
		}
		o.emit(ctx, events.KindStepCompleted, "", map[string]any{"step": step.name})
	}

	report := review.Summarize(state.Verdicts)
	o.saveHistory(ctx, state, report)
	return state, report, nil
}

// loadMemory gathers conventions and similar-change hints. Failures degrade
// to empty memory, never abort the run.
func (o *Orchestrator) loadMemory(ctx context.Context, state *review.ReviewState) (review.Update, error) {
	conventions := loadConventions(o.repoRoot, o.logger)
	similar := o.loadSimilarChanges(ctx, state.ChangedFiles)

	memory := map[string]any{
		"conventions": conventionsText(conventions),
	}

	o.logger.Info("Loaded review memory",
		"conventions", len(conventions),
		"similar_changes", len(similar))

	return review.Update{
		Memory:         &memory,
		Conventions:    &conventions,
		SimilarChanges: &similar,
	}, nil
}

// plan decides the specialist roster.
func (o *Orchestrator) plan(ctx context.Context, state *review.ReviewState) (review.Update, error) {
	plan, err := o.planner.Plan(ctx, state)
	if err != nil {
		return review.Update{}, fmt.Errorf("plan specialists: %w", err)
	}
	if len(plan.Specialists) == 0 {
		return review.Update{}, fmt.Errorf("planner produced an empty roster")
	}
	return review.Update{Plan: &plan}, nil
}

// specialistOutcome is one specialist's contribution to the state update.
type specialistOutcome struct {
	specialty string
	verdict   review.Verdict
	tokens    int
	cost      float64
	meta      review.SpecialistMeta
}

// runSpecialists runs the planned roster concurrently under the concurrency
// bound. One slow or failing specialist never affects its siblings: timeouts
// become WARN verdicts, errors become NEEDS_WORK verdicts.
func (o *Orchestrator) runSpecialists(ctx context.Context, state *review.ReviewState) (review.Update, error) {
	if state.Plan == nil {
		return review.Update{}, fmt.Errorf("no plan before run_specialists")
	}
	roster := state.Plan.Specialists

	sem := semaphore.NewWeighted(o.concurrent)
	outcomes := make([]specialistOutcome, len(roster))
	var wg sync.WaitGroup

	for i, specialty := range roster {
		wg.Add(1)
		go func(i int, specialty string) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = o.degradedOutcome(specialty, 0, err)
				return
			}
			defer sem.Release(1)

			o.emit(ctx, events.KindSpecialistSpawned, specialty, nil)
			outcomes[i] = o.runOne(ctx, specialty, state)
		}(i, specialty)
	}
	wg.Wait()

	update := review.Update{
		OrchestrationMeta: &map[string]review.SpecialistMeta{},
	}
	for _, out := range outcomes {
		update.Verdicts = append(update.Verdicts, out.verdict)
		update.SpecialistsSpawned = append(update.SpecialistsSpawned, out.specialty)
		update.TokensUsed += out.tokens
		update.TotalCostUSD += out.cost
		(*update.OrchestrationMeta)[out.specialty] = out.meta
	}

	// Preserve meta from earlier steps; replace policy would clobber it.
	for k, v := range state.OrchestrationMeta {
		if _, ok := (*update.OrchestrationMeta)[k]; !ok {
			(*update.OrchestrationMeta)[k] = v
		}
	}

	return update, nil
}

// runOne executes one specialist under its wall-clock timeout.
func (o *Orchestrator) runOne(ctx context.Context, specialty string, state *review.ReviewState) specialistOutcome {
	start := time.Now()

	runner, err := o.runnerFor(specialty)
	if err != nil {
		o.logger.Error("No runner for specialty", "specialty", specialty, "error", err)
		return o.degradedOutcome(specialty, time.Since(start), err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	result, err := runner.Run(runCtx, specialist.Input{
		Specialty:      specialty,
		MarchingOrders: fmt.Sprintf("Review %s aspects", specialty),
		Diff:           state.Diff,
		ChangedFiles:   state.ChangedFiles,
		Memory:         state.Memory,
		FailFast:       o.failFast,
	})
	duration := time.Since(start)

	switch {
	case err == nil:
		return specialistOutcome{
			specialty: specialty,
			verdict:   result.Verdict,
			tokens:    result.TokensUsed,
			cost:      result.CostUSD,
			meta:      review.SpecialistMeta{Status: "success", Duration: duration},
		}
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		o.logger.Error("Specialist timed out",
			"specialty", specialty,
			"timeout", o.timeout)
		return specialistOutcome{
			specialty: specialty,
			verdict: review.Verdict{
				Verdict:        review.OutcomeWarn,
				Confidence:     degradedConfidence,
				Summary:        fmt.Sprintf("Specialist %s timed out during execution", specialty),
				Specialty:      specialty,
				IterationsUsed: 1,
			},
			meta: review.SpecialistMeta{Status: "timeout", Duration: duration, Error: "timeout"},
		}
	default:
		o.logger.Error("Specialist failed",
			"specialty", specialty,
			"error", err)
		return o.degradedOutcome(specialty, duration, err)
	}
}

// degradedOutcome substitutes a NEEDS_WORK verdict for a failed specialist.
func (o *Orchestrator) degradedOutcome(specialty string, duration time.Duration, err error) specialistOutcome {
	return specialistOutcome{
		specialty: specialty,
		verdict: review.Verdict{
			Verdict:        review.OutcomeNeedsWork,
			Confidence:     degradedConfidence,
			Summary:        fmt.Sprintf("Specialist %s failed: %v", specialty, err),
			Specialty:      specialty,
			IterationsUsed: 1,
		},
		meta: review.SpecialistMeta{Status: "error", Duration: duration, Error: err.Error()},
	}
}

// collect aggregates the verdicts into the run memory.
func (o *Orchestrator) collect(_ context.Context, state *review.ReviewState) (review.Update, error) {
	report := review.Summarize(state.Verdicts)
	memory := review.CollectInto(state.Memory, report)
	now := time.Now().UTC()

	o.logger.Info("Review collected",
		"verdict", report.OverallOutcome,
		"specialists", len(state.Verdicts))

	return review.Update{
		Memory:      &memory,
		CompletedAt: &now,
	}, nil
}

// saveHistory records the completed run for future similarity hints.
func (o *Orchestrator) saveHistory(ctx context.Context, state *review.ReviewState, report review.AggregateReport) {
	if o.history == nil {
		return
	}
	err := o.history.Save(ctx, HistoryRecord{
		Number:       state.Metadata.Number,
		Title:        state.Metadata.Title,
		Complexity:   string(state.Metadata.Complexity),
		Summary:      report.Summary,
		ChangedFiles: state.ChangedFiles,
		Outcome:      report.OverallOutcome,
		ReviewedAt:   time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("Failed to save review history", "error", err)
	}
}

func (o *Orchestrator) emit(ctx context.Context, kind events.Kind, specialty string, fields map[string]any) {
	o.sink.Emit(ctx, events.Event{
		Kind:      kind,
		Specialty: specialty,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	})
}
