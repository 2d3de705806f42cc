package specialist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Coldaine/repo-analysis-suite/events"
	"github.com/Coldaine/repo-analysis-suite/llm"
	"github.com/Coldaine/repo-analysis-suite/resolver"
	"github.com/Coldaine/repo-analysis-suite/review"
)

// Phase is one state of the specialist loop.
type Phase string

const (
	PhasePlan     Phase = "plan"
	PhaseGather   Phase = "gather"
	PhaseAnalyze  Phase = "analyze"
	PhaseFinalize Phase = "finalize"
	PhaseDone     Phase = "done"
)

// State is the mutable state threaded through the specialist loop.
type State struct {
	Specialty      string
	MarchingOrders string
	Diff           string
	Memory         map[string]any
	CIStatus       string

	Phase     Phase
	Iteration int
	Requests  []contextRequest
	Context   []review.ContextRecord
	Findings  []review.Finding
	Reasoning []string
	NeedsMore bool
}

// nextPhase is the pure transition function of the specialist loop. The
// iteration counter makes the bound provable: gather runs at most
// maxIterations times because analyze only loops back while the counter is
// below the bound and the counter increments on every gather entry.
func nextPhase(phase Phase, needsMore bool, iteration, maxIterations int) Phase {
	switch phase {
	case PhasePlan:
		return PhaseGather
	case PhaseGather:
		return PhaseAnalyze
	case PhaseAnalyze:
		if needsMore && iteration < maxIterations {
			return PhaseGather
		}
		return PhaseFinalize
	case PhaseFinalize:
		return PhaseDone
	default:
		return PhaseDone
	}
}

// Input describes one specialist run.
type Input struct {
	Specialty      string
	MarchingOrders string
	Diff           string
	ChangedFiles   []string
	Memory         map[string]any
	CIStatus       string

	// FailFast aborts the run on the first context failure instead of
	// recording it.
	FailFast bool
}

// Result is the outcome of one specialist run.
type Result struct {
	Verdict    review.Verdict
	TokensUsed int
	CostUSD    float64
}

// Subgraph runs one specialty's review loop.
type Subgraph struct {
	template Template
	backend  llm.Completer
	resolver *resolver.Resolver
	logger   *slog.Logger
	sink     events.Sink
}

// Option configures a Subgraph.
type Option func(*Subgraph)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Subgraph) {
		s.logger = logger
	}
}

// WithSink sets the lifecycle event sink.
func WithSink(sink events.Sink) Option {
	return func(s *Subgraph) {
		s.sink = sink
	}
}

// New creates a subgraph for a specialty. Unknown specialties are a
// configuration error.
func New(specialty string, backend llm.Completer, res *resolver.Resolver, opts ...Option) (*Subgraph, error) {
	t, err := TemplateFor(specialty)
	if err != nil {
		return nil, err
	}

	s := &Subgraph{
		template: t,
		backend:  backend,
		resolver: res,
		logger:   slog.Default(),
		sink:     events.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes the loop to completion. Backend failures inside plan and
// analyze degrade that step; only fail-fast context errors and context
// cancellation surface as errors.
func (s *Subgraph) Run(ctx context.Context, in Input) (Result, error) {
	st := &State{
		Specialty:      in.Specialty,
		MarchingOrders: in.MarchingOrders,
		Diff:           in.Diff,
		Memory:         in.Memory,
		CIStatus:       in.CIStatus,
		Phase:          PhasePlan,
	}

	var result Result
	for st.Phase != PhaseDone {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		switch st.Phase {
		case PhasePlan:
			s.plan(ctx, st, &result)
		case PhaseGather:
			if err := s.gather(ctx, st, in.FailFast, &result); err != nil {
				return Result{}, err
			}
		case PhaseAnalyze:
			s.analyze(ctx, st, &result)
		case PhaseFinalize:
			result.Verdict = s.finalize(st)
		}

		st.Phase = nextPhase(st.Phase, st.NeedsMore, st.Iteration, s.template.MaxIterations)
	}

	return result, nil
}

// plan asks the backend what context the first iteration needs. Failures and
// malformed output degrade to an empty request list.
func (s *Subgraph) plan(ctx context.Context, st *State, result *Result) {
	turn, err := s.completeTurn(ctx, st, result,
		systemPrompt(s.template, st.MarchingOrders),
		planUserPrompt(st))
	if err != nil {
		s.logger.Error("Specialist planning failed",
			"specialty", st.Specialty,
			"error", err)
		st.Requests = nil
		st.Reasoning = append(st.Reasoning, fmt.Sprintf("Error in planning: %v", err))
		return
	}

	st.Requests = turn.ContextRequests
	st.Reasoning = append(st.Reasoning, turn.Reasoning)
}

// gather resolves this iteration's context requests, bounded by the
// specialty budget. Failed resolutions become failed records unless the run
// is fail-fast.
func (s *Subgraph) gather(ctx context.Context, st *State, failFast bool, result *Result) error {
	st.Iteration++

	requests := st.Requests
	if len(requests) > s.template.ContextBudget {
		s.logger.Debug("Context requests over budget, truncating",
			"specialty", st.Specialty,
			"requested", len(requests),
			"budget", s.template.ContextBudget)
		requests = requests[:s.template.ContextBudget]
	}

	for _, req := range requests {
		rec, err := s.resolver.Resolve(ctx, resolver.Request{
			Type:      req.Type,
			Query:     req.Query,
			Files:     req.Files,
			Iteration: st.Iteration,
			FailFast:  failFast,
		})
		if err != nil {
			if failFast {
				return fmt.Errorf("specialist %s iteration %d: %w", st.Specialty, st.Iteration, err)
			}
			s.logger.Error("Context resolution failed",
				"specialty", st.Specialty,
				"type", req.Type,
				"iteration", st.Iteration,
				"error", err)
			continue
		}
		st.Context = append(st.Context, rec)
		result.TokensUsed += rec.Tokens
		result.CostUSD += rec.CostUSD
	}

	st.Requests = nil
	return nil
}

// analyze feeds the accumulated state back to the backend. Malformed output
// degrades to "no new findings, stop iterating".
func (s *Subgraph) analyze(ctx context.Context, st *State, result *Result) {
	turn, err := s.completeTurn(ctx, st, result,
		analyzeSystemPrompt(s.template, st, st.MarchingOrders),
		analyzeUserPrompt(st))
	if err != nil {
		s.logger.Error("Specialist analysis failed",
			"specialty", st.Specialty,
			"iteration", st.Iteration,
			"error", err)
		st.NeedsMore = false
		st.Reasoning = append(st.Reasoning, fmt.Sprintf("Analysis failed: %v", err))
		return
	}

	for _, f := range turn.Findings {
		if !f.valid() {
			s.logger.Debug("Dropping malformed finding",
				"specialty", st.Specialty,
				"severity", f.Severity,
				"id", f.ID)
			continue
		}
		st.Findings = append(st.Findings, f.toFinding(st.Iteration))
	}
	st.Reasoning = append(st.Reasoning, turn.Reasoning)
	st.NeedsMore = turn.NeedsMore
	st.Requests = turn.ContextRequests
}

// completeTurn runs one backend round trip and parses the JSON turn.
func (s *Subgraph) completeTurn(ctx context.Context, st *State, result *Result, system, user string) (*modelTurn, error) {
	resp, err := s.backend.Complete(ctx, llm.Request{
		Capability: string(s.template.Capability),
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return nil, err
	}
	result.TokensUsed += resp.Usage.TotalTokens

	extracted := llm.ExtractJSON(resp.Content)
	if extracted == "" {
		return nil, fmt.Errorf("no JSON in backend response")
	}

	var turn modelTurn
	if err := json.Unmarshal([]byte(extracted), &turn); err != nil {
		return nil, fmt.Errorf("parse backend response: %w", err)
	}
	return &turn, nil
}

// finalize derives the verdict and confidence from the accumulated findings.
func (s *Subgraph) finalize(st *State) review.Verdict {
	counts := review.CountBySeverity(st.Findings)
	high := counts[review.SeverityHigh]
	medium := counts[review.SeverityMedium]

	base := 0.8
	contextBonus := float64(len(st.Context)) * 0.02
	if contextBonus > 0.1 {
		contextBonus = 0.1
	}
	severityPenalty := float64(high)*0.2 + float64(medium)*0.1
	iterationPenalty := float64(st.Iteration-s.template.MaxIterations) * 0.1
	if iterationPenalty < 0 {
		iterationPenalty = 0
	}

	confidence := base + contextBonus - severityPenalty - iterationPenalty
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 0.95 {
		confidence = 0.95
	}

	summary := fmt.Sprintf("Review completed with %d findings", len(st.Findings))
	if high > 0 {
		summary += fmt.Sprintf(" (including %d high-severity issues)", high)
	} else if medium > 0 {
		summary += fmt.Sprintf(" (including %d medium-severity issues)", medium)
	}
	summary += fmt.Sprintf(" in %d iterations", st.Iteration)
	if st.Iteration >= s.template.MaxIterations && len(st.Findings) > 0 {
		summary += ". Review may benefit from additional context or manual review."
	}

	s.sink.Emit(context.Background(), events.Event{
		Kind:      events.KindSpecialistCompleted,
		Specialty: st.Specialty,
		Timestamp: time.Now().UTC(),
		Fields: map[string]any{
			"findings":   len(st.Findings),
			"iterations": st.Iteration,
		},
	})

	return review.Verdict{
		Verdict:         review.DeriveOutcome(st.Findings),
		Confidence:      confidence,
		Summary:         summary,
		Specialty:       st.Specialty,
		Findings:        st.Findings,
		ContextGathered: st.Context,
		IterationsUsed:  st.Iteration,
	}
}
