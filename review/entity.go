// Package review defines the domain model for a multi-specialist change
// review: the immutable change metadata, the root review state with declared
// merge policies, specialist verdicts, and verdict aggregation.
package review

import (
	"fmt"
	"time"
)

// Complexity is a coarse tag describing how involved a change is.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Severity classifies a finding.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Outcome is a specialist or aggregate review verdict.
type Outcome string

const (
	OutcomePass      Outcome = "PASS"
	OutcomeWarn      Outcome = "WARN"
	OutcomeFail      Outcome = "FAIL"
	OutcomeNeedsWork Outcome = "NEEDS_WORK"

	// OutcomeNoReview is the aggregate outcome when no verdicts were produced.
	OutcomeNoReview Outcome = "NO_REVIEW"
)

// ChangeMetadata identifies the unit of change under review.
// It is created once at run start and never mutated.
type ChangeMetadata struct {
	Number     int        `json:"number"`
	URL        string     `json:"url"`
	Branch     string     `json:"branch"`
	BaseBranch string     `json:"base_branch"`
	Title      string     `json:"title"`
	Complexity Complexity `json:"complexity"`
}

// Validate checks the metadata invariants.
func (m ChangeMetadata) Validate() error {
	if m.Number <= 0 {
		return fmt.Errorf("change number must be positive, got %d", m.Number)
	}
	if m.Branch == "" {
		return fmt.Errorf("branch is required")
	}
	if m.BaseBranch == "" {
		return fmt.Errorf("base branch is required")
	}
	if m.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// ContextRecord is one gathered piece of external context.
// Records are append-only within a specialist's run.
type ContextRecord struct {
	Iteration   int             `json:"iteration"`
	ContextType string          `json:"context_type"`
	Result      map[string]any  `json:"result"`
	Summary     string          `json:"summary,omitempty"`
	Failed      bool            `json:"failed,omitempty"`
	Synthetic   bool            `json:"synthetic,omitempty"`
	CostUSD     float64         `json:"cost_usd"`
	Tokens      int             `json:"tokens"`
	CacheKey    string          `json:"cache_key"`
	GatheredAt  time.Time       `json:"gathered_at"`
}

// Finding is a single issue reported by a specialist.
type Finding struct {
	ID          string   `json:"id"`
	Iteration   int      `json:"iteration"`
	Severity    Severity `json:"severity"`
	Type        string   `json:"type"`
	File        string   `json:"file"`
	Line        int      `json:"line"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
	Snippet     string   `json:"snippet,omitempty"`
}

// Verdict is the final output of one specialist.
type Verdict struct {
	Verdict         Outcome         `json:"verdict"`
	Confidence      float64         `json:"confidence"`
	Summary         string          `json:"summary"`
	Specialty       string          `json:"specialty"`
	Findings        []Finding       `json:"findings"`
	ContextGathered []ContextRecord `json:"context_gathered"`
	IterationsUsed  int             `json:"iterations_used"`
}

// SimilarChange is a memory hint about a previously reviewed change that
// touched overlapping files.
type SimilarChange struct {
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Complexity string `json:"complexity"`
	Summary    string `json:"summary"`
}

// Plan is the orchestrator's decision about which specialists to run.
type Plan struct {
	Specialists []string `json:"specialists"`
}

// SpecialistMeta records how a single specialist's execution went.
type SpecialistMeta struct {
	Status     string        `json:"status"` // "success", "error", or "timeout"
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// ReviewState is the root aggregate for one review run. Each field declares
// its merge policy in the struct tag; orchestrator steps return partial
// Updates which are applied through Apply, never by direct mutation.
type ReviewState struct {
	Metadata     ChangeMetadata `json:"metadata" merge:"replace"`
	Diff         string         `json:"diff" merge:"replace"`
	ChangedFiles []string       `json:"changed_files" merge:"replace"`

	// Memory context loaded at run start.
	Memory         map[string]any  `json:"memory" merge:"replace"`
	SimilarChanges []SimilarChange `json:"similar_changes" merge:"replace"`
	Conventions    []string        `json:"conventions" merge:"replace"`

	// Orchestrator decisions.
	Plan *Plan `json:"plan,omitempty" merge:"replace"`

	// Accumulated specialist output.
	Verdicts           []Verdict `json:"verdicts" merge:"append"`
	SpecialistsSpawned []string  `json:"specialists_spawned" merge:"append"`

	// Counters.
	TokensUsed   int     `json:"tokens_used" merge:"sum"`
	TotalCostUSD float64 `json:"total_cost_usd" merge:"sum"`

	// Per-specialist execution record. Always has one entry per planned
	// specialist, degraded or not.
	OrchestrationMeta map[string]SpecialistMeta `json:"orchestration_meta" merge:"replace"`

	StartedAt   time.Time `json:"started_at" merge:"replace"`
	CompletedAt time.Time `json:"completed_at" merge:"replace"`
}

// NewReviewState constructs the root state for a run.
func NewReviewState(meta ChangeMetadata, diff string, changedFiles []string) *ReviewState {
	return &ReviewState{
		Metadata:          meta,
		Diff:              diff,
		ChangedFiles:      changedFiles,
		Memory:            map[string]any{},
		OrchestrationMeta: map[string]SpecialistMeta{},
		StartedAt:         time.Now().UTC(),
	}
}

// SeverityRank orders severities for sorting and verdict derivation.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// CountBySeverity tallies findings per severity.
func CountBySeverity(findings []Finding) map[Severity]int {
	counts := make(map[Severity]int)
	for _, f := range findings {
		counts[f.Severity]++
	}
	return counts
}

// DeriveOutcome maps a finding set to a specialist verdict: any high severity
// finding fails the review, medium warns, any remaining finding needs work,
// and a clean set passes.
func DeriveOutcome(findings []Finding) Outcome {
	counts := CountBySeverity(findings)
	switch {
	case counts[SeverityHigh] > 0:
		return OutcomeFail
	case counts[SeverityMedium] > 0:
		return OutcomeWarn
	case len(findings) > 0:
		return OutcomeNeedsWork
	default:
		return OutcomePass
	}
}
