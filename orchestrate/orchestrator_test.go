package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coldaine/repo-analysis-suite/review"
	"github.com/Coldaine/repo-analysis-suite/specialist"
)

type runnerFunc func(ctx context.Context, in specialist.Input) (specialist.Result, error)

func (f runnerFunc) Run(ctx context.Context, in specialist.Input) (specialist.Result, error) {
	return f(ctx, in)
}

func passingRunner(tokens int) runnerFunc {
	return func(_ context.Context, in specialist.Input) (specialist.Result, error) {
		return specialist.Result{
			Verdict: review.Verdict{
				Verdict:        review.OutcomePass,
				Confidence:     0.8,
				Summary:        "ok",
				Specialty:      in.Specialty,
				IterationsUsed: 1,
			},
			TokensUsed: tokens,
		}, nil
	}
}

func blockingRunner() runnerFunc {
	return func(ctx context.Context, _ specialist.Input) (specialist.Result, error) {
		<-ctx.Done()
		return specialist.Result{}, ctx.Err()
	}
}

func factoryFrom(runners map[string]SpecialistRunner) RunnerFactory {
	return func(specialty string) (SpecialistRunner, error) {
		r, ok := runners[specialty]
		if !ok {
			return nil, fmt.Errorf("unknown specialty %q", specialty)
		}
		return r, nil
	}
}

func testMeta() review.ChangeMetadata {
	return review.ChangeMetadata{
		Number:     42,
		Branch:     "feature",
		BaseBranch: "main",
		Title:      "Add widget",
	}
}

func TestRunAllPass(t *testing.T) {
	runners := map[string]SpecialistRunner{
		"alignment": passingRunner(10),
		"testing":   passingRunner(20),
		"security":  passingRunner(30),
	}

	o := New(t.TempDir(), factoryFrom(runners))
	state, report, err := o.Run(context.Background(), testMeta(), "diff", []string{"a.go"})
	require.NoError(t, err)

	assert.Equal(t, review.OutcomePass, report.OverallOutcome)
	assert.Len(t, state.Verdicts, 3)
	assert.Equal(t, 60, state.TokensUsed)
	assert.NotZero(t, state.CompletedAt)
	assert.Equal(t, "success", state.OrchestrationMeta["alignment"].Status)
	assert.Contains(t, state.Memory, "aggregated_report")
}

func TestRunTimeoutIsolation(t *testing.T) {
	runners := map[string]SpecialistRunner{
		"alignment":    passingRunner(1),
		"testing":      passingRunner(1),
		"security":     passingRunner(1),
		"dependencies": blockingRunner(),
	}

	o := New(t.TempDir(), factoryFrom(runners),
		WithPlanner(NewFixedPlanner("alignment", "testing", "security", "dependencies")),
		WithSpecialistTimeout(50*time.Millisecond))

	start := time.Now()
	state, report, err := o.Run(context.Background(), testMeta(), "diff", nil)
	require.NoError(t, err)

	require.Len(t, state.Verdicts, 4, "every planned specialist gets a verdict slot")
	assert.Less(t, time.Since(start), 5*time.Second)

	bySpecialty := make(map[string]review.Verdict)
	for _, v := range state.Verdicts {
		bySpecialty[v.Specialty] = v
	}
	assert.Equal(t, review.OutcomeWarn, bySpecialty["dependencies"].Verdict)
	assert.InDelta(t, 0.1, bySpecialty["dependencies"].Confidence, 1e-9)
	assert.Equal(t, review.OutcomePass, bySpecialty["alignment"].Verdict)

	assert.Equal(t, "timeout", state.OrchestrationMeta["dependencies"].Status)
	assert.Equal(t, review.OutcomeNeedsWork, report.OverallOutcome)
}

func TestRunErrorIsolation(t *testing.T) {
	runners := map[string]SpecialistRunner{
		"alignment": passingRunner(1),
		"testing": runnerFunc(func(context.Context, specialist.Input) (specialist.Result, error) {
			return specialist.Result{}, fmt.Errorf("backend exploded")
		}),
		"security": passingRunner(1),
	}

	o := New(t.TempDir(), factoryFrom(runners))
	state, report, err := o.Run(context.Background(), testMeta(), "diff", nil)
	require.NoError(t, err)

	bySpecialty := make(map[string]review.Verdict)
	for _, v := range state.Verdicts {
		bySpecialty[v.Specialty] = v
	}
	assert.Equal(t, review.OutcomeNeedsWork, bySpecialty["testing"].Verdict)
	assert.Contains(t, bySpecialty["testing"].Summary, "backend exploded")
	assert.Equal(t, review.OutcomePass, bySpecialty["alignment"].Verdict)
	assert.Equal(t, "error", state.OrchestrationMeta["testing"].Status)
	assert.Equal(t, review.OutcomeNeedsWork, report.OverallOutcome)
}

func TestRunUnknownSpecialtyDegrades(t *testing.T) {
	o := New(t.TempDir(), factoryFrom(map[string]SpecialistRunner{}),
		WithPlanner(NewFixedPlanner("astrology")))

	state, report, err := o.Run(context.Background(), testMeta(), "diff", nil)
	require.NoError(t, err)

	require.Len(t, state.Verdicts, 1)
	assert.Equal(t, review.OutcomeNeedsWork, state.Verdicts[0].Verdict)
	assert.Equal(t, review.OutcomeNeedsWork, report.OverallOutcome)
}

func TestRunInvalidMetadata(t *testing.T) {
	o := New(t.TempDir(), factoryFrom(nil))
	_, _, err := o.Run(context.Background(), review.ChangeMetadata{}, "diff", nil)
	assert.Error(t, err)
}

func TestLoadMemoryReadsConventionFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "CONTRIBUTING.md"),
		[]byte("All handlers must be idempotent."), 0o644))

	o := New(root, factoryFrom(map[string]SpecialistRunner{
		"alignment": passingRunner(0),
		"testing":   passingRunner(0),
		"security":  passingRunner(0),
	}))
	state, _, err := o.Run(context.Background(), testMeta(), "diff", nil)
	require.NoError(t, err)

	conventions, _ := state.Memory["conventions"].(string)
	assert.Contains(t, conventions, "idempotent")
	assert.Contains(t, conventions, "CONTRIBUTING.md")
}

func TestRunLoadsSimilarChangesFromHistory(t *testing.T) {
	history := NewMemoryHistory()
	require.NoError(t, history.Save(context.Background(), HistoryRecord{
		Number:       7,
		Title:        "Refactor widget store",
		ChangedFiles: []string{"a.go", "b.go"},
		Outcome:      review.OutcomePass,
	}))

	o := New(t.TempDir(), factoryFrom(map[string]SpecialistRunner{
		"alignment": passingRunner(0),
		"testing":   passingRunner(0),
		"security":  passingRunner(0),
	}), WithHistory(history))

	state, _, err := o.Run(context.Background(), testMeta(), "diff", []string{"a.go"})
	require.NoError(t, err)

	require.Len(t, state.SimilarChanges, 1)
	assert.Equal(t, 7, state.SimilarChanges[0].Number)

	// The completed run itself lands in history for the next one.
	hints, err := history.FindSimilar(context.Background(), []string{"a.go"})
	require.NoError(t, err)
	assert.Len(t, hints, 2)
}

func TestRankByOverlapOrdersAndBounds(t *testing.T) {
	records := []HistoryRecord{
		{Number: 1, ChangedFiles: []string{"a.go"}},
		{Number: 2, ChangedFiles: []string{"a.go", "b.go"}},
		{Number: 3, ChangedFiles: []string{"z.go"}},
		{Number: 4, ChangedFiles: []string{"a.go", "b.go", "c.go"}},
		{Number: 5, ChangedFiles: []string{"b.go"}},
	}

	hints := rankByOverlap(records, []string{"a.go", "b.go", "c.go"})
	require.Len(t, hints, maxSimilarChanges)
	assert.Equal(t, 4, hints[0].Number)
	assert.Equal(t, 2, hints[1].Number)
}
