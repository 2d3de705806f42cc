package specialist

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Coldaine/repo-analysis-suite/llm"
	"github.com/Coldaine/repo-analysis-suite/resolver"
	"github.com/Coldaine/repo-analysis-suite/review"
)

// scriptedBackend returns canned responses in order, repeating the last one.
type scriptedBackend struct {
	responses []string
	calls     atomic.Int64
}

func (b *scriptedBackend) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	n := int(b.calls.Add(1)) - 1
	if n >= len(b.responses) {
		n = len(b.responses) - 1
	}
	return &llm.Response{
		Content: b.responses[n],
		Usage:   llm.TokenUsage{TotalTokens: 10},
	}, nil
}

type erroringBackend struct{}

func (erroringBackend) Complete(context.Context, llm.Request) (*llm.Response, error) {
	return nil, fmt.Errorf("backend unavailable")
}

type countingInvoker struct {
	calls atomic.Int64
}

func (c *countingInvoker) Invoke(context.Context, map[string]any) (map[string]any, error) {
	c.calls.Add(1)
	return map[string]any{"summary": "found"}, nil
}

func testResolver(t *testing.T) (*resolver.Resolver, *countingInvoker) {
	t.Helper()
	reg := resolver.NewRegistry()
	inv := &countingInvoker{}
	for _, capability := range []string{"code_search", "file_analysis", "git_history", "test_coverage", "docs_lookup"} {
		require.NoError(t, reg.Register(resolver.Descriptor{
			ID:         "tool-" + capability,
			Capability: capability,
			Invoker:    inv,
		}))
	}
	return resolver.New(reg, nil), inv
}

const planResponse = `{"context_requests": [{"type": "code_search", "query": "auth"}], "reasoning": "need code"}`
const doneResponse = `{"findings": [], "needs_more_context": false, "reasoning": "looks fine"}`
const moreResponse = `{"findings": [], "needs_more_context": true, "context_requests": [{"type": "git_history", "query": "evolution"}], "reasoning": "need history"}`

func newSubgraph(t *testing.T, specialty string, backend llm.Completer) *Subgraph {
	t.Helper()
	res, _ := testResolver(t)
	s, err := New(specialty, backend, res)
	require.NoError(t, err)
	return s
}

func TestRunSingleIterationPass(t *testing.T) {
	backend := &scriptedBackend{responses: []string{planResponse, doneResponse}}
	s := newSubgraph(t, "security", backend)

	result, err := s.Run(context.Background(), Input{Specialty: "security", Diff: "diff"})
	require.NoError(t, err)

	v := result.Verdict
	assert.Equal(t, review.OutcomePass, v.Verdict)
	assert.Equal(t, 1, v.IterationsUsed)
	assert.Len(t, v.ContextGathered, 1)
	assert.Equal(t, "security", v.Specialty)
	assert.Greater(t, result.TokensUsed, 0)
}

func TestRunIterationBoundHolds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		specialty := rapid.SampledFrom(Specialties()).Draw(rt, "specialty")
		tmpl, err := TemplateFor(specialty)
		require.NoError(rt, err)

		// The backend always demands more context.
		backend := &scriptedBackend{responses: []string{planResponse, moreResponse}}
		s := newSubgraph(t, specialty, backend)

		result, err := s.Run(context.Background(), Input{Specialty: specialty, Diff: "diff"})
		require.NoError(rt, err)

		assert.Equal(rt, tmpl.MaxIterations, result.Verdict.IterationsUsed,
			"iterations must stop exactly at the bound when needs_more_context stays true")
	})
}

func TestRunDegradesOnMalformedBackendOutput(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"no json here at all"}}
	s := newSubgraph(t, "testing", backend)

	result, err := s.Run(context.Background(), Input{Specialty: "testing", Diff: "diff"})
	require.NoError(t, err, "malformed output must degrade, not fail the run")

	v := result.Verdict
	assert.Equal(t, review.OutcomePass, v.Verdict)
	assert.Empty(t, v.Findings)
	assert.Empty(t, v.ContextGathered)
}

func TestRunDropsInvalidFindings(t *testing.T) {
	tests := []struct {
		name     string
		analysis string
		want     review.Outcome
		findings int
	}{
		{
			"unknown severity dropped",
			`{"findings": [{"id": "f1", "severity": "critical", "description": "x"}], "needs_more_context": false}`,
			review.OutcomePass,
			0,
		},
		{
			"empty description dropped",
			`{"findings": [{"id": "f1", "severity": "high", "description": "  "}], "needs_more_context": false}`,
			review.OutcomePass,
			0,
		},
		{
			"valid finding survives alongside invalid ones",
			`{"findings": [
				{"id": "f1", "severity": "critical", "description": "x"},
				{"id": "f2", "severity": "low", "description": ""},
				{"id": "f3", "severity": "low", "description": "real issue"}
			], "needs_more_context": false}`,
			review.OutcomeNeedsWork,
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{responses: []string{planResponse, tt.analysis}}
			s := newSubgraph(t, "security", backend)

			result, err := s.Run(context.Background(), Input{Specialty: "security", Diff: "diff"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Verdict.Verdict)
			assert.Len(t, result.Verdict.Findings, tt.findings)
		})
	}
}

func TestRunDegradesOnBackendError(t *testing.T) {
	s := newSubgraph(t, "alignment", erroringBackend{})

	result, err := s.Run(context.Background(), Input{Specialty: "alignment", Diff: "diff"})
	require.NoError(t, err)
	assert.Equal(t, review.OutcomePass, result.Verdict.Verdict)
}

func TestRunVerdictFromFindings(t *testing.T) {
	tests := []struct {
		name     string
		analysis string
		want     review.Outcome
	}{
		{
			"high severity fails",
			`{"findings": [{"id": "f1", "severity": "high", "description": "x"}], "needs_more_context": false}`,
			review.OutcomeFail,
		},
		{
			"medium severity warns",
			`{"findings": [{"id": "f1", "severity": "medium", "description": "x"}], "needs_more_context": false}`,
			review.OutcomeWarn,
		},
		{
			"low severity needs work",
			`{"findings": [{"id": "f1", "severity": "low", "description": "x"}], "needs_more_context": false}`,
			review.OutcomeNeedsWork,
		},
		{
			"no findings pass",
			doneResponse,
			review.OutcomePass,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &scriptedBackend{responses: []string{planResponse, tt.analysis}}
			s := newSubgraph(t, "security", backend)

			result, err := s.Run(context.Background(), Input{Specialty: "security", Diff: "diff"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Verdict.Verdict)
		})
	}
}

func TestRunConfidenceFormula(t *testing.T) {
	analysis := `{"findings": [
		{"id": "f1", "severity": "high", "description": "a"},
		{"id": "f2", "severity": "medium", "description": "b"}
	], "needs_more_context": false}`
	backend := &scriptedBackend{responses: []string{planResponse, analysis}}
	s := newSubgraph(t, "security", backend)

	result, err := s.Run(context.Background(), Input{Specialty: "security", Diff: "diff"})
	require.NoError(t, err)

	// base 0.8 + context bonus 0.02 - high 0.2 - medium 0.1
	assert.InDelta(t, 0.52, result.Verdict.Confidence, 1e-9)
}

func TestRunConfidenceClamped(t *testing.T) {
	analysis := `{"findings": [
		{"id": "f1", "severity": "high", "description": "a"},
		{"id": "f2", "severity": "high", "description": "b"},
		{"id": "f3", "severity": "high", "description": "c"},
		{"id": "f4", "severity": "high", "description": "d"}
	], "needs_more_context": false}`
	backend := &scriptedBackend{responses: []string{planResponse, analysis}}
	s := newSubgraph(t, "security", backend)

	result, err := s.Run(context.Background(), Input{Specialty: "security", Diff: "diff"})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, result.Verdict.Confidence, 1e-9)
}

func TestGatherRespectsContextBudget(t *testing.T) {
	overBudget := `{"context_requests": [
		{"type": "code_search", "query": "a"},
		{"type": "file_analysis", "query": "b"},
		{"type": "git_history", "query": "c"},
		{"type": "docs_lookup", "query": "d"}
	], "reasoning": "everything"}`
	backend := &scriptedBackend{responses: []string{overBudget, doneResponse}}

	res, inv := testResolver(t)
	s, err := New("testing", backend, res) // budget 1
	require.NoError(t, err)

	result, err := s.Run(context.Background(), Input{Specialty: "testing", Diff: "diff"})
	require.NoError(t, err)

	assert.Len(t, result.Verdict.ContextGathered, 1)
	assert.EqualValues(t, 1, inv.calls.Load())
}

func TestRunUnknownSpecialtyIsError(t *testing.T) {
	res, _ := testResolver(t)
	_, err := New("astrology", &scriptedBackend{responses: []string{doneResponse}}, res)
	assert.Error(t, err)
}

func TestNextPhaseTransitions(t *testing.T) {
	assert.Equal(t, PhaseGather, nextPhase(PhasePlan, false, 0, 2))
	assert.Equal(t, PhaseAnalyze, nextPhase(PhaseGather, false, 1, 2))
	assert.Equal(t, PhaseGather, nextPhase(PhaseAnalyze, true, 1, 2))
	assert.Equal(t, PhaseFinalize, nextPhase(PhaseAnalyze, true, 2, 2))
	assert.Equal(t, PhaseFinalize, nextPhase(PhaseAnalyze, false, 1, 2))
	assert.Equal(t, PhaseDone, nextPhase(PhaseFinalize, false, 2, 2))
}
