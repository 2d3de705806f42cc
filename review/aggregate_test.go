package review

import (
	"testing"

	"pgregory.net/rapid"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		verdicts []Verdict
		want     Outcome
	}{
		{"no verdicts", nil, OutcomeNoReview},
		{"empty slice", []Verdict{}, OutcomeNoReview},
		{
			"all pass",
			[]Verdict{{Verdict: OutcomePass}, {Verdict: OutcomePass}},
			OutcomePass,
		},
		{
			"one warn",
			[]Verdict{{Verdict: OutcomePass}, {Verdict: OutcomeWarn}},
			OutcomeNeedsWork,
		},
		{
			"one fail",
			[]Verdict{{Verdict: OutcomeFail}},
			OutcomeNeedsWork,
		},
		{
			"one needs work among passes",
			[]Verdict{{Verdict: OutcomePass}, {Verdict: OutcomeNeedsWork}, {Verdict: OutcomePass}},
			OutcomeNeedsWork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(tt.verdicts); got != tt.want {
				t.Errorf("Aggregate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// The aggregation precedence law: NO_REVIEW iff empty, PASS iff every verdict
// is PASS, NEEDS_WORK otherwise.
func TestAggregatePrecedenceLaw(t *testing.T) {
	outcomes := []Outcome{OutcomePass, OutcomeWarn, OutcomeFail, OutcomeNeedsWork}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 8).Draw(t, "n")
		verdicts := make([]Verdict, n)
		allPass := true
		for i := range verdicts {
			v := rapid.SampledFrom(outcomes).Draw(t, "outcome")
			verdicts[i] = Verdict{Verdict: v}
			if v != OutcomePass {
				allPass = false
			}
		}

		got := Aggregate(verdicts)
		switch {
		case n == 0:
			if got != OutcomeNoReview {
				t.Fatalf("empty set: got %v, want NO_REVIEW", got)
			}
		case allPass:
			if got != OutcomePass {
				t.Fatalf("all-pass set: got %v, want PASS", got)
			}
		default:
			if got != OutcomeNeedsWork {
				t.Fatalf("mixed set: got %v, want NEEDS_WORK", got)
			}
		}
	})
}

func TestDeriveOutcome(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     Outcome
	}{
		{"no findings", nil, OutcomePass},
		{"high present", []Finding{{Severity: SeverityHigh}, {Severity: SeverityLow}}, OutcomeFail},
		{"medium without high", []Finding{{Severity: SeverityMedium}}, OutcomeWarn},
		{"only low", []Finding{{Severity: SeverityLow}}, OutcomeNeedsWork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveOutcome(tt.findings); got != tt.want {
				t.Errorf("DeriveOutcome() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCollectIntoPreservesMemory(t *testing.T) {
	memory := map[string]any{
		"conventions":   []string{"use table tests"},
		"common_issues": []string{},
	}

	report := Summarize([]Verdict{{Verdict: OutcomePass, Specialty: "testing"}})
	updated := CollectInto(memory, report)

	if _, ok := updated["aggregated_report"]; !ok {
		t.Fatal("aggregated_report not stored")
	}
	if _, ok := updated["conventions"]; !ok {
		t.Error("unrelated memory key was dropped")
	}
	if _, ok := memory["aggregated_report"]; ok {
		t.Error("original memory map was mutated")
	}
}

func TestSummarize(t *testing.T) {
	verdicts := []Verdict{
		{
			Verdict:   OutcomeFail,
			Specialty: "security",
			Findings: []Finding{
				{Severity: SeverityHigh},
				{Severity: SeverityLow},
			},
		},
		{Verdict: OutcomePass, Specialty: "alignment"},
	}

	report := Summarize(verdicts)
	if report.TotalSpecialists != 2 {
		t.Errorf("TotalSpecialists = %d, want 2", report.TotalSpecialists)
	}
	if report.OverallOutcome != OutcomeNeedsWork {
		t.Errorf("OverallOutcome = %v, want NEEDS_WORK", report.OverallOutcome)
	}
	if report.FindingsTotal != 2 {
		t.Errorf("FindingsTotal = %d, want 2", report.FindingsTotal)
	}
	if report.BySeverity["high"] != 1 {
		t.Errorf("BySeverity[high] = %d, want 1", report.BySeverity["high"])
	}
}
