package review

import (
	"fmt"
	"sort"
	"strings"
)

// AggregateReport is the reduced result of all specialist verdicts for a run.
type AggregateReport struct {
	TotalSpecialists int            `json:"total_specialists"`
	Specialties      []string       `json:"specialties"`
	OverallOutcome   Outcome        `json:"overall_outcome"`
	Summary          string         `json:"summary"`
	FindingsTotal    int            `json:"findings_total"`
	BySeverity       map[string]int `json:"by_severity"`
}

// Aggregate reduces a verdict set to one overall outcome. The precedence is
// fixed: no verdicts yields NO_REVIEW, any non-passing verdict yields
// NEEDS_WORK, and only an all-PASS set yields PASS.
func Aggregate(verdicts []Verdict) Outcome {
	if len(verdicts) == 0 {
		return OutcomeNoReview
	}
	for _, v := range verdicts {
		switch v.Verdict {
		case OutcomeFail, OutcomeNeedsWork, OutcomeWarn:
			return OutcomeNeedsWork
		}
	}
	return OutcomePass
}

// Summarize builds the aggregate report for a verdict set.
func Summarize(verdicts []Verdict) AggregateReport {
	specialties := make([]string, 0, len(verdicts))
	bySeverity := make(map[string]int)
	findingsTotal := 0

	for _, v := range verdicts {
		specialties = append(specialties, v.Specialty)
		findingsTotal += len(v.Findings)
		for _, f := range v.Findings {
			bySeverity[string(f.Severity)]++
		}
	}

	return AggregateReport{
		TotalSpecialists: len(verdicts),
		Specialties:      specialties,
		OverallOutcome:   Aggregate(verdicts),
		Summary:          summaryText(verdicts, findingsTotal, bySeverity),
		FindingsTotal:    findingsTotal,
		BySeverity:       bySeverity,
	}
}

func summaryText(verdicts []Verdict, findingsTotal int, bySeverity map[string]int) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Completed review with %d specialists.", len(verdicts)))

	if findingsTotal == 0 {
		parts = append(parts, "No issues found.")
		return strings.Join(parts, " ")
	}

	var severityParts []string
	for _, sev := range []Severity{SeverityHigh, SeverityMedium, SeverityLow} {
		if n := bySeverity[string(sev)]; n > 0 {
			severityParts = append(severityParts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	parts = append(parts, fmt.Sprintf("Found %d issues (%s).", findingsTotal, strings.Join(severityParts, ", ")))
	return strings.Join(parts, " ")
}

// CollectInto stores the aggregate report in a copy of the memory map under
// "aggregated_report", leaving unrelated memory keys untouched.
func CollectInto(memory map[string]any, report AggregateReport) map[string]any {
	updated := make(map[string]any, len(memory)+1)
	for k, v := range memory {
		updated[k] = v
	}
	updated["aggregated_report"] = report
	return updated
}

// SortFindings orders findings by descending severity, then file, then line.
func SortFindings(findings []Finding) {
	sort.Slice(findings, func(i, j int) bool {
		ri := SeverityRank(findings[i].Severity)
		rj := SeverityRank(findings[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if findings[i].File != findings[j].File {
			return findings[i].File < findings[j].File
		}
		return findings[i].Line < findings[j].Line
	})
}
