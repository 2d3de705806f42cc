package specialist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Coldaine/repo-analysis-suite/review"
)

// contextTypes lists the context operations a specialist may request.
var contextTypes = []string{
	"code_search: search the codebase for patterns and examples",
	"file_analysis: read files and inspect their content",
	"code_structure: list functions, methods, and types in files",
	"git_history: see how the changed files evolved",
	"test_coverage: statement coverage for the changed files",
	"docs_lookup: project or external documentation",
}

// systemPrompt builds the reviewer's standing instructions.
func systemPrompt(t Template, marchingOrders string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s. Your specialty: %s.\n", t.Name, t.Specialty)
	if marchingOrders != "" {
		fmt.Fprintf(&b, "Your orders: %s\n", marchingOrders)
	}
	b.WriteString("\nLook at the change diff and analyze:\n")
	for _, focus := range t.Focus {
		fmt.Fprintf(&b, "- %s\n", focus)
	}
	fmt.Fprintf(&b, "\nYou can request up to %d context gathering operations per iteration.\n", t.ContextBudget)
	b.WriteString("Available context types:\n")
	for _, ct := range contextTypes {
		fmt.Fprintf(&b, "- %s\n", ct)
	}
	b.WriteString(`
Return JSON with the following structure:
{
  "context_requests": [{"type": "code_search", "query": "...", "files": ["path"]}],
  "findings": [
    {
      "id": "unique_id_string",
      "severity": "high|medium|low",
      "type": "architecture|style|bug|security|dependency|test",
      "file": "path/to/file.go",
      "line": 10,
      "description": "Clear description of the issue",
      "suggestion": "How to fix it",
      "snippet": "optional snippet"
    }
  ],
  "needs_more_context": false,
  "reasoning": "Brief explanation of your analysis"
}`)
	return b.String()
}

// planUserPrompt is the first-iteration request: diff plus repo memory.
func planUserPrompt(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change diff:\n%s\n", st.Diff)
	if conventions, ok := st.Memory["conventions"].(string); ok && conventions != "" {
		fmt.Fprintf(&b, "\nRepo conventions:\n%s\n", conventions)
	}
	b.WriteString("\nWhat context do you need before analyzing? Return JSON.\n")
	return b.String()
}

// analyzeSystemPrompt extends the standing instructions with loop position.
func analyzeSystemPrompt(t Template, st *State, marchingOrders string) string {
	var b strings.Builder
	b.WriteString(systemPrompt(t, marchingOrders))
	fmt.Fprintf(&b, "\n\nYou are in iteration %d of %d.\n", st.Iteration, t.MaxIterations)
	fmt.Fprintf(&b, "Context gathered so far: %d items. Findings so far: %d issues.\n",
		len(st.Context), len(st.Findings))
	b.WriteString("Review your previous work. If you need MORE context, request it.\nIf you have enough, provide your findings.\n")
	return b.String()
}

// analyzeUserPrompt carries the full accumulated state into the analysis.
func analyzeUserPrompt(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Change diff:\n%s\n", st.Diff)

	fmt.Fprintf(&b, "\n=== ALL CONTEXT GATHERED (iterations 1-%d) ===\n", st.Iteration)
	b.WriteString(marshalIndent(st.Context))

	b.WriteString("\n=== YOUR FINDINGS SO FAR ===\n")
	b.WriteString(marshalIndent(st.Findings))

	b.WriteString("\n=== YOUR REASONING HISTORY ===\n")
	b.WriteString(strings.Join(st.Reasoning, "\n"))

	ci := st.CIStatus
	if ci == "" {
		ci = "pending"
	}
	fmt.Fprintf(&b, "\n=== CI STATUS ===\n%s\n\nWhat do you need next?\n", ci)
	return b.String()
}

func marshalIndent(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(data)
}

// modelTurn is the JSON shape both plan and analyze responses share.
type modelTurn struct {
	ContextRequests []contextRequest `json:"context_requests"`
	Findings        []modelFinding   `json:"findings"`
	NeedsMore       bool             `json:"needs_more_context"`
	Reasoning       string           `json:"reasoning"`
}

type contextRequest struct {
	Type  string   `json:"type"`
	Query string   `json:"query"`
	Files []string `json:"files"`
}

type modelFinding struct {
	ID          string `json:"id"`
	Severity    string `json:"severity"`
	Type        string `json:"type"`
	File        string `json:"file"`
	Line        int    `json:"line"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
	Snippet     string `json:"snippet"`
}

// valid reports whether the model produced a usable finding. A finding needs
// a non-empty description and a recognized severity; anything else is noise
// and must not count toward the verdict.
func (f modelFinding) valid() bool {
	if strings.TrimSpace(f.Description) == "" {
		return false
	}
	switch review.Severity(strings.ToLower(f.Severity)) {
	case review.SeverityLow, review.SeverityMedium, review.SeverityHigh:
		return true
	}
	return false
}

func (f modelFinding) toFinding(iteration int) review.Finding {
	return review.Finding{
		ID:          f.ID,
		Iteration:   iteration,
		Severity:    review.Severity(strings.ToLower(f.Severity)),
		Type:        f.Type,
		File:        f.File,
		Line:        f.Line,
		Description: strings.TrimSpace(f.Description),
		Suggestion:  f.Suggestion,
		Snippet:     f.Snippet,
	}
}
