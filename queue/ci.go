package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CIResult is the normalized outcome of one CI run.
type CIResult struct {
	Status             string         `json:"status"`
	TestsPassed        bool           `json:"tests_passed"`
	CoveragePercentage float64        `json:"coverage_percentage"`
	TestResults        map[string]any `json:"test_results,omitempty"`
	WorkflowURL        string         `json:"workflow_url,omitempty"`
	DurationSeconds    float64        `json:"duration_seconds,omitempty"`
}

// Map flattens the result into a request result payload.
func (r CIResult) Map() map[string]any {
	return map[string]any{
		"status":              r.Status,
		"tests_passed":        r.TestsPassed,
		"coverage_percentage": r.CoveragePercentage,
		"test_results":        r.TestResults,
		"workflow_url":        r.WorkflowURL,
		"duration_seconds":    r.DurationSeconds,
	}
}

// CIRunner triggers a CI run for a change and waits for its outcome.
type CIRunner interface {
	Run(ctx context.Context, repo string, pr int, branch string) (CIResult, error)
}

const (
	defaultWorkflowFile = "test.yml"
	ciPollInterval      = 5 * time.Second
)

// GHRunner drives GitHub Actions through the gh CLI.
type GHRunner struct {
	repoRoot     string
	workflowFile string
}

// NewGHRunner creates a runner for the repository at repoRoot. workflowFile
// defaults to test.yml.
func NewGHRunner(repoRoot, workflowFile string) *GHRunner {
	if workflowFile == "" {
		workflowFile = defaultWorkflowFile
	}
	return &GHRunner{repoRoot: repoRoot, workflowFile: workflowFile}
}

// ghRun is the JSON shape gh run list emits per run.
type ghRun struct {
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	URL        string    `json:"url"`
	StartedAt  time.Time `json:"startedAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Run dispatches the workflow on the branch and polls until it completes or
// the context ends.
func (g *GHRunner) Run(ctx context.Context, repo string, pr int, branch string) (CIResult, error) {
	if branch == "" {
		branch = "main"
	}

	if _, err := g.runGH(ctx, "workflow", "run", g.workflowFile, "--ref", branch); err != nil {
		return CIResult{}, fmt.Errorf("dispatch workflow: %w", err)
	}

	ticker := time.NewTicker(ciPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return CIResult{}, ctx.Err()
		case <-ticker.C:
		}

		run, ok, err := g.latestRun(ctx, branch)
		if err != nil {
			return CIResult{}, err
		}
		if !ok || run.Status != "completed" {
			continue
		}

		return CIResult{
			Status:             run.Status,
			TestsPassed:        run.Conclusion == "success",
			CoveragePercentage: 0,
			TestResults:        map[string]any{"conclusion": run.Conclusion, "pr_number": pr, "repo": repo},
			WorkflowURL:        run.URL,
			DurationSeconds:    run.UpdatedAt.Sub(run.StartedAt).Seconds(),
		}, nil
	}
}

// latestRun reads the newest run of the workflow on the branch.
func (g *GHRunner) latestRun(ctx context.Context, branch string) (ghRun, bool, error) {
	output, err := g.runGH(ctx, "run", "list",
		"--workflow", g.workflowFile,
		"--branch", branch,
		"--limit", "1",
		"--json", "status,conclusion,url,startedAt,updatedAt")
	if err != nil {
		return ghRun{}, false, fmt.Errorf("list workflow runs: %w", err)
	}

	var runs []ghRun
	if err := json.Unmarshal([]byte(output), &runs); err != nil {
		return ghRun{}, false, fmt.Errorf("decode run list: %w", err)
	}
	if len(runs) == 0 {
		return ghRun{}, false, nil
	}
	return runs[0], true, nil
}

// runGH executes a gh command in the repo directory.
func (g *GHRunner) runGH(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = g.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}

// IsGHAvailable checks if the gh CLI is available and authenticated.
func IsGHAvailable() bool {
	cmd := exec.Command("gh", "auth", "status")
	return cmd.Run() == nil
}

// MockRunner produces deterministic CI outcomes without touching any
// forge. Every third change number fails its run.
type MockRunner struct {
	// Delay simulates CI wall time. Zero means no wait.
	Delay time.Duration
}

// Run returns the canned outcome for the change number.
func (m *MockRunner) Run(ctx context.Context, repo string, pr int, _ string) (CIResult, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return CIResult{}, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	url := fmt.Sprintf("https://github.com/%s/actions/runs/123456789", strings.TrimSuffix(repo, "/"))

	if pr > 0 && pr%3 == 0 {
		return CIResult{
			Status:             "completed",
			TestsPassed:        false,
			CoveragePercentage: 65.0,
			TestResults: map[string]any{
				"failed_tests": []string{"test_important_feature", "test_edge_case"},
				"passed_tests": []string{"test_basic_functionality"},
				"error":        "Critical test failures detected",
			},
			WorkflowURL:     url,
			DurationSeconds: 120,
		}, nil
	}

	return CIResult{
		Status:             "completed",
		TestsPassed:        true,
		CoveragePercentage: 85.0,
		TestResults: map[string]any{
			"failed_tests": []string{},
			"passed_tests": []string{"test_all_features", "test_edge_cases", "test_integration"},
			"coverage_report": map[string]any{
				"lines":     85,
				"functions": 90,
				"branches":  80,
			},
		},
		WorkflowURL:     url,
		DurationSeconds: 90,
	}, nil
}
