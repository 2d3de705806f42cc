// Package git provides git history tools for change review.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// defaultLogLimit bounds how many commits a history query returns.
const defaultLogLimit = 20

// Executor implements git history operations over one repository root.
type Executor struct {
	repoRoot string
}

// NewExecutor creates a new git executor with the given repository root.
func NewExecutor(repoRoot string) *Executor {
	return &Executor{repoRoot: repoRoot}
}

// Commit is one entry of a history query.
type Commit struct {
	Hash    string `json:"hash"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Subject string `json:"subject"`
}

// History returns recent commits touching the requested files (or the whole
// repository when no files are given).
func (e *Executor) History(ctx context.Context, args map[string]any) (map[string]any, error) {
	limit := defaultLogLimit
	if n, ok := argInt(args, "limit"); ok && n > 0 {
		limit = n
	}

	gitArgs := []string{"log", "--format=%H%x1f%an%x1f%aI%x1f%s", "-n", strconv.Itoa(limit)}
	files := argFiles(args)
	if len(files) > 0 {
		gitArgs = append(gitArgs, "--")
		gitArgs = append(gitArgs, files...)
	}

	output, err := e.runGit(ctx, gitArgs...)
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}

	var commits []Commit
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x1f", 4)
		if len(parts) != 4 {
			continue
		}
		commits = append(commits, Commit{
			Hash:    parts[0],
			Author:  parts[1],
			Date:    parts[2],
			Subject: parts[3],
		})
	}

	return map[string]any{
		"commits": commits,
		"summary": fmt.Sprintf("%d commits in history for %d files", len(commits), len(files)),
	}, nil
}

// Blame summarizes line authorship for one file.
func (e *Executor) Blame(ctx context.Context, args map[string]any) (map[string]any, error) {
	files := argFiles(args)
	if len(files) == 0 {
		return nil, fmt.Errorf("files are required")
	}
	file := files[0]

	output, err := e.runGit(ctx, "blame", "--line-porcelain", "--", file)
	if err != nil {
		return nil, fmt.Errorf("git blame %s: %w", file, err)
	}

	authors := make(map[string]int)
	for _, line := range strings.Split(output, "\n") {
		if name, ok := strings.CutPrefix(line, "author "); ok {
			authors[name]++
		}
	}

	return map[string]any{
		"file":    file,
		"authors": authors,
		"summary": fmt.Sprintf("%s has %d distinct authors", file, len(authors)),
	}, nil
}

// runGit executes a git command in the repo directory.
func (e *Executor) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}

func argFiles(args map[string]any) []string {
	switch v := args["files"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func argInt(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
