// Package coverage reports test coverage for change review by reading a
// previously generated Go coverage profile.
package coverage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// defaultProfile is the conventional coverage profile location.
const defaultProfile = "coverage.out"

// Executor summarizes coverage profiles.
type Executor struct {
	repoRoot string
}

// NewExecutor creates a coverage executor rooted at the given repository.
func NewExecutor(repoRoot string) *Executor {
	return &Executor{repoRoot: repoRoot}
}

type fileCoverage struct {
	total   int
	covered int
}

// Report reads the coverage profile and reports statement coverage,
// restricted to the requested files when given.
func (e *Executor) Report(_ context.Context, args map[string]any) (map[string]any, error) {
	profile, _ := args["profile"].(string)
	if profile == "" {
		profile = defaultProfile
	}
	if strings.Contains(profile, "..") {
		return nil, fmt.Errorf("path traversal not allowed")
	}

	f, err := os.Open(filepath.Join(e.repoRoot, profile))
	if err != nil {
		return nil, fmt.Errorf("open coverage profile: %w", err)
	}
	defer f.Close()

	wanted := make(map[string]bool)
	for _, rel := range argFiles(args) {
		wanted[rel] = true
	}

	perFile := make(map[string]*fileCoverage)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "mode:") || line == "" {
			continue
		}

		// file.go:12.2,14.3 numStmts hitCount
		colon := strings.LastIndex(line, ":")
		if colon < 0 {
			continue
		}
		file := line[:colon]
		fields := strings.Fields(line[colon+1:])
		if len(fields) != 3 {
			continue
		}
		stmts, err1 := strconv.Atoi(fields[1])
		count, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil {
			continue
		}

		// Profile paths are module-qualified; match on suffix.
		if len(wanted) > 0 && !matchesAny(file, wanted) {
			continue
		}

		fc, ok := perFile[file]
		if !ok {
			fc = &fileCoverage{}
			perFile[file] = fc
		}
		fc.total += stmts
		if count > 0 {
			fc.covered += stmts
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read coverage profile: %w", err)
	}

	files := make([]map[string]any, 0, len(perFile))
	totalStmts, coveredStmts := 0, 0
	for file, fc := range perFile {
		totalStmts += fc.total
		coveredStmts += fc.covered
		files = append(files, map[string]any{
			"file":     file,
			"coverage": percent(fc.covered, fc.total),
		})
	}

	overall := percent(coveredStmts, totalStmts)
	return map[string]any{
		"files":    files,
		"coverage": overall,
		"summary":  fmt.Sprintf("%.1f%% statement coverage across %d files", overall, len(files)),
	}, nil
}

func matchesAny(profilePath string, wanted map[string]bool) bool {
	for rel := range wanted {
		if strings.HasSuffix(profilePath, rel) {
			return true
		}
	}
	return false
}

func percent(covered, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(covered) / float64(total)
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
