// Package file provides file search and analysis tools for change review.
package file

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// maxMatchesPerQuery bounds search output so one broad query cannot flood a
// specialist's context window.
const maxMatchesPerQuery = 50

// maxReadBytes bounds how much of a single file analysis returns.
const maxReadBytes = 16 * 1024

// Executor implements file search and analysis over one repository root.
type Executor struct {
	repoRoot string
}

// NewExecutor creates a new file executor with the given repository root.
func NewExecutor(repoRoot string) *Executor {
	return &Executor{repoRoot: repoRoot}
}

// Match is one search hit.
type Match struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// Search greps the repository for the query terms. Files, when given, are
// doublestar glob patterns restricting the search; otherwise all tracked
// source-like files are scanned.
func (e *Executor) Search(ctx context.Context, args map[string]any) (map[string]any, error) {
	query, _ := args["query"].(string)
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, fmt.Errorf("query is required")
	}

	paths, err := e.candidatePaths(argFiles(args))
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, rel := range paths {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fileMatches, err := searchFile(filepath.Join(e.repoRoot, rel), rel, terms)
		if err != nil {
			continue // unreadable files are skipped, not fatal
		}
		matches = append(matches, fileMatches...)
		if len(matches) >= maxMatchesPerQuery {
			matches = matches[:maxMatchesPerQuery]
			break
		}
	}

	return map[string]any{
		"matches": matches,
		"summary": fmt.Sprintf("%d matches for %q across %d files", len(matches), query, len(paths)),
	}, nil
}

// Analyze reads the requested files and reports size, line count, and a
// bounded head of the content.
func (e *Executor) Analyze(_ context.Context, args map[string]any) (map[string]any, error) {
	files := argFiles(args)
	if len(files) == 0 {
		return nil, fmt.Errorf("files are required")
	}

	analyses := make([]map[string]any, 0, len(files))
	for _, rel := range files {
		full, err := e.validatePath(rel)
		if err != nil {
			analyses = append(analyses, map[string]any{"file": rel, "error": err.Error()})
			continue
		}

		info, err := os.Stat(full)
		if err != nil {
			analyses = append(analyses, map[string]any{"file": rel, "error": err.Error()})
			continue
		}

		content, err := os.ReadFile(full)
		if err != nil {
			analyses = append(analyses, map[string]any{"file": rel, "error": err.Error()})
			continue
		}

		head := content
		truncated := false
		if len(head) > maxReadBytes {
			head = head[:maxReadBytes]
			truncated = true
		}

		analyses = append(analyses, map[string]any{
			"file":      rel,
			"size":      info.Size(),
			"lines":     strings.Count(string(content), "\n") + 1,
			"content":   string(head),
			"truncated": truncated,
		})
	}

	return map[string]any{
		"files":   analyses,
		"summary": fmt.Sprintf("analyzed %d files", len(analyses)),
	}, nil
}

// candidatePaths expands glob patterns (or walks the whole tree) into
// relative paths, skipping hidden and vendored directories.
func (e *Executor) candidatePaths(patterns []string) ([]string, error) {
	if len(patterns) > 0 {
		seen := make(map[string]bool)
		var out []string
		for _, pattern := range patterns {
			matched, err := doublestar.Glob(os.DirFS(e.repoRoot), pattern)
			if err != nil {
				// A non-glob literal path is still a valid restriction.
				if _, statErr := os.Stat(filepath.Join(e.repoRoot, pattern)); statErr == nil {
					matched = []string{pattern}
				} else {
					return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
				}
			}
			for _, m := range matched {
				if !seen[m] {
					seen[m] = true
					out = append(out, m)
				}
			}
		}
		sort.Strings(out)
		return out, nil
	}

	var out []string
	err := filepath.WalkDir(e.repoRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || name == "vendor" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if isBinaryName(name) {
			return nil
		}
		rel, err := filepath.Rel(e.repoRoot, path)
		if err != nil {
			return nil
		}
		out = append(out, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// validatePath ensures a path stays inside the repository root.
func (e *Executor) validatePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(rel, "..") {
		return "", fmt.Errorf("path traversal not allowed")
	}
	return filepath.Join(e.repoRoot, filepath.Clean(rel)), nil
}

func searchFile(full, rel string, terms []string) ([]Match, error) {
	f, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var matches []Match
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 256*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		lower := strings.ToLower(line)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				matches = append(matches, Match{File: rel, Line: lineNo, Text: strings.TrimSpace(line)})
				break
			}
		}
	}
	return matches, scanner.Err()
}

func isBinaryName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".zip", ".tar", ".gz", ".exe", ".so", ".a", ".wasm":
		return true
	}
	return false
}

// argFiles extracts the files argument, tolerating both []string and []any
// (the latter is what JSON decoding produces).
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
