// Package tools wires the context-gathering executors into a resolver
// registry.
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Coldaine/repo-analysis-suite/resolver"
	"github.com/Coldaine/repo-analysis-suite/tools/code"
	"github.com/Coldaine/repo-analysis-suite/tools/coverage"
	"github.com/Coldaine/repo-analysis-suite/tools/file"
	"github.com/Coldaine/repo-analysis-suite/tools/git"
	"github.com/Coldaine/repo-analysis-suite/tools/web"
)

// RepoRoot determines the repository root from the environment or the
// current directory.
func RepoRoot() string {
	root := os.Getenv("REVIEW_REPO_PATH")
	if root == "" {
		var err error
		root, err = os.Getwd()
		if err != nil {
			root = "."
		}
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

// RegisterAll registers every built-in context provider with the registry.
// Registration order matters: within one capability, earlier providers win
// keyword ties.
func RegisterAll(reg *resolver.Registry, repoRoot string) error {
	fileExec := file.NewExecutor(repoRoot)
	gitExec := git.NewExecutor(repoRoot)
	codeExec := code.NewExecutor(repoRoot)
	webExec := web.NewExecutor(repoRoot)
	coverageExec := coverage.NewExecutor(repoRoot)

	descriptors := []resolver.Descriptor{
		{
			ID:          "file-search",
			Capability:  "code_search",
			Description: "search source files for symbols, strings, and patterns",
			Invoker:     resolver.InvokerFunc(fileExec.Search),
		},
		{
			ID:          "file-analysis",
			Capability:  "file_analysis",
			Description: "read files and report size, line counts, and content",
			Invoker:     resolver.InvokerFunc(fileExec.Analyze),
		},
		{
			ID:          "code-structure",
			Capability:  "code_structure",
			Description: "parse Go files and list functions, methods, and types",
			Invoker:     resolver.InvokerFunc(codeExec.Structure),
		},
		{
			ID:          "git-history",
			Capability:  "git_history",
			Description: "recent commits, authors, and subjects for changed files",
			Invoker:     resolver.InvokerFunc(gitExec.History),
		},
		{
			ID:          "git-blame",
			Capability:  "git_blame",
			Description: "line authorship breakdown for a single file",
			Invoker:     resolver.InvokerFunc(gitExec.Blame),
		},
		{
			ID:          "test-coverage",
			Capability:  "test_coverage",
			Description: "statement coverage from the repository coverage profile",
			Invoker:     resolver.InvokerFunc(coverageExec.Report),
		},
		{
			ID:          "docs-lookup",
			Capability:  "docs_lookup",
			Description: "fetch external documentation pages or search local markdown docs",
			Invoker:     resolver.InvokerFunc(webExec.Lookup),
			Match: func(query string) bool {
				return strings.Contains(query, "http://") || strings.Contains(query, "https://")
			},
		},
	}

	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return fmt.Errorf("register %s: %w", d.ID, err)
		}
	}

	// Coverage questions without a profile still get something useful.
	if err := reg.SetFallback("test_coverage", "file-search"); err != nil {
		return err
	}
	return nil
}
