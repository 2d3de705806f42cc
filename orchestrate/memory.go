package orchestrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Coldaine/repo-analysis-suite/review"
)

// conventionFiles are checked in order for repository conventions.
var conventionFiles = []string{".github/CONTRIBUTING.md", "AGENTS.md", "CONTRIBUTING.md"}

// maxConventionBytes bounds how much of each convention file is loaded.
const maxConventionBytes = 1024

// baseConventions apply to every repository.
var baseConventions = []string{
	"Follow existing code style patterns",
	"Keep public APIs documented",
	"Match the error handling conventions of surrounding code",
}

// loadConventions reads repository convention files. Unreadable files are
// skipped; the base conventions always apply.
func loadConventions(repoRoot string, logger *slog.Logger) []string {
	conventions := append([]string(nil), baseConventions...)

	for _, rel := range conventionFiles {
		f, err := os.Open(filepath.Join(repoRoot, rel))
		if err != nil {
			continue
		}

		content, err := io.ReadAll(io.LimitReader(f, maxConventionBytes))
		f.Close()
		if err != nil {
			logger.Warn("Failed to read convention file", "file", rel, "error", err)
			continue
		}

		conventions = append(conventions, fmt.Sprintf("Derived from %s: %s", rel, string(content)))
		logger.Debug("Loaded conventions", "file", rel, "bytes", len(content))
	}

	return conventions
}

// conventionsText flattens conventions for prompt injection.
func conventionsText(conventions []string) string {
	text := ""
	for _, c := range conventions {
		text += "- " + c + "\n"
	}
	return text
}

// loadSimilarChanges asks the history store for overlapping past reviews,
// degrading to none on any failure.
func (o *Orchestrator) loadSimilarChanges(ctx context.Context, changedFiles []string) []review.SimilarChange {
	if o.history == nil {
		return nil
	}
	hints, err := o.history.FindSimilar(ctx, changedFiles)
	if err != nil {
		o.logger.Warn("Failed to find similar changes", "error", err)
		return nil
	}
	return hints
}
