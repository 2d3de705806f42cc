package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Coldaine/repo-analysis-suite/resolver"
)

func TestRegisterAllResolvesSearch(t *testing.T) {
	root := t.TempDir()
	src := "package demo\n\nfunc Entry() {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "demo.go"), []byte(src), 0o644))

	reg := resolver.NewRegistry()
	require.NoError(t, RegisterAll(reg, root))

	r := resolver.New(reg, nil)
	rec, err := r.Resolve(context.Background(), resolver.Request{
		Type:  "code_search",
		Query: "Entry",
	})
	require.NoError(t, err)

	assert.False(t, rec.Synthetic)
	assert.False(t, rec.Failed)
	assert.Contains(t, rec.Summary, "1 matches")
}

func TestRegisterAllCoverageFallsBackToSearch(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("coverage target is 80%\n"), 0o644))

	reg := resolver.NewRegistry()
	require.NoError(t, RegisterAll(reg, root))

	// No coverage.out in the repo; the coverage provider fails and the chain
	// falls through to file search.
	r := resolver.New(reg, nil, resolver.WithRetryBackoff(0))
	rec, err := r.Resolve(context.Background(), resolver.Request{
		Type:  "test_coverage",
		Query: "coverage",
	})
	require.NoError(t, err)

	assert.False(t, rec.Failed)
	assert.False(t, rec.Synthetic)
}
