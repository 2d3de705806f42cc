package coverage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profile = `mode: set
example.com/mod/pkg/a.go:3.10,5.2 2 1
example.com/mod/pkg/a.go:7.10,9.2 2 0
example.com/mod/pkg/b.go:3.10,5.2 4 1
`

func TestReport(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "coverage.out"), []byte(profile), 0o644))

	e := NewExecutor(root)
	result, err := e.Report(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.InDelta(t, 75.0, result["coverage"], 0.01) // 6 of 8 statements
	assert.Len(t, result["files"], 2)
}

func TestReportFilteredByFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "coverage.out"), []byte(profile), 0o644))

	e := NewExecutor(root)
	result, err := e.Report(context.Background(), map[string]any{"files": []string{"pkg/a.go"}})
	require.NoError(t, err)

	assert.InDelta(t, 50.0, result["coverage"], 0.01)
	assert.Len(t, result["files"], 1)
}

func TestReportMissingProfile(t *testing.T) {
	e := NewExecutor(t.TempDir())
	_, err := e.Report(context.Background(), map[string]any{})
	assert.Error(t, err)
}
