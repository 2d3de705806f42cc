package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestSearch(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "auth/handler.go", "package auth\n\nfunc LoginHandler() {}\n")
	writeFile(t, root, "auth/token.go", "package auth\n\nfunc IssueToken() {}\n")
	writeFile(t, root, "README.md", "Authentication service\n")

	e := NewExecutor(root)
	result, err := e.Search(context.Background(), map[string]any{"query": "LoginHandler"})
	require.NoError(t, err)

	matches := result["matches"].([]Match)
	require.Len(t, matches, 1)
	assert.Equal(t, filepath.Join("auth", "handler.go"), matches[0].File)
	assert.Equal(t, 3, matches[0].Line)
}

func TestSearchScopedByGlob(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a/x.go", "match here\n")
	writeFile(t, root, "b/y.go", "match here\n")

	e := NewExecutor(root)
	result, err := e.Search(context.Background(), map[string]any{
		"query": "match",
		"files": []any{"a/**/*.go"},
	})
	require.NoError(t, err)

	matches := result["matches"].([]Match)
	require.Len(t, matches, 1)
	assert.Equal(t, "a/x.go", matches[0].File)
}

func TestSearchRequiresQuery(t *testing.T) {
	e := NewExecutor(t.TempDir())
	_, err := e.Search(context.Background(), map[string]any{})
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n\nfunc main() {}\n")

	e := NewExecutor(root)
	result, err := e.Analyze(context.Background(), map[string]any{"files": []string{"main.go"}})
	require.NoError(t, err)

	files := result["files"].([]map[string]any)
	require.Len(t, files, 1)
	assert.Equal(t, "main.go", files[0]["file"])
	assert.Equal(t, 4, files[0]["lines"])
	assert.Contains(t, files[0]["content"], "func main")
}

func TestAnalyzeMissingFileIsPerFileError(t *testing.T) {
	e := NewExecutor(t.TempDir())
	result, err := e.Analyze(context.Background(), map[string]any{"files": []string{"gone.go"}})
	require.NoError(t, err)

	files := result["files"].([]map[string]any)
	require.Len(t, files, 1)
	assert.NotEmpty(t, files[0]["error"])
}

func TestAnalyzeRejectsTraversal(t *testing.T) {
	e := NewExecutor(t.TempDir())
	result, err := e.Analyze(context.Background(), map[string]any{"files": []string{"../etc/passwd"}})
	require.NoError(t, err)

	files := result["files"].([]map[string]any)
	require.Len(t, files, 1)
	assert.Contains(t, files[0]["error"], "traversal")
}
