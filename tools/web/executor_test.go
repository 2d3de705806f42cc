package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const page = `<!DOCTYPE html>
<html>
<head><title>Error Handling Guide</title></head>
<body>
<article>
<h1>Error Handling Guide</h1>
<p>Always wrap errors with context before returning them to callers. This
keeps failure messages traceable across package boundaries and makes log
output far more useful during incident response.</p>
<p>Sentinel errors should be compared with errors.Is, never with string
matching against the rendered error text.</p>
</article>
</body>
</html>`

func TestLookupFetchesURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	e := NewExecutor(t.TempDir())
	result, err := e.Lookup(context.Background(), map[string]any{"url": srv.URL})
	require.NoError(t, err)

	assert.Equal(t, "Error Handling Guide", result["title"])
	assert.Contains(t, result["markdown"], "wrap errors")
}

func TestLookupExtractsURLFromQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer srv.Close()

	e := NewExecutor(t.TempDir())
	result, err := e.Lookup(context.Background(), map[string]any{
		"query": "see " + srv.URL + " for conventions",
	})
	require.NoError(t, err)
	assert.Contains(t, result["markdown"], "errors.Is")
}

func TestLookupLocalDocs(t *testing.T) {
	root := t.TempDir()
	readme := "# Service\n\nDeploys run through the release pipeline every Tuesday.\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte(readme), 0o644))

	e := NewExecutor(root)
	result, err := e.Lookup(context.Background(), map[string]any{"query": "release pipeline"})
	require.NoError(t, err)

	docs := result["docs"].([]map[string]any)
	require.Len(t, docs, 1)
	assert.Equal(t, "README.md", docs[0]["file"])
	assert.Contains(t, docs[0]["excerpt"], "release pipeline")
}

func TestLookupRejectsBadURL(t *testing.T) {
	e := NewExecutor(t.TempDir())
	_, err := e.Lookup(context.Background(), map[string]any{"url": "ftp://example.com/doc"})
	assert.Error(t, err)
}

func TestLookupRequiresInput(t *testing.T) {
	e := NewExecutor(t.TempDir())
	_, err := e.Lookup(context.Background(), map[string]any{})
	assert.Error(t, err)
}
