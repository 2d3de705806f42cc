package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	root := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Test",
			"GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=Test",
			"GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}

	run("init")
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\n"), 0o644))
	run("add", "a.txt")
	run("commit", "-m", "add a")
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\n"), 0o644))
	run("commit", "-am", "extend a")
	return root
}

func TestHistory(t *testing.T) {
	root := initRepo(t)

	e := NewExecutor(root)
	result, err := e.History(context.Background(), map[string]any{"files": []string{"a.txt"}})
	require.NoError(t, err)

	commits := result["commits"].([]Commit)
	require.Len(t, commits, 2)
	assert.Equal(t, "extend a", commits[0].Subject)
	assert.Equal(t, "Test", commits[0].Author)
}

func TestHistoryLimit(t *testing.T) {
	root := initRepo(t)

	e := NewExecutor(root)
	result, err := e.History(context.Background(), map[string]any{"limit": 1})
	require.NoError(t, err)

	commits := result["commits"].([]Commit)
	assert.Len(t, commits, 1)
}

func TestBlame(t *testing.T) {
	root := initRepo(t)

	e := NewExecutor(root)
	result, err := e.Blame(context.Background(), map[string]any{"files": []string{"a.txt"}})
	require.NoError(t, err)

	authors := result["authors"].(map[string]int)
	assert.Equal(t, 2, authors["Test"])
}

func TestBlameRequiresFile(t *testing.T) {
	e := NewExecutor(t.TempDir())
	_, err := e.Blame(context.Background(), map[string]any{})
	assert.Error(t, err)
}
