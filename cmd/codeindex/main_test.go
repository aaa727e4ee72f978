package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/internal/config"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

func setupEnv(t *testing.T) (root, dataDir string) {
	t.Helper()
	root = t.TempDir()
	dataDir = t.TempDir()
	t.Setenv("CODEINDEX_ROOT", root)
	t.Setenv("CODEINDEX_DATA_DIR", dataDir)
	t.Setenv("CODEINDEX_VECTOR_STORE", "sqlite")
	t.Setenv("CODEINDEX_EMBEDDING_PROVIDER", "local")
	t.Setenv("JINA_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return root, dataDir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: dev")
	assert.Contains(t, out, "Build Mode: "+storage.BuildMode)
	assert.Contains(t, out, "SQLite Driver: "+storage.DriverName)
}

func TestIndexDiffStatusSearch(t *testing.T) {
	root, _ := setupEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "backoff.go"),
		[]byte("package backoff\n\n// Next returns the next exponential backoff delay\nfunc Next() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("# Notes\n"), 0o644))

	out, err := run(t, "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "added    backoff.go")
	assert.Contains(t, out, "2 changes")

	out, err = run(t, "index")
	require.NoError(t, err)
	assert.Contains(t, out, "2 indexed")

	out, err = run(t, "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "0 changes")

	out, err = run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Files:        2")
	assert.Contains(t, out, "Vector store: sqlite")

	out, err = run(t, "search", "--type", "go", "exponential", "backoff")
	require.NoError(t, err)
	assert.Contains(t, out, "backoff.go")
	assert.NotContains(t, out, "notes.md")

	require.NoError(t, os.Remove(filepath.Join(root, "notes.md")))
	out, err = run(t, "diff")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted  notes.md")

	require.NoError(t, os.WriteFile(filepath.Join(root, "extra.go"), []byte("package backoff\n"), 0o644))
	out, err = run(t, "diff", "--kind", "deleted")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted  notes.md")
	assert.NotContains(t, out, "extra.go")
	assert.Contains(t, out, "1 changes")

	out, err = run(t, "diff", "--kind", "Added,deleted")
	require.NoError(t, err)
	assert.Contains(t, out, "added    extra.go")
	assert.Contains(t, out, "2 changes")

	_, err = run(t, "diff", "--kind", "renamed")
	assert.ErrorIs(t, err, types.ErrInvalidChangeKind)

	out, err = run(t, "index", "--full")
	require.NoError(t, err)
	assert.Contains(t, out, "1 deleted")
}

func TestSearchCommand_RequiresQuery(t *testing.T) {
	setupEnv(t)
	_, err := run(t, "search")
	assert.Error(t, err)
}

func TestLoadConfig_RootFlag(t *testing.T) {
	_, dataDir := setupEnv(t)
	other := t.TempDir()

	t.Run("explicit data dir kept", func(t *testing.T) {
		flags := &rootFlags{root: other}
		cfg, err := flags.loadConfig()
		require.NoError(t, err)
		assert.Equal(t, other, cfg.Root)
		assert.Equal(t, dataDir, cfg.DataDir)
	})

	t.Run("default data dir follows root", func(t *testing.T) {
		t.Setenv("CODEINDEX_DATA_DIR", "")
		flags := &rootFlags{root: other}
		cfg, err := flags.loadConfig()
		require.NoError(t, err)
		assert.Contains(t, cfg.DataDir, config.ProjectKey(other))
	})

	t.Run("data dir flag wins", func(t *testing.T) {
		custom := t.TempDir()
		flags := &rootFlags{root: other, dataDir: custom}
		cfg, err := flags.loadConfig()
		require.NoError(t, err)
		assert.Equal(t, custom, cfg.DataDir)
	})
}
