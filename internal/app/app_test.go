package app

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/internal/config"
	"github.com/dshills/codeindex-mcp/internal/searcher"
)

func loadConfig(t *testing.T, root, dataDir string) *config.Config {
	t.Helper()
	t.Setenv("CODEINDEX_ROOT", root)
	t.Setenv("CODEINDEX_DATA_DIR", dataDir)
	t.Setenv("CODEINDEX_VECTOR_STORE", "sqlite")
	t.Setenv("CODEINDEX_EMBEDDING_PROVIDER", "local")
	t.Setenv("CODEINDEX_WATCH", "false")
	t.Setenv("JINA_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestOpen_IndexAndSearch(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "retry.go"),
		[]byte("package retry\n\n// Do retries an operation with exponential backoff\nfunc Do() {}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"),
		[]byte("# Project\n\nA small project.\n"), 0o644))

	// The data directory lives inside the root and must not be indexed
	dataDir := filepath.Join(root, ".codeindex")
	cfg := loadConfig(t, root, dataDir)

	e, err := Open(ctx, cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	summary, err := e.Coordinator.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Indexed)
	assert.Equal(t, 2, e.Meta.Len())

	_, err = os.Stat(cfg.DatabasePath())
	require.NoError(t, err)

	resp, err := e.Searcher.Search(ctx, searcher.SearchRequest{Query: "exponential backoff", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	paths := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		paths[i] = r.Path
	}
	assert.Contains(t, paths, "retry.go")
	assert.NotContains(t, paths, ".codeindex/metadata.json")
}

func TestOpen_InvalidatesSearchCacheAfterRun(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644))
	cfg := loadConfig(t, root, t.TempDir())

	e, err := Open(ctx, cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Coordinator.Reindex(ctx, false)
	require.NoError(t, err)

	_, err = e.Searcher.Search(ctx, searcher.SearchRequest{Query: "alpha", UseCache: true})
	require.NoError(t, err)
	require.Equal(t, 1, e.Searcher.CacheLen())

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("beta"), 0o644))
	_, err = e.Coordinator.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, e.Searcher.CacheLen())
}

func TestOpen_PersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))
	cfg := loadConfig(t, root, t.TempDir())
	logger := log.New(io.Discard, "", 0)

	e, err := Open(ctx, cfg, logger)
	require.NoError(t, err)
	_, err = e.Coordinator.Reindex(ctx, false)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = Open(ctx, cfg, logger)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, 1, e.Meta.Len())
	summary, err := e.Coordinator.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)

	n, err := e.Store.CountByPath(ctx, "a.go")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestControlStart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("package a"), 0o644))
	cfg := loadConfig(t, root, t.TempDir())

	e, err := Open(ctx, cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	require.NoError(t, e.Control.Start(ctx))
	require.Eventually(t, e.Control.IsIndexingComplete, 5*time.Second, 10*time.Millisecond)

	status := e.Control.GetStatus()
	assert.Equal(t, 1, status.TrackedFiles)
	assert.False(t, status.WatcherHealthy)
}
