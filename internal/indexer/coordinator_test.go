package indexer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/internal/chunker"
	"github.com/dshills/codeindex-mcp/internal/detector"
	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/ignore"
	"github.com/dshills/codeindex-mcp/internal/metastore"
	"github.com/dshills/codeindex-mcp/internal/retry"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// mockEmbedder implements embedder.Embedder with deterministic vectors
type mockEmbedder struct {
	dimension int
	model     string

	mu        sync.Mutex
	err       error
	texts     []string
	callCount int

	// When gate is set, each GenerateBatch signals entered and waits for gate
	gate    chan struct{}
	entered chan struct{}
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: 4, model: "mock-v1"}
}

func (m *mockEmbedder) vector(text string) []float32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	sum := h.Sum32()
	v := make([]float32, m.dimension)
	for i := range v {
		v[i] = float32((sum>>(i*8))&0xff) + 1
	}
	return v
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	gate, entered := m.gate, m.entered
	m.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	if m.err != nil {
		return nil, m.err
	}

	resp := &embedder.BatchEmbeddingResponse{Provider: "mock", Model: m.model}
	for _, text := range req.Texts {
		m.texts = append(m.texts, text)
		resp.Embeddings = append(resp.Embeddings, &embedder.Embedding{
			Vector:    m.vector(text),
			Dimension: m.dimension,
			Provider:  "mock",
			Model:     m.model,
		})
	}
	return resp, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return m.model }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockEmbedder) block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.entered = make(chan struct{}, 1)
}

func (m *mockEmbedder) unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.gate)
	m.gate = nil
}

// embedCount returns how many chunk texts of path were embedded
func (m *mockEmbedder) embedCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.texts {
		if strings.HasPrefix(t, path+"\n\n") {
			n++
		}
	}
	return n
}

// failingStore hides MemoryStore's ReplacePath and can fail writes
type failingStore struct {
	storage.VectorStore

	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *failingStore) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *failingStore) DeleteByPath(ctx context.Context, path string) (int, error) {
	f.mu.Lock()
	f.calls++
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return 0, errors.New("store unavailable")
	}
	return f.VectorStore.DeleteByPath(ctx, path)
}

type testEnv struct {
	root  string
	emb   *mockEmbedder
	store storage.VectorStore
	meta  *metastore.Store
	coord *Coordinator
}

func newTestEnv(t *testing.T, store storage.VectorStore, opts Options) *testEnv {
	t.Helper()
	root := t.TempDir()
	if store == nil {
		store = storage.NewMemoryStore()
	}

	meta, err := metastore.Open(filepath.Join(t.TempDir(), "metadata.json"), metastore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	env := &testEnv{root: root, emb: newMockEmbedder(), store: store, meta: meta}
	env.coord = env.newCoordinator(t, opts)
	return env
}

func (e *testEnv) newCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Config{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	}
	matcher := ignore.FromPatterns(e.root, []string{".git/", "*.log"})
	det := detector.New(matcher, detector.Options{Logger: opts.Logger})
	chk := chunker.New(e.root, chunker.Options{MaxChunkBytes: 256})

	coord, err := New(det, chk, e.emb, e.store, e.meta, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })
	return coord
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	abs := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func (e *testEnv) remove(t *testing.T, rel string) {
	t.Helper()
	require.NoError(t, os.RemoveAll(filepath.Join(e.root, filepath.FromSlash(rel))))
}

// assertConsistent checks that every record's chunk count matches the store
func (e *testEnv) assertConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	total := 0
	for p, rec := range e.meta.Snapshot() {
		n, err := e.store.CountByPath(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, rec.ChunkCount, n, "chunk count of %s", p)
		total += n
	}
	n, err := e.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, total, n, "store holds vectors without records")
}

func paragraphs(n int, word string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = strings.Repeat(word+" ", 30)
	}
	return strings.Join(parts, "\n\n")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, Options{})
	assert.Error(t, err)
}

func TestReindex_EmptyTree(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	summary, err := env.coord.Reindex(context.Background(), false)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, summary.RunID)

	status := env.coord.Status()
	assert.False(t, status.IsRunning)
	assert.Zero(t, status.TrackedFiles)
	assert.Equal(t, 100.0, status.Progress())
}

func TestReindex_IndexesTree(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{Workers: 2})
	env.write(t, "main.go", "package main\n\nfunc main() {}\n")
	env.write(t, "docs/guide.md", paragraphs(4, "guide"))
	env.write(t, "pkg/util.py", "def util():\n    return 1\n")
	env.write(t, "build.log", "ignored")

	summary, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.False(t, summary.Joined)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 3, summary.Enqueued)
	assert.Equal(t, 3, summary.Indexed)
	assert.Zero(t, summary.Failed)
	assert.Greater(t, summary.Chunks, 3)

	assert.Equal(t, 3, env.meta.Len())
	_, tracked := env.meta.Get("build.log")
	assert.False(t, tracked)

	rec, ok := env.meta.Get("docs/guide.md")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(rec.Fingerprint, "sha256:"))
	assert.Greater(t, rec.ChunkCount, 1)
	assert.False(t, rec.LastIndexedAt.IsZero())
	env.assertConsistent(t)

	results, err := env.store.Query(ctx, []float32{1, 1, 1, 1}, 10, &storage.Filter{FileTypes: []string{"go"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "main.go", results[0].Metadata.Path)
	assert.Equal(t, "go", results[0].Metadata.FileType)

	status := env.coord.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, 3, status.FilesTotal)
	assert.Equal(t, 3, status.FilesProcessed)
	assert.Equal(t, 3, status.TrackedFiles)
	assert.Empty(t, status.LastError)

	t.Run("second reindex is a no-op", func(t *testing.T) {
		summary, err := env.coord.Reindex(ctx, false)
		require.NoError(t, err)
		assert.Zero(t, summary.Processed)
	})
}

func TestReindex_ModifiedReplacesChunks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{})
	env.write(t, "notes.txt", paragraphs(6, "before"))

	_, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	before, _ := env.meta.Get("notes.txt")
	require.Greater(t, before.ChunkCount, 2)

	env.write(t, "notes.txt", "after")
	summary, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)

	after, _ := env.meta.Get("notes.txt")
	assert.Equal(t, 1, after.ChunkCount)
	assert.NotEqual(t, before.Fingerprint, after.Fingerprint)
	env.assertConsistent(t)

	results, err := env.store.Query(ctx, []float32{1, 1, 1, 1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "after", results[0].Metadata.Content)
}

func TestReindex_Deletion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{})
	env.write(t, "a.go", "package a")
	env.write(t, "b.go", "package b")

	_, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)

	env.remove(t, "a.go")
	summary, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)

	_, ok := env.meta.Get("a.go")
	assert.False(t, ok)
	n, err := env.store.CountByPath(ctx, "a.go")
	require.NoError(t, err)
	assert.Zero(t, n)
	env.assertConsistent(t)
}

func TestRun_DeletedDirectoryExpands(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{})
	env.write(t, "sub/a.go", "package sub")
	env.write(t, "sub/deep/b.go", "package deep")
	env.write(t, "subway.go", "package main")

	_, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 3, env.meta.Len())

	env.remove(t, "sub")
	summary, err := env.coord.Run(ctx, []types.WorkItem{{Path: "sub", Kind: types.Deleted}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)

	assert.Equal(t, []string{"subway.go"}, env.meta.PathsUnder(""))
	env.assertConsistent(t)
}

func TestRun_BinaryFileHasNoChunks(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	env.write(t, "image.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	summary, err := env.coord.Reindex(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Zero(t, summary.Chunks)

	rec, ok := env.meta.Get("image.png")
	require.True(t, ok)
	assert.Zero(t, rec.ChunkCount)
	env.emb.mu.Lock()
	assert.Zero(t, env.emb.callCount)
	env.emb.mu.Unlock()
	env.assertConsistent(t)
}

func TestRun_SkipsVanishedAndUnchanged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{})
	env.write(t, "a.go", "package a")

	_, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)

	summary, err := env.coord.Run(ctx, []types.WorkItem{
		{Path: "a.go", Kind: types.Modified},
		{Path: "gone.go", Kind: types.Added},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, 1, env.emb.embedCount("a.go"))
}

func TestRun_NewlyIgnoredFileIsDeleted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{})
	env.write(t, "server.log", "line")

	// Track it directly, as if it had been indexed before the ignore rule
	require.NoError(t, env.meta.Put(types.FileRecord{Path: "server.log", Fingerprint: "sha256:00", ChunkCount: 0}))

	summary, err := env.coord.Run(ctx, []types.WorkItem{{Path: "server.log", Kind: types.Modified}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Deleted)
	_, ok := env.meta.Get("server.log")
	assert.False(t, ok)
}

func TestRun_CoalescesDuringActiveRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{Workers: 1})
	env.write(t, "a.go", "package a // v1")
	env.emb.block()

	done := make(chan Summary, 1)
	go func() {
		s, err := env.coord.Run(ctx, []types.WorkItem{{Path: "a.go", Kind: types.Added}})
		assert.NoError(t, err)
		done <- s
	}()
	<-env.emb.entered

	env.write(t, "a.go", "package a // v2")
	env.write(t, "b.go", "package b")
	for i := 0; i < 5; i++ {
		env.coord.Enqueue(types.WorkItem{Path: "a.go", Kind: types.Modified})
	}
	joined, err := env.coord.Run(ctx, []types.WorkItem{{Path: "b.go", Kind: types.Added}})
	require.NoError(t, err)
	assert.True(t, joined.Joined)
	assert.Equal(t, 1, joined.Enqueued)

	status := env.coord.Status()
	assert.True(t, status.IsRunning)
	assert.Equal(t, 3, status.FilesTotal)
	assert.Equal(t, 2, status.QueueDepth)

	env.emb.unblock()
	summary := <-done

	assert.Equal(t, 3, summary.Enqueued)
	assert.Equal(t, 3, summary.Indexed)
	assert.Equal(t, 2, env.emb.embedCount("a.go"))
	assert.Equal(t, 1, env.emb.embedCount("b.go"))

	status = env.coord.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, 3, status.FilesProcessed)
	assert.Zero(t, status.QueueDepth)
	env.assertConsistent(t)
}

func TestRun_ConcurrentRunsShareOneDrain(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{Workers: 4})
	for i := 0; i < 8; i++ {
		env.write(t, fmt.Sprintf("f%d.go", i), fmt.Sprintf("package f%d", i))
	}

	var runs sync.WaitGroup
	summaries := make(chan Summary, 8)
	for i := 0; i < 8; i++ {
		runs.Add(1)
		go func(i int) {
			defer runs.Done()
			s, err := env.coord.Run(ctx, []types.WorkItem{{Path: fmt.Sprintf("f%d.go", i), Kind: types.Added}})
			assert.NoError(t, err)
			summaries <- s
		}(i)
	}
	runs.Wait()
	close(summaries)
	require.NoError(t, env.coord.WaitIdle(ctx))

	drains, indexed := 0, 0
	for s := range summaries {
		if !s.Joined && s.RunID != "" {
			drains++
		}
		indexed += s.Indexed
	}
	assert.GreaterOrEqual(t, drains, 1)
	assert.Equal(t, 8, env.meta.Len())
	assert.LessOrEqual(t, indexed, 8)
	env.assertConsistent(t)
}

func TestTriggerReindex(t *testing.T) {
	runs := make(chan Summary, 4)
	env := newTestEnv(t, nil, Options{OnRunComplete: func(s Summary) { runs <- s }})
	env.write(t, "a.go", "package a")
	env.write(t, "b.go", "package b")

	next := func(t *testing.T) Summary {
		t.Helper()
		select {
		case s := <-runs:
			return s
		case <-time.After(5 * time.Second):
			t.Fatal("run did not complete")
			return Summary{}
		}
	}

	t.Run("refused while a scan holds the lock", func(t *testing.T) {
		require.True(t, env.coord.scanLock.TryAcquire())
		assert.True(t, env.coord.ScanInProgress())
		assert.False(t, env.coord.TriggerReindex(false))
		_, err := env.coord.Reindex(context.Background(), false)
		assert.ErrorIs(t, err, ErrScanInProgress)
		env.coord.scanLock.Release()
	})

	t.Run("accepted and processed in the background", func(t *testing.T) {
		require.True(t, env.coord.TriggerReindex(false))
		s := next(t)
		assert.False(t, s.Full)
		assert.Equal(t, 2, s.Indexed)
		assert.Equal(t, 2, env.meta.Len())
		env.assertConsistent(t)
	})

	t.Run("full reindex reprocesses unchanged files", func(t *testing.T) {
		require.True(t, env.coord.TriggerReindex(true))
		s := next(t)
		assert.True(t, s.Full)
		assert.Equal(t, 2, s.Indexed)
		assert.Zero(t, s.Skipped)
		assert.Equal(t, 2, env.emb.embedCount("a.go"))
	})
}

func TestRun_FailuresAndDegraded(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{VectorStore: storage.NewMemoryStore()}
	env := newTestEnv(t, store, Options{Workers: 1})
	for i := 0; i < DegradedAfter; i++ {
		env.write(t, fmt.Sprintf("f%d.go", i), fmt.Sprintf("package f%d", i))
	}

	store.setFail(true)
	summary, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, DegradedAfter, summary.Failed)
	assert.Len(t, summary.Errors, DegradedAfter)
	assert.Zero(t, env.meta.Len())

	status := env.coord.Status()
	assert.True(t, status.Degraded)
	assert.Equal(t, DegradedAfter, status.FilesFailed)
	assert.Contains(t, status.LastError, "store unavailable")

	store.setFail(false)
	summary, err = env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, DegradedAfter, summary.Indexed)
	assert.False(t, env.coord.Status().Degraded)
	env.assertConsistent(t)
}

func TestRun_EmbeddingFailureKeepsOldState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{})
	env.write(t, "a.go", "package a")

	_, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	before, _ := env.meta.Get("a.go")

	env.write(t, "a.go", "package a // changed")
	env.emb.setErr(&embedder.APIError{Provider: "mock", StatusCode: 400, Body: "bad"})
	summary, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)

	after, _ := env.meta.Get("a.go")
	assert.Equal(t, before, after)
	env.assertConsistent(t)

	env.emb.setErr(nil)
	summary, err = env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
}

func TestNew_ResetsOnModelChange(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	ctx := context.Background()
	env.write(t, "a.go", "package a")
	env.write(t, "b.go", "package b")
	_, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 2, env.meta.Len())

	model, dim := env.meta.Model()
	assert.Equal(t, "mock-v1", model)
	assert.Equal(t, 4, dim)

	env.emb = newMockEmbedder()
	env.emb.model = "mock-v2"
	env.coord = env.newCoordinator(t, Options{})
	assert.Zero(t, env.meta.Len())

	model, _ = env.meta.Model()
	assert.Equal(t, "mock-v2", model)

	// b.go vanishes while its old vectors still sit in the store
	env.remove(t, "b.go")
	summary, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 1, summary.Deleted)

	n, err := env.store.CountByPath(ctx, "b.go")
	require.NoError(t, err)
	assert.Zero(t, n)
	env.assertConsistent(t)
}

func TestReindex_RemovesOrphanedVectors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, nil, Options{})
	env.write(t, "a.go", "package a")
	env.write(t, "debug.log", "noise")

	stale := storage.Entry{ID: storage.ChunkID("gone.go", 0), Vector: []float32{1, 0, 0, 0}, Metadata: storage.Metadata{Path: "gone.go", FileType: "go"}}
	ignored := storage.Entry{ID: storage.ChunkID("debug.log", 0), Vector: []float32{0, 1, 0, 0}, Metadata: storage.Metadata{Path: "debug.log"}}
	for _, e := range []storage.Entry{stale, ignored} {
		require.NoError(t, env.store.Upsert(ctx, e.ID, e.Vector, e.Metadata))
	}

	summary, err := env.coord.Reindex(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Indexed)
	assert.Equal(t, 2, summary.Deleted)

	paths, err := env.store.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, paths)
	env.assertConsistent(t)
}

func TestWaitIdle(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	require.NoError(t, env.coord.WaitIdle(context.Background()))

	env.write(t, "a.go", "package a")
	env.emb.block()
	env.coord.Enqueue(types.WorkItem{Path: "a.go", Kind: types.Added})
	<-env.emb.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.coord.WaitIdle(ctx), context.DeadlineExceeded)

	env.emb.unblock()
	require.NoError(t, env.coord.WaitIdle(context.Background()))
	assert.Equal(t, 1, env.meta.Len())
}

func TestRun_CallerCancelHandsQueueToBackground(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	env.write(t, "a.go", "package a")
	env.write(t, "b.go", "package b")
	env.emb.block()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		summary, err := env.coord.Run(ctx, []types.WorkItem{{Path: "a.go", Kind: types.Added}})
		assert.NoError(t, err)
		done <- summary
	}()
	<-env.emb.entered

	// b.go arrives from the watcher while the caller's run is busy
	env.coord.Enqueue(types.WorkItem{Path: "b.go", Kind: types.Added})
	assert.Equal(t, 1, env.coord.QueueDepth())

	cancel()
	summary := <-done
	assert.Zero(t, summary.Indexed)

	env.emb.unblock()
	require.Eventually(t, func() bool {
		_, ok := env.meta.Get("b.go")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, env.coord.WaitIdle(context.Background()))
	assert.Zero(t, env.coord.QueueDepth())
	env.assertConsistent(t)
}

func TestReportWatcherHealth(t *testing.T) {
	env := newTestEnv(t, nil, Options{})

	env.coord.ReportWatcherHealth(nil)
	assert.True(t, env.coord.Status().WatcherHealthy)

	env.coord.ReportWatcherHealth(errors.New("event queue overflow"))
	status := env.coord.Status()
	assert.False(t, status.WatcherHealthy)
	assert.Equal(t, "event queue overflow", status.WatcherError)
}

func TestClose(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	env.write(t, "a.go", "package a")
	env.emb.block()
	env.coord.Enqueue(types.WorkItem{Path: "a.go", Kind: types.Added})
	<-env.emb.entered

	require.NoError(t, env.coord.Close())
	require.NoError(t, env.coord.Close())

	assert.False(t, env.coord.TriggerReindex(false))
	_, err := env.coord.Run(context.Background(), []types.WorkItem{{Path: "a.go", Kind: types.Added}})
	assert.ErrorIs(t, err, ErrClosed)

	status := env.coord.Status()
	assert.False(t, status.IsRunning)
	assert.Zero(t, env.meta.Len())
}

func TestEnqueue_IgnoresInvalidItems(t *testing.T) {
	env := newTestEnv(t, nil, Options{})
	env.coord.mu.Lock()
	added := env.coord.enqueueLocked([]types.WorkItem{
		{Path: "", Kind: types.Added},
		{Path: ".", Kind: types.Added},
		{Path: "a.go", Kind: types.ChangeKind(9)},
		{Path: "./b.go", Kind: types.Added},
		{Path: "b.go", Kind: types.Deleted},
	}, true)
	item := env.coord.pending["b.go"]
	env.coord.pending = make(map[string]pendingItem)
	env.coord.order = nil
	env.coord.mu.Unlock()

	assert.Equal(t, 1, added)
	assert.Equal(t, types.Deleted, item.kind)
	assert.False(t, item.force)
}

func TestShouldLogProgress(t *testing.T) {
	tests := []struct {
		processed, total int
		want             bool
	}{
		{0, 10, false},
		{1, 10, true},
		{1, 1000, false},
		{100, 1000, true},
		{150, 1000, false},
		{5, 0, false},
		{10, 20, true},
		{11, 20, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, shouldLogProgress(tt.processed, tt.total), "%d/%d", tt.processed, tt.total)
	}
}
