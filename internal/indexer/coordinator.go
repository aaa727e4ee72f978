package indexer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codeindex-mcp/internal/chunker"
	"github.com/dshills/codeindex-mcp/internal/detector"
	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/metastore"
	"github.com/dshills/codeindex-mcp/internal/retry"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

var (
	// ErrClosed is returned once the coordinator has been closed
	ErrClosed = errors.New("coordinator is closed")
	// ErrScanInProgress is returned when a reindex diff is already being computed
	ErrScanInProgress = errors.New("reindex scan already in progress")
)

// DegradedAfter is the number of consecutive failed items after which the
// status reports Degraded
const DegradedAfter = 5

// Options configures a Coordinator
type Options struct {
	Workers        int          // Concurrent items per batch (default: runtime.NumCPU())
	EmbedBatchSize int          // Texts per embedding request (default: embedder.DefaultBatchSize)
	Retry          retry.Config // Retry policy for vector store calls
	Logger         *log.Logger

	// OnRunComplete is called after every drain of the queue, outside any lock
	OnRunComplete func(Summary)
}

// Summary describes one drain of the queue
type Summary struct {
	RunID     string
	Joined    bool // The items were merged into a drain already in progress
	Full      bool
	Enqueued  int
	Processed int
	Indexed   int
	Deleted   int
	Skipped   int
	Failed    int
	Chunks    int
	Duration  time.Duration
	Errors    []string
}

// pendingItem is the queued state of one path
type pendingItem struct {
	kind  types.ChangeKind
	force bool // Reprocess even if the fingerprint is unchanged
}

type batchItem struct {
	path string
	pendingItem
}

// runState accumulates the results of the drain in progress
type runState struct {
	id       string
	full     bool
	started  time.Time
	enqueued int // guarded by Coordinator.mu

	indexed atomic.Int32
	deleted atomic.Int32
	skipped atomic.Int32
	failed  atomic.Int32
	chunks  atomic.Int32

	mu     sync.Mutex
	errors []string
}

func (r *runState) processed() int {
	return int(r.indexed.Load() + r.deleted.Load() + r.skipped.Load() + r.failed.Load())
}

func (r *runState) summary() Summary {
	r.mu.Lock()
	errs := append([]string(nil), r.errors...)
	r.mu.Unlock()
	return Summary{
		RunID:     r.id,
		Full:      r.full,
		Enqueued:  r.enqueued,
		Processed: r.processed(),
		Indexed:   int(r.indexed.Load()),
		Deleted:   int(r.deleted.Load()),
		Skipped:   int(r.skipped.Load()),
		Failed:    int(r.failed.Load()),
		Chunks:    int(r.chunks.Load()),
		Duration:  time.Since(r.started),
		Errors:    errs,
	}
}

// Coordinator turns work items into vector store and metadata updates. A
// single drain loop applies queued items; items submitted while it runs are
// coalesced into its queue.
type Coordinator struct {
	detector *detector.Detector
	chunker  *chunker.Chunker
	embedder embedder.Embedder
	store    storage.VectorStore
	meta     *metastore.Store

	opts    Options
	log     *log.Logger
	tracer  trace.Tracer
	metrics *instruments

	scanLock IndexLock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Queue state
	mu       sync.Mutex
	pending  map[string]pendingItem
	order    []string
	draining bool
	idle     chan struct{}
	run      *runState
	closed   bool

	// Status has its own lock; it is taken after mu, never before
	statusMu   sync.RWMutex
	status     types.IndexingStatus
	failStreak int
}

// New creates a Coordinator. If the metadata store was built with a
// different embedding model or dimension it is reset so every file is
// embedded again.
func New(d *detector.Detector, ch *chunker.Chunker, emb embedder.Embedder, store storage.VectorStore,
	meta *metastore.Store, opts Options) (*Coordinator, error) {

	if d == nil || ch == nil || emb == nil || store == nil || meta == nil {
		return nil, fmt.Errorf("indexer: detector, chunker, embedder, store and metadata are required")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = embedder.DefaultBatchSize
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		detector: d,
		chunker:  ch,
		embedder: emb,
		store:    store,
		meta:     meta,
		opts:     opts,
		log:      logger,
		tracer:   otel.Tracer("codeindex/indexer"),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]pendingItem),
	}

	if err := c.checkModel(); err != nil {
		cancel()
		return nil, err
	}
	c.status.TrackedFiles = meta.Len()
	c.metrics = newInstruments(c, logger)

	return c, nil
}

// checkModel resets the metadata store when the embedder changed
func (c *Coordinator) checkModel() error {
	model, dim := c.meta.Model()
	wantModel, wantDim := c.embedder.Model(), c.embedder.Dimension()

	changed := model != wantModel || dim != wantDim
	if changed && (model != "" || c.meta.Len() > 0) {
		c.log.Printf("indexer: embedding model changed from %s/%d to %s/%d, reindexing everything",
			model, dim, wantModel, wantDim)
		if err := c.meta.Reset(); err != nil {
			return fmt.Errorf("failed to reset metadata: %w", err)
		}
	}
	if err := c.meta.SetModel(wantModel, wantDim); err != nil {
		return fmt.Errorf("failed to record embedding model: %w", err)
	}
	return nil
}

// Run queues items and drains the queue in the calling goroutine. If a
// drain is already in progress the items join it and Run returns at once
// with Summary.Joined set. Cancelling ctx interrupts the items in flight;
// whatever is still queued then moves to a background drain.
func (c *Coordinator) Run(ctx context.Context, items []types.WorkItem) (Summary, error) {
	return c.runItems(ctx, items, false)
}

func (c *Coordinator) runItems(ctx context.Context, items []types.WorkItem, full bool) (Summary, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Summary{}, ErrClosed
	}

	added := c.enqueueLocked(items, full)
	if c.draining {
		c.mu.Unlock()
		return Summary{Joined: true, Full: full, Enqueued: added}, nil
	}
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return Summary{}, nil
	}
	run := c.startDrainLocked(full)
	c.mu.Unlock()

	drainCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	c.drain(drainCtx, run)

	// Items that joined while the caller waited outlive its context
	if ctx.Err() != nil {
		c.submit(nil, false)
	}
	return run.summary(), nil
}

// Enqueue adds items to the queue and starts a background drain if none is
// running. It is the entry point for the live watcher.
func (c *Coordinator) Enqueue(items ...types.WorkItem) {
	c.submit(items, false)
}

func (c *Coordinator) submit(items []types.WorkItem, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.enqueueLocked(items, full)
	if c.draining || len(c.pending) == 0 {
		return
	}

	run := c.startDrainLocked(full)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drain(c.ctx, run)
	}()
}

// enqueueLocked merges items into the queue. A path already queued keeps its
// position and takes the newest kind. It returns the number of new paths.
func (c *Coordinator) enqueueLocked(items []types.WorkItem, full bool) int {
	added := 0
	for _, it := range items {
		p := types.NormalizePath(it.Path)
		if p == "" || p == "." || it.Kind < types.Added || it.Kind > types.Deleted {
			continue
		}

		prev, queued := c.pending[p]
		if !queued {
			c.order = append(c.order, p)
			added++
		}
		force := it.Kind != types.Deleted && (full || (queued && prev.force))
		c.pending[p] = pendingItem{kind: it.Kind, force: force}
	}

	if c.draining {
		c.run.enqueued += added
		if full {
			c.run.full = true
		}
	}

	c.statusMu.Lock()
	if c.draining {
		c.status.FilesTotal += added
		c.status.Full = c.status.Full || full
	}
	c.status.QueueDepth = len(c.pending)
	c.statusMu.Unlock()

	return added
}

// startDrainLocked marks a drain as running and resets the status record
func (c *Coordinator) startDrainLocked(full bool) *runState {
	run := &runState{
		id:       uuid.NewString(),
		full:     full,
		started:  time.Now(),
		enqueued: len(c.pending),
	}
	c.run = run
	c.draining = true
	c.idle = make(chan struct{})

	c.statusMu.Lock()
	c.status.RunID = run.id
	c.status.Full = full
	c.status.IsRunning = true
	c.status.FilesTotal = len(c.pending)
	c.status.FilesProcessed = 0
	c.status.FilesFailed = 0
	c.status.FilesSkipped = 0
	c.status.StartedAt = run.started
	c.status.FinishedAt = time.Time{}
	c.status.LastError = ""
	c.statusMu.Unlock()

	return run
}

// drain processes batches until the queue is empty or ctx is done
func (c *Coordinator) drain(ctx context.Context, run *runState) {
	ctx, span := c.tracer.Start(ctx, "indexer.run")
	defer span.End()

	c.log.Printf("indexer: run %s started with %d items", run.id, run.enqueued)

	for {
		batch, done := c.takeBatch(ctx, run)
		if done {
			break
		}
		c.processBatch(ctx, run, batch)

		if err := c.meta.Flush(); err != nil {
			c.log.Printf("indexer: failed to flush metadata: %v", err)
			c.setLastError(err)
		}
	}

	summary := run.summary()
	c.metrics.recordRun(ctx, summary)
	c.log.Printf("indexer: run %s finished: %d indexed, %d deleted, %d skipped, %d failed, %d chunks in %v",
		summary.RunID, summary.Indexed, summary.Deleted, summary.Skipped, summary.Failed,
		summary.Chunks, summary.Duration.Round(time.Millisecond))

	if c.opts.OnRunComplete != nil {
		c.opts.OnRunComplete(summary)
	}
}

// takeBatch removes every queued item. When the queue is empty, or ctx is
// done, it ends the drain and reports done.
func (c *Coordinator) takeBatch(ctx context.Context, run *runState) ([]batchItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 || ctx.Err() != nil {
		c.draining = false
		close(c.idle)

		c.statusMu.Lock()
		c.status.IsRunning = false
		c.status.FinishedAt = time.Now()
		if err := ctx.Err(); err != nil {
			c.status.LastError = fmt.Sprintf("run interrupted: %v", err)
		}
		c.statusMu.Unlock()
		return nil, true
	}

	batch := make([]batchItem, 0, len(c.order))
	for _, p := range c.order {
		batch = append(batch, batchItem{path: p, pendingItem: c.pending[p]})
	}
	c.pending = make(map[string]pendingItem)
	c.order = nil

	c.statusMu.Lock()
	c.status.QueueDepth = 0
	c.statusMu.Unlock()

	return batch, false
}

// processBatch runs a batch on the bounded worker pool. A batch holds each
// path once, so no path is processed twice at the same time.
func (c *Coordinator) processBatch(ctx context.Context, run *runState, batch []batchItem) {
	var g errgroup.Group
	g.SetLimit(c.opts.Workers)

	for _, item := range batch {
		g.Go(func() error {
			c.processItem(ctx, run, item)
			return nil
		})
	}
	_ = g.Wait()
}

// Reindex computes a diff under the scan lock and drains it synchronously.
// With full set, every tracked file still on disk is reprocessed.
func (c *Coordinator) Reindex(ctx context.Context, full bool) (Summary, error) {
	if !c.scanLock.TryAcquire() {
		return Summary{}, ErrScanInProgress
	}
	items, err := c.plan(ctx, full)
	c.scanLock.Release()
	if err != nil {
		return Summary{}, err
	}
	return c.runItems(ctx, items, full)
}

// TriggerReindex starts a reindex in the background. It returns false when
// another reindex diff is still being computed or the coordinator is closed;
// items of an accepted trigger coalesce into any active drain.
func (c *Coordinator) TriggerReindex(full bool) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if !c.scanLock.TryAcquire() {
		c.mu.Unlock()
		return false
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		items, err := c.plan(c.ctx, full)
		c.scanLock.Release()
		if err != nil {
			c.log.Printf("indexer: reindex scan failed: %v", err)
			c.setLastError(err)
			return
		}
		c.submit(items, full)
	}()
	return true
}

// plan diffs the tree against the metadata store
func (c *Coordinator) plan(ctx context.Context, full bool) ([]types.WorkItem, error) {
	known := c.meta.Snapshot()
	items, err := c.detector.Diff(ctx, known)
	if err != nil {
		return nil, fmt.Errorf("failed to diff tree: %w", err)
	}

	listed := make(map[string]bool, len(items))
	for _, it := range items {
		listed[it.Path] = true
	}

	// Vectors without a record are left over from a reset or an interrupted
	// write. Paths still on disk are listed as added; the rest are dropped.
	stored, err := c.store.Paths(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored paths: %w", err)
	}
	var orphans []types.WorkItem
	for _, p := range stored {
		if _, ok := known[p]; ok || listed[p] {
			continue
		}
		orphans = append(orphans, types.WorkItem{Path: p, Kind: types.Deleted})
		listed[p] = true
	}
	if len(orphans) > 0 {
		c.log.Printf("indexer: %d stored paths have no record, removing their vectors", len(orphans))
		items = append(orphans, items...)
	}

	if !full {
		return items, nil
	}

	var rest []types.WorkItem
	for p := range known {
		if !listed[p] {
			rest = append(rest, types.WorkItem{Path: p, Kind: types.Modified})
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Path < rest[j].Path })
	return append(items, rest...), nil
}

// WaitIdle blocks until no drain is running or ctx is done
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	if !c.draining {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a copy of the status record
func (c *Coordinator) Status() types.IndexingStatus {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// QueueDepth returns the number of queued paths
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ScanInProgress reports whether a reindex diff is being computed
func (c *Coordinator) ScanInProgress() bool {
	return c.scanLock.Held()
}

// ReportWatcherHealth records the live watcher's state; nil means healthy
func (c *Coordinator) ReportWatcherHealth(err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.WatcherHealthy = err == nil
	c.status.WatcherError = ""
	if err != nil {
		c.status.WatcherError = err.Error()
	}
}

func (c *Coordinator) setLastError(err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.status.LastError = err.Error()
}

// Close stops background drains and waits for them. Items still queued are
// dropped; the next startup diff finds them again.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.metrics.close()
	return nil
}
