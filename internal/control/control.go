// Package control is the status and control surface of the indexing
// engine. It runs the startup diff, owns the live watcher and falls back to
// periodic rescans while the watcher is unhealthy.
package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/codeindex-mcp/internal/ignore"
	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/retry"
	"github.com/dshills/codeindex-mcp/internal/watcher"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// ErrAlreadyStarted is returned by a second call to Start
var ErrAlreadyStarted = errors.New("control: already started")

// Coordinator is the part of the indexing coordinator the surface drives
type Coordinator interface {
	Reindex(ctx context.Context, full bool) (indexer.Summary, error)
	TriggerReindex(full bool) bool
	Enqueue(items ...types.WorkItem)
	WaitIdle(ctx context.Context) error
	Status() types.IndexingStatus
	ReportWatcherHealth(err error)
}

// Options configures a Surface
type Options struct {
	Watch          bool            // Subscribe to filesystem notifications
	Watcher        watcher.Options // Debounce and queue settings
	RescanInterval time.Duration   // Rescan period while the watcher is unhealthy; 0 disables
	ScanRetry      retry.Config    // Backoff while another reindex scan holds the lock
	Logger         *log.Logger
}

// defaultScanRetry waits out a concurrent scan for a few minutes at most
func defaultScanRetry() retry.Config {
	return retry.Config{
		MaxAttempts: 100,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2,
	}
}

// Surface exposes TriggerReindex and GetStatus over a Coordinator
type Surface struct {
	coord   Coordinator
	matcher *ignore.Matcher
	opts    Options
	log     *log.Logger

	mu      sync.Mutex
	started bool
	watcher *watcher.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	initialDone atomic.Bool
	ignoreDirty chan struct{} // Coalesced ignore rule changes awaiting a rescan
}

// New creates a Surface. The matcher decides which directories the watcher
// subscribes to.
func New(coord Coordinator, matcher *ignore.Matcher, opts Options) *Surface {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	if opts.Watcher.Logger == nil {
		opts.Watcher.Logger = logger
	}
	if opts.ScanRetry.MaxAttempts == 0 {
		opts.ScanRetry = defaultScanRetry()
	}
	s := &Surface{
		coord:       coord,
		matcher:     matcher,
		opts:        opts,
		log:         logger,
		ignoreDirty: make(chan struct{}, 1),
	}
	s.opts.Watcher.OnIgnoreChange = s.ignoreChanged
	return s
}

// Start subscribes the watcher before diffing, so no change between the
// diff and the subscription is lost, then runs the startup diff in the
// background. A watcher that cannot start leaves the surface running
// without it; the failure shows in the status.
func (s *Surface) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.opts.Watch {
		if err := s.startWatcher(ctx); err != nil {
			s.log.Printf("control: live watching disabled: %v", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ignoreLoop(ctx)
		}()
	} else {
		s.coord.ReportWatcherHealth(fmt.Errorf("watching disabled"))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.initialIndex(ctx)
	}()

	if s.opts.RescanInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.rescanLoop(ctx)
		}()
	}
	return nil
}

func (s *Surface) startWatcher(ctx context.Context) error {
	w, err := watcher.New(s.matcher, s.coord, s.opts.Watcher)
	if err != nil {
		s.coord.ReportWatcherHealth(err)
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// initialIndex diffs the tree against the metadata store and waits until
// the resulting drain, or the drain it joined, has finished
func (s *Surface) initialIndex(ctx context.Context) {
	start := time.Now()
	// A reindex triggered before Start returned may still be diffing
	summary, err := retry.Do(ctx, s.opts.ScanRetry, func(ctx context.Context) (indexer.Summary, error) {
		summary, err := s.coord.Reindex(ctx, false)
		if err != nil && !errors.Is(err, indexer.ErrScanInProgress) {
			return summary, retry.Permanent(err)
		}
		return summary, err
	})
	if err != nil {
		s.log.Printf("control: startup diff failed: %v", err)
		return
	}
	if err := s.coord.WaitIdle(ctx); err != nil {
		return
	}
	s.initialDone.Store(true)

	if summary.Joined {
		s.log.Printf("control: startup changes joined an active run")
		return
	}
	s.log.Printf("control: initial indexing complete in %v: %d indexed, %d deleted, %d failed",
		time.Since(start).Round(time.Millisecond), summary.Indexed, summary.Deleted, summary.Failed)
}

// rescanLoop triggers an incremental reindex every interval while live
// watching is unavailable
func (s *Surface) rescanLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.coord.Status().WatcherHealthy {
				continue
			}
			s.rescan()
		}
	}
}

// rescan repairs events the watcher lost. A watcher whose stream is still
// alive is marked healthy first; anything it loses afterwards is flagged
// again.
func (s *Surface) rescan() {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()

	recovered := w != nil && w.ResetHealth()
	if s.coord.TriggerReindex(false) {
		s.log.Printf("control: fallback rescan started (watcher recovered: %v)", recovered)
	}
}

// ignoreChanged records that the ignore rules changed. It runs on the
// watcher's event goroutine and never blocks.
func (s *Surface) ignoreChanged() {
	select {
	case s.ignoreDirty <- struct{}{}:
	default:
	}
}

// ignoreLoop rescans after ignore rule changes so newly ignored files lose
// their vectors and newly visible files get indexed
func (s *Surface) ignoreLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ignoreDirty:
		}

		err := retry.Run(ctx, s.opts.ScanRetry, func(ctx context.Context) error {
			if !s.coord.TriggerReindex(false) {
				return indexer.ErrScanInProgress
			}
			return nil
		})
		if err != nil {
			if ctx.Err() == nil {
				s.log.Printf("control: rescan after ignore change not started: %v", err)
			}
			continue
		}
		s.log.Printf("control: ignore rules changed, rescan started")
	}
}

// TriggerReindex asks for a background reindex and reports whether it was
// accepted
func (s *Surface) TriggerReindex(full bool) bool {
	return s.coord.TriggerReindex(full)
}

// GetStatus returns the current indexing status
func (s *Surface) GetStatus() types.IndexingStatus {
	return s.coord.Status()
}

// IsIndexingComplete reports whether the startup index has finished and
// nothing is running or queued
func (s *Surface) IsIndexingComplete() bool {
	if !s.initialDone.Load() {
		return false
	}
	st := s.coord.Status()
	return !st.IsRunning && st.QueueDepth == 0
}

// Progress returns the completion percentage of the current or last run
func (s *Surface) Progress() float64 {
	return s.coord.Status().Progress()
}

// Close stops the watcher and the background loops
func (s *Surface) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	w := s.watcher
	s.mu.Unlock()

	var err error
	if w != nil {
		err = w.Close()
	}
	s.wg.Wait()
	return err
}
