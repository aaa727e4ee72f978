// Package watcher turns filesystem notifications under a project root into
// debounced work items for the indexing coordinator.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/codeindex-mcp/internal/ignore"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

var (
	// ErrOverflow is reported when events are lost, either by the kernel
	// queue or by the bounded channel to the coordinator
	ErrOverflow = errors.New("watcher: event queue overflow")
	// ErrStreamClosed is reported when fsnotify stops delivering events
	ErrStreamClosed = errors.New("watcher: event stream closed")
	// ErrStarted is returned by a second call to Start
	ErrStarted = errors.New("watcher: already started")
)

// Defaults
const (
	DefaultDebounce  = 500 * time.Millisecond
	DefaultQueueSize = 1024
)

// Sink receives work items and health reports. The indexing coordinator
// implements it.
type Sink interface {
	Enqueue(items ...types.WorkItem)
	ReportWatcherHealth(err error)
}

// Options configures a Watcher
type Options struct {
	Debounce  time.Duration // Quiet period per path before an item is emitted
	QueueSize int           // Capacity of the channel to the forwarder
	Logger    *log.Logger

	// OnIgnoreChange runs on the event goroutine after a project ignore
	// file changed the effective rules. It must not block.
	OnIgnoreChange func()
}

// pendingEvent is the debounced state of one path
type pendingEvent struct {
	kind  types.ChangeKind
	timer *time.Timer
}

// Watcher subscribes recursively to a project root. It never reads file
// content; ignored directories are never watched.
type Watcher struct {
	root    string
	matcher *ignore.Matcher
	sink    Sink
	opts    Options
	log     *log.Logger

	fsw *fsnotify.Watcher
	out chan types.WorkItem

	mu      sync.Mutex
	pending map[string]*pendingEvent

	started atomic.Bool
	healthy atomic.Bool
	dead    atomic.Bool // The event stream is gone for good

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Watcher for the matcher's root. Call Start to subscribe.
func New(matcher *ignore.Matcher, sink Sink, opts Options) (*Watcher, error) {
	if matcher == nil || sink == nil {
		return nil, fmt.Errorf("watcher: matcher and sink are required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Watcher{
		root:    matcher.Root(),
		matcher: matcher,
		sink:    sink,
		opts:    opts,
		log:     logger,
		out:     make(chan types.WorkItem, opts.QueueSize),
		pending: make(map[string]*pendingEvent),
		done:    make(chan struct{}),
	}, nil
}

// Start subscribes to the tree and launches the event loop and the
// forwarder. They run until ctx is done or Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.fail(fmt.Errorf("watcher: failed to create: %w", err))
		return err
	}
	w.fsw = fsw

	if err := w.addTree(w.root, false); err != nil {
		_ = fsw.Close()
		w.fail(err)
		return err
	}

	w.healthy.Store(true)
	w.sink.ReportWatcherHealth(nil)

	w.wg.Add(2)
	go w.loop(ctx)
	go w.forward()

	w.log.Printf("watcher: watching %s", w.root)
	return nil
}

// Healthy reports whether every event since Start (or the last
// ResetHealth) was delivered
func (w *Watcher) Healthy() bool {
	return w.healthy.Load()
}

// ResetHealth marks a running watcher healthy again after its losses were
// repaired by a rescan. It returns false when the event stream is gone.
func (w *Watcher) ResetHealth() bool {
	if w.dead.Load() || !w.started.Load() {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
	}
	if !w.healthy.Swap(true) {
		w.sink.ReportWatcherHealth(nil)
	}
	return true
}

// Close stops the watcher and drops events still being debounced
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}

		w.mu.Lock()
		for p, ev := range w.pending {
			ev.timer.Stop()
			delete(w.pending, p)
		}
		w.mu.Unlock()

		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.streamClosed()
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				w.streamClosed()
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				err = fmt.Errorf("%w: %v", ErrOverflow, err)
			}
			w.fail(err)
		}
	}
}

// handle classifies one notification
func (w *Watcher) handle(ev fsnotify.Event) {
	rel, ok := w.relative(ev.Name)
	if !ok {
		return
	}
	if ignore.IsIgnoreFile(rel) {
		w.reloadIgnore()
	}

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Lstat(ev.Name)
		if err != nil {
			// Gone again before we looked
			w.schedule(rel, types.Deleted)
			return
		}
		if info.IsDir() {
			if w.matcher.Match(rel, true) {
				return
			}
			if err := w.addTree(ev.Name, true); err != nil {
				w.fail(err)
			}
			return
		}
		if !info.Mode().IsRegular() || w.matcher.Match(rel, false) {
			return
		}
		w.schedule(rel, types.Added)

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.matcher.Match(rel, false) {
			return
		}
		w.schedule(rel, types.Deleted)

	case ev.Has(fsnotify.Write):
		if w.matcher.Match(rel, false) {
			return
		}
		w.schedule(rel, types.Modified)
	}
}

// reloadIgnore re-reads the ignore rules after an ignore file changed.
// Directories that are no longer ignored get watched and OnIgnoreChange
// runs so a rescan can settle the files whose status flipped.
func (w *Watcher) reloadIgnore() {
	changed, err := w.matcher.Reload()
	if err != nil {
		w.log.Printf("watcher: keeping previous ignore rules: %v", err)
		return
	}
	if !changed {
		return
	}
	w.log.Printf("watcher: ignore rules changed")
	if err := w.addTree(w.root, false); err != nil {
		w.fail(err)
	}
	if w.opts.OnIgnoreChange != nil {
		w.opts.OnIgnoreChange()
	}
}

// addTree watches dir and every non-ignored directory beneath it. With emit
// set, the regular files found are scheduled as Added.
func (w *Watcher) addTree(dir string, emit bool) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Vanished or unreadable entries are left to the next diff
			if p == dir {
				return nil
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, ok := w.relative(p)
		if !ok && p != w.root {
			return nil
		}

		if d.IsDir() {
			if p != w.root && w.matcher.Match(rel, true) {
				return fs.SkipDir
			}
			if err := w.fsw.Add(p); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fs.SkipDir
				}
				return fmt.Errorf("watcher: failed to watch %s: %w", p, err)
			}
			return nil
		}

		if emit && d.Type().IsRegular() && !w.matcher.Match(rel, false) {
			w.schedule(rel, types.Added)
		}
		return nil
	})
}

// relative converts an absolute event path to a project-relative one
func (w *Watcher) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// schedule (re)starts the debounce timer of rel; the latest kind wins
func (w *Watcher) schedule(rel string, kind types.ChangeKind) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return
	default:
	}

	if ev, ok := w.pending[rel]; ok {
		ev.kind = kind
		ev.timer.Reset(w.opts.Debounce)
		return
	}

	ev := &pendingEvent{kind: kind}
	ev.timer = time.AfterFunc(w.opts.Debounce, func() { w.fire(rel, ev) })
	w.pending[rel] = ev
}

func (w *Watcher) fire(rel string, ev *pendingEvent) {
	w.mu.Lock()
	if w.pending[rel] != ev {
		w.mu.Unlock()
		return
	}
	delete(w.pending, rel)
	kind := ev.kind
	w.mu.Unlock()

	w.emit(types.WorkItem{Path: rel, Kind: kind})
}

// emit hands an item to the forwarder without blocking. A full channel
// drops the item and marks the watcher unhealthy.
func (w *Watcher) emit(item types.WorkItem) {
	select {
	case w.out <- item:
	default:
		w.fail(fmt.Errorf("%w: dropped %s %s", ErrOverflow, item.Kind, item.Path))
	}
}

// forward batches whatever is buffered into single Enqueue calls
func (w *Watcher) forward() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return
		case item := <-w.out:
			batch := []types.WorkItem{item}
		collect:
			for len(batch) < cap(w.out) {
				select {
				case more := <-w.out:
					batch = append(batch, more)
				default:
					break collect
				}
			}
			w.sink.Enqueue(batch...)
		}
	}
}

func (w *Watcher) streamClosed() {
	select {
	case <-w.done:
		return
	default:
	}
	w.dead.Store(true)
	w.fail(ErrStreamClosed)
}

// fail marks the watcher unhealthy and reports err to the sink
func (w *Watcher) fail(err error) {
	w.log.Printf("watcher: %v", err)
	w.healthy.Store(false)
	w.sink.ReportWatcherHealth(err)
}
