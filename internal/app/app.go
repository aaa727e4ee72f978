// Package app assembles the indexing engine from configuration. The MCP
// server and every CLI command share one Engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dshills/codeindex-mcp/internal/chunker"
	"github.com/dshills/codeindex-mcp/internal/config"
	"github.com/dshills/codeindex-mcp/internal/control"
	"github.com/dshills/codeindex-mcp/internal/detector"
	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/ignore"
	"github.com/dshills/codeindex-mcp/internal/indexer"
	"github.com/dshills/codeindex-mcp/internal/metastore"
	"github.com/dshills/codeindex-mcp/internal/retry"
	"github.com/dshills/codeindex-mcp/internal/searcher"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/internal/watcher"
)

// Engine holds every component of a running index
type Engine struct {
	Config      *config.Config
	Matcher     *ignore.Matcher
	Detector    *detector.Detector
	Embedder    embedder.Embedder
	Store       storage.VectorStore
	Meta        *metastore.Store
	Coordinator *indexer.Coordinator
	Searcher    *searcher.Searcher
	Control     *control.Surface

	log     *log.Logger
	closers []func() error
}

// Open builds an Engine. Nothing runs until Control.Start or a direct
// Coordinator call.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger) (_ *Engine, err error) {
	if logger == nil {
		logger = log.Default()
	}
	e := &Engine{Config: cfg, log: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	e.Matcher, err = ignore.New(cfg.Root, ignore.Options{
		Patterns:     cfg.IgnorePatterns,
		ExcludePaths: []string{cfg.DataDir},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load ignore rules: %w", err)
	}

	e.Embedder, err = embedder.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	e.closers = append(e.closers, e.Embedder.Close)

	e.Store, err = storage.Open(ctx, cfg, e.Embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	e.closers = append(e.closers, e.Store.Close)

	e.Meta, err = metastore.Open(cfg.MetadataPath(), metastore.Options{
		FlushEvery:    cfg.FlushEvery,
		FlushInterval: cfg.FlushInterval,
		Root:          cfg.Root,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	e.closers = append(e.closers, e.Meta.Close)

	e.Detector = detector.New(e.Matcher, detector.Options{
		LargeFileThreshold: cfg.LargeFileThreshold,
		Logger:             logger,
	})
	chunks := chunker.New(cfg.Root, chunker.Options{
		MaxContentBytes: cfg.MaxContentBytes,
		MaxChunkBytes:   cfg.MaxChunkBytes,
	})

	e.Searcher = searcher.NewSearcher(e.Store, e.Embedder, searcher.DefaultCacheSize)

	e.Coordinator, err = indexer.New(e.Detector, chunks, e.Embedder, e.Store, e.Meta, indexer.Options{
		Workers:        cfg.Workers,
		EmbedBatchSize: cfg.EmbedBatchSize,
		Retry: retry.Config{
			MaxAttempts: cfg.RetryAttempts + 1,
			BaseDelay:   cfg.RetryDelay,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
		},
		Logger: logger,
		OnRunComplete: func(indexer.Summary) {
			e.Searcher.InvalidateCache()
		},
	})
	if err != nil {
		return nil, err
	}
	e.closers = append(e.closers, e.Coordinator.Close)

	e.Control = control.New(e.Coordinator, e.Matcher, control.Options{
		Watch: cfg.WatchEnabled,
		Watcher: watcher.Options{
			Debounce:  cfg.DebounceWindow,
			QueueSize: cfg.WatchQueueSize,
			Logger:    logger,
		},
		RescanInterval: cfg.RescanInterval,
		Logger:         logger,
	})
	e.closers = append(e.closers, e.Control.Close)

	return e, nil
}

// Close stops the engine in reverse order of construction. The metadata
// store is flushed before the vector store closes.
func (e *Engine) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
