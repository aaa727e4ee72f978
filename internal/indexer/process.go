package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/retry"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// outcome is the result class of one item
type outcome int

const (
	outcomeIndexed outcome = iota
	outcomeDeleted
	outcomeSkipped
	outcomeFailed
	outcomeCanceled
)

func (o outcome) String() string {
	switch o {
	case outcomeIndexed:
		return "indexed"
	case outcomeDeleted:
		return "deleted"
	case outcomeSkipped:
		return "skipped"
	case outcomeFailed:
		return "failed"
	default:
		return "canceled"
	}
}

// processItem applies one queued item and records the outcome
func (c *Coordinator) processItem(ctx context.Context, run *runState, item batchItem) {
	ctx, span := c.tracer.Start(ctx, "indexer.item", trace.WithAttributes(
		attribute.String("path", item.path),
		attribute.String("kind", item.kind.String()),
	))
	defer span.End()

	if ctx.Err() != nil {
		return
	}

	var (
		res    outcome
		chunks int
		err    error
	)
	if item.kind == types.Deleted {
		res, err = c.deletePath(ctx, item.path)
	} else {
		res, chunks, err = c.indexPath(ctx, item.path, item.force)
	}

	if err != nil && ctx.Err() != nil {
		res = outcomeCanceled
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("outcome", res.String()))

	c.record(ctx, run, item, res, chunks, err)
}

// deletePath removes the vectors and record of path, or of every tracked
// path beneath it when path was a directory
func (c *Coordinator) deletePath(ctx context.Context, path string) (outcome, error) {
	paths := c.meta.PathsUnder(path)
	if len(paths) == 0 {
		paths = []string{path}
	}

	for _, p := range paths {
		err := retry.Run(ctx, c.opts.Retry, func(ctx context.Context) error {
			_, err := c.store.DeleteByPath(ctx, p)
			return err
		})
		if err != nil {
			return outcomeFailed, fmt.Errorf("failed to delete vectors of %s: %w", p, err)
		}
		if err := c.meta.Delete(p); err != nil {
			return outcomeFailed, fmt.Errorf("failed to delete record of %s: %w", p, err)
		}
	}
	return outcomeDeleted, nil
}

// indexPath re-embeds path and replaces its vectors. Unreadable or vanished
// files are skipped; the next diff sees them again.
func (c *Coordinator) indexPath(ctx context.Context, path string, force bool) (outcome, int, error) {
	if c.detector.Ignored(path, false) {
		if _, tracked := c.meta.Get(path); tracked {
			res, err := c.deletePath(ctx, path)
			return res, 0, err
		}
		return outcomeSkipped, 0, nil
	}

	rec, err := c.detector.Identify(path)
	if err != nil {
		if errors.Is(err, types.ErrUnreadable) {
			c.log.Printf("indexer: skipping %s: %v", path, err)
			return outcomeSkipped, 0, nil
		}
		return outcomeFailed, 0, err
	}

	if prev, ok := c.meta.Get(path); ok && !force && prev.Fingerprint == rec.Fingerprint {
		return outcomeSkipped, 0, nil
	}

	chunks, err := c.chunker.Extract(path)
	if err != nil {
		if errors.Is(err, types.ErrUnreadable) {
			c.log.Printf("indexer: skipping %s: %v", path, err)
			return outcomeSkipped, 0, nil
		}
		return outcomeFailed, 0, err
	}

	entries, err := c.embedChunks(ctx, path, chunks)
	if err != nil {
		return outcomeFailed, 0, err
	}

	err = retry.Run(ctx, c.opts.Retry, func(ctx context.Context) error {
		return storage.ReplacePath(ctx, c.store, path, entries)
	})
	if err != nil {
		return outcomeFailed, 0, fmt.Errorf("failed to store vectors of %s: %w", path, err)
	}

	rec.LastIndexedAt = time.Now().UTC()
	rec.ChunkCount = len(chunks)
	if err := c.meta.Put(rec); err != nil {
		return outcomeFailed, 0, fmt.Errorf("failed to write record of %s: %w", path, err)
	}
	return outcomeIndexed, len(chunks), nil
}

// embedChunks generates one vector per chunk and builds the store entries
func (c *Coordinator) embedChunks(ctx context.Context, path string, chunks []types.Chunk) ([]storage.Entry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].EmbeddingText()
	}

	vectors, err := embedder.EmbedAll(ctx, c.embedder, texts, c.opts.EmbedBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", path, err)
	}

	fileType := types.FileTypeOf(path)
	entries := make([]storage.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = storage.Entry{
			ID:     storage.ChunkID(path, ch.Index),
			Vector: vectors[i],
			Metadata: storage.Metadata{
				Path:       path,
				ChunkIndex: ch.Index,
				StartByte:  ch.StartByte,
				EndByte:    ch.EndByte,
				StartLine:  ch.StartLine,
				EndLine:    ch.EndLine,
				FileType:   fileType,
				Content:    ch.Content,
			},
		}
	}
	return entries, nil
}

// record folds an item outcome into the run, the status and the metrics
func (c *Coordinator) record(ctx context.Context, run *runState, item batchItem, res outcome, chunks int, err error) {
	switch res {
	case outcomeCanceled:
		return
	case outcomeIndexed:
		run.indexed.Add(1)
		run.chunks.Add(int32(chunks))
	case outcomeDeleted:
		run.deleted.Add(1)
	case outcomeSkipped:
		run.skipped.Add(1)
	case outcomeFailed:
		run.failed.Add(1)
		run.mu.Lock()
		run.errors = append(run.errors, fmt.Sprintf("%s: %v", item.path, err))
		run.mu.Unlock()
		c.log.Printf("indexer: %s %s failed: %v", item.kind, item.path, err)
	}

	c.metrics.recordItem(ctx, item.kind, res, chunks)
	tracked := c.meta.Len()

	c.statusMu.Lock()
	c.status.FilesProcessed++
	c.status.TrackedFiles = tracked
	switch res {
	case outcomeSkipped:
		c.status.FilesSkipped++
	case outcomeFailed:
		c.status.FilesFailed++
		c.status.LastError = fmt.Sprintf("%s: %v", item.path, err)
		c.failStreak++
		if c.failStreak >= DegradedAfter && !c.status.Degraded {
			c.status.Degraded = true
			c.log.Printf("indexer: %d consecutive failures, marking index degraded", c.failStreak)
		}
	case outcomeIndexed, outcomeDeleted:
		c.failStreak = 0
		c.status.Degraded = false
	}
	processed, total := c.status.FilesProcessed, c.status.FilesTotal
	c.statusMu.Unlock()

	if shouldLogProgress(processed, total) {
		c.log.Printf("indexer: progress %d/%d files (%.0f%%)", processed, total,
			float64(processed)/float64(total)*100)
	}
}

// shouldLogProgress is true every 100 files and at each 10% step
func shouldLogProgress(processed, total int) bool {
	if total <= 0 || processed <= 0 {
		return false
	}
	if processed%100 == 0 {
		return true
	}
	return processed*10/total != (processed-1)*10/total
}
