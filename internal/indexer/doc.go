// Package indexer keeps the vector index in step with the source tree.
//
// A Coordinator receives work items (path plus added, modified or deleted)
// from two producers: a diff of the tree against the metadata store, and
// the live watcher. Both feed the same queue, so there is one pipeline and
// one consistency model.
//
// # Queue and Drain
//
// Items are keyed by path. Submitting a path that is already queued keeps
// its position and replaces its kind, so a burst of edits to one file is
// processed once. A single drain loop empties the queue batch by batch;
// each batch runs on a bounded errgroup, and because a batch holds each
// path once, a path is never processed by two workers at the same time.
// Items arriving during a drain land in the queue and are picked up by the
// next batch of the same drain. The status reports IsRunning until the
// queue is empty.
//
//	coord, err := indexer.New(det, chk, emb, store, meta, indexer.Options{Workers: 4})
//	if err != nil {
//	    return err
//	}
//	defer coord.Close()
//
//	summary, err := coord.Reindex(ctx, false)
//	fmt.Printf("%d indexed, %d deleted in %v\n", summary.Indexed, summary.Deleted, summary.Duration)
//
// # Per-Item Processing
//
// Deleted: the path's vectors are removed and its record dropped. A deleted
// directory expands to every tracked path beneath it.
//
// Added or Modified: the file is fingerprinted, chunked and embedded, its
// vectors are replaced (delete-then-insert, in one transaction when the
// store supports it) and only then is the record written. A crash between
// steps leaves a record that disagrees with the disk, so the next diff
// reprocesses the file.
//
// Unreadable and vanished files are skipped. Embedding and store failures
// are retried with backoff, then counted as failed; after DegradedAfter
// consecutive failures the status reports Degraded.
//
// # Reindex Triggers
//
// TriggerReindex computes its diff in the background while holding a
// non-blocking scan lock; a trigger that arrives while another diff is
// being computed is refused. A full reindex also reprocesses every tracked
// file whose fingerprint did not change.
package indexer
