// Package metastore persists the per-file state that lets the indexer decide
// which files need to be embedded again.
//
// # Snapshot Format
//
// The store is a single JSON document per project:
//
//	{
//	  "version": 1,
//	  "root": "/abs/project",
//	  "embedding_model": "jina-embeddings-v3",
//	  "dimension": 1024,
//	  "updated_at": "...",
//	  "files": {"cmd/main.go": {...FileRecord...}}
//	}
//
// # Durability
//
// Mutations are applied in memory and flushed every FlushEvery mutations or
// FlushInterval, whichever comes first, and always on Flush and Close. A flush
// writes a temp file in the same directory and renames it over the snapshot,
// so a crash leaves either the previous or the new snapshot on disk.
//
// A snapshot that is missing or cannot be decoded opens as an empty store.
// The next diff then reports every file as Added, which rebuilds the index.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are serialized by a mutex.
package metastore
