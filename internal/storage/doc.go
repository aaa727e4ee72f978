// Package storage holds chunk vectors for similarity search.
//
// Every chunk vector is keyed by a deterministic id (see ChunkID) and carries
// the path it came from, so a file's vectors can be counted, replaced or
// dropped as one group. Three backends implement VectorStore:
//
//   - SQLiteStore: a single database file under the data directory
//   - OpenSearchStore: an OpenSearch index with a knn_vector field
//   - MemoryStore: process memory, for tests and throwaway sessions
//
// Open selects one from the loaded configuration.
//
// # Replacing a File
//
// Reindexing a file is delete-then-insert. ReplacePath uses the backend's
// own implementation when it has one (SQLite runs it in a transaction)
// and falls back to DeleteByPath followed by Upsert otherwise:
//
//	entries := make([]storage.Entry, len(chunks))
//	for i, c := range chunks {
//	    entries[i] = storage.Entry{
//	        ID:       storage.ChunkID(c.Path, c.Index),
//	        Vector:   vectors[i],
//	        Metadata: storage.Metadata{Path: c.Path, ChunkIndex: c.Index, Content: c.Content},
//	    }
//	}
//	if err := storage.ReplacePath(ctx, store, path, entries); err != nil {
//	    return err
//	}
//
// # Querying
//
// Query returns hits ordered by cosine similarity, best first, with ties
// broken by path and chunk index. A Filter narrows the candidates:
//
//	results, err := store.Query(ctx, vec, 10, &storage.Filter{
//	    PathPrefix: "internal/",
//	    FileTypes:  []string{"go"},
//	    MinScore:   0.3,
//	})
//
// # Schema
//
// The SQLite schema is versioned with semantic versions and upgraded by
// ApplyMigrations when the store opens. RollbackMigration undoes the most
// recent migration.
//
// # Build Tags
//
// CGO build (sqlite_vec tag) uses github.com/mattn/go-sqlite3 with the
// sqlite-vec extension, so cosine distance is computed in SQL:
//
//	CGO_ENABLED=1 go build -tags "sqlite_vec" ./...
//
// The default build uses modernc.org/sqlite and scores candidates in Go:
//
//	CGO_ENABLED=0 go build ./...
package storage
