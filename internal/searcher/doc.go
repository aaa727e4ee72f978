// Package searcher answers natural language queries over the vector index.
//
// A query is embedded with the same provider that embedded the indexed
// chunks and matched against the vector store by cosine similarity.
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store, emb, 1000)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query: "where are retries configured",
//	    Limit: 10,
//	    Filter: &storage.Filter{
//	        PathPrefix: "internal",
//	        FileTypes:  []string{"go"},
//	        MinScore:   0.3,
//	    },
//	    UseCache: true,
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %.2f %s:%d-%d\n", r.Rank, r.Score, r.Path, r.StartLine, r.EndLine)
//	}
//
// # Filtering
//
//   - PathPrefix: a directory or file path, matched on path segments
//   - FilePattern: a glob; without a slash it matches the base name
//   - FileTypes: extensions without the dot
//   - MinScore: minimum cosine similarity in [0, 1]
//
// # Caching
//
// Responses are kept in an LRU cache keyed by the query, the limit and the
// filter, and expire after CacheTTL (10 minutes by default). The cache is
// purged after every indexing run; a search that started before the purge
// does not repopulate it. Identical concurrent searches are collapsed into
// one embedding call with singleflight.
package searcher
