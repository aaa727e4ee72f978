package searcher

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/storage"
)

func setupSearchBenchmark(b *testing.B, chunks int) *Searcher {
	b.Helper()
	ctx := context.Background()
	emb, err := embedder.NewLocalProvider(embedder.NewCache(100))
	if err != nil {
		b.Fatal(err)
	}

	store := storage.NewMemoryStore()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < chunks; i++ {
		vector := make([]float32, emb.Dimension())
		for j := range vector {
			vector[j] = rng.Float32()*2 - 1
		}
		path := fmt.Sprintf("pkg%d/file%d.go", i%20, i/4)
		meta := storage.Metadata{Path: path, ChunkIndex: i % 4, Content: "chunk", FileType: "go"}
		if err := store.Upsert(ctx, storage.ChunkID(path, i%4), vector, meta); err != nil {
			b.Fatal(err)
		}
	}
	return NewSearcher(store, emb, DefaultCacheSize)
}

func BenchmarkSearch(b *testing.B) {
	s := setupSearchBenchmark(b, 2000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, SearchRequest{Query: fmt.Sprintf("query %d", i), Limit: 10}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkSearchCached(b *testing.B) {
	s := setupSearchBenchmark(b, 2000)
	ctx := context.Background()
	req := SearchRequest{Query: "retry configuration", Limit: 10, UseCache: true}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Search(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkComputeQueryHash(b *testing.B) {
	req := SearchRequest{
		Query:  "where are retries configured",
		Limit:  10,
		Filter: &storage.Filter{PathPrefix: "internal", FileTypes: []string{"go", "md"}, MinScore: 0.3},
	}
	for i := 0; i < b.N; i++ {
		_ = computeQueryHash(req)
	}
}
