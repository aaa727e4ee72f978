package embedder

import (
	"context"
	"fmt"
	"testing"
)

func BenchmarkComputeHash(b *testing.B) {
	texts := []string{
		"short",
		"this is a longer text that represents a typical chunk that might be embedded for semantic search in a codebase",
	}

	for _, text := range texts {
		b.Run(fmt.Sprintf("len=%d", len(text)), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = ComputeHash(text)
			}
		})
	}
}

func BenchmarkLocalProvider(b *testing.B) {
	ctx := context.Background()
	p, _ := NewLocalProvider(nil)
	texts := make([]string, DefaultBatchSize)
	for i := range texts {
		texts[i] = fmt.Sprintf("func handler%d(w http.ResponseWriter, r *http.Request) { serve(w, r) }", i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: texts}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkConcurrentCache(b *testing.B) {
	cache := NewCache(1000)
	emb := &Embedding{Vector: make([]float32, LocalDimension)}

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			key := fmt.Sprintf("k-%d", i%2000)
			if _, ok := cache.Get(key); !ok {
				cache.Set(key, emb)
			}
			i++
		}
	})
}
