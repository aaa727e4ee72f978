package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/dshills/codeindex-mcp/internal/config"
)

// Open creates the vector store selected by cfg.VectorStore. dimension is
// the embedding dimension, required by backends that declare a mapping.
func Open(ctx context.Context, cfg *config.Config, dimension int) (VectorStore, error) {
	switch cfg.VectorStore {
	case config.StoreMemory:
		return NewMemoryStore(), nil

	case config.StoreOpenSearch:
		return NewOpenSearchStore(ctx, OpenSearchConfig{
			Endpoint:        cfg.OpenSearchEndpoint,
			Index:           cfg.OpenSearchIndex,
			Username:        cfg.OpenSearchUsername,
			Password:        cfg.OpenSearchPassword,
			InsecureSkipTLS: cfg.OpenSearchInsecureSkipTLS,
			RateLimit:       cfg.OpenSearchRateLimit,
			RateBurst:       cfg.OpenSearchRateBurst,
			RequestTimeout:  cfg.OpenSearchRequestTimeout,
			Dimension:       dimension,
		})

	case config.StoreSQLite, "":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return NewSQLiteStore(cfg.DatabasePath())

	default:
		return nil, fmt.Errorf("unknown vector store %q", cfg.VectorStore)
	}
}
