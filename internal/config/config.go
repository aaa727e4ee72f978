// Package config loads runtime settings from the environment.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	env "github.com/netflix/go-env"
)

// Vector store backends
const (
	StoreSQLite     = "sqlite"
	StoreOpenSearch = "opensearch"
	StoreMemory     = "memory"
)

// Config holds every tunable of the indexing engine and its collaborators
type Config struct {
	// Project
	Root              string `env:"CODEINDEX_ROOT,default=."`
	DataDir           string `env:"CODEINDEX_DATA_DIR"`
	IgnorePatternsStr string `env:"CODEINDEX_IGNORE"`
	IgnorePatterns    []string

	// Change detection and chunking
	LargeFileThreshold int64 `env:"CODEINDEX_LARGE_FILE_BYTES,default=10485760"`
	MaxContentBytes    int   `env:"CODEINDEX_MAX_CONTENT_BYTES,default=262144"`
	MaxChunkBytes      int   `env:"CODEINDEX_MAX_CHUNK_BYTES,default=4000"`

	// Coordinator
	Workers        int           `env:"CODEINDEX_WORKERS,default=4"`
	EmbedBatchSize int           `env:"CODEINDEX_EMBED_BATCH_SIZE,default=50"`
	RetryAttempts  int           `env:"CODEINDEX_RETRY_ATTEMPTS,default=3"`
	RetryDelay     time.Duration `env:"CODEINDEX_RETRY_DELAY,default=200ms"`
	FlushEvery     int           `env:"CODEINDEX_FLUSH_EVERY,default=50"`
	FlushInterval  time.Duration `env:"CODEINDEX_FLUSH_INTERVAL,default=5s"`

	// Watcher
	WatchEnabled   bool          `env:"CODEINDEX_WATCH,default=true"`
	DebounceWindow time.Duration `env:"CODEINDEX_DEBOUNCE,default=500ms"`
	WatchQueueSize int           `env:"CODEINDEX_WATCH_QUEUE,default=1024"`
	RescanInterval time.Duration `env:"CODEINDEX_RESCAN_INTERVAL,default=0s"`

	// Embedding
	EmbeddingProvider string  `env:"CODEINDEX_EMBEDDING_PROVIDER"`
	EmbeddingModel    string  `env:"CODEINDEX_EMBEDDING_MODEL"`
	JinaAPIKey        string  `env:"JINA_API_KEY"`
	OpenAIAPIKey      string  `env:"OPENAI_API_KEY"`
	EmbedCacheSize    int     `env:"CODEINDEX_EMBED_CACHE_SIZE,default=10000"`
	EmbedRateLimit    float64 `env:"CODEINDEX_EMBED_RATE_LIMIT,default=0"`
	EmbedRateBurst    int     `env:"CODEINDEX_EMBED_RATE_BURST,default=1"`

	// Vector store
	VectorStore               string        `env:"CODEINDEX_VECTOR_STORE,default=sqlite"`
	OpenSearchEndpoint        string        `env:"OPENSEARCH_ENDPOINT"`
	OpenSearchIndex           string        `env:"OPENSEARCH_INDEX,default=codeindex"`
	OpenSearchUsername        string        `env:"OPENSEARCH_USERNAME"`
	OpenSearchPassword        string        `env:"OPENSEARCH_PASSWORD"`
	OpenSearchInsecureSkipTLS bool          `env:"OPENSEARCH_INSECURE_SKIP_TLS,default=false"`
	OpenSearchRateLimit       float64       `env:"OPENSEARCH_RATE_LIMIT,default=10.0"`
	OpenSearchRateBurst       int           `env:"OPENSEARCH_RATE_BURST,default=20"`
	OpenSearchRequestTimeout  time.Duration `env:"OPENSEARCH_REQUEST_TIMEOUT,default=30s"`

	// Observability
	OTelEnabled              bool          `env:"OTEL_ENABLED,default=false"`
	OTelServiceName          string        `env:"OTEL_SERVICE_NAME,default=codeindex"`
	OTelExporterOTLPEndpoint string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelMetricExportInterval time.Duration `env:"OTEL_METRIC_EXPORT_INTERVAL,default=60s"`
}

// Load reads an optional .env file and decodes the environment into a Config
func Load() (*Config, error) {
	// A missing .env is normal; only report malformed files
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Finalize parses derived fields, resolves paths and validates the result.
// It must be called again after flags override any field.
func (c *Config) Finalize() error {
	c.IgnorePatterns = splitList(c.IgnorePatternsStr)

	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("failed to resolve root %q: %w", c.Root, err)
	}
	c.Root = root

	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".codeindex", "projects", ProjectKey(root))
	} else if !filepath.IsAbs(c.DataDir) {
		abs, err := filepath.Abs(c.DataDir)
		if err != nil {
			return fmt.Errorf("failed to resolve data dir %q: %w", c.DataDir, err)
		}
		c.DataDir = abs
	}

	if err := validateConfig(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// MetadataPath is the location of the metadata snapshot
func (c *Config) MetadataPath() string {
	return filepath.Join(c.DataDir, "metadata.json")
}

// DatabasePath is the location of the SQLite vector store
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "vectors.db")
}

// ProjectKey derives a stable directory name for a project root
func ProjectKey(root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:])[:16]
}

// validateConfig validates configuration values and adjusts them to safe ranges
func validateConfig(c *Config) error {
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("root %s: %w", c.Root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root %s is not a directory", c.Root)
	}

	c.Workers = clamp(c.Workers, 1, 32)
	c.EmbedBatchSize = clamp(c.EmbedBatchSize, 1, 100)
	c.RetryAttempts = clamp(c.RetryAttempts, 0, 10)
	c.WatchQueueSize = clamp(c.WatchQueueSize, 16, 65536)

	if c.FlushEvery < 1 {
		c.FlushEvery = 1
	}
	if c.MaxChunkBytes < 256 {
		c.MaxChunkBytes = 256
	}
	if c.MaxContentBytes < c.MaxChunkBytes {
		c.MaxContentBytes = c.MaxChunkBytes
	}
	if c.LargeFileThreshold <= 0 {
		c.LargeFileThreshold = 10 << 20
	}
	if c.DebounceWindow < 50*time.Millisecond {
		c.DebounceWindow = 50 * time.Millisecond
	}
	if c.DebounceWindow > 10*time.Second {
		c.DebounceWindow = 10 * time.Second
	}
	if c.RescanInterval < 0 {
		c.RescanInterval = 0
	}

	c.VectorStore = strings.ToLower(strings.TrimSpace(c.VectorStore))
	switch c.VectorStore {
	case StoreSQLite, StoreMemory:
	case StoreOpenSearch:
		if c.OpenSearchEndpoint == "" {
			return fmt.Errorf("OPENSEARCH_ENDPOINT is required when CODEINDEX_VECTOR_STORE=opensearch")
		}
		if !strings.HasPrefix(c.OpenSearchEndpoint, "http://") && !strings.HasPrefix(c.OpenSearchEndpoint, "https://") {
			return fmt.Errorf("OPENSEARCH_ENDPOINT must include http or https scheme")
		}
		if c.OpenSearchIndex == "" {
			return fmt.Errorf("OPENSEARCH_INDEX cannot be empty")
		}
	default:
		return fmt.Errorf("unknown vector store %q", c.VectorStore)
	}

	if c.OTelEnabled && c.OTelExporterOTLPEndpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED=true")
	}

	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
