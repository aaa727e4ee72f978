package embedder

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dshills/codeindex-mcp/internal/config"
	"github.com/dshills/codeindex-mcp/internal/retry"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	Model     string
	CacheSize int

	// RateLimit is the sustained API request rate per second (0 disables)
	RateLimit float64
	RateBurst int

	// Retry overrides the default backoff for HTTP providers
	Retry *retry.Config
}

// NewFromConfig creates an embedder from the application configuration
func NewFromConfig(cfg *config.Config) (Embedder, error) {
	provider := DetectProvider(cfg.EmbeddingProvider, cfg.JinaAPIKey, cfg.OpenAIAPIKey)

	var apiKey string
	switch provider {
	case ProviderJina:
		apiKey = cfg.JinaAPIKey
	case ProviderOpenAI:
		apiKey = cfg.OpenAIAPIKey
	}

	rc := retry.Config{
		MaxAttempts: cfg.RetryAttempts + 1,
		BaseDelay:   cfg.RetryDelay,
		MaxDelay:    time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier:  BackoffMultiplier,
	}

	return New(Config{
		Provider:  provider,
		APIKey:    apiKey,
		Model:     cfg.EmbeddingModel,
		CacheSize: cfg.EmbedCacheSize,
		RateLimit: cfg.EmbedRateLimit,
		RateBurst: cfg.EmbedRateBurst,
		Retry:     &rc,
	})
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	opts := ProviderOptions{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Cache:   cache,
		Limiter: limiter,
		Retry:   cfg.Retry,
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderJina:
		return NewJinaProvider(opts)
	case ProviderOpenAI:
		return NewOpenAIProvider(opts)
	case ProviderLocal:
		return NewLocalProvider(cache)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used for the given
// explicit selection and available API keys
func DetectProvider(explicit, jinaKey, openaiKey string) string {
	if explicit != "" {
		return strings.ToLower(strings.TrimSpace(explicit))
	}
	if jinaKey != "" {
		return ProviderJina
	}
	if openaiKey != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
