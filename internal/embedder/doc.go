// Package embedder turns chunk text into vector embeddings.
//
// Three providers implement the Embedder interface: Jina AI and OpenAI over
// HTTP, and a deterministic local provider that needs no network and is used
// for offline operation and tests.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: embedder.ProviderLocal})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: []string{chunk.EmbeddingText()},
//	})
//
// # Provider Selection
//
// NewFromConfig picks a provider from the loaded configuration:
//
//  1. CODEINDEX_EMBEDDING_PROVIDER when set (jina, openai, local)
//  2. Jina AI when JINA_API_KEY is set
//  3. OpenAI when OPENAI_API_KEY is set
//  4. The local provider otherwise
//
// # Errors and Retries
//
// Remote calls are retried with exponential backoff through internal/retry.
// Transport failures, timeouts and HTTP 429/5xx responses are retryable; any
// other HTTP status surfaces as a non-retryable *APIError. Exhausted retries
// wrap ErrProviderFailed, so callers can match with errors.Is and inspect the
// status with errors.As.
//
// # Rate Limiting
//
// HTTP providers accept an optional *rate.Limiter. Each API call, including
// each retry, waits for a token first.
//
// # Caching
//
// A Cache (LRU keyed by the SHA-256 of the text) can be shared by providers.
// Cached vectors are deep-copied on read so callers may mutate them.
//
// # Thread Safety
//
// All providers and the cache are safe for concurrent use.
package embedder
