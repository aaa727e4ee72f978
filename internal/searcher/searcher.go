package searcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/codeindex-mcp/internal/embedder"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

var (
	// ErrEmptyQuery is returned for a blank query string
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNotInitialized is returned when the searcher has no embedder or store
	ErrNotInitialized = errors.New("searcher not initialized")
)

// Limits and defaults
const (
	DefaultLimit     = 10
	MaxLimit         = 100
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 10 * time.Minute
)

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query    string
	Limit    int
	Filter   *storage.Filter
	UseCache bool          // Whether to use the query cache
	CacheTTL time.Duration // Lifetime of a cached response
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	Duration     time.Duration
	CacheHit     bool
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher embeds queries and ranks stored chunks by similarity
type Searcher struct {
	store    storage.VectorStore
	embedder embedder.Embedder
	tracer   trace.Tracer

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex

	// generation changes on every invalidation; a response computed under
	// an older generation is not cached
	generation atomic.Uint64

	group singleflight.Group
}

// NewSearcher creates a Searcher with a cache of cacheSize responses
func NewSearcher(store storage.VectorStore, emb embedder.Embedder, cacheSize int) *Searcher {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[[32]byte, *cacheEntry](cacheSize)
	if err != nil {
		// This should never happen with a positive size
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}

	return &Searcher{
		store:    store,
		embedder: emb,
		tracer:   otel.Tracer("codeindex/searcher"),
		cache:    cache,
	}
}

// Search embeds the query and returns the best matching chunks. Identical
// concurrent requests share one embedding call and one store query.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if s.embedder == nil || s.store == nil {
		return nil, ErrNotInitialized
	}
	if err := validateRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "searcher.search", trace.WithAttributes(
		attribute.Int("limit", req.Limit),
		attribute.Bool("use_cache", req.UseCache),
	))
	defer span.End()

	hash := computeQueryHash(req)
	if req.UseCache {
		if cached, ok := s.checkCache(hash); ok {
			cached.CacheHit = true
			cached.Duration = time.Since(startTime)
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return cached, nil
		}
	}

	gen := s.generation.Load()
	v, err, _ := s.group.Do(fmt.Sprintf("%x", hash), func() (interface{}, error) {
		return s.vectorSearch(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	response := copySearchResponse(v.(*SearchResponse))
	response.Duration = time.Since(startTime)
	span.SetAttributes(attribute.Int("results", response.TotalResults))

	if req.UseCache && len(response.Results) > 0 {
		s.storeInCache(hash, gen, req.CacheTTL, response)
	}

	return response, nil
}

// vectorSearch performs the embedding call and the store query
func (s *Searcher) vectorSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, embedder.EmbeddingRequest{Text: req.Query})
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}
	if len(embedding.Vector) != s.embedder.Dimension() {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, want %d",
			embedder.ErrDimensionMismatch, len(embedding.Vector), s.embedder.Dimension())
	}

	matches, err := s.store.Query(ctx, embedding.Vector, req.Limit, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	results := toSearchResults(matches)
	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
	}, nil
}

// toSearchResults ranks store matches from 1
func toSearchResults(matches []storage.Result) []types.SearchResult {
	sortResults(matches)
	results := make([]types.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = types.SearchResult{
			ID:         m.ID,
			Rank:       i + 1,
			Score:      m.Score,
			Path:       m.Metadata.Path,
			ChunkIndex: m.Metadata.ChunkIndex,
			StartLine:  m.Metadata.StartLine,
			EndLine:    m.Metadata.EndLine,
			StartByte:  m.Metadata.StartByte,
			EndByte:    m.Metadata.EndByte,
			Content:    m.Metadata.Content,
		}
	}
	return results
}

// validateRequest ensures the search request is valid and applies defaults
func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return ErrEmptyQuery
	}

	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}

	if req.Filter != nil {
		f := *req.Filter
		if f.MinScore < 0 || f.MinScore > 1 {
			return fmt.Errorf("min score %.2f outside [0, 1]", f.MinScore)
		}
		f.PathPrefix = types.NormalizePath(f.PathPrefix)
		if f.PathPrefix == "." {
			f.PathPrefix = ""
		}
		req.Filter = &f
	}

	if req.CacheTTL <= 0 {
		req.CacheTTL = DefaultCacheTTL
	}

	return nil
}

// checkCache looks up a cached response and drops it once expired
func (s *Searcher) checkCache(hash [32]byte) (*SearchResponse, bool) {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(hash)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(hash)
		s.cacheMu.Unlock()
		return nil, false
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()

	return response, true
}

// storeInCache saves a response unless the cache was invalidated since gen
func (s *Searcher) storeInCache(hash [32]byte, gen uint64, ttl time.Duration, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(ttl),
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generation.Load() != gen {
		return
	}
	s.cache.Add(hash, entry)
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	copy(dst.Results, src.Results)
	return &dst
}

// computeQueryHash computes a unique hash for a search request
func computeQueryHash(req SearchRequest) [32]byte {
	var data strings.Builder
	data.WriteString(req.Query)
	data.WriteString("|")
	data.WriteString(fmt.Sprintf("%d", req.Limit))

	if req.Filter != nil {
		fileTypes := make([]string, len(req.Filter.FileTypes))
		for i, ft := range req.Filter.FileTypes {
			fileTypes[i] = strings.ToLower(strings.TrimPrefix(ft, "."))
		}
		sort.Strings(fileTypes)

		data.WriteString("|filters:")
		data.WriteString(req.Filter.PathPrefix)
		data.WriteString("|")
		data.WriteString(req.Filter.FilePattern)
		data.WriteString("|")
		data.WriteString(strings.Join(fileTypes, ","))
		data.WriteString("|")
		data.WriteString(fmt.Sprintf("%.4f", req.Filter.MinScore))
	}

	return sha256.Sum256([]byte(data.String()))
}

// sortResults orders by score descending, then path and chunk index
func sortResults(results []storage.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Metadata.Path != b.Metadata.Path {
			return a.Metadata.Path < b.Metadata.Path
		}
		return a.Metadata.ChunkIndex < b.Metadata.ChunkIndex
	})
}

// InvalidateCache drops every cached response. The coordinator calls it
// after each indexing run.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.generation.Add(1)
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// Resize changes the cache capacity and returns the number of evicted
// responses
func (s *Searcher) Resize(maxEntries int) int {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache.Resize(maxEntries)
}
