package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"
	"golang.org/x/time/rate"
)

// OpenSearchConfig configures an OpenSearchStore
type OpenSearchConfig struct {
	Endpoint        string
	Index           string
	Username        string
	Password        string
	InsecureSkipTLS bool
	RateLimit       float64
	RateBurst       int
	RequestTimeout  time.Duration
	Dimension       int
}

// OpenSearchStore keeps chunk vectors in an OpenSearch k-NN index. Scores
// are converted back to cosine similarity.
type OpenSearchStore struct {
	client      *opensearchapi.Client
	index       string
	dimension   int
	rateLimiter *rate.Limiter
}

// osDocument is the indexed document shape
type osDocument struct {
	Path       string    `json:"path"`
	FileName   string    `json:"file_name"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	StartByte  int       `json:"start_byte"`
	EndByte    int       `json:"end_byte"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	FileType   string    `json:"file_type"`
	Vector     []float32 `json:"vector"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewOpenSearchStore connects to OpenSearch and creates the index when missing
func NewOpenSearchStore(ctx context.Context, cfg OpenSearchConfig) (*OpenSearchStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("index is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive")
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10.0
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipTLS,
		},
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
	}

	client, err := opensearchapi.NewClient(opensearchapi.Config{
		Client: opensearch.Config{
			Addresses: []string{cfg.Endpoint},
			Username:  cfg.Username,
			Password:  cfg.Password,
			Transport: transport,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSearch client: %w", err)
	}

	s := &OpenSearchStore{
		client:      client,
		index:       cfg.Index,
		dimension:   cfg.Dimension,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}

	if err := s.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *OpenSearchStore) wait(ctx context.Context) error {
	if err := s.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	return nil
}

func (s *OpenSearchStore) ensureIndex(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	resp, err := s.client.Indices.Exists(ctx, opensearchapi.IndicesExistsReq{Indices: []string{s.index}})
	if resp != nil && resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to check index %s: %w", s.index, err)
	}

	mapping := map[string]interface{}{
		"settings": map[string]interface{}{
			"index": map[string]interface{}{
				"knn": true,
			},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"path":        map[string]interface{}{"type": "keyword"},
				"file_name":   map[string]interface{}{"type": "keyword"},
				"file_type":   map[string]interface{}{"type": "keyword"},
				"chunk_index": map[string]interface{}{"type": "integer"},
				"content":     map[string]interface{}{"type": "text"},
				"start_byte":  map[string]interface{}{"type": "integer"},
				"end_byte":    map[string]interface{}{"type": "integer"},
				"start_line":  map[string]interface{}{"type": "integer"},
				"end_line":    map[string]interface{}{"type": "integer"},
				"updated_at":  map[string]interface{}{"type": "date"},
				"vector": map[string]interface{}{
					"type":      "knn_vector",
					"dimension": s.dimension,
					"method": map[string]interface{}{
						"engine":     "lucene",
						"space_type": "cosinesimil",
						"name":       "hnsw",
						"parameters": map[string]interface{}{},
					},
				},
			},
		},
	}

	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("failed to marshal index mapping: %w", err)
	}

	if err := s.wait(ctx); err != nil {
		return err
	}
	if _, err := s.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: s.index,
		Body:  bytes.NewReader(body),
	}); err != nil {
		return fmt.Errorf("failed to create index %s: %w", s.index, err)
	}
	return nil
}

func toDocument(e Entry) osDocument {
	m := e.Metadata
	return osDocument{
		Path:       m.Path,
		FileName:   path.Base(m.Path),
		ChunkIndex: m.ChunkIndex,
		Content:    m.Content,
		StartByte:  m.StartByte,
		EndByte:    m.EndByte,
		StartLine:  m.StartLine,
		EndLine:    m.EndLine,
		FileType:   m.FileType,
		Vector:     e.Vector,
		UpdatedAt:  time.Now().UTC(),
	}
}

// Upsert indexes one document under id
func (s *OpenSearchStore) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	e := Entry{ID: id, Vector: vector, Metadata: meta}
	if err := e.Validate(); err != nil {
		return err
	}
	if len(vector) != s.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	body, err := json.Marshal(toDocument(e))
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	if err := s.wait(ctx); err != nil {
		return err
	}
	if _, err := s.client.Index(ctx, opensearchapi.IndexReq{
		Index:      s.index,
		DocumentID: id,
		Body:       bytes.NewReader(body),
	}); err != nil {
		return fmt.Errorf("failed to index %s: %w", id, err)
	}
	return nil
}

// DeleteByPath removes every document of p
func (s *OpenSearchStore) DeleteByPath(ctx context.Context, p string) (int, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"path": p},
		},
	})
	if err != nil {
		return 0, err
	}

	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	resp, err := s.client.Document.DeleteByQuery(ctx, opensearchapi.DocumentDeleteByQueryReq{
		Indices: []string{s.index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents of %s: %w", p, err)
	}

	if err := s.refresh(ctx); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// ReplacePath deletes the documents of p and bulk-indexes entries. The two
// steps are not atomic; a failure between them leaves p with no documents.
func (s *OpenSearchStore) ReplacePath(ctx context.Context, p string, entries []Entry) error {
	var buf bytes.Buffer
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return err
		}
		if e.Metadata.Path != p {
			return fmt.Errorf("%w: entry %s belongs to %s, not %s", ErrInvalidEntry, e.ID, e.Metadata.Path, p)
		}
		if len(e.Vector) != s.dimension {
			return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(e.Vector), s.dimension)
		}

		action, err := json.Marshal(map[string]interface{}{
			"index": map[string]interface{}{"_index": s.index, "_id": e.ID},
		})
		if err != nil {
			return err
		}
		doc, err := json.Marshal(toDocument(e))
		if err != nil {
			return err
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}

	if _, err := s.DeleteByPath(ctx, p); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	if err := s.wait(ctx); err != nil {
		return err
	}
	resp, err := s.client.Bulk(ctx, opensearchapi.BulkReq{Body: &buf})
	if err != nil {
		return fmt.Errorf("failed to bulk index %s: %w", p, err)
	}
	if resp.Errors {
		return fmt.Errorf("bulk index of %s reported item errors", p)
	}
	return s.refresh(ctx)
}

func (s *OpenSearchStore) refresh(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if _, err := s.client.Indices.Refresh(ctx, &opensearchapi.IndicesRefreshReq{Indices: []string{s.index}}); err != nil {
		return fmt.Errorf("failed to refresh index %s: %w", s.index, err)
	}
	return nil
}

// buildKNNQuery builds the search body for vector with filter conditions
func (s *OpenSearchStore) buildKNNQuery(vector []float32, limit int, filter *Filter) map[string]interface{} {
	knn := map[string]interface{}{
		"vector": vector,
		"k":      limit,
	}

	var conditions []map[string]interface{}
	if filter != nil {
		if filter.PathPrefix != "" {
			conditions = append(conditions, map[string]interface{}{
				"prefix": map[string]interface{}{"path": strings.TrimPrefix(filter.PathPrefix, "./")},
			})
		}
		if len(filter.FileTypes) > 0 {
			types := make([]string, len(filter.FileTypes))
			for i, ft := range filter.FileTypes {
				types[i] = strings.ToLower(strings.TrimPrefix(ft, "."))
			}
			conditions = append(conditions, map[string]interface{}{
				"terms": map[string]interface{}{"file_type": types},
			})
		}
		if filter.FilePattern != "" {
			field := "file_name"
			if strings.Contains(filter.FilePattern, "/") {
				field = "path"
			}
			conditions = append(conditions, map[string]interface{}{
				"wildcard": map[string]interface{}{field: filter.FilePattern},
			})
		}
	}
	if len(conditions) > 0 {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": conditions},
		}
	}

	return map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"knn": map[string]interface{}{"vector": knn},
		},
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
}

// Query runs a k-NN search and returns hits with cosine similarity scores
func (s *OpenSearchStore) Query(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Result, error) {
	if limit <= 0 {
		return []Result{}, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), s.dimension)
	}

	body, err := json.Marshal(s.buildKNNQuery(vector, limit, filter))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search body: %w", err)
	}

	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{s.index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var doc osDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode hit %s: %w", hit.ID, err)
		}

		// cosinesimil scores are (1 + cos) / 2
		score := 2*float64(hit.Score) - 1
		if filter != nil && filter.MinScore > 0 && score < filter.MinScore {
			continue
		}

		results = append(results, Result{
			ID:    hit.ID,
			Score: score,
			Metadata: Metadata{
				Path:       doc.Path,
				ChunkIndex: doc.ChunkIndex,
				StartByte:  doc.StartByte,
				EndByte:    doc.EndByte,
				StartLine:  doc.StartLine,
				EndLine:    doc.EndLine,
				FileType:   doc.FileType,
				Content:    doc.Content,
			},
		})
	}
	return results, nil
}

func (s *OpenSearchStore) count(ctx context.Context, query map[string]interface{}) (int, error) {
	body, err := json.Marshal(map[string]interface{}{
		"size":             0,
		"track_total_hits": true,
		"query":            query,
	})
	if err != nil {
		return 0, err
	}

	if err := s.wait(ctx); err != nil {
		return 0, err
	}
	resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{s.index},
		Body:    bytes.NewReader(body),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return resp.Hits.Total.Value, nil
}

// CountByPath returns the number of documents of p
func (s *OpenSearchStore) CountByPath(ctx context.Context, p string) (int, error) {
	return s.count(ctx, map[string]interface{}{
		"term": map[string]interface{}{"path": p},
	})
}

// Count returns the number of documents in the index
func (s *OpenSearchStore) Count(ctx context.Context) (int, error) {
	return s.count(ctx, map[string]interface{}{"match_all": map[string]interface{}{}})
}

// pathsPageSize is the composite aggregation page used by Paths
const pathsPageSize = 1000

// Paths returns every distinct path in the index, paging a composite
// aggregation over the keyword path field
func (s *OpenSearchStore) Paths(ctx context.Context) ([]string, error) {
	var paths []string
	var after map[string]interface{}
	for {
		composite := map[string]interface{}{
			"size": pathsPageSize,
			"sources": []interface{}{
				map[string]interface{}{"path": map[string]interface{}{"terms": map[string]interface{}{"field": "path"}}},
			},
		}
		if after != nil {
			composite["after"] = after
		}
		body, err := json.Marshal(map[string]interface{}{
			"size": 0,
			"aggs": map[string]interface{}{"paths": map[string]interface{}{"composite": composite}},
		})
		if err != nil {
			return nil, err
		}

		if err := s.wait(ctx); err != nil {
			return nil, err
		}
		resp, err := s.client.Search(ctx, &opensearchapi.SearchReq{
			Indices: []string{s.index},
			Body:    bytes.NewReader(body),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list paths: %w", err)
		}

		var aggs struct {
			Paths struct {
				AfterKey map[string]interface{} `json:"after_key"`
				Buckets  []struct {
					Key struct {
						Path string `json:"path"`
					} `json:"key"`
				} `json:"buckets"`
			} `json:"paths"`
		}
		if len(resp.Aggregations) > 0 {
			if err := json.Unmarshal(resp.Aggregations, &aggs); err != nil {
				return nil, fmt.Errorf("failed to decode path aggregation: %w", err)
			}
		}
		for _, b := range aggs.Paths.Buckets {
			paths = append(paths, b.Key.Path)
		}
		if len(aggs.Paths.Buckets) < pathsPageSize || aggs.Paths.AfterKey == nil {
			break
		}
		after = aggs.Paths.AfterKey
	}
	sort.Strings(paths)
	return paths, nil
}

// Close is a no-op; the HTTP client holds no resources that need release
func (s *OpenSearchStore) Close() error {
	return nil
}
