package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrDimensionMismatch is returned when a vector does not match the store
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidEntry is returned for entries missing an id, path or vector
	ErrInvalidEntry = errors.New("invalid vector entry")
	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("vector store is closed")
)

// VectorStore holds chunk vectors keyed by id and grouped by file path
type VectorStore interface {
	// Upsert inserts or replaces the vector with the given id
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error

	// DeleteByPath removes every vector of path and returns how many were removed
	DeleteByPath(ctx context.Context, path string) (int, error)

	// Query returns up to limit vectors most similar to vector, best first
	Query(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Result, error)

	// CountByPath returns the number of vectors stored for path
	CountByPath(ctx context.Context, path string) (int, error)

	// Count returns the total number of vectors
	Count(ctx context.Context) (int, error)

	// Paths returns every distinct path holding at least one vector, sorted
	Paths(ctx context.Context) ([]string, error)

	// Close releases the store
	Close() error
}

// PathReplacer is implemented by stores that can swap a path's entries
// atomically
type PathReplacer interface {
	ReplacePath(ctx context.Context, path string, entries []Entry) error
}

// Metadata is stored alongside each vector
type Metadata struct {
	Path       string
	ChunkIndex int
	StartByte  int
	EndByte    int
	StartLine  int
	EndLine    int
	FileType   string
	Content    string
}

// Entry is one vector with its id and metadata
type Entry struct {
	ID       string
	Vector   []float32
	Metadata Metadata
}

// Validate checks the entry can be written
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidEntry)
	}
	if e.Metadata.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidEntry)
	}
	if len(e.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrInvalidEntry)
	}
	return nil
}

// Filter narrows a Query
type Filter struct {
	PathPrefix  string   // Directory or path prefix, slash separated
	FilePattern string   // Glob; without a slash it matches the base name
	FileTypes   []string // Extensions without dot, as types.FileTypeOf returns
	MinScore    float64  // Minimum cosine similarity
}

// Matches reports whether meta passes the non-score conditions of f
func (f *Filter) Matches(meta Metadata) bool {
	if f == nil {
		return true
	}
	if f.PathPrefix != "" && !strings.HasPrefix(meta.Path, strings.TrimPrefix(f.PathPrefix, "./")) {
		return false
	}
	if f.FilePattern != "" {
		target := meta.Path
		if !strings.Contains(f.FilePattern, "/") {
			target = path.Base(meta.Path)
		}
		if ok, err := path.Match(f.FilePattern, target); err != nil || !ok {
			return false
		}
	}
	if len(f.FileTypes) > 0 {
		found := false
		for _, ft := range f.FileTypes {
			if strings.EqualFold(strings.TrimPrefix(ft, "."), meta.FileType) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Result is a Query hit
type Result struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// chunkNamespace scopes deterministic chunk ids
var chunkNamespace = uuid.MustParse("6f1f5d38-4a4e-4b55-9a53-0c5c1c7e2a10")

// ChunkID returns the deterministic id of chunk index of path
func ChunkID(path string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", path, index))).String()
}

// ReplacePath swaps the entries of path using the store's atomic
// implementation when available, otherwise delete-then-upsert
func ReplacePath(ctx context.Context, store VectorStore, path string, entries []Entry) error {
	if r, ok := store.(PathReplacer); ok {
		return r.ReplacePath(ctx, path, entries)
	}

	if _, err := store.DeleteByPath(ctx, path); err != nil {
		return fmt.Errorf("failed to delete entries of %s: %w", path, err)
	}
	for _, e := range entries {
		if err := store.Upsert(ctx, e.ID, e.Vector, e.Metadata); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", e.ID, err)
		}
	}
	return nil
}

// sqlPrefixPattern converts a path prefix into a GLOB pattern with the
// metacharacters escaped
func sqlPrefixPattern(prefix string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(prefix, "./") {
		switch r {
		case '*', '?', '[':
			b.WriteRune('[')
			b.WriteRune(r)
			b.WriteRune(']')
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune('*')
	return b.String()
}
