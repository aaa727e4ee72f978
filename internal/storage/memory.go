package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore used in tests and with
// CODEINDEX_VECTOR_STORE=memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	closed  bool
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (m *MemoryStore) Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error {
	e := Entry{ID: id, Vector: copyVector(vector), Metadata: meta}
	if err := e.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.entries[id] = e
	return nil
}

func (m *MemoryStore) DeleteByPath(ctx context.Context, path string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.deleteLocked(path), nil
}

// ReplacePath swaps the entries of path under one lock
func (m *MemoryStore) ReplacePath(ctx context.Context, path string, entries []Entry) error {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
		if entries[i].Metadata.Path != path {
			return fmt.Errorf("%w: entry %s belongs to %s, not %s", ErrInvalidEntry, entries[i].ID, entries[i].Metadata.Path, path)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.deleteLocked(path)
	for _, e := range entries {
		e.Vector = copyVector(e.Vector)
		m.entries[e.ID] = e
	}
	return nil
}

func (m *MemoryStore) deleteLocked(path string) int {
	n := 0
	for id, e := range m.entries {
		if e.Metadata.Path == path {
			delete(m.entries, id)
			n++
		}
	}
	return n
}

func (m *MemoryStore) Query(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return []Result{}, nil
	}

	candidates := make([]Result, 0, len(m.entries))
	for _, e := range m.entries {
		if len(e.Vector) != len(vector) || !filter.Matches(e.Metadata) {
			continue
		}
		score := cosineSimilarity(vector, e.Vector)
		if filter != nil && filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		candidates = append(candidates, Result{ID: e.ID, Score: score, Metadata: e.Metadata})
	}

	sortCandidates(candidates)
	return topResults(candidates, limit), nil
}

func (m *MemoryStore) CountByPath(ctx context.Context, path string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.Metadata.Path == path {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}

func (m *MemoryStore) Paths(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	seen := make(map[string]struct{})
	paths := make([]string, 0)
	for _, e := range m.entries {
		if _, ok := seen[e.Metadata.Path]; ok {
			continue
		}
		seen[e.Metadata.Path] = struct{}{}
		paths = append(paths, e.Metadata.Path)
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
