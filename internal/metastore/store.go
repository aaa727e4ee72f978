package metastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

// SnapshotVersion is the on-disk format version written by Flush
const SnapshotVersion = 1

var (
	// ErrClosed is returned by mutations after Close
	ErrClosed = errors.New("metadata store is closed")
)

// Options configures a Store
type Options struct {
	// FlushEvery triggers a flush after this many mutations (0 disables)
	FlushEvery int

	// FlushInterval triggers a flush when the oldest unflushed mutation is
	// older than this (0 disables)
	FlushInterval time.Duration

	// Root is recorded in the snapshot for diagnostics
	Root string

	Logger *log.Logger
}

type snapshot struct {
	Version        int                         `json:"version"`
	Root           string                      `json:"root,omitempty"`
	EmbeddingModel string                      `json:"embedding_model,omitempty"`
	Dimension      int                         `json:"dimension,omitempty"`
	UpdatedAt      time.Time                   `json:"updated_at"`
	Files          map[string]types.FileRecord `json:"files"`
}

// Store is the file-backed metadata store
type Store struct {
	path string
	opts Options
	log  *log.Logger

	mu         sync.Mutex
	files      map[string]types.FileRecord
	model      string
	dimension  int
	dirty      int
	dirtySince time.Time
	closed     bool
}

// Open loads the snapshot at path, or starts empty when it is absent or corrupt
func Open(path string, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create metadata directory: %w", err)
	}

	s := &Store{
		path:  path,
		opts:  opts,
		log:   logger,
		files: make(map[string]types.FileRecord),
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read metadata snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Printf("metastore: snapshot %s is corrupt, starting empty: %v", path, err)
		return s, nil
	}
	if snap.Version != SnapshotVersion {
		s.log.Printf("metastore: snapshot %s has version %d, expected %d, starting empty", path, snap.Version, SnapshotVersion)
		return s, nil
	}

	for p, rec := range snap.Files {
		rec.Path = p
		if err := rec.Validate(); err != nil {
			s.log.Printf("metastore: dropping invalid record %q: %v", p, err)
			continue
		}
		s.files[p] = rec
	}
	s.model = snap.EmbeddingModel
	s.dimension = snap.Dimension

	return s, nil
}

// Path returns the snapshot file location
func (s *Store) Path() string {
	return s.path
}

// Get returns the record for path
func (s *Store) Get(path string) (types.FileRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.files[path]
	return rec, ok
}

// Put inserts or replaces the record for rec.Path
func (s *Store) Put(rec types.FileRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.files[rec.Path] = rec
	return s.markDirtyLocked()
}

// Delete removes the record for path. Deleting an unknown path is a no-op.
func (s *Store) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.files[path]; !ok {
		return nil
	}
	delete(s.files, path)
	return s.markDirtyLocked()
}

// Snapshot returns a copy of every record keyed by path
func (s *Store) Snapshot() map[string]types.FileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]types.FileRecord, len(s.files))
	for p, rec := range s.files {
		out[p] = rec
	}
	return out
}

// PathsUnder returns the sorted tracked paths equal to or beneath dir
func (s *Store) PathsUnder(dir string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p := range s.files {
		if types.IsUnder(p, dir) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked files
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Model returns the embedding model and dimension the records were built with
func (s *Store) Model() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model, s.dimension
}

// SetModel records the embedding model and dimension
func (s *Store) SetModel(model string, dimension int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.model == model && s.dimension == dimension {
		return nil
	}
	s.model = model
	s.dimension = dimension
	return s.markDirtyLocked()
}

// Reset drops every record and flushes the empty store
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.files = make(map[string]types.FileRecord)
	s.dirty++
	return s.flushLocked()
}

// Flush writes the snapshot if there are unflushed mutations
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dirty == 0 {
		return nil
	}
	return s.flushLocked()
}

// Close flushes pending mutations. Further mutations return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.dirty == 0 {
		return nil
	}
	return s.flushLocked()
}

func (s *Store) markDirtyLocked() error {
	if s.dirty == 0 {
		s.dirtySince = time.Now()
	}
	s.dirty++

	if s.opts.FlushEvery > 0 && s.dirty >= s.opts.FlushEvery {
		return s.flushLocked()
	}
	if s.opts.FlushInterval > 0 && time.Since(s.dirtySince) >= s.opts.FlushInterval {
		return s.flushLocked()
	}
	return nil
}

func (s *Store) flushLocked() error {
	snap := snapshot{
		Version:        SnapshotVersion,
		Root:           s.opts.Root,
		EmbeddingModel: s.model,
		Dimension:      s.dimension,
		UpdatedAt:      time.Now().UTC(),
		Files:          s.files,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace metadata snapshot: %w", err)
	}

	s.dirty = 0
	s.dirtySince = time.Time{}
	return nil
}
