package types

import (
	"errors"
	"path"
	"strings"
	"time"
)

// ChangeKind classifies how a file differs from its last indexed state
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Modified
	Deleted
)

// String returns the lowercase name of the change kind
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ParseChangeKind converts a name produced by String back into a ChangeKind
func ParseChangeKind(s string) (ChangeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "added":
		return Added, nil
	case "modified":
		return Modified, nil
	case "deleted":
		return Deleted, nil
	default:
		return 0, ErrInvalidChangeKind
	}
}

// WorkItem is a single unit of indexing work for one path
type WorkItem struct {
	Path string
	Kind ChangeKind
}

// FileRecord is the persisted state of one tracked file
type FileRecord struct {
	Path          string    `json:"path"`
	Fingerprint   string    `json:"fingerprint"`
	Size          int64     `json:"size"`
	ModTime       time.Time `json:"mod_time"`
	LastIndexedAt time.Time `json:"last_indexed_at"`
	ChunkCount    int       `json:"chunk_count"`
}

// Validate checks the record has the fields required to be persisted
func (r *FileRecord) Validate() error {
	if r.Path == "" {
		return ErrEmptyPath
	}
	if r.Fingerprint == "" {
		return errors.New("fingerprint is required")
	}
	if r.Size < 0 {
		return errors.New("size cannot be negative")
	}
	if r.ChunkCount < 0 {
		return errors.New("chunk count cannot be negative")
	}
	return nil
}

// NormalizePath converts an OS-specific relative path into the slash-separated
// key used throughout the index
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

// IsUnder reports whether p is dir itself or lies beneath it
func IsUnder(p, dir string) bool {
	if dir == "" || dir == "." {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// FileTypeOf returns the lowercase extension of p without the dot, or the
// lowercase base name for files without one (Makefile, Dockerfile)
func FileTypeOf(p string) string {
	base := path.Base(NormalizePath(p))
	ext := path.Ext(base)
	if ext == "" || ext == base {
		return strings.ToLower(strings.TrimPrefix(base, "."))
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
