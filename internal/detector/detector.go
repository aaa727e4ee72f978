// Package detector computes which files of a project tree differ from their
// last indexed state.
//
// Diff never touches the embedding model or the vector store. It walks the
// tree, applies the ignore rules before any stat or hash work, and compares
// each remaining file's identity with the known records.
package detector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/dshills/codeindex-mcp/internal/ignore"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// DefaultLargeFileThreshold is the size at which a file is fingerprinted by
// size and mtime instead of content hash
const DefaultLargeFileThreshold int64 = 10 * 1024 * 1024

// Detector diffs a project tree against known file records
type Detector struct {
	root      string
	matcher   *ignore.Matcher
	threshold int64
	log       *log.Logger
}

// Options configures a Detector
type Options struct {
	LargeFileThreshold int64
	Logger             *log.Logger
}

// New creates a Detector rooted at the matcher's root
func New(matcher *ignore.Matcher, opts Options) *Detector {
	threshold := opts.LargeFileThreshold
	if threshold <= 0 {
		threshold = DefaultLargeFileThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Detector{
		root:      matcher.Root(),
		matcher:   matcher,
		threshold: threshold,
		log:       logger,
	}
}

// Root returns the absolute project root
func (d *Detector) Root() string {
	return d.root
}

// Matcher returns the ignore matcher used by the detector
func (d *Detector) Matcher() *ignore.Matcher {
	return d.matcher
}

// Diff walks the tree and returns work items for every file that is new,
// changed or gone relative to known. Deletions come first, then additions
// and modifications, each sorted by path.
func (d *Detector) Diff(ctx context.Context, known map[string]types.FileRecord) ([]types.WorkItem, error) {
	seen := make(map[string]bool, len(known))
	var unreadableDirs []string
	var changed []types.WorkItem

	err := filepath.WalkDir(d.root, func(abs string, entry fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(d.root, abs)
		if err != nil {
			return nil
		}
		rel = types.NormalizePath(rel)

		if walkErr != nil {
			if abs == d.root {
				return fmt.Errorf("failed to read root: %w", walkErr)
			}
			d.log.Printf("detector: skipping unreadable %s: %v", rel, walkErr)
			if entry == nil || entry.IsDir() {
				unreadableDirs = append(unreadableDirs, rel)
				return fs.SkipDir
			}
			// Keep an existing record rather than report a transient
			// failure as a deletion
			seen[rel] = true
			return nil
		}

		if abs == d.root {
			return nil
		}

		if entry.IsDir() {
			if d.matcher.Match(rel, true) {
				return fs.SkipDir
			}
			return nil
		}

		if d.matcher.Match(rel, false) {
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			// Vanished between readdir and stat
			return nil
		}
		seen[rel] = true

		rec, ok := known[rel]
		if !ok {
			changed = append(changed, types.WorkItem{Path: rel, Kind: types.Added})
			return nil
		}
		if rec.Size != info.Size() {
			changed = append(changed, types.WorkItem{Path: rel, Kind: types.Modified})
			return nil
		}

		fp, err := d.fingerprint(abs, info)
		if err != nil {
			d.log.Printf("detector: skipping %s: %v", rel, err)
			return nil
		}
		if fp != rec.Fingerprint {
			changed = append(changed, types.WorkItem{Path: rel, Kind: types.Modified})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var deleted []types.WorkItem
	for p := range known {
		if seen[p] || underAny(p, unreadableDirs) {
			continue
		}
		deleted = append(deleted, types.WorkItem{Path: p, Kind: types.Deleted})
	}

	sortItems(deleted)
	sortItems(changed)
	return append(deleted, changed...), nil
}

// Identify computes the record identity of a project-relative file. The
// returned record has no LastIndexedAt or ChunkCount.
func (d *Detector) Identify(rel string) (types.FileRecord, error) {
	rel = types.NormalizePath(rel)
	abs := filepath.Join(d.root, filepath.FromSlash(rel))

	// Lstat so a symlink is never followed out of the tree
	info, err := os.Lstat(abs)
	if err != nil {
		return types.FileRecord{}, fmt.Errorf("%w: %s: %v", types.ErrUnreadable, rel, err)
	}
	if !info.Mode().IsRegular() {
		return types.FileRecord{}, fmt.Errorf("%w: %s is not a regular file", types.ErrUnreadable, rel)
	}

	fp, err := d.fingerprint(abs, info)
	if err != nil {
		return types.FileRecord{}, err
	}

	return types.FileRecord{
		Path:        rel,
		Fingerprint: fp,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}

// Ignored reports whether rel is excluded by the ignore rules
func (d *Detector) Ignored(rel string, isDir bool) bool {
	return d.matcher.Match(rel, isDir)
}

func (d *Detector) fingerprint(abs string, info fs.FileInfo) (string, error) {
	if info.Size() >= d.threshold {
		return ProxyFingerprint(info.Size(), info.ModTime().UnixNano()), nil
	}
	return HashFile(abs)
}

// HashFile returns the sha256 fingerprint of the file contents
func HashFile(abs string) (string, error) {
	f, err := os.Open(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrUnreadable, err)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// ProxyFingerprint is the identity used for files at or above the large-file
// threshold
func ProxyFingerprint(size, mtimeNanos int64) string {
	return fmt.Sprintf("size:%d_mtime:%d", size, mtimeNanos)
}

func underAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if types.IsUnder(p, d) {
			return true
		}
	}
	return false
}

func sortItems(items []types.WorkItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
}
