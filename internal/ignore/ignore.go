// Package ignore decides which paths of a project tree are excluded from
// indexing. Patterns follow gitignore semantics.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Ignore files read from the project root, in order
var ProjectIgnoreFiles = []string{".gitignore", ".dockerignore", ".codeindexignore"}

// GlobalPatterns are excluded from every project
var GlobalPatterns = []string{
	".git/",
	".hg/",
	".svn/",
	"node_modules/",
	"__pycache__/",
	"*.pyc",
	"*.pyo",
	".DS_Store",
	".idea/",
	".vscode/",
}

// Options configures a Matcher
type Options struct {
	// Patterns are additional gitignore-style patterns from configuration
	Patterns []string

	// ExcludePaths are absolute paths excluded wholesale, such as the data
	// directory when it lives inside the project
	ExcludePaths []string

	// SkipProjectFiles disables reading ignore files from the root
	SkipProjectFiles bool

	// SkipProjectTypeDefaults disables per-project-type default patterns
	SkipProjectTypeDefaults bool
}

// Matcher evaluates project-relative paths against the combined pattern set.
// A Matcher built by New can be reloaded when the project ignore files change.
type Matcher struct {
	root string
	opts *Options // nil for FromPatterns

	mu       sync.RWMutex
	patterns []string
	matcher  gitignore.Matcher
}

// New builds a Matcher for root from defaults, project ignore files and options
func New(root string, opts Options) (*Matcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root: %w", err)
	}

	patterns, err := buildPatterns(absRoot, opts)
	if err != nil {
		return nil, err
	}
	m := newMatcher(absRoot, patterns)
	m.opts = &opts
	return m, nil
}

// FromPatterns builds a Matcher from an explicit pattern list only
func FromPatterns(root string, patterns []string) *Matcher {
	return newMatcher(root, patterns)
}

func newMatcher(root string, patterns []string) *Matcher {
	m := &Matcher{root: root}
	m.patterns, m.matcher = compile(patterns)
	return m
}

func buildPatterns(absRoot string, opts Options) ([]string, error) {
	patterns := append([]string{}, GlobalPatterns...)

	if !opts.SkipProjectTypeDefaults {
		for _, pt := range DetectProjectTypes(absRoot) {
			patterns = append(patterns, DefaultPatterns(pt)...)
		}
	}

	if !opts.SkipProjectFiles {
		for _, name := range ProjectIgnoreFiles {
			filePatterns, err := readPatternFile(filepath.Join(absRoot, name))
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, filePatterns...)
		}
	}

	patterns = append(patterns, opts.Patterns...)

	for _, p := range opts.ExcludePaths {
		rel, err := filepath.Rel(absRoot, p)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		patterns = append(patterns, "/"+filepath.ToSlash(rel))
	}
	return patterns, nil
}

func compile(patterns []string) ([]string, gitignore.Matcher) {
	parsed := make([]gitignore.Pattern, 0, len(patterns))
	kept := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimRight(p, " \t\r")
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		parsed = append(parsed, gitignore.ParsePattern(p, nil))
		kept = append(kept, p)
	}
	return kept, gitignore.NewMatcher(parsed)
}

// Reload re-reads the project ignore files and swaps in the new pattern
// set. It reports whether the patterns changed. On error the previous
// patterns stay in effect. Matchers built by FromPatterns never change.
func (m *Matcher) Reload() (bool, error) {
	if m.opts == nil {
		return false, nil
	}
	patterns, err := buildPatterns(m.root, *m.opts)
	if err != nil {
		return false, err
	}
	kept, matcher := compile(patterns)

	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Equal(kept, m.patterns) {
		return false, nil
	}
	m.patterns, m.matcher = kept, matcher
	return true, nil
}

// IsIgnoreFile reports whether rel names one of the project ignore files
func IsIgnoreFile(rel string) bool {
	return slices.Contains(ProjectIgnoreFiles, strings.Trim(filepath.ToSlash(rel), "/"))
}

// Match reports whether the slash-separated project-relative path is ignored
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	m.mu.RLock()
	matcher := m.matcher
	m.mu.RUnlock()
	return matcher.Match(strings.Split(rel, "/"), isDir)
}

// Patterns returns the effective pattern list in evaluation order
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Root returns the absolute project root
func (m *Matcher) Root() string {
	return m.root
}

// readPatternFile returns the non-comment lines of an ignore file. A missing
// file yields no patterns.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return patterns, nil
}
