package chunker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode"
	"unicode/utf8"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

const (
	// MaxTokensPerChunk is the target maximum token count per chunk
	MaxTokensPerChunk = 1000

	// TokensPerChar is the heuristic for estimating tokens (chars/4)
	TokensPerChar = 4

	// DefaultMaxChunkBytes is the chunk size limit derived from the token target
	DefaultMaxChunkBytes = MaxTokensPerChunk * TokensPerChar

	// DefaultMaxContentBytes is the amount of a file that is indexed
	DefaultMaxContentBytes = 256 * 1024

	// SampleSize is the number of leading bytes inspected for binary detection
	SampleSize = 8 * 1024

	// binaryInvalidRun is the number of consecutive invalid UTF-8 bytes that
	// marks a sample as binary
	binaryInvalidRun = 4

	// binaryInvalidShare is the fraction of invalid UTF-8 bytes that marks a
	// sample as binary
	binaryInvalidShare = 0.10
)

// Options configures a Chunker
type Options struct {
	MaxContentBytes int
	MaxChunkBytes   int
}

// Chunker extracts and splits file content beneath a project root
type Chunker struct {
	root            string
	maxContentBytes int
	maxChunkBytes   int
}

// New creates a Chunker for files under root
func New(root string, opts Options) *Chunker {
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = DefaultMaxContentBytes
	}
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	return &Chunker{
		root:            root,
		maxContentBytes: opts.MaxContentBytes,
		maxChunkBytes:   opts.MaxChunkBytes,
	}
}

// Extract reads the project-relative file rel and returns its chunks. Binary
// and empty files return no chunks. A file that cannot be read returns an
// error wrapping types.ErrUnreadable.
func (c *Chunker) Extract(rel string) ([]types.Chunk, error) {
	rel = types.NormalizePath(rel)
	abs := filepath.Join(c.root, filepath.FromSlash(rel))

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrUnreadable, rel, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrUnreadable, rel, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", types.ErrUnreadable, rel)
	}

	data, err := io.ReadAll(io.LimitReader(f, int64(c.maxContentBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrUnreadable, rel, err)
	}

	sample := data
	if len(sample) > SampleSize {
		sample = sample[:SampleSize]
	}
	if IsBinary(sample) {
		return nil, nil
	}

	totalSize := info.Size()
	if int64(len(data)) > totalSize {
		totalSize = int64(len(data))
	}

	truncated := false
	if len(data) > c.maxContentBytes {
		data = data[:runeBoundary(data, c.maxContentBytes)]
		truncated = true
	}

	return c.ChunkContent(rel, data, totalSize, truncated), nil
}

// ChunkContent splits already-read content into chunks. totalSize and
// truncated describe the original file and are copied onto the last chunk.
func (c *Chunker) ChunkContent(rel string, data []byte, totalSize int64, truncated bool) []types.Chunk {
	spans := pack(data, span{0, len(data)}, c.maxChunkBytes, levelParagraph)

	chunks := make([]types.Chunk, 0, len(spans))
	line := 1
	lineAt := 0
	for _, s := range spans {
		s = trimSpan(data, s)
		if s.end <= s.start {
			continue
		}

		line += bytes.Count(data[lineAt:s.start], []byte{'\n'})
		lineAt = s.start
		endLine := line + bytes.Count(data[s.start:s.end], []byte{'\n'})

		chunk := types.Chunk{
			Path:      rel,
			Index:     len(chunks),
			Content:   string(data[s.start:s.end]),
			TotalSize: totalSize,
			StartByte: s.start,
			EndByte:   s.end,
			StartLine: line,
			EndLine:   endLine,
		}
		chunk.TokenCount = EstimateTokenCount(chunk.Content)
		chunk.ComputeContentHash()
		chunks = append(chunks, chunk)
	}

	if truncated && len(chunks) > 0 {
		chunks[len(chunks)-1].Truncated = true
	}
	return chunks
}

// IsBinary reports whether sample looks like binary data
func IsBinary(sample []byte) bool {
	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}

	invalid, run := 0, 0
	for i := 0; i < len(sample); {
		r, size := utf8.DecodeRune(sample[i:])
		if r == utf8.RuneError && size <= 1 {
			// A rune cut by the sample boundary is not evidence of binary data
			if len(sample)-i < utf8.UTFMax && !utf8.FullRune(sample[i:]) {
				break
			}
			invalid++
			run++
			if run >= binaryInvalidRun {
				return true
			}
			i++
			continue
		}
		run = 0
		i += size
	}

	if len(sample) == 0 {
		return false
	}
	return float64(invalid)/float64(len(sample)) > binaryInvalidShare
}

// EstimateTokenCount estimates the number of tokens in a string
func EstimateTokenCount(text string) int {
	return len(text) / TokensPerChar
}

type span struct {
	start, end int
}

type splitLevel int

const (
	levelParagraph splitLevel = iota
	levelLine
	levelWord
)

// pack greedily merges the units of s at the given level into spans of at
// most maxBytes bytes. Units that are too large are split at the next level.
func pack(data []byte, s span, maxBytes int, level splitLevel) []span {
	var units []span
	switch level {
	case levelParagraph:
		units = paragraphs(data, s)
	case levelLine:
		units = lines(data, s)
	default:
		units = words(data, s, maxBytes)
	}

	var out []span
	cur := span{s.start, s.start}
	flush := func() {
		if cur.end > cur.start {
			out = append(out, cur)
		}
		cur = span{cur.end, cur.end}
	}

	for _, u := range units {
		size := u.end - u.start
		if size > maxBytes && level < levelWord {
			flush()
			out = append(out, pack(data, u, maxBytes, level+1)...)
			cur = span{u.end, u.end}
			continue
		}
		if cur.end-cur.start+size > maxBytes {
			flush()
		}
		cur.end = u.end
	}
	flush()
	return out
}

// paragraphs splits s into blocks that each end after a run of blank lines
func paragraphs(data []byte, s span) []span {
	var out []span
	unitStart := s.start
	prevBlank, hasContent := false, false

	for pos := s.start; pos < s.end; {
		end := lineEnd(data, pos, s.end)
		blank := len(bytes.TrimSpace(data[pos:end])) == 0
		if !blank && prevBlank && hasContent {
			out = append(out, span{unitStart, pos})
			unitStart = pos
		}
		if !blank {
			hasContent = true
		}
		prevBlank = blank
		pos = end
	}
	if unitStart < s.end {
		out = append(out, span{unitStart, s.end})
	}
	return out
}

// lines splits s into lines, each including its newline
func lines(data []byte, s span) []span {
	var out []span
	for pos := s.start; pos < s.end; {
		end := lineEnd(data, pos, s.end)
		out = append(out, span{pos, end})
		pos = end
	}
	return out
}

// words cuts s into pieces of at most maxBytes bytes, preferring to cut after
// whitespace and never inside a rune
func words(data []byte, s span, maxBytes int) []span {
	var out []span
	for pos := s.start; pos < s.end; {
		limit := pos + maxBytes
		if limit >= s.end {
			out = append(out, span{pos, s.end})
			break
		}

		cut := lastSpaceCut(data[pos:limit])
		if cut > 0 {
			cut += pos
		} else {
			cut = pos + runeBoundary(data[pos:], maxBytes)
		}
		if cut <= pos {
			_, size := utf8.DecodeRune(data[pos:])
			cut = pos + size
		}
		out = append(out, span{pos, cut})
		pos = cut
	}
	return out
}

// lastSpaceCut returns the offset just past the last whitespace rune in b, or 0
func lastSpaceCut(b []byte) int {
	for i := len(b); i > 0; {
		r, size := utf8.DecodeLastRune(b[:i])
		if unicode.IsSpace(r) {
			return i
		}
		i -= size
	}
	return 0
}

// runeBoundary returns the largest offset <= n that does not split a rune
func runeBoundary(b []byte, n int) int {
	if n >= len(b) {
		return len(b)
	}
	for i := n; i > 0 && n-i < utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			return i
		}
	}
	return n
}

func lineEnd(data []byte, pos, limit int) int {
	if i := bytes.IndexByte(data[pos:limit], '\n'); i >= 0 {
		return pos + i + 1
	}
	return limit
}

func trimSpan(data []byte, s span) span {
	for s.start < s.end {
		r, size := utf8.DecodeRune(data[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.start += size
	}
	for s.end > s.start {
		r, size := utf8.DecodeLastRune(data[s.start:s.end])
		if !unicode.IsSpace(r) {
			break
		}
		s.end -= size
	}
	return s
}
