package chunker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

func createTestFile(t *testing.T, root, rel string, content []byte) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, content, 0o644))
}

// assertCoversSource checks every chunk's content matches its byte range
// and line range in the original data
func assertCoversSource(t *testing.T, data []byte, chunks []types.Chunk) {
	t.Helper()
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, string(data[c.StartByte:c.EndByte]), c.Content)
		assert.Equal(t, 1+strings.Count(string(data[:c.StartByte]), "\n"), c.StartLine)
		assert.Equal(t, c.StartLine+strings.Count(c.Content, "\n"), c.EndLine)
		assert.NoError(t, c.Validate())
		if i > 0 {
			assert.GreaterOrEqual(t, c.StartByte, chunks[i-1].EndByte)
		}
	}
}

func TestNew_Defaults(t *testing.T) {
	c := New("/tmp", Options{})
	assert.Equal(t, DefaultMaxChunkBytes, c.maxChunkBytes)
	assert.Equal(t, DefaultMaxContentBytes, c.maxContentBytes)
	assert.Equal(t, 4000, DefaultMaxChunkBytes)
}

func TestExtract_SmallFile(t *testing.T) {
	root := t.TempDir()
	content := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"
	createTestFile(t, root, "cmd/main.go", []byte(content))

	chunks, err := New(root, Options{}).Extract("cmd/main.go")
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "cmd/main.go", c.Path)
	assert.Equal(t, strings.TrimSpace(content), c.Content)
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 5, c.EndLine)
	assert.Equal(t, 0, c.StartByte)
	assert.False(t, c.Truncated)
	assert.Equal(t, int64(len(content)), c.TotalSize)
	assert.Greater(t, c.TokenCount, 0)
	assert.NotEqual(t, [32]byte{}, c.ContentHash)
}

func TestExtract_EmptyAndWhitespace(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "empty.txt", nil)
	createTestFile(t, root, "blank.txt", []byte("\n\n   \n\t\n"))

	c := New(root, Options{})
	for _, name := range []string{"empty.txt", "blank.txt"} {
		chunks, err := c.Extract(name)
		require.NoError(t, err, name)
		assert.Empty(t, chunks, name)
	}
}

func TestExtract_Binary(t *testing.T) {
	root := t.TempDir()
	createTestFile(t, root, "image.png", []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0x02})

	chunks, err := New(root, Options{}).Extract("image.png")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestExtract_Unreadable(t *testing.T) {
	root := t.TempDir()
	c := New(root, Options{})

	_, err := c.Extract("missing.go")
	assert.ErrorIs(t, err, types.ErrUnreadable)

	require.NoError(t, os.Mkdir(filepath.Join(root, "dir"), 0o755))
	_, err = c.Extract("dir")
	assert.ErrorIs(t, err, types.ErrUnreadable)
}

func TestExtract_Truncated(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("line of text\n", 100)
	createTestFile(t, root, "big.txt", []byte(content))

	chunks, err := New(root, Options{MaxContentBytes: 130, MaxChunkBytes: 50}).Extract("big.txt")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.True(t, last.Truncated)
	assert.LessOrEqual(t, last.EndByte, 130)
	assert.Equal(t, int64(len(content)), last.TotalSize)
	assert.Contains(t, last.EmbeddingText(), "[Truncated: file is 1300 bytes]")

	for _, c := range chunks[:len(chunks)-1] {
		assert.False(t, c.Truncated)
	}
	assertCoversSource(t, []byte(content), chunks)
}

func TestExtract_TruncatedOnRuneBoundary(t *testing.T) {
	root := t.TempDir()
	content := strings.Repeat("é", 100) // 2 bytes each
	createTestFile(t, root, "utf8.txt", []byte(content))

	chunks, err := New(root, Options{MaxContentBytes: 51}).Extract("utf8.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, strings.Repeat("é", 25), chunks[0].Content)
	assert.True(t, chunks[0].Truncated)
}

func TestChunkContent_ParagraphPacking(t *testing.T) {
	data := []byte("alpha one\nalpha two\n\nbeta one\n\ngamma one\ngamma two\n")
	c := New("", Options{MaxChunkBytes: 32})

	chunks := c.ChunkContent("p.txt", data, int64(len(data)), false)
	require.Len(t, chunks, 2)
	assert.Equal(t, "alpha one\nalpha two\n\nbeta one", chunks[0].Content)
	assert.Equal(t, "gamma one\ngamma two", chunks[1].Content)
	assert.Equal(t, 6, chunks[1].StartLine)
	assert.Equal(t, 7, chunks[1].EndLine)
	assertCoversSource(t, data, chunks)
}

func TestChunkContent_OversizedParagraphSplitsOnLines(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("0123456789\n")
	}
	data := []byte(b.String())
	c := New("", Options{MaxChunkBytes: 40})

	chunks := c.ChunkContent("l.txt", data, int64(len(data)), false)
	require.Len(t, chunks, 7)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 40)
		assert.False(t, strings.HasPrefix(ch.Content, "\n"))
	}
	assertCoversSource(t, data, chunks)
}

func TestChunkContent_OversizedLineSplitsOnWhitespace(t *testing.T) {
	data := []byte(strings.Repeat("word ", 30))
	c := New("", Options{MaxChunkBytes: 23})

	chunks := c.ChunkContent("w.txt", data, int64(len(data)), false)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 23)
		assert.False(t, strings.HasPrefix(ch.Content, "ord"), "cut inside a word")
	}
	assertCoversSource(t, data, chunks)
}

func TestChunkContent_LongTokenSplitsOnRuneBoundary(t *testing.T) {
	data := []byte(strings.Repeat("日", 20)) // 3 bytes each, no whitespace
	c := New("", Options{MaxChunkBytes: 10})

	chunks := c.ChunkContent("r.txt", data, int64(len(data)), false)
	require.NotEmpty(t, chunks)

	var rebuilt strings.Builder
	for _, ch := range chunks {
		assert.LessOrEqual(t, len(ch.Content), 10)
		assert.True(t, strings.HasPrefix(ch.Content, "日"))
		rebuilt.WriteString(ch.Content)
	}
	assert.Equal(t, string(data), rebuilt.String())
}

func TestIsBinary(t *testing.T) {
	tests := []struct {
		name   string
		sample []byte
		want   bool
	}{
		{"empty", nil, false},
		{"ascii", []byte("hello world\n"), false},
		{"utf8", []byte("héllo wörld 日本語"), false},
		{"nul byte", []byte("abc\x00def"), true},
		{"invalid run", []byte("abc\xff\xfe\xfd\xfcdef"), true},
		{"sparse latin1", []byte("caf\xe9 au lait, cr\xe8me br\xfbl\xe9e and more plain ascii text here"), false},
		{"dense invalid", []byte("a\xffb\xfec\xfdd\xfc"), true},
		{"rune cut at sample end", append([]byte(strings.Repeat("a", 40)), 0xe6, 0x97), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBinary(tt.sample))
		})
	}
}

func TestEstimateTokenCount(t *testing.T) {
	assert.Equal(t, 0, EstimateTokenCount(""))
	assert.Equal(t, 1, EstimateTokenCount("abcd"))
	assert.Equal(t, 25, EstimateTokenCount(strings.Repeat("x", 100)))
}
