// Package chunker reads project files and splits their text into bounded
// segments for embedding.
//
// The chunker is language agnostic. It works on bytes and line structure
// only, so any text file in the tree can be indexed.
//
// # Basic Usage
//
//	c := chunker.New(root, chunker.Options{})
//	chunks, err := c.Extract("internal/server/server.go")
//	if errors.Is(err, types.ErrUnreadable) {
//	    // vanished or permission denied; retried on the next diff
//	}
//
//	for _, chunk := range chunks {
//	    fmt.Printf("chunk %d: bytes %d-%d, lines %d-%d\n",
//	        chunk.Index, chunk.StartByte, chunk.EndByte, chunk.StartLine, chunk.EndLine)
//	}
//
// # Binary Detection
//
// The first 8 KiB of a file are sampled. A NUL byte, a run of invalid UTF-8
// bytes, or an invalid-byte share above 10% marks the file as binary. Binary
// files produce zero chunks and no error.
//
// # Truncation
//
// Content beyond MaxContentBytes (default 256 KiB) is dropped at a rune
// boundary. The last chunk of a truncated file has Truncated set, and its
// EmbeddingText carries a "[Truncated: file is N bytes]" marker.
//
// # Chunk Sizing
//
// Chunks are at most MaxChunkBytes (default 4000 bytes, about 1000 tokens by
// the chars/4 heuristic). Splitting prefers the largest natural boundary that
// fits:
//   - Paragraphs: blank-line separated blocks, packed greedily
//   - Lines: used when a single paragraph is too large
//   - Whitespace or rune boundary: used when a single line is too large
//
// Leading and trailing whitespace is trimmed from every chunk and
// whitespace-only segments are dropped. Byte ranges are offsets into the
// original file and line numbers are 1-based.
package chunker
