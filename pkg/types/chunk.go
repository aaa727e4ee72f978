package types

import (
	"crypto/sha256"
	"fmt"
)

// Chunk is a bounded segment of a file's text, the unit sent to the embedder
type Chunk struct {
	// Identification
	Path  string
	Index int // Position within the file, 0-based

	// Content
	Content     string
	ContentHash [32]byte
	TokenCount  int
	Truncated   bool // Set on the last chunk of a file cut at the content limit
	TotalSize   int64

	// Location
	StartByte int // Inclusive offset into the original file
	EndByte   int // Exclusive
	StartLine int // 1-based
	EndLine   int
}

// Validate checks the chunk's content and ranges
func (c *Chunk) Validate() error {
	if c.Path == "" {
		return ErrEmptyPath
	}
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.StartByte < 0 || c.EndByte <= c.StartByte {
		return ErrInvalidByteRange
	}
	if c.StartLine <= 0 || c.EndLine < c.StartLine {
		return ErrInvalidLineRange
	}
	return nil
}

// ComputeContentHash computes the SHA-256 hash of the chunk content
func (c *Chunk) ComputeContentHash() {
	c.ContentHash = sha256.Sum256([]byte(c.Content))
}

// EmbeddingText returns the text sent to the embedding provider. The path is
// prepended so that file names contribute to similarity.
func (c *Chunk) EmbeddingText() string {
	text := c.Path + "\n\n" + c.Content
	if c.Truncated {
		text += fmt.Sprintf("\n\n[Truncated: file is %d bytes]", c.TotalSize)
	}
	return text
}
