package types

import "errors"

// Domain errors shared across the indexing pipeline
var (
	ErrEmptyPath         = errors.New("path cannot be empty")
	ErrInvalidChangeKind = errors.New("invalid change kind")

	// ErrUnreadable marks a file that could not be read during this pass.
	// Callers skip the file and pick it up again on the next diff.
	ErrUnreadable = errors.New("file unreadable")

	// Chunk validation
	ErrEmptyContent     = errors.New("content cannot be empty")
	ErrInvalidByteRange = errors.New("invalid byte range")
	ErrInvalidLineRange = errors.New("invalid line range")

	// Search result validation
	ErrInvalidRank  = errors.New("rank must be >= 1")
	ErrInvalidScore = errors.New("score must be between -1 and 1")
)
