// Package types provides shared type definitions for the codeindex engine.
//
// # Core Types
//
// FileRecord is the persisted identity of one tracked file. Its Fingerprint
// is a SHA-256 digest for ordinary files and a size/mtime proxy for files
// above the large-file threshold:
//
//	rec := types.FileRecord{
//	    Path:        "internal/server/server.go",
//	    Fingerprint: "sha256:9f86d0...",
//	    Size:        4213,
//	    ChunkCount:  3,
//	}
//
// WorkItem carries a path and a ChangeKind (Added, Modified, Deleted) from the
// change detector or the file watcher to the indexing coordinator.
//
// Chunk is a bounded segment of a file with its byte and line ranges:
//
//	chunk := types.Chunk{
//	    Path:      "README.md",
//	    Index:     0,
//	    Content:   "# Project\n\nOverview...",
//	    StartByte: 0,
//	    EndByte:   412,
//	    StartLine: 1,
//	    EndLine:   14,
//	}
//
// # Status
//
// IndexingStatus is the snapshot returned to status consumers. Progress()
// derives a completion percentage from FilesProcessed and FilesTotal.
//
// # Paths
//
// Every path in this package is project-relative and slash-separated.
// NormalizePath converts OS paths into that form.
package types
