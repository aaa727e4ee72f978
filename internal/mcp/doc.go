// Package mcp implements the Model Context Protocol (MCP) server for codeindex.
//
// The server exposes five tools to AI coding assistants:
//   - trigger_reindex: Start a background reindex (incremental or full)
//   - get_status: Report progress, queue depth and watcher health
//   - search_files: Search the index with a natural language query
//   - get_file_content: Read a project file by its relative path
//   - get_model_info: Report the embedding model and vector store in use
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport. Stdout carries the
// protocol; all logging goes to stderr.
//
//	codeindex serve --root /path/to/project
//
// # Tool: trigger_reindex
//
//	Request:  {"name": "trigger_reindex", "arguments": {"full": false}}
//	Response: {"accepted": true, "full": false, "message": "..."}
//
// The call returns immediately. While a scan is running the request is
// refused with error -32002 and the current status in the error data.
//
// # Tool: search_files
//
//	Request:
//	{
//	  "name": "search_files",
//	  "arguments": {
//	    "query": "retry with exponential backoff",
//	    "limit": 5,
//	    "file_extensions": ["go"],
//	    "path_prefix": "internal",
//	    "min_score": 0.3
//	  }
//	}
//
// Each result carries the path, chunk line and byte range, score, rank and
// content. When the initial index has not finished, the response includes
// indexing_in_progress and the current progress percentage.
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing or invalid arguments)
//   - -32603: Internal error (store, embedding provider, filesystem)
//   - -32001: File not found
//   - -32002: Indexing in progress
//   - -32003: Project not indexed
//   - -32004: Empty query
//
// get_file_content resolves symlinks and refuses any path that leaves the
// project root. Files larger than the configured cap are truncated and
// flagged; binary files are refused.
package mcp
