package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeindex-mcp/internal/chunker"
	"github.com/dshills/codeindex-mcp/internal/searcher"
	"github.com/dshills/codeindex-mcp/internal/storage"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeFileNotFound       = -32001 // Requested file does not exist in the project
	ErrorCodeIndexingInProgress = -32002 // A reindex scan is already running
	ErrorCodeNotIndexed         = -32003 // Nothing has been indexed yet
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleTriggerReindex handles the trigger_reindex tool invocation
func (s *Server) handleTriggerReindex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	full := getBoolDefault(args, "full", false)

	if !s.control.TriggerReindex(full) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "a reindex scan is already in progress", map[string]interface{}{
			"status": statusMap(s.control.GetStatus(), s.control.IsIndexingComplete()),
		})
	}

	response := map[string]interface{}{
		"accepted": true,
		"full":     full,
		"message":  "Reindex started. Use get_status to follow progress.",
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := s.control.GetStatus()
	return mcp.NewToolResultText(formatJSON(statusMap(status, s.control.IsIndexingComplete()))), nil
}

// handleSearchFiles handles the search_files tool invocation
func (s *Server) handleSearchFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	filter, err := parseFilter(args)
	if err != nil {
		return nil, err
	}

	status := s.control.GetStatus()
	complete := s.control.IsIndexingComplete()
	if status.TrackedFiles == 0 && !complete {
		return nil, newMCPError(ErrorCodeNotIndexed, "the project has not been indexed yet", map[string]interface{}{
			"progress": status.Progress(),
		})
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		Filter:   filter,
		UseCache: true,
	})
	if err != nil {
		if errors.Is(err, searcher.ErrEmptyQuery) {
			return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", nil)
		}
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"results":     resp.Results,
		"count":       resp.TotalResults,
		"duration_ms": resp.Duration.Milliseconds(),
		"cache_hit":   resp.CacheHit,
		"filters":     filterMap(filter),
	}
	if !complete {
		response["indexing_in_progress"] = true
		response["progress"] = status.Progress()
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetFileContent handles the get_file_content tool invocation
func (s *Server) handleGetFileContent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	rel, ok := args["path"].(string)
	if !ok || rel == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	abs, err := resolveInRoot(s.opts.Root, rel)
	if err != nil {
		if errors.Is(err, ErrPathNotFound) {
			return nil, newMCPError(ErrorCodeFileNotFound, "file not found", map[string]interface{}{
				"path": rel,
			})
		}
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid path", map[string]interface{}{
			"param":  "path",
			"reason": err.Error(),
		})
	}

	content, size, truncated, err := readCapped(abs, s.opts.MaxFileBytes)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read file", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if chunker.IsBinary(content) {
		return nil, newMCPError(ErrorCodeInvalidParams, "file is not text", map[string]interface{}{
			"path": rel,
		})
	}

	response := map[string]interface{}{
		"path":      types.NormalizePath(rel),
		"size":      size,
		"truncated": truncated,
		"content":   strings.ToValidUTF8(string(content), "�"),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetModelInfo handles the get_model_info tool invocation
func (s *Server) handleGetModelInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m := s.opts.Model
	response := map[string]interface{}{
		"provider":     m.Provider,
		"model":        m.Model,
		"dimension":    m.Dimension,
		"vector_store": m.VectorStore,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// arguments extracts the argument map; a call without arguments yields an
// empty map
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// parseFilter builds a store filter from search_files arguments
func parseFilter(args map[string]interface{}) (*storage.Filter, error) {
	var f storage.Filter

	if ft := getStringDefault(args, "file_type", ""); ft != "" {
		f.FileTypes = append(f.FileTypes, ft)
	}
	if raw, ok := args["file_extensions"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "file_extensions must be an array of strings", map[string]interface{}{
				"param": "file_extensions",
			})
		}
		for _, v := range list {
			ext, ok := v.(string)
			if !ok || ext == "" {
				return nil, newMCPError(ErrorCodeInvalidParams, "file_extensions must be an array of strings", map[string]interface{}{
					"param": "file_extensions",
				})
			}
			f.FileTypes = append(f.FileTypes, ext)
		}
	}

	f.PathPrefix = getStringDefault(args, "path_prefix", "")
	if strings.HasPrefix(f.PathPrefix, "/") || strings.HasPrefix(types.NormalizePath(f.PathPrefix), "..") {
		return nil, newMCPError(ErrorCodeInvalidParams, "path_prefix must be project-relative", map[string]interface{}{
			"param": "path_prefix",
			"value": f.PathPrefix,
		})
	}

	f.FilePattern = getStringDefault(args, "file_pattern", "")
	if f.FilePattern != "" {
		if _, err := filepath.Match(f.FilePattern, ""); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid file_pattern", map[string]interface{}{
				"param":  "file_pattern",
				"reason": err.Error(),
			})
		}
	}

	f.MinScore = getFloatDefault(args, "min_score", getFloatDefault(args, "threshold", 0))
	if f.MinScore < 0 || f.MinScore > 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "min_score must be between 0 and 1", map[string]interface{}{
			"param": "min_score",
			"value": f.MinScore,
		})
	}

	if f.PathPrefix == "" && f.FilePattern == "" && len(f.FileTypes) == 0 && f.MinScore == 0 {
		return nil, nil
	}
	return &f, nil
}

func filterMap(f *storage.Filter) map[string]interface{} {
	if f == nil {
		return map[string]interface{}{}
	}
	return map[string]interface{}{
		"file_types":   f.FileTypes,
		"path_prefix":  f.PathPrefix,
		"file_pattern": f.FilePattern,
		"min_score":    f.MinScore,
	}
}

func statusMap(st types.IndexingStatus, complete bool) map[string]interface{} {
	m := map[string]interface{}{
		"is_running":        st.IsRunning,
		"indexing_complete": complete,
		"progress":          st.Progress(),
		"files_total":       st.FilesTotal,
		"files_processed":   st.FilesProcessed,
		"files_failed":      st.FilesFailed,
		"files_skipped":     st.FilesSkipped,
		"queue_depth":       st.QueueDepth,
		"tracked_files":     st.TrackedFiles,
		"full":              st.Full,
		"watcher_healthy":   st.WatcherHealthy,
		"degraded":          st.Degraded,
	}
	if st.RunID != "" {
		m["run_id"] = st.RunID
	}
	if !st.StartedAt.IsZero() {
		m["started_at"] = st.StartedAt.Format(time.RFC3339)
	}
	if !st.FinishedAt.IsZero() {
		m["finished_at"] = st.FinishedAt.Format(time.RFC3339)
	}
	if st.LastError != "" {
		m["last_error"] = st.LastError
	}
	if st.WatcherError != "" {
		m["watcher_error"] = st.WatcherError
	}
	return m
}

// resolveInRoot maps a project-relative path to an absolute path that is
// guaranteed, after resolving symlinks, to stay inside root
func resolveInRoot(root, rel string) (string, error) {
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return "", ErrPathNotRelative
	}
	clean := types.NormalizePath(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrPathOutsideRoot
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}

	abs, err := filepath.EvalSymlinks(filepath.Join(realRoot, filepath.FromSlash(clean)))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrPathNotFound
		}
		return "", ErrPathNotReadable
	}
	if !types.IsUnder(filepath.ToSlash(abs), filepath.ToSlash(realRoot)) {
		return "", ErrPathOutsideRoot
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", ErrPathNotReadable
	}
	if info.IsDir() {
		return "", ErrNotFile
	}
	return abs, nil
}

// readCapped reads at most limit bytes of a file
func readCapped(abs string, limit int64) ([]byte, int64, bool, error) {
	f, err := os.Open(abs)
	if err != nil {
		return nil, 0, false, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, false, err
	}

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return nil, 0, false, err
	}
	return data, info.Size(), info.Size() > limit, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := args[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// Validation helpers

var (
	ErrPathNotRelative = errors.New("path must be project-relative")
	ErrPathOutsideRoot = errors.New("path escapes the project root")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotFile         = errors.New("path is a directory")
)
