package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// triggerReindexTool returns the tool definition for trigger_reindex
func triggerReindexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "trigger_reindex",
		Description: "Start a background reindex of the project. Changed, added and deleted files are applied; with full set every file is embedded again.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"full": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed every tracked file even when unchanged",
					"default":     false,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report indexing progress, queue depth, watcher health and the last error",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// searchFilesTool returns the tool definition for search_files
func searchFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_files",
		Description: "Search the indexed project by meaning with a natural language query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language search query",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"file_type": map[string]interface{}{
					"type":        "string",
					"description": "Only return files with this extension (e.g., 'go', 'md')",
				},
				"file_extensions": map[string]interface{}{
					"type":        "array",
					"description": "Only return files with one of these extensions",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"path_prefix": map[string]interface{}{
					"type":        "string",
					"description": "Only return files under this project-relative directory",
				},
				"file_pattern": map[string]interface{}{
					"type":        "string",
					"description": "Glob for file names, or for paths when it contains a slash (e.g., '*_test.go')",
				},
				"min_score": map[string]interface{}{
					"type":        "number",
					"description": "Minimum cosine similarity (0.0-1.0)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getFileContentTool returns the tool definition for get_file_content
func getFileContentTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_file_content",
		Description: "Read a file of the project by its project-relative path",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Project-relative path as returned by search_files",
				},
			},
			Required: []string{"path"},
		},
	}
}

// getModelInfoTool returns the tool definition for get_model_info
func getModelInfoTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_model_info",
		Description: "Report the embedding provider, model and dimension and the vector store backend",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
