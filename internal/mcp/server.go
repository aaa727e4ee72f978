package mcp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeindex-mcp/internal/searcher"
	"github.com/dshills/codeindex-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "codeindex-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
	// DefaultMaxFileBytes caps get_file_content responses
	DefaultMaxFileBytes = 1 << 20
)

// Controller is the status and control surface of the index
type Controller interface {
	TriggerReindex(full bool) bool
	GetStatus() types.IndexingStatus
	IsIndexingComplete() bool
}

// Searcher answers search_files
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
}

// ModelInfo describes the embedding model and vector store in use
type ModelInfo struct {
	Provider    string
	Model       string
	Dimension   int
	VectorStore string
}

// Options configures a Server
type Options struct {
	Root         string // Project root; get_file_content is confined to it
	Model        ModelInfo
	MaxFileBytes int64
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	control  Controller
	searcher Searcher
	opts     Options
}

// NewServer creates an MCP server over the given control surface and searcher
func NewServer(ctrl Controller, srch Searcher, opts Options) (*Server, error) {
	if ctrl == nil || srch == nil {
		return nil, fmt.Errorf("control surface and searcher are required")
	}
	if opts.Root == "" {
		return nil, fmt.Errorf("project root is required")
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = DefaultMaxFileBytes
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:      mcpServer,
		control:  ctrl,
		searcher: srch,
		opts:     opts,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve runs the MCP server on stdio and blocks until stdin closes or ctx
// is done
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(os.Stderr, "mcp: ", log.LstdFlags))
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(triggerReindexTool(), s.handleTriggerReindex)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(searchFilesTool(), s.handleSearchFiles)
	s.mcp.AddTool(getFileContentTool(), s.handleGetFileContent)
	s.mcp.AddTool(getModelInfoTool(), s.handleGetModelInfo)
	return nil
}
