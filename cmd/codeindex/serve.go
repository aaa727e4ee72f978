package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex-mcp/internal/app"
	"github.com/dshills/codeindex-mcp/internal/mcp"
	"github.com/dshills/codeindex-mcp/internal/observability"
	"github.com/dshills/codeindex-mcp/internal/storage"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var maxFileBytes int64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index the project, watch it for changes and serve MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Printf("codeindex MCP server %s starting", version)
			log.Printf("build mode: %s, driver: %s, vector extension: %v",
				storage.BuildMode, storage.DriverName, storage.VectorExtensionAvailable)

			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}

			shutdown, err := observability.Init(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(sctx); err != nil {
					log.Printf("observability shutdown: %v", err)
				}
			}()

			engine, err := app.Open(ctx, cfg, log.Default())
			if err != nil {
				return err
			}
			defer func() {
				if err := engine.Close(); err != nil {
					log.Printf("shutdown: %v", err)
				}
			}()

			if err := engine.Control.Start(ctx); err != nil {
				return err
			}

			server, err := mcp.NewServer(engine.Control, engine.Searcher, mcp.Options{
				Root:         cfg.Root,
				MaxFileBytes: maxFileBytes,
				Model: mcp.ModelInfo{
					Provider:    engine.Embedder.Provider(),
					Model:       engine.Embedder.Model(),
					Dimension:   engine.Embedder.Dimension(),
					VectorStore: cfg.VectorStore,
				},
			})
			if err != nil {
				return err
			}

			log.Printf("serving %s on stdio", cfg.Root)
			err = server.Serve(ctx)
			log.Println("server stopped")
			return err
		},
	}

	cmd.Flags().Int64Var(&maxFileBytes, "max-file-bytes", mcp.DefaultMaxFileBytes, "largest file get_file_content returns untruncated")
	return cmd
}
