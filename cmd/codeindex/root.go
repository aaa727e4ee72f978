package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex-mcp/internal/app"
	"github.com/dshills/codeindex-mcp/internal/config"
)

// rootFlags are shared by every command
type rootFlags struct {
	root    string
	dataDir string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "codeindex",
		Short:         "Incremental semantic index of a source tree, served over MCP",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.root, "root", "", "project root (default $CODEINDEX_ROOT or the working directory)")
	cmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "index data directory (default ~/.codeindex/projects/<key>)")

	cmd.AddCommand(
		newServeCmd(flags),
		newIndexCmd(flags),
		newDiffCmd(flags),
		newSearchCmd(flags),
		newStatusCmd(flags),
		newVersionCmd(),
	)
	return cmd
}

// loadConfig reads the environment and applies flag overrides
func (f *rootFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	changed := false
	if f.root != "" {
		cfg.Root = f.root
		// The default data dir is keyed by root, so derive it again
		if os.Getenv("CODEINDEX_DATA_DIR") == "" {
			cfg.DataDir = ""
		}
		changed = true
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
		changed = true
	}
	if changed {
		if err := cfg.Finalize(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openEngine opens the engine for one-shot commands, which never watch
func (f *rootFlags) openEngine(ctx context.Context) (*app.Engine, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.WatchEnabled = false
	return app.Open(ctx, cfg, log.Default())
}
