package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newIndexCmd(flags *rootFlags) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Bring the index up to date with the project and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := flags.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Indexing %s...\n", engine.Config.Root)

			sum, err := engine.Coordinator.Reindex(cmd.Context(), full)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "\nDone in %s\n", sum.Duration.Round(time.Millisecond))
			fmt.Fprintf(out, "  Files:   %d queued, %d indexed, %d deleted, %d skipped, %d failed\n",
				sum.Enqueued, sum.Indexed, sum.Deleted, sum.Skipped, sum.Failed)
			fmt.Fprintf(out, "  Chunks:  %d\n", sum.Chunks)
			fmt.Fprintf(out, "  Tracked: %d\n", engine.Meta.Len())
			for _, e := range sum.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			if sum.Failed > 0 {
				return fmt.Errorf("%d files failed to index", sum.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "re-embed every file instead of only changed ones")
	return cmd
}
