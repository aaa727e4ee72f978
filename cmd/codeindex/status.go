package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the persisted index holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := flags.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			chunks, err := engine.Store.Count(cmd.Context())
			if err != nil {
				return err
			}
			model, dim := engine.Meta.Model()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Root:         %s\n", engine.Config.Root)
			fmt.Fprintf(out, "Data dir:     %s\n", engine.Config.DataDir)
			fmt.Fprintf(out, "Vector store: %s\n", engine.Config.VectorStore)
			fmt.Fprintf(out, "Model:        %s (%d dimensions)\n", model, dim)
			fmt.Fprintf(out, "Files:        %d\n", engine.Meta.Len())
			fmt.Fprintf(out, "Chunks:       %d\n", chunks)
			return nil
		},
	}
}
