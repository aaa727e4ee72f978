package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex-mcp/pkg/types"
)

func newDiffCmd(flags *rootFlags) *cobra.Command {
	var kindNames []string

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "List files that changed since the last index without indexing them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := make(map[types.ChangeKind]bool, len(kindNames))
			for _, name := range kindNames {
				k, err := types.ParseChangeKind(name)
				if err != nil {
					return fmt.Errorf("--kind %q: %w", name, err)
				}
				kinds[k] = true
			}

			engine, err := flags.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			items, err := engine.Detector.Diff(cmd.Context(), engine.Meta.Snapshot())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			n := 0
			for _, it := range items {
				if len(kinds) > 0 && !kinds[it.Kind] {
					continue
				}
				fmt.Fprintf(out, "%-8s %s\n", it.Kind, it.Path)
				n++
			}
			fmt.Fprintf(out, "%d changes\n", n)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&kindNames, "kind", nil, "Only list changes of these kinds (added, modified, deleted)")
	return cmd
}
