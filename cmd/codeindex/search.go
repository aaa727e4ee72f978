package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex-mcp/internal/searcher"
	"github.com/dshills/codeindex-mcp/internal/storage"
)

func newSearchCmd(flags *rootFlags) *cobra.Command {
	var (
		limit      int
		pathPrefix string
		fileTypes  []string
		minScore   float64
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index from the command line",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := flags.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			req := searcher.SearchRequest{
				Query: strings.Join(args, " "),
				Limit: limit,
			}
			if pathPrefix != "" || len(fileTypes) > 0 || minScore > 0 {
				req.Filter = &storage.Filter{PathPrefix: pathPrefix, FileTypes: fileTypes, MinScore: minScore}
			}

			resp, err := engine.Searcher.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range resp.Results {
				fmt.Fprintf(out, "%2d. %.3f %s:%d-%d\n", r.Rank, r.Score, r.Path, r.StartLine, r.EndLine)
			}
			fmt.Fprintf(out, "%d results in %s\n", resp.TotalResults, resp.Duration)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", searcher.DefaultLimit, "maximum number of results")
	cmd.Flags().StringVar(&pathPrefix, "path", "", "only search under this project-relative directory")
	cmd.Flags().StringSliceVar(&fileTypes, "type", nil, "only search files with these extensions")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "minimum similarity (0-1)")
	return cmd
}
