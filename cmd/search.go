package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/webtranspose/internal/export"
	"github.com/sells-group/webtranspose/pkg/webtranspose"
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search the web through the service",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		filter, _ := cmd.Flags().GetBool("filter")
		outPath, _ := cmd.Flags().GetString("out")
		asJSON, _ := cmd.Flags().GetBool("json")
		query := strings.Join(args, " ")

		env, err := initEnv(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		var resp *webtranspose.SearchResponse
		if filter {
			resp, err = env.Client.SearchFilter(ctx, query)
		} else {
			resp, err = env.Client.Search(ctx, query)
		}
		if err != nil {
			return err
		}
		if resp.Degraded {
			fmt.Fprintf(os.Stderr, "relevance filtering unavailable, showing raw results: %s\n", resp.FilterError)
		}

		switch {
		case outPath != "":
			return export.WriteFile(outPath, export.SearchResults(resp, filter))
		case asJSON:
			return printJSON(cmd.OutOrStdout(), resp)
		default:
			formatSearchResults(cmd.OutOrStdout(), export.SearchResults(resp, filter))
			return nil
		}
	},
}

// formatSearchResults writes a results table to out.
func formatSearchResults(out io.Writer, t export.Table) {
	if len(t.Rows) == 0 {
		_, _ = fmt.Fprintln(out, "No results.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TITLE\tURL")
	for _, row := range t.Rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", truncate(row[1], 60), row[0])
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	searchCmd.Flags().Bool("filter", false, "ask the service to keep only relevant results")
	searchCmd.Flags().String("out", "", "write results to a .json, .csv or .xlsx file")
	searchCmd.Flags().Bool("json", false, "print the full response as JSON")
	rootCmd.AddCommand(searchCmd)
}
