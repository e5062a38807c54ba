package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragchat-go/internal/api"
)

// NewSearchCmd constructs the `ragchat search` command, which runs a vector
// search without generating an answer.
func NewSearchCmd() *cobra.Command {
	var (
		matches int
		docIDs  []int64
		rewrite bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the document store",
		Long: `Run a vector search against the backend and print the matching passages.

Examples:
  ragchat search "signing key rotation"
  ragchat search --matches 10 --rewrite "how do deployments work"
  ragchat search --json "incident" | jq '.searchResults[].score'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(settings)
			if err != nil {
				return err
			}

			req := api.VectorSearchRequest{Query: strings.Join(args, " "), NumMatches: matches, DocumentSourceIDs: docIDs}
			var useRewrite *bool
			if cmd.Flags().Changed("rewrite") {
				useRewrite = &rewrite
			}
			resp, err := client.SearchVectors(cmd.Context(), req, useRewrite)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			if resp.RewrittenQuery != "" {
				fmt.Fprintf(out, "rewritten query: %s\n\n", resp.RewrittenQuery)
			}
			if len(resp.SearchResults) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCORE\tSOURCE\tTEXT")
			for _, r := range resp.SearchResults {
				source, _ := r.Metadata["sourceName"].(string)
				fmt.Fprintf(tw, "%.3f\t%s\t%s\n", r.Score, source, truncate(r.Text, 80))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&matches, "matches", "n", 5, "Number of passages to return")
	cmd.Flags().Int64SliceVar(&docIDs, "docs", nil, "Restrict the search to these document source ids")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "Ask the backend to rewrite the query first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response as JSON")

	return cmd
}
