package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewDocumentsCmd constructs the `ragchat documents` command, which lists
// the documents imported into the backend.
func NewDocumentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "List the documents the backend can retrieve from",
		Long: `List the imported documents. The ID column is what --docs expects on
ask, chat and search.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient(settings)
			if err != nil {
				return err
			}
			docs, err := client.ListDocuments(cmd.Context())
			if err != nil {
				return fmt.Errorf("documents: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "no documents")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tCREATED\tSIZE")
			for _, d := range docs {
				created := time.UnixMilli(d.CreatedAt).Local().Format(time.DateTime)
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", d.ID, d.SourceName, created, len(d.NonChunkedContent))
			}
			return tw.Flush()
		},
	}
}
