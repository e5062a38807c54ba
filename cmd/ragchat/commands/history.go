package commands

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragchat-go/internal/logging"
)

var errHistoryDisabled = errors.New("history: local history is disabled (RAGCHAT_HISTORY_DB=disabled)")

// NewHistoryCmd constructs the `ragchat history` command tree.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List saved conversations",
		Long: `List the conversations saved in the local history database, most
recently active first. Use 'ragchat history show <id>' to print one, and
'ragchat ask --conversation <id>' to continue it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeStore := openHistory(settings, logging.New())
			defer closeStore()
			if store == nil {
				return errHistoryDisabled
			}

			convs, err := store.Conversations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(convs) == 0 {
				fmt.Fprintln(out, "no conversations yet")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTURNS\tLAST ACTIVITY\tFIRST PROMPT")
			for _, c := range convs {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", c.ID, c.Turns, c.LastActivity.Local().Format(time.DateTime), truncate(c.FirstPrompt, 60))
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newHistoryShowCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print the turns of one conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("history: invalid conversation id %q", args[0])
			}
			store, closeStore := openHistory(settings, logging.New())
			defer closeStore()
			if store == nil {
				return errHistoryDisabled
			}

			recs, err := store.Recent(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("history: conversation %d not found", id)
			}
			out := cmd.OutOrStdout()
			for i := range recs {
				t := &recs[i].ConversationTurn
				fmt.Fprintf(out, "── %s\n", t.RequestStartTime.Local().Format(time.DateTime))
				fmt.Fprintf(out, "You: %s\n\n%s\n", t.Prompt, t.Response)
				printTurnFooter(out, t)
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Show at most this many of the latest turns")
	return cmd
}
