package commands

import (
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/logging"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

// NewAskCmd constructs the `ragchat ask` command, which sends one question
// and streams the answer to stdout.
func NewAskCmd() *cobra.Command {
	var (
		conversationID int64
		docIDs         []int64
		showThinking   bool
		noStream       bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question and stream the answer",
		Long: `Ask the backend one question. The answer is written to stdout as it
streams; reasoning goes to stderr with --thinking. Ctrl+C cancels the answer
and nothing is saved.

Examples:
  ragchat ask "how do I rotate the signing keys?"
  ragchat ask --conversation 42 "and for the staging cluster?"
  ragchat ask --docs 3,7 --thinking "summarise the incident reports"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			question := strings.Join(args, " ")
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("ask: %w", streamchat.ErrEmptyPrompt)
			}

			client, err := newClient(settings)
			if err != nil {
				return err
			}
			store, closeStore := openHistory(settings, log)
			defer closeStore()

			out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

			if noStream {
				req := api.ChatRequest{SystemPrompt: settings.SystemPrompt, UserPrompt: question, DocumentSourceIDs: docIDs}
				if conversationID != 0 {
					req.ConversationID = &conversationID
				}
				if settings.RAGDocuments > 0 {
					n := settings.RAGDocuments
					req.NumberOfRagDocumentsToInclude = &n
				}
				resp, err := client.Chat(ctx, req)
				if err != nil {
					return fmt.Errorf("ask: %w", err)
				}
				if showThinking && resp.Thinking != "" {
					fmt.Fprintln(errOut, resp.Thinking)
				}
				fmt.Fprintln(out, resp.Response)
				turn := &streamchat.ConversationTurn{
					Prompt:              resp.Prompt,
					Response:            resp.Response,
					Thinking:            resp.Thinking,
					VectorSearchResults: resp.VectorSearchResults,
					Model:               resp.Model,
					ConversationID:      resp.ConversationID,
					RequestStartTime:    resp.RequestStartTime,
					RequestEndTime:      resp.RequestEndTime,
				}
				if store != nil {
					if err := store.Append(ctx, turn); err != nil {
						log.Warn("ask: failed to record turn", "error", err)
					}
				}
				printTurnFooter(errOut, turn)
				return nil
			}

			sess, err := newSession(settings, client, nil, store, conversationID, docIDs, log)
			if err != nil {
				return err
			}
			h, err := sess.Send(ctx, question)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			// Print only what arrived since the last update.
			var printedResponse, printedThinking int
			flush := func() {
				p := h.Partial()
				if showThinking && len(p.Thinking) > printedThinking {
					fmt.Fprint(errOut, p.Thinking[printedThinking:])
					printedThinking = len(p.Thinking)
				}
				if len(p.Response) > printedResponse {
					if printedResponse == 0 && printedThinking > 0 {
						fmt.Fprintln(errOut)
					}
					fmt.Fprint(out, p.Response[printedResponse:])
					printedResponse = len(p.Response)
				}
			}
			for range h.Updates() {
				flush()
			}
			flush()
			fmt.Fprintln(out)

			turn, err := sess.Finish(ctx, h)
			if errors.Is(err, streamchat.ErrCancelled) {
				fmt.Fprintln(errOut, "[cancelled]")
				return err
			}
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			printTurnFooter(errOut, turn)
			return nil
		},
	}

	cmd.Flags().Int64VarP(&conversationID, "conversation", "c", 0, "Continue an existing conversation")
	cmd.Flags().Int64SliceVar(&docIDs, "docs", nil, "Restrict retrieval to these document source ids")
	cmd.Flags().BoolVarP(&showThinking, "thinking", "t", false, "Print the model's reasoning to stderr")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Use the non-streaming endpoint")

	return cmd
}
