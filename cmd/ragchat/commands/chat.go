package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/ragchat-go/internal/logging"
	"github.com/54b3r/ragchat-go/internal/streamchat"
	"github.com/54b3r/ragchat-go/internal/tui"
)

// NewChatCmd constructs the `ragchat chat` command, the interactive
// full-screen chat.
func NewChatCmd() *cobra.Command {
	var (
		conversationID int64
		docIDs         []int64
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat screen",
		Long: `Open a full-screen chat with the backend. Answers stream into the
transcript as they are generated.

Keys:
  Enter    send the prompt
  Esc      cancel the answer in progress
  Ctrl+N   start a new conversation
  Ctrl+T   show or hide the model's reasoning
  Ctrl+C   quit

Logs are written to ~/.ragchat/ragchat.log so they do not disturb the screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			logFile, err := openLogFile()
			if err != nil {
				return err
			}
			defer logFile.Close()
			log := logging.NewWithWriter(logFile)
			ctx = logging.WithLogger(ctx, log)

			client, err := newClient(settings)
			if err != nil {
				return err
			}
			store, closeStore := openHistory(settings, log)
			defer closeStore()

			reg := prometheus.NewRegistry()
			stopMetrics := startMetrics(settings.MetricsAddr, reg, log)
			defer stopMetrics()

			sess, err := newSession(settings, client, streamchat.NewMetrics(reg), store, conversationID, docIDs, log)
			if err != nil {
				return err
			}

			title := fmt.Sprintf("ragchat · %s", client.BaseURL())
			log.Info("chat: starting", slog.String("backend", client.BaseURL()), slog.Int64("conversation_id", conversationID))

			p := tea.NewProgram(tui.New(ctx, sess, title), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			if h := sess.Current(); h != nil {
				h.Cancel()
			}
			return nil
		},
	}

	cmd.Flags().Int64VarP(&conversationID, "conversation", "c", 0, "Continue an existing conversation")
	cmd.Flags().Int64SliceVar(&docIDs, "docs", nil, "Restrict retrieval to these document source ids")

	return cmd
}

// openLogFile opens ~/.ragchat/ragchat.log for appending.
func openLogFile() (*os.File, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("chat: resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragchat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("chat: create %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "ragchat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("chat: open log file: %w", err)
	}
	return f, nil
}
