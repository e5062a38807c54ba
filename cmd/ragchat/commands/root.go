// Package commands defines all Cobra CLI commands for the ragchat binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/54b3r/ragchat-go/internal/audit"
	"github.com/54b3r/ragchat-go/internal/config"
	"github.com/54b3r/ragchat-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// settings is the resolved configuration, set before any subcommand runs.
var settings *config.Settings

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragchat",
		Short: "Chat with your documents from the terminal",
		Long: `ragchat talks to a retrieval-augmented chat backend. Answers stream in
as they are generated, including the model's reasoning, and finished turns
are saved to a local history database.

Settings come from environment variables, a .env file and a YAML config
file (~/.ragchat/config.yaml), in that order of precedence.
Run 'ragchat serve' for a local development backend.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Precedence: process env, then .env, then YAML.
			if err := config.LoadDotEnv(envFile, log); err != nil {
				return err
			}
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			audit.LogCommandStart(cmd.Context(), log, cmd.Name(), loadedConfigPath)

			s, err := config.Resolve()
			if err != nil {
				return err
			}
			settings = s
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.ragchat/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a dotenv file (default: .env)")

	root.AddCommand(
		NewAskCmd(),
		NewChatCmd(),
		NewSearchCmd(),
		NewDocumentsCmd(),
		NewHistoryCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}
