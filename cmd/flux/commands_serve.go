package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that starts the HTTP surface.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the flux HTTP server",
		Long: `Start the flux HTTP server.

The server will:
1. Load configuration from the specified file (or flux.yaml)
2. Open the conversation, auth, audit and webhook SQLite databases
3. Initialize the configured LLM provider (Anthropic or OpenAI)
4. Start the hot-reloading tool registry
5. Serve /api/chat, /api/chat/stream, /api/auth/*, /api/webhooks and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  flux serve

  # Start with a custom config
  flux serve --config /etc/flux/production.yaml

  # Start with debug logging
  flux serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// buildMigrateCmd creates the "migrate" command: SQLite schema migrations
// run automatically on Open, so this thin wrapper opens every database
// (creating schema as needed) and runs the one-shot legacy JSON history
// import against the conversation store.
func buildMigrateCmd() *cobra.Command {
	var (
		configPath   string
		historyDir   string
		historyIface string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run SQLite schema migrations and legacy history import",
		Long: `Open every SQLite database (conversations, auth, audit, webhooks),
creating and migrating their schema as needed, then run the one-shot
migration of a legacy JSON history directory into the conversation store.

The history import is idempotent: a completion marker prevents it from
running twice, so --history-dir may be safely omitted on subsequent runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runMigrate(cmd, configPath, historyDir, historyIface)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&historyDir, "history-dir", "", "Legacy JSON history directory to import (optional)")
	cmd.Flags().StringVar(&historyIface, "history-interface", "cli", "Interface label to assign imported conversations")

	return cmd
}
