package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "flux.yaml"

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flux",
		Short: "flux - self-extending AI assistant runtime",
		Long: `flux is the core runtime of a self-extending AI assistant platform: a
multi-interface server mediating between clients and an LLM provider,
running a bounded tool-use loop, and persisting conversations, users,
audit events, webhooks and scheduled tasks.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildUserCmd(),
		buildToolCmd(),
		buildWebhookCmd(),
		buildBackupCmd(),
	)

	return rootCmd
}

func resolveConfigPath(path string) string {
	if path == "" {
		return defaultConfigPath
	}
	return path
}
