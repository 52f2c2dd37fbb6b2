package main

import (
	"github.com/spf13/cobra"
)

// buildUserCmd creates the "user" command group.
func buildUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage flux users and API keys",
	}
	cmd.AddCommand(buildUserCreateCmd(), buildUserRotateKeyCmd(), buildUserDeactivateCmd())
	return cmd
}

func buildUserCreateCmd() *cobra.Command {
	var (
		configPath    string
		role          string
		maxDailyCalls int
	)

	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a user and print its API key",
		Long: `Create a user and print its raw API key exactly once.

The key is never recoverable afterward; only its SHA-256 hash is stored.
Use "user rotate-key" to issue a replacement if it is lost.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runUserCreate(cmd, configPath, args[0], role, maxDailyCalls)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&role, "role", "user", "Role: readonly, user, or admin")
	cmd.Flags().IntVar(&maxDailyCalls, "max-daily-calls", 0, "Daily call cap (0 = unlimited)")

	return cmd
}

func buildUserRotateKeyCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rotate-key <user-id>",
		Short: "Issue a new API key for a user, invalidating the old one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runUserRotateKey(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildUserDeactivateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "deactivate <user-id>",
		Short: "Deactivate a user, rejecting all future authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runUserDeactivate(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
