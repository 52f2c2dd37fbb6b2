package main

import (
	"github.com/spf13/cobra"
)

// buildWebhookCmd creates the "webhook" command group.
func buildWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage webhook subscriptions",
	}
	cmd.AddCommand(buildWebhookListCmd(), buildWebhookCreateCmd(), buildWebhookDeleteCmd())
	return cmd
}

func buildWebhookListCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List webhook subscriptions for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runWebhookList(cmd, configPath, userID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "default", "User ID to list subscriptions for")
	return cmd
}

func buildWebhookCreateCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		events     []string
	)
	cmd := &cobra.Command{
		Use:   "create <url>",
		Short: "Register a webhook subscription and print its signing secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runWebhookCreate(cmd, configPath, userID, args[0], events)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "default", "User ID to own the subscription")
	cmd.Flags().StringSliceVar(&events, "event", nil, "Event type to subscribe to (repeatable)")
	return cmd
}

func buildWebhookDeleteCmd() *cobra.Command {
	var (
		configPath string
		userID     string
	)
	cmd := &cobra.Command{
		Use:   "delete <webhook-id>",
		Short: "Delete a webhook subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runWebhookDelete(cmd, configPath, userID, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "default", "User ID that owns the subscription")
	return cmd
}
