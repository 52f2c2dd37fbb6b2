package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/flux/internal/config"
	"github.com/openclaw/flux/internal/webhook"
)

func openWebhookStoreFromConfig(configPath string) (*webhook.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	_, _, _, webhookPath := dbPaths(cfg)
	return webhook.Open(webhookPath)
}

func runWebhookList(cmd *cobra.Command, configPath, userID string) error {
	store, err := openWebhookStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	hooks, err := store.List(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("list webhooks: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(hooks) == 0 {
		fmt.Fprintln(out, "no webhooks registered")
		return nil
	}
	for _, h := range hooks {
		fmt.Fprintf(out, "%s  %s  events=%v  active=%t  failures=%d\n", h.ID, h.URL, h.Events, h.IsActive, h.FailureCount)
	}
	return nil
}

func runWebhookCreate(cmd *cobra.Command, configPath, userID, url string, events []string) error {
	store, err := openWebhookStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	created, err := store.Create(cmd.Context(), userID, url, events, "")
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "webhook created: id=%s url=%s events=%v\n", created.ID, created.URL, created.Events)
	fmt.Fprintf(out, "signing secret (shown once): %s\n", created.Secret)
	return nil
}

func runWebhookDelete(cmd *cobra.Command, configPath, userID, id string) error {
	store, err := openWebhookStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(cmd.Context(), id, userID); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "webhook %s deleted\n", id)
	return nil
}
