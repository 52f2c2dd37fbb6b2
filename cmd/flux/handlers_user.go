package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/flux/internal/auth"
	"github.com/openclaw/flux/internal/config"
	"github.com/openclaw/flux/pkg/models"
)

func parseRole(raw string) (models.UserRole, error) {
	switch raw {
	case "readonly":
		return models.RoleReadonly, nil
	case "user":
		return models.RoleUserRank, nil
	case "admin":
		return models.RoleAdmin, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be readonly, user, or admin", raw)
	}
}

func openUserStoreFromConfig(configPath string) (*auth.UserStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	_, authPath, _, _ := dbPaths(cfg)
	return auth.OpenUserStore(authPath)
}

func runUserCreate(cmd *cobra.Command, configPath, username, roleRaw string, maxDailyCalls int) error {
	role, err := parseRole(roleRaw)
	if err != nil {
		return err
	}
	store, err := openUserStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	user, rawKey, err := store.CreateUser(cmd.Context(), username, role, maxDailyCalls)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "user created: id=%s username=%s role=%s\n", user.ID, user.Username, user.Role)
	fmt.Fprintf(out, "api key (shown once): %s\n", rawKey)
	return nil
}

func runUserRotateKey(cmd *cobra.Command, configPath, userID string) error {
	store, err := openUserStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rawKey, err := store.RotateAPIKey(cmd.Context(), userID)
	if err != nil {
		return fmt.Errorf("rotate key: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "new api key (shown once): %s\n", rawKey)
	return nil
}

func runUserDeactivate(cmd *cobra.Command, configPath, userID string) error {
	store, err := openUserStoreFromConfig(configPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Deactivate(cmd.Context(), userID); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "user %s deactivated\n", userID)
	return nil
}
