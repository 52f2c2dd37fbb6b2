package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openclaw/flux/internal/config"
	"github.com/openclaw/flux/internal/marketplace"
)

func openMarketFromConfig(configPath string) (*marketplace.Market, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	marketDir := filepath.Join(cfg.Data.Dir, "marketplace")
	return marketplace.New(
		filepath.Join(marketDir, "registry.json"),
		filepath.Join(marketDir, "cache"),
		cfg.Tools.Dir,
		filepath.Join(marketDir, "installed.json"),
	), nil
}

func runToolList(cmd *cobra.Command, configPath string) error {
	market, err := openMarketFromConfig(configPath)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	available, err := market.ListAvailable(ctx)
	if err != nil {
		return fmt.Errorf("list available tools: %w", err)
	}
	installed, err := market.ListInstalled(ctx)
	if err != nil {
		return fmt.Errorf("list installed tools: %w", err)
	}

	installedSet := make(map[string]bool, len(installed))
	for _, r := range installed {
		installedSet[r.Name] = true
	}

	fmt.Fprintln(out, "available tools:")
	for _, entry := range available {
		marker := " "
		if installedSet[entry.Name] {
			marker = "*"
		}
		fmt.Fprintf(out, " %s %s  %s\n", marker, entry.Name, entry.Description)
	}
	return nil
}

func runToolInstall(cmd *cobra.Command, configPath, toolName string) error {
	market, err := openMarketFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := market.Install(cmd.Context(), toolName); err != nil {
		return fmt.Errorf("install %s: %w", toolName, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", toolName)
	return nil
}

func runToolUninstall(cmd *cobra.Command, configPath, toolName string) error {
	market, err := openMarketFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := market.Uninstall(cmd.Context(), toolName); err != nil {
		return fmt.Errorf("uninstall %s: %w", toolName, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "uninstalled %s\n", toolName)
	return nil
}

func runToolVerify(cmd *cobra.Command, configPath string) error {
	market, err := openMarketFromConfig(configPath)
	if err != nil {
		return err
	}
	statuses, err := market.VerifyIntegrity(cmd.Context())
	if err != nil {
		return fmt.Errorf("verify tools: %w", err)
	}
	out := cmd.OutOrStdout()
	if len(statuses) == 0 {
		fmt.Fprintln(out, "no tools installed")
		return nil
	}
	for name, status := range statuses {
		fmt.Fprintf(out, "%s: %s\n", name, status)
	}
	return nil
}
