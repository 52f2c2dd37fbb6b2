package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openclaw/flux/internal/backup"
	"github.com/openclaw/flux/internal/config"
)

func runBackupCreate(cmd *cobra.Command, configPath, outDir string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	manifest, err := backup.Create(cfg.Data.Dir, outDir)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "backup written: %s (%d bytes)\n", manifest.Path, manifest.SizeBytes)
	for _, c := range manifest.Contents {
		fmt.Fprintf(out, "  - %s\n", c)
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, configPath, archivePath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	manifest, err := backup.Restore(archivePath, cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "restored into %s:\n", cfg.Data.Dir)
	for _, c := range manifest.Contents {
		fmt.Fprintf(out, "  - %s\n", c)
	}
	return nil
}
