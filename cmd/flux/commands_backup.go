package main

import (
	"github.com/spf13/cobra"
)

// buildBackupCmd creates the "backup" command group.
func buildBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create or restore tar.gz backups of flux's on-disk state",
	}
	cmd.AddCommand(buildBackupCreateCmd(), buildBackupRestoreCmd())
	return cmd
}

func buildBackupCreateCmd() *cobra.Command {
	var (
		configPath string
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Archive the SQLite databases, memory store, usage data and knowledge base",
		Long: `Create a flux-backup-YYYYMMDD-HHMMSS.tar.gz archive of:

  - data/conversations.db, data/auth.db, data/audit.db, data/webhooks.db
  - memory/memories.json
  - usage_data.json
  - knowledge/

Files that do not exist yet are skipped rather than treated as an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runBackupCreate(cmd, configPath, outDir)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVarP(&outDir, "output", "o", "backups", "Directory to write the archive into")
	return cmd
}

func buildBackupRestoreCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "restore <archive-path>",
		Short: "Restore a tar.gz backup archive",
		Long: `Restore a backup archive into the configured data directory.

Every archive member is validated before anything is extracted: an
absolute path, a ".." path segment, a symlink/hardlink, or a device node
anywhere in the archive rejects the whole restore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runBackupRestore(cmd, configPath, args[0])
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}
