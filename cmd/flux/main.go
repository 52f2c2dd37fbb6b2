// Package main provides the CLI entry point for flux, the core runtime of a
// self-extending AI assistant platform.
//
// flux mediates between clients and an LLM provider (Anthropic, OpenAI),
// running a bounded tool-use loop and persisting conversations, users, audit
// events, webhooks and scheduled tasks.
//
// # Basic Usage
//
// Start the server:
//
//	flux serve --config flux.yaml
//
// Run schema and legacy-history migrations:
//
//	flux migrate
//
// Manage users:
//
//	flux user create alice --role admin
//	flux user rotate-key <user-id>
//	flux user deactivate <user-id>
package main

import (
	"log/slog"
	"os"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
