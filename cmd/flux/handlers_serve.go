package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openclaw/flux/internal/audit"
	"github.com/openclaw/flux/internal/auth"
	"github.com/openclaw/flux/internal/config"
	"github.com/openclaw/flux/internal/cost"
	"github.com/openclaw/flux/internal/engine"
	"github.com/openclaw/flux/internal/httpapi"
	"github.com/openclaw/flux/internal/jobs"
	"github.com/openclaw/flux/internal/knowledge"
	"github.com/openclaw/flux/internal/llm"
	"github.com/openclaw/flux/internal/marketplace"
	"github.com/openclaw/flux/internal/metrics"
	"github.com/openclaw/flux/internal/ratelimit"
	"github.com/openclaw/flux/internal/retention"
	"github.com/openclaw/flux/internal/scheduler"
	"github.com/openclaw/flux/internal/search"
	"github.com/openclaw/flux/internal/store"
	"github.com/openclaw/flux/internal/tools"
	"github.com/openclaw/flux/internal/usage"
	"github.com/openclaw/flux/internal/webhook"
)

// dbPaths returns the fixed relative SQLite paths named by spec.md §6,
// rooted under cfg.Data.Dir.
func dbPaths(cfg *config.Config) (conversations, authDB, auditDB, webhooks string) {
	root := cfg.Data.Dir
	return filepath.Join(root, "data", "conversations.db"),
		filepath.Join(root, "data", "auth.db"),
		filepath.Join(root, "data", "audit.db"),
		filepath.Join(root, "data", "webhooks.db")
}

// runServe loads configuration, wires every collaborator, and serves the
// HTTP surface until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Info("configuration loaded", "address", cfg.Server.Address, "llm_provider", cfg.LLM.Provider)

	convPath, authPath, auditPath, webhookPath := dbPaths(cfg)
	for _, dir := range []string{filepath.Dir(convPath), cfg.Data.Dir, cfg.Tools.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	convStore, err := store.Open(convPath)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	defer convStore.Close()

	userStore, err := auth.OpenUserStore(authPath)
	if err != nil {
		return fmt.Errorf("open user store: %w", err)
	}
	defer userStore.Close()

	auditLog, err := audit.Open(auditPath, logger)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	webhookStore, err := webhook.Open(webhookPath)
	if err != nil {
		return fmt.Errorf("open webhook store: %w", err)
	}
	defer webhookStore.Close()

	jwtManager, err := auth.NewJWTManager(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("init JWT manager: %w", err)
	}

	middleware := auth.NewMiddleware(jwtManager, userStore).WithAudit(auditLog)
	middleware.Disabled = !cfg.Auth.Enabled
	middleware.DashboardToken = cfg.Auth.DashboardToken

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("init LLM provider: %w", err)
	}

	registry, err := tools.NewRegistry(tools.Config{
		Dir:           cfg.Tools.Dir,
		CacheDir:      filepath.Join(cfg.Tools.Dir, ".cache"),
		ApprovalsPath: filepath.Join(cfg.Tools.Dir, ".approved.json"),
		Interactive:   cfg.Tools.Interactive,
		ToolTimeout:   cfg.Tools.Timeout,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("init tool registry: %w", err)
	}
	stop, err := registry.WatchForChanges(ctx)
	if err != nil {
		logger.Warn("tool directory watch failed, hot reload disabled", "error", err)
	} else {
		defer stop()
	}

	searchIndex, err := search.Open(convStore.DB())
	if err != nil {
		return fmt.Errorf("open search index: %w", err)
	}

	knowledgeBase, err := knowledge.New(filepath.Join(cfg.Data.Dir, "knowledge"))
	if err != nil {
		return fmt.Errorf("open knowledge base: %w", err)
	}

	marketDir := filepath.Join(cfg.Data.Dir, "marketplace")
	market := marketplace.New(
		filepath.Join(marketDir, "registry.json"),
		filepath.Join(marketDir, "cache"),
		cfg.Tools.Dir,
		filepath.Join(marketDir, "installed.json"),
	)

	jobStore := jobs.NewMemoryStore()
	backupDir := filepath.Join(cfg.Data.Dir, "backups")

	usageStore := usage.NewStore(filepath.Join(cfg.Data.Dir, "usage_data.json"))
	costTracker := cost.NewTracker(logger)
	eng := engine.New(provider, registry, costTracker, usageStore, engine.Config{
		MaxHistory:    cfg.Engine.MaxHistory,
		MaxToolRounds: cfg.Engine.MaxToolRounds,
		MaxTokens:     cfg.Engine.MaxTokens,
	})

	dispatcher := webhook.NewDispatcher(webhookStore, logger)

	collector := metrics.New()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		Enabled: cfg.RateLimit.Enabled,
	})

	retentionMgr := retention.New(cfg.Retention.Policies, map[string]string{
		"conversations":      convPath,
		"audit_logs":         auditPath,
		"webhook_deliveries": webhookPath,
	}, logger)
	stopRetention := runRetentionLoop(ctx, retentionMgr, logger)
	defer stopRetention()

	sched := scheduler.New(
		filepath.Join(cfg.Data.Dir, "schedules.json"),
		filepath.Join(cfg.Data.Dir, "schedule_history.json"),
		toolExecutor{registry: registry},
		scheduler.WithLogger(logger),
	)
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("scheduler stopped", "error", err)
		}
	}()

	handler := httpapi.NewHandler(httpapi.Config{
		Engine:          eng,
		Store:           convStore,
		Auth:            middleware,
		Users:           userStore,
		Webhooks:        webhookStore,
		Dispatcher:      dispatcher,
		Usage:           usageStore,
		Audit:           auditLog,
		Metrics:         collector,
		RateLimit:       limiter,
		Search:          searchIndex,
		Knowledge:       knowledgeBase,
		Jobs:            jobStore,
		Marketplace:     market,
		DataDir:         cfg.Data.Dir,
		BackupDir:       backupDir,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		CORSOrigins:     cfg.CORS.Origins,
		ModelName:       cfg.LLM.Model,
		Logger:          logger,
	})

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: handler.Mount(),
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	logger.Info("flux server started", "address", cfg.Server.Address)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	logger.Info("shutdown signal received, initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("flux server stopped gracefully")
	return nil
}

// buildProvider constructs the configured LLM provider. cfg.Provider is
// validated by config.Load to be "anthropic" or "openai".
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	apiKey := cfg.APIKey()
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:    apiKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.Engine.MaxTokens,
		})
	default:
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:    apiKey,
			BaseURL:   cfg.LLM.BaseURL,
			Model:     cfg.LLM.Model,
			MaxTokens: cfg.Engine.MaxTokens,
		})
	}
}

// toolExecutor adapts the tool registry to scheduler.Executor: a due task
// naming a tool_name invokes it through the same gated Invoke path a
// conversation turn uses; a task with no tool_name is a plain reminder and
// its content is simply echoed back as the execution result.
type toolExecutor struct {
	registry *tools.Registry
}

func (e toolExecutor) Execute(ctx context.Context, task scheduler.Task) (string, error) {
	if task.ToolName == "" {
		return task.Content, nil
	}
	return e.registry.Invoke(ctx, task.ToolName, task.ToolArgs)
}

// runRetentionLoop runs one cleanup pass daily until ctx is cancelled,
// returning a stop function for symmetry with the other started goroutines.
func runRetentionLoop(ctx context.Context, mgr *retention.Manager, logger *slog.Logger) (stop func()) {
	ticker := time.NewTicker(24 * time.Hour)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				results := mgr.RunCleanup()
				logger.Info("retention cleanup ran", "results", results)
			}
		}
	}()
	return func() {
		ticker.Stop()
		<-done
	}
}

// runMigrate opens every SQLite database (running schema migrations as a
// side effect of Open) and, if --history-dir was given, imports legacy JSON
// history into the conversation store.
func runMigrate(cmd *cobra.Command, configPath, historyDir, historyIface string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	convPath, authPath, auditPath, webhookPath := dbPaths(cfg)
	for _, dir := range []string{filepath.Dir(convPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()

	convStore, err := store.Open(convPath)
	if err != nil {
		return fmt.Errorf("migrate conversation store: %w", err)
	}
	defer convStore.Close()
	fmt.Fprintf(out, "conversations: schema up to date (%s)\n", convPath)

	userStore, err := auth.OpenUserStore(authPath)
	if err != nil {
		return fmt.Errorf("migrate user store: %w", err)
	}
	userStore.Close()
	fmt.Fprintf(out, "auth: schema up to date (%s)\n", authPath)

	auditLog, err := audit.Open(auditPath, slog.Default())
	if err != nil {
		return fmt.Errorf("migrate audit log: %w", err)
	}
	auditLog.Close()
	fmt.Fprintf(out, "audit: schema up to date (%s)\n", auditPath)

	webhookStore, err := webhook.Open(webhookPath)
	if err != nil {
		return fmt.Errorf("migrate webhook store: %w", err)
	}
	webhookStore.Close()
	fmt.Fprintf(out, "webhooks: schema up to date (%s)\n", webhookPath)

	if historyDir != "" {
		n, err := convStore.MigrateFromHistoryDir(cmd.Context(), historyDir, historyIface)
		if err != nil {
			return fmt.Errorf("import legacy history: %w", err)
		}
		fmt.Fprintf(out, "history: imported %d conversation(s) from %s\n", n, historyDir)
	}

	return nil
}
