package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flux.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
	if cfg.RateLimit.Max != 60 {
		t.Fatalf("expected default rate limit max 60, got %d", cfg.RateLimit.Max)
	}
	if cfg.LLM.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Fatalf("expected default anthropic key env, got %q", cfg.LLM.APIKeyEnv)
	}
	if len(cfg.Retention.Policies) == 0 {
		t.Fatal("expected default retention policies")
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
  bogus: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadValidatesLLMProvider(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: grok
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "llm.provider") {
		t.Fatalf("expected llm.provider error, got %v", err)
	}
}

func TestLoadRequiresJWTSecretWhenAuthEnabled(t *testing.T) {
	path := writeConfig(t, `
auth:
  enabled: true
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Fatalf("expected jwt_secret error, got %v", err)
	}
}

func TestApplyEnvOverridesAddress(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
`)
	t.Setenv("FLUX_ADDRESS", ":9999")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Address != ":9999" {
		t.Fatalf("expected env override, got %q", cfg.Server.Address)
	}
}

func TestAPIKeyReadsFromConfiguredEnvVar(t *testing.T) {
	path := writeConfig(t, `
llm:
  provider: anthropic
  api_key_env: MY_TEST_KEY
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	t.Setenv("MY_TEST_KEY", "secret-value")
	if got := cfg.APIKey(); got != "secret-value" {
		t.Fatalf("expected secret-value, got %q", got)
	}
}
