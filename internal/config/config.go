// Package config loads flux's YAML configuration file, applying defaults
// and a documented pass of environment variable overrides (SPEC_FULL.md
// §4.16), following the teacher's internal/config.Load idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/flux/internal/retention"
)

// Config is the top-level flux configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tools     ToolsConfig     `yaml:"tools"`
	Engine    EngineConfig    `yaml:"engine"`
	LLM       LLMConfig       `yaml:"llm"`
	Retention RetentionConfig `yaml:"retention"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// DataConfig configures where flux keeps its on-disk state: SQLite
// databases, the tool marketplace directory, memory/usage JSON files.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig controls whether the HTTP surface requires credentials and
// the JWT signing secret used to issue/verify access tokens.
type AuthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	JWTSecret       string        `yaml:"jwt_secret"`
	DashboardToken  string        `yaml:"dashboard_token"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
}

// RateLimitConfig mirrors internal/ratelimit.Config's shape so it can be
// decoded straight from YAML and handed to ratelimit.NewLimiter.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Max     int           `yaml:"max"`
	Window  time.Duration `yaml:"window"`
}

// ToolsConfig configures the tool registry and its execution limits.
type ToolsConfig struct {
	Dir         string        `yaml:"dir"`
	Timeout     time.Duration `yaml:"timeout"`
	Interactive bool          `yaml:"interactive"`
}

// EngineConfig bounds conversation turn execution.
type EngineConfig struct {
	MaxHistory    int `yaml:"max_history"`
	MaxToolRounds int `yaml:"max_tool_rounds"`
	MaxTokens     int `yaml:"max_tokens"`
}

// LLMConfig selects the active provider. APIKeyEnv names the environment
// variable the key is read from rather than storing a raw secret in the
// config file.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// RetentionConfig lists per-category cleanup policies, decoded directly
// into internal/retention.Policy.
type RetentionConfig struct {
	Policies []retention.Policy `yaml:"policies"`
}

// CORSConfig lists allowed origins; a single "*" allows any origin.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// LoggingConfig selects slog's level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file at path, applying
// environment overrides and defaults, then validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyEnv()
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides config fields from environment variables. Apart from
// APIKey, which reads the variable named by LLM.APIKeyEnv, this is the only
// place config consults os.Getenv.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("FLUX_ADDRESS")); v != "" {
		c.Server.Address = v
	}
	if v := strings.TrimSpace(os.Getenv("FLUX_DATA_DIR")); v != "" {
		c.Data.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("FLUX_JWT_SECRET")); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("FLUX_DASHBOARD_TOKEN")); v != "" {
		c.Auth.DashboardToken = v
	}
	if v := strings.TrimSpace(os.Getenv("FLUX_RATE_LIMIT_MAX")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Max = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("FLUX_LLM_PROVIDER")); v != "" {
		c.LLM.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("FLUX_LLM_MODEL")); v != "" {
		c.LLM.Model = v
	}
}

// APIKey resolves the LLM API key from the environment variable named by
// LLM.APIKeyEnv.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = "."
	}
	if cfg.Auth.AccessTokenTTL <= 0 {
		cfg.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if cfg.Auth.RefreshTokenTTL <= 0 {
		cfg.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.RateLimit.Max <= 0 {
		cfg.RateLimit.Max = 60
	}
	if cfg.RateLimit.Window <= 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.Tools.Dir == "" {
		cfg.Tools.Dir = "tools"
	}
	if cfg.Tools.Timeout <= 0 {
		cfg.Tools.Timeout = 30 * time.Second
	}
	if cfg.Engine.MaxHistory <= 0 {
		cfg.Engine.MaxHistory = 50
	}
	if cfg.Engine.MaxToolRounds <= 0 {
		cfg.Engine.MaxToolRounds = 10
	}
	if cfg.Engine.MaxTokens <= 0 {
		cfg.Engine.MaxTokens = 4096
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.APIKeyEnv == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		default:
			cfg.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if len(cfg.Retention.Policies) == 0 {
		cfg.Retention.Policies = retention.DefaultPolicies()
	}
	if len(cfg.CORS.Origins) == 0 {
		cfg.CORS.Origins = []string{"*"}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// ValidationError reports every config issue found at once, rather than
// failing on the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		issues = append(issues, "auth.jwt_secret is required when auth.enabled is true")
	}
	if jwtSecret := strings.TrimSpace(cfg.Auth.JWTSecret); jwtSecret != "" && len(jwtSecret) < 32 {
		issues = append(issues, "auth.jwt_secret must be at least 32 characters")
	}
	switch cfg.LLM.Provider {
	case "anthropic", "openai":
	default:
		issues = append(issues, fmt.Sprintf("llm.provider must be \"anthropic\" or \"openai\", got %q", cfg.LLM.Provider))
	}
	if cfg.RateLimit.Max < 0 {
		issues = append(issues, "rate_limit.max must be >= 0")
	}
	if cfg.Engine.MaxToolRounds < 0 {
		issues = append(issues, "engine.max_tool_rounds must be >= 0")
	}
	for i, p := range cfg.Retention.Policies {
		if strings.TrimSpace(p.Category) == "" {
			issues = append(issues, fmt.Sprintf("retention.policies[%d].category is required", i))
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
