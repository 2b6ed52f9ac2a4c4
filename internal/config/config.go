package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/go-refine/internal/cron"
)

// LLMConfig selects the model provider used by every generation step.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic", "openai",
	// "openai_compatible", "openrouter".
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // custom endpoint for openai_compatible / openrouter
}

// LoopConfig controls the refinement loop driver.
type LoopConfig struct {
	// MaxIterations is the default iteration cap for a session. Must be >= 1.
	MaxIterations int `yaml:"max_iterations"`

	// GenerationRetries is how many extra times a failing generation call is
	// retried before the session is aborted. 0 disables retries.
	GenerationRetries int `yaml:"generation_retries"`

	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	GenerateTimeout time.Duration `yaml:"generate_timeout"` // 0 = none
	VerifyTimeout   time.Duration `yaml:"verify_timeout"`   // 0 = none
}

type DockerConfig struct {
	Image    string `yaml:"image"`
	MemoryMB int64  `yaml:"memory_mb"`
	Network  string `yaml:"network"`
}

type ExecutorConfig struct {
	// Kind is one of "starlark", "docker", "host".
	Kind        string        `yaml:"kind"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxSteps    uint64        `yaml:"max_steps"`
	Interpreter string        `yaml:"interpreter"`
	Docker      DockerConfig  `yaml:"docker"`
}

type StorageConfig struct {
	// Driver is one of "sqlite", "postgres", "memory".
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	DatabaseURL string `yaml:"database_url"`

	// SessionBackend is one of "sqlite", "redis", "memory". Empty follows Driver.
	SessionBackend string        `yaml:"session_backend"`
	RedisURL       string        `yaml:"redis_url"`
	SessionTTL     time.Duration `yaml:"session_ttl"`

	// PruneSchedule is a cron expression for deleting finished sessions
	// while a long-lived command such as gateway chat runs. Empty disables it.
	PruneSchedule string        `yaml:"prune_schedule"`
	PruneAfter    time.Duration `yaml:"prune_after"`
}

type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Extractor is "llm" or "rules".
	Extractor       string `yaml:"extractor"`
	DefaultOwnerKey string `yaml:"default_owner_key"`
}

type GatewayConfig struct {
	BindAddr  string `yaml:"bind_addr"`
	AuthToken string `yaml:"auth_token"`
	// ApprovalTimeout auto-rejects unanswered approvals. 0 waits forever.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	LLM      LLMConfig      `yaml:"llm"`
	Loop     LoopConfig     `yaml:"loop"`
	Executor ExecutorConfig `yaml:"executor"`
	Storage  StorageConfig  `yaml:"storage"`
	Memory   MemoryConfig   `yaml:"memory"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	OTel     OTelConfig     `yaml:"otel"`
}

// ResolveLLMConfig returns the effective provider, model and API key.
// Env vars take precedence over the file: GEMINI_API_KEY / GOOGLE_API_KEY,
// ANTHROPIC_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = c.LLM.Provider
	if provider == "" {
		provider = "google"
	}
	model = c.LLM.Model
	if model == "" {
		model = defaultModel(provider)
	}

	envMap := map[string][]string{
		"google":            {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		"anthropic":         {"ANTHROPIC_API_KEY"},
		"openai":            {"OPENAI_API_KEY"},
		"openai_compatible": {"OPENAI_API_KEY"},
		"openrouter":        {"OPENROUTER_API_KEY"},
	}
	for _, envVar := range envMap[provider] {
		if v := os.Getenv(envVar); v != "" {
			return provider, model, v
		}
	}
	return provider, model, c.LLM.APIKey
}

func defaultModel(provider string) string {
	switch provider {
	case "anthropic":
		return "claude-sonnet-4-5-20250929"
	case "openai", "openai_compatible":
		return "gpt-4o-mini"
	case "openrouter":
		return "openai/gpt-4o-mini"
	default:
		return "gemini-2.5-flash"
	}
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Loop: LoopConfig{
			MaxIterations:     3,
			GenerationRetries: 2,
			RetryBaseDelay:    500 * time.Millisecond,
			RetryMaxDelay:     10 * time.Second,
		},
		Executor: ExecutorConfig{
			Kind:        "starlark",
			Timeout:     30 * time.Second,
			MaxSteps:    10_000_000,
			Interpreter: "python3",
			Docker: DockerConfig{
				Image:    "python:3.12-slim",
				MemoryMB: 256,
				Network:  "none",
			},
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			SessionTTL:    24 * time.Hour,
			PruneSchedule: "@hourly",
			PruneAfter:    7 * 24 * time.Hour,
		},
		Memory: MemoryConfig{
			Enabled:         true,
			Extractor:       "llm",
			DefaultOwnerKey: "user_1",
		},
		Gateway: GatewayConfig{
			BindAddr: "127.0.0.1:18790",
		},
		OTel: OTelConfig{
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "refine",
			SampleRate:  1.0,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("REFINE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".refine")
}

// Load reads the configuration from HomeDir().
func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom reads <homeDir>/config.yaml on top of the defaults, applies env
// overrides and validates the result. A missing file is not an error.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create refine home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.Provider == "" || cfg.LLM.Provider == "gemini" {
		cfg.LLM.Provider = "google"
	}
	if cfg.Loop.GenerationRetries < 0 {
		cfg.Loop.GenerationRetries = 0
	}
	if cfg.Loop.RetryBaseDelay <= 0 {
		cfg.Loop.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Loop.RetryMaxDelay < cfg.Loop.RetryBaseDelay {
		cfg.Loop.RetryMaxDelay = cfg.Loop.RetryBaseDelay
	}
	cfg.Executor.Kind = strings.ToLower(strings.TrimSpace(cfg.Executor.Kind))
	if cfg.Executor.Kind == "" {
		cfg.Executor.Kind = "starlark"
	}
	if cfg.Executor.Interpreter == "" {
		cfg.Executor.Interpreter = "python3"
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.HomeDir, "refine.db")
	}
	if cfg.Storage.SessionBackend == "" {
		cfg.Storage.SessionBackend = cfg.Storage.Driver
		if cfg.Storage.RedisURL != "" {
			cfg.Storage.SessionBackend = "redis"
		}
	}
	cfg.Storage.PruneSchedule = strings.TrimSpace(cfg.Storage.PruneSchedule)
	if cfg.Storage.PruneAfter <= 0 {
		cfg.Storage.PruneAfter = 7 * 24 * time.Hour
	}
	if cfg.Memory.Extractor == "" {
		cfg.Memory.Extractor = "llm"
	}
	if strings.TrimSpace(cfg.Memory.DefaultOwnerKey) == "" {
		cfg.Memory.DefaultOwnerKey = "user_1"
	}
	if cfg.Gateway.BindAddr == "" {
		cfg.Gateway.BindAddr = "127.0.0.1:18790"
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "refine"
	}
}

func validate(cfg Config) error {
	if cfg.Loop.MaxIterations < 1 {
		return fmt.Errorf("loop.max_iterations must be >= 1, got %d", cfg.Loop.MaxIterations)
	}
	switch cfg.Executor.Kind {
	case "starlark", "docker", "host":
	default:
		return fmt.Errorf("unknown executor.kind %q", cfg.Executor.Kind)
	}
	switch cfg.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage.driver postgres requires storage.database_url or DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}
	switch cfg.Storage.SessionBackend {
	case "sqlite", "postgres", "memory":
	case "redis":
		if cfg.Storage.RedisURL == "" {
			return fmt.Errorf("storage.session_backend redis requires storage.redis_url or REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown storage.session_backend %q", cfg.Storage.SessionBackend)
	}
	switch cfg.Memory.Extractor {
	case "llm", "rules":
	default:
		return fmt.Errorf("unknown memory.extractor %q", cfg.Memory.Extractor)
	}
	if cfg.Storage.PruneSchedule != "" {
		if err := cron.ValidateSchedule(cfg.Storage.PruneSchedule); err != nil {
			return fmt.Errorf("storage.prune_schedule: %w", err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("REFINE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("REFINE_MAX_ITERATIONS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Loop.MaxIterations = v
		}
	}
	if raw := os.Getenv("REFINE_EXECUTOR"); raw != "" {
		cfg.Executor.Kind = raw
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.Storage.DatabaseURL = raw
		cfg.Storage.Driver = "postgres"
	}
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		cfg.Storage.RedisURL = raw
	}
	if raw := os.Getenv("REFINE_GATEWAY_ADDR"); raw != "" {
		cfg.Gateway.BindAddr = raw
	}
	if raw := os.Getenv("REFINE_GATEWAY_TOKEN"); raw != "" {
		cfg.Gateway.AuthToken = raw
	}
}
