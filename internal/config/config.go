// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all application configuration.
type Config struct {
	Port        string `yaml:"port"         env:"PORT"         env-default:"8080"`
	FrontendURL string `yaml:"frontend_url" env:"FRONTEND_URL"`
	DBPath      string `yaml:"db_path"      env:"DB_PATH"      env-default:"./data/portal-state.db"`
	LogLevel    string `yaml:"log_level"    env:"LOG_LEVEL"    env-default:"info"`

	PortalAPIURL     string        `yaml:"portal_api_url"     env:"PORTAL_API_URL"`
	PortalAPITimeout time.Duration `yaml:"portal_api_timeout" env:"PORTAL_API_TIMEOUT" env-default:"10s"`

	// RedisAddr enables cross-process event fan-out when set.
	RedisAddr    string `yaml:"redis_addr"    env:"REDIS_ADDR"`
	RedisChannel string `yaml:"redis_channel" env:"REDIS_CHANNEL" env-default:"portal-state:events"`

	SessionSaveDebounce time.Duration `yaml:"session_save_debounce" env:"SESSION_SAVE_DEBOUNCE" env-default:"500ms"`
	StorageQuotaBytes   int64         `yaml:"storage_quota_bytes"   env:"STORAGE_QUOTA_BYTES"   env-default:"5242880"`

	ProfileTTL      time.Duration `yaml:"profile_ttl"      env:"PROFILE_TTL"      env-default:"2160h"`
	JanitorInterval time.Duration `yaml:"janitor_interval" env:"JANITOR_INTERVAL" env-default:"1h"`

	AnalyticsCacheTTL time.Duration `yaml:"analytics_cache_ttl" env:"ANALYTICS_CACHE_TTL" env-default:"5m"`

	WeightMaterial float64 `yaml:"time_saved_weight_material" env:"TIME_SAVED_WEIGHT_MATERIAL" env-default:"0.2"`
	WeightQuiz     float64 `yaml:"time_saved_weight_quiz"     env:"TIME_SAVED_WEIGHT_QUIZ"     env-default:"0.5"`
	WeightCheck    float64 `yaml:"time_saved_weight_check"    env:"TIME_SAVED_WEIGHT_CHECK"    env-default:"0.15"`

	DBMaxRetries     int           `yaml:"db_max_retries"      env:"DB_MAX_RETRIES"      env-default:"3"`
	DBRetryBaseDelay time.Duration `yaml:"db_retry_base_delay" env:"DB_RETRY_BASE_DELAY" env-default:"50ms"`
}

// Load reads configuration from environment variables. When CONFIG_PATH
// points at a YAML file, it is read first and the environment overrides it.
func Load() (*Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.PortalAPITimeout <= 0 {
		return fmt.Errorf("PORTAL_API_TIMEOUT must be > 0")
	}
	if c.SessionSaveDebounce <= 0 {
		return fmt.Errorf("SESSION_SAVE_DEBOUNCE must be > 0")
	}
	if c.ProfileTTL <= 0 {
		return fmt.Errorf("PROFILE_TTL must be > 0")
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0")
	}
	if c.WeightMaterial < 0 || c.WeightQuiz < 0 || c.WeightCheck < 0 {
		return fmt.Errorf("TIME_SAVED_WEIGHT_* must be >= 0")
	}
	if c.DBMaxRetries <= 0 {
		return fmt.Errorf("DB_MAX_RETRIES must be > 0")
	}
	if c.RedisAddr != "" && c.RedisChannel == "" {
		return fmt.Errorf("REDIS_CHANNEL cannot be empty when REDIS_ADDR is set")
	}
	return nil
}

// Weights returns the time-saved weights.
func (c *Config) Weights() domain.Weights {
	return domain.Weights{
		MaterialUpload: c.WeightMaterial,
		QuizGeneration: c.WeightQuiz,
		WorkChecked:    c.WeightCheck,
	}
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env == "development"
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
