package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/portal-state/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.SessionSaveDebounce)
	assert.Equal(t, 90*24*time.Hour, cfg.ProfileTTL)
	assert.Equal(t, 10*time.Second, cfg.PortalAPITimeout)
	assert.Equal(t, domain.DefaultWeights(), cfg.Weights())
	assert.Equal(t, 3, cfg.DBMaxRetries)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_SAVE_DEBOUNCE", "250ms")
	t.Setenv("TIME_SAVED_WEIGHT_QUIZ", "1.5")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.SessionSaveDebounce)
	assert.Equal(t, 1.5, cfg.Weights().QuizGeneration)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\nportal_api_url: https://portal.example\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "https://portal.example", cfg.PortalAPIURL)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("SESSION_SAVE_DEBOUNCE", "0s")

	_, err := Load()
	require.Error(t, err)
}

func TestConfig_Helpers(t *testing.T) {
	t.Setenv("APP_ENV", "")
	os.Unsetenv("APP_ENV")

	cfg := &Config{FrontendURL: "https://a.example, https://b.example", LogLevel: "DEBUG"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.False(t, cfg.IsDevelopment())

	dev := &Config{FrontendURL: "http://localhost:5173"}
	assert.True(t, dev.IsDevelopment())
	assert.Equal(t, slog.LevelInfo, dev.SlogLevel())
	assert.Equal(t, []string{"*"}, (&Config{}).AllowedOrigins())
}
