package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PRINT_AGENT_SETTINGS_PATH", "/tmp/settings.json")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "/tmp/settings.json", cfg.SettingsPath)
	assert.Equal(t, "auto", cfg.Spooler)
	assert.Equal(t, 2*time.Minute, cfg.SubmitTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.NotEmpty(t, cfg.TempDir)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PRINT_AGENT_HOST", "0.0.0.0")
	t.Setenv("PRINT_AGENT_PORT", "4000")
	t.Setenv("PRINT_AGENT_SPOOLER", "cups")
	t.Setenv("PRINT_AGENT_WEB_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("PRINT_AGENT_DOCUMENT_TOKEN_HOSTS", "files.example.com,cdn.example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 4000, cfg.Port)
	assert.Equal(t, "cups", cfg.Spooler)
	assert.Equal(t, 3*time.Second, cfg.Web.ShutdownTimeout)
	assert.Equal(t, "0.0.0.0:4000", cfg.ListenAddr(cfg.Port))
	assert.Equal(t, []string{"files.example.com", "cdn.example.com"}, cfg.DocumentTokenHosts)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "PRINT_AGENT_PORT", "70000"},
		{"port not a number", "PRINT_AGENT_PORT", "abc"},
		{"unknown spooler", "PRINT_AGENT_SPOOLER", "lpd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestResolvePort(t *testing.T) {
	cfg := &Config{Port: 4000}

	assert.Equal(t, 5000, cfg.ResolvePort(5000), "persisted port wins")
	assert.Equal(t, 4000, cfg.ResolvePort(0), "missing persisted port falls back to env")
	assert.Equal(t, 4000, cfg.ResolvePort(-1))
	assert.Equal(t, 4000, cfg.ResolvePort(99999))
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.in}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}
