package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	envPrefix = "PRINT_AGENT"

	DefaultHost = "127.0.0.1"
	DefaultPort = 3321
)

// Config struct for environment variables.
type Config struct {
	Host         string `envconfig:"HOST" default:"127.0.0.1"`
	Port         int    `envconfig:"PORT" default:"3321"`
	SettingsPath string `envconfig:"SETTINGS_PATH"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath       string `envconfig:"DB_PATH" default:"print-agent.db"`

	Spooler         string        `envconfig:"SPOOLER" default:"auto"`
	TempDir         string        `envconfig:"TEMP_DIR"`
	StaleTempAfter  time.Duration `envconfig:"STALE_TEMP_AFTER" default:"1h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"60s"`
	SubmitTimeout time.Duration `envconfig:"SUBMIT_TIMEOUT" default:"2m"`
	// DocumentToken is only sent to the hosts in DocumentTokenHosts, never to
	// arbitrary /print URLs.
	DocumentToken      string   `envconfig:"DOCUMENT_TOKEN"`
	DocumentTokenHosts []string `envconfig:"DOCUMENT_TOKEN_HOSTS"`

	DiscordWebhookURL string   `envconfig:"DISCORD_WEBHOOK_URL"`
	AllowedOrigins    []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"3m"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"10s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.SettingsPath == "" {
		cfg.SettingsPath = defaultSettingsPath()
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%s_HOST must not be empty", envPrefix)
	}

	if !ValidPort(c.Port) {
		return fmt.Errorf("%s_PORT out of range: %d", envPrefix, c.Port)
	}

	switch strings.ToLower(c.Spooler) {
	case "auto", "cups", "windows":
	default:
		return fmt.Errorf("invalid %s_SPOOLER: %s", envPrefix, c.Spooler)
	}

	return nil
}

// ResolvePort applies the persisted port over the environment one. persisted is
// zero when the settings file held no usable value.
func (c *Config) ResolvePort(persisted int) int {
	if ValidPort(persisted) {
		return persisted
	}

	return c.Port
}

// ListenAddr joins the host with the given port.
func (c *Config) ListenAddr(port int) string {
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidPort reports whether p is a usable TCP port.
func ValidPort(p int) bool {
	return p > 0 && p <= 65535
}

func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	return filepath.Join(dir, "print-agent", "settings.json")
}
