package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the CLI configuration
type Config struct {
	// Credentials
	APIKey               string `mapstructure:"api-key"`
	WebhookSigningSecret string `mapstructure:"webhook-signing-secret"`

	// API connection
	BaseURL    string        `mapstructure:"base-url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"max-retries"`

	// Scan ledger
	LedgerPath string `mapstructure:"ledger-path"`

	// S3 sources
	S3Region string `mapstructure:"s3-region"`
	WorkDir  string `mapstructure:"work-dir"`

	// Logging
	LogLevel string `mapstructure:"log-level"`
}

// Load reads configuration from flags bound to the global viper instance, the environment, an
// optional config file and defaults.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for a specific viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	// Set defaults
	v.SetDefault("base-url", "https://api.nightfall.ai")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("max-retries", 3)
	v.SetDefault("ledger-path", filepath.Join(".nightfall", "ledger.db"))
	v.SetDefault("s3-region", "us-east-1")
	v.SetDefault("work-dir", filepath.Join(os.TempDir(), "nightfall"))
	v.SetDefault("log-level", "info")

	// Environment variables (NIGHTFALL_API_KEY, NIGHTFALL_WEBHOOK_SIGNING_SECRET, ...)
	v.SetEnvPrefix("NIGHTFALL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	v.BindEnv("api-key")
	v.BindEnv("webhook-signing-secret")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.nightfall")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors. Credentials are not checked here: commands that need
// them fail when the client is created.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base-url must be an absolute URL, got %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger-path cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work-dir cannot be empty")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log-level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return level, nil
}
