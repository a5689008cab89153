// Package config provides configuration management for the application.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. GITWATCH_TELEGRAM_TOKEN.
const EnvPrefix = "GITWATCH"

// RequestTimeout is the deadline the HTTP router puts on every handler. The
// poll trigger answers inside it, so poll.cycle_timeout must stay below it.
const RequestTimeout = 60 * time.Second

// Config represents the application configuration.
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Poll     PollConfig     `mapstructure:"poll"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// TelegramConfig holds Telegram bot configuration.
type TelegramConfig struct {
	Token     string  `mapstructure:"token" validate:"required"`
	Debug     bool    `mapstructure:"debug"`
	RateLimit float64 `mapstructure:"rate_limit" validate:"gt=0"` // messages per second
}

// GitHubConfig holds GitHub API and webhook configuration.
type GitHubConfig struct {
	APIURL        string `mapstructure:"api_url" validate:"omitempty,url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	WebhookURL    string `mapstructure:"webhook_url" validate:"omitempty,url"` // public URL registered on created hooks
}

// PollConfig holds the polling scheduler configuration.
type PollConfig struct {
	CronSecret      string        `mapstructure:"cron_secret"`
	Interval        time.Duration `mapstructure:"interval" validate:"gte=0"` // 0 disables the in-process ticker
	MaxPerCycle     int           `mapstructure:"max_per_cycle" validate:"gte=1"`
	BatchSize       int           `mapstructure:"batch_size" validate:"gte=1"`
	PageSize        int           `mapstructure:"page_size" validate:"gte=1,lte=100"`
	DefaultLookback time.Duration `mapstructure:"default_lookback" validate:"gt=0"`
	CycleTimeout    time.Duration `mapstructure:"cycle_timeout" validate:"gt=0"`
	LeaseTTL        time.Duration `mapstructure:"lease_ttl" validate:"gt=0"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite3 pgx"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"gte=1,lte=65535"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// AuthConfig holds account-linking settings.
type AuthConfig struct {
	// LinkURL is shown by /start; "{chat_id}" is replaced with the chat id.
	LinkURL string `mapstructure:"link_url"`
}

var defaults = map[string]any{
	"telegram.token":        "",
	"telegram.debug":        false,
	"telegram.rate_limit":   25.0,
	"github.api_url":        "",
	"github.webhook_secret": "",
	"github.webhook_url":    "",
	"poll.cron_secret":      "",
	"poll.interval":         "0s",
	"poll.max_per_cycle":    100,
	"poll.batch_size":       10,
	"poll.page_size":        10,
	"poll.default_lookback": "10m",
	"poll.cycle_timeout":    "55s",
	"poll.lease_ttl":        "2m",
	"database.driver":       "sqlite3",
	"database.dsn":          "./data/gitwatch.db",
	"server.host":           "0.0.0.0",
	"server.port":           8080,
	"log.level":             "info",
	"log.file":              "",
	"log.json":              false,
	"auth.link_url":         "",
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Every key gets a default so AutomaticEnv can see it during Unmarshal.
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, e := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", e.Namespace(), e.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Poll.CycleTimeout >= RequestTimeout {
		return fmt.Errorf("poll.cycle_timeout (%s) must be below the HTTP request timeout (%s)", c.Poll.CycleTimeout, RequestTimeout)
	}
	if c.Poll.LeaseTTL <= c.Poll.CycleTimeout {
		return fmt.Errorf("poll.lease_ttl (%s) must exceed poll.cycle_timeout (%s)", c.Poll.LeaseTTL, c.Poll.CycleTimeout)
	}
	if c.GitHub.WebhookURL != "" && c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("github.webhook_secret is required when github.webhook_url is set")
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// WebhooksEnabled reports whether /watch may register repository hooks.
func (c *Config) WebhooksEnabled() bool {
	return c.GitHub.WebhookURL != "" && c.GitHub.WebhookSecret != ""
}

// LinkURLFor renders the account-linking URL for a chat, or "" when unset.
func (c *Config) LinkURLFor(chatID int64) string {
	if c.Auth.LinkURL == "" {
		return ""
	}
	return strings.ReplaceAll(c.Auth.LinkURL, "{chat_id}", fmt.Sprint(chatID))
}
