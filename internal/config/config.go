package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/cookbook/internal/telegram"
)

const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Documents DocumentsConfig `yaml:"documents"`
	Cache     CacheConfig     `yaml:"cache"`
	Tools     ToolsConfig     `yaml:"tools"`
	Server    ServerConfig    `yaml:"server"`
	LogLevel  string          `yaml:"log_level"`
}

type TelegramConfig struct {
	Token         string `yaml:"token"`
	APIURL        string `yaml:"api_url"`
	Mode          string `yaml:"mode"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	PollTimeout   int    `yaml:"poll_timeout"` // seconds
}

type CatalogConfig struct {
	// Source is a JSON or Parquet file of recipe entries
	Source string `yaml:"source"`
	// DBPath is where the catalog is loaded; ":memory:" keeps it in process
	DBPath string `yaml:"db_path"`
}

type DocumentsConfig struct {
	Reference string `yaml:"reference"`
}

type CacheConfig struct {
	Root string `yaml:"root"`
}

type ToolsConfig struct {
	Extract       string `yaml:"extract"`
	Render        string `yaml:"render"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			APIURL:      "https://api.telegram.org",
			Mode:        ModePolling,
			PollTimeout: 30,
		},
		Catalog: CatalogConfig{
			Source: "assets/index.json",
			DBPath: ":memory:",
		},
		Documents: DocumentsConfig{Reference: "assets/book.pdf"},
		Cache:     CacheConfig{Root: "/tmp/cooking-fetch"},
		Tools: ToolsConfig{
			Extract:       "pdftk",
			Render:        "pdfimages",
			MaxConcurrent: 4,
		},
		Server:   ServerConfig{Port: 8888},
		LogLevel: "info",
	}
}

// Load builds the configuration from the defaults, the optional YAML file at
// path and finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	// TELOXIDE_TOKEN is honoured for deployments of the earlier bot
	c.Telegram.Token = envStr("TELOXIDE_TOKEN", c.Telegram.Token)
	c.Telegram.Token = envStr("TELEGRAM_BOT_TOKEN", c.Telegram.Token)
	c.Telegram.APIURL = envStr("TELEGRAM_API_URL", c.Telegram.APIURL)
	c.Telegram.Mode = envStr("TELEGRAM_MODE", c.Telegram.Mode)
	c.Telegram.WebhookURL = envStr("TELEGRAM_WEBHOOK_URL", c.Telegram.WebhookURL)
	c.Telegram.WebhookSecret = envStr("TELEGRAM_WEBHOOK_SECRET", c.Telegram.WebhookSecret)
	c.Catalog.Source = envStr("CATALOG_SOURCE", c.Catalog.Source)
	c.Catalog.DBPath = envStr("CATALOG_DB_PATH", c.Catalog.DBPath)
	c.Documents.Reference = envStr("REFERENCE_PDF", c.Documents.Reference)
	c.Cache.Root = envStr("CACHE_ROOT", c.Cache.Root)
	c.Tools.Extract = envStr("PDF_EXTRACT_TOOL", c.Tools.Extract)
	c.Tools.Render = envStr("PDF_RENDER_TOOL", c.Tools.Render)
	c.Tools.MaxConcurrent = envInt("TOOLS_MAX_CONCURRENT", c.Tools.MaxConcurrent)
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
}

// Validate checks the settings every command needs
func (c *Config) Validate() error {
	var errs []error
	if c.Catalog.Source == "" {
		errs = append(errs, errors.New("catalog source must not be empty"))
	}
	if c.Cache.Root == "" {
		errs = append(errs, errors.New("cache root must not be empty"))
	}
	if c.Tools.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("TOOLS_MAX_CONCURRENT must be positive, got %d", c.Tools.MaxConcurrent))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

// ValidateBot additionally checks the settings needed to talk to Telegram
func (c *Config) ValidateBot() error {
	errs := []error{c.Validate()}
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN must be set"))
	}
	switch c.Telegram.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.Telegram.WebhookURL == "" {
			errs = append(errs, errors.New("TELEGRAM_WEBHOOK_URL must be set in webhook mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("TELEGRAM_MODE must be %q or %q, got %q", ModePolling, ModeWebhook, c.Telegram.Mode))
	}
	if c.Telegram.PollTimeout < 0 || c.Telegram.PollTimeout > telegram.MaxPollTimeout {
		errs = append(errs, fmt.Errorf("poll timeout must be between 0 and %d seconds, got %d", telegram.MaxPollTimeout, c.Telegram.PollTimeout))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
