package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/cookbook/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	source     string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cookbook",
		Short: "Telegram bot that proposes recipes from a cookbook",
		Long: `Cookbook is a Telegram bot that suggests random recipes from a fixed cookbook.

Each conversation browses the catalog without repeats. Accepted recipes are sent
as a PDF extract of the book, and recipes with a picture are previewed as an image
rendered from that extract.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return setupLogging(opts.logLevel, opts.logFormat)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (default $LOG_LEVEL or info)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	cmd.PersistentFlags().StringVar(&opts.source, "catalog", "", "Catalog source file, JSON or Parquet (overrides $CATALOG_SOURCE)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCatalogCmd(opts))

	return cmd
}

// loadConfig reads the config file and environment, then applies flags.
// The resolved log level replaces the one set up before the config was read.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.source != "" {
		cfg.Catalog.Source = o.source
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := setupLogging(cfg.LogLevel, o.logFormat); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(level, format string) error {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "", "info":
		logLevel = slog.LevelInfo
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}
