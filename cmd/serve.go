package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/cookbook/internal/artifacts"
	"github.com/lehigh-university-libraries/cookbook/internal/config"
	"github.com/lehigh-university-libraries/cookbook/internal/dispatch"
	"github.com/lehigh-university-libraries/cookbook/internal/handlers"
	"github.com/lehigh-university-libraries/cookbook/internal/models"
	"github.com/lehigh-university-libraries/cookbook/internal/server"
	"github.com/lehigh-university-libraries/cookbook/internal/storage"
	"github.com/lehigh-university-libraries/cookbook/internal/telegram"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	var mode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recipe bot",
		Long: `Loads the catalog, connects to the Telegram Bot API and answers commands
until interrupted.

Updates are received through long polling by default. In webhook mode Telegram
pushes them to POST /telegram/webhook on the HTTP server, which also serves
/healthcheck and the /api/sessions inspection routes.`,
		Example: `  # Poll for updates, serving health and sessions on port 8888
  TELEGRAM_BOT_TOKEN=... cookbook serve

  # Receive updates through a webhook behind a reverse proxy
  cookbook serve --mode webhook --config cookbook.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if mode != "" {
				cfg.Telegram.Mode = mode
			}
			if err := cfg.ValidateBot(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8888, "Port to listen on")
	cmd.Flags().StringVar(&mode, "mode", "", "Update delivery: polling or webhook (overrides $TELEGRAM_MODE)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	recipes, err := store.Count(ctx)
	if err != nil {
		return err
	}
	if recipes == 0 {
		slog.Warn("Catalog is empty, every request for a recipe will report exhaustion", "source", cfg.Catalog.Source)
	}

	cache := artifacts.New(artifactsConfig(cfg), nil)

	client, err := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIURL)
	if err != nil {
		return err
	}
	slog.Info("Connected to Telegram", "bot", client.Username(), "mode", cfg.Telegram.Mode)

	if err := client.SetMyCommands(ctx, botCommands()); err != nil {
		slog.Warn("Unable to register bot commands", "err", err)
	}

	handler := handlers.New(storage.New(), store, cache, client)
	dispatcher := dispatch.New(ctx, handler.Handle)
	// waits for in-flight requests once the poller and server are down
	defer dispatcher.Close()

	submit := func(req models.Request) {
		dispatcher.Submit(req)
	}

	var webhook http.Handler
	if cfg.Telegram.Mode == config.ModeWebhook {
		webhook = client.WebhookHandler(cfg.Telegram.WebhookSecret, submit)
	}

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(handler, webhook, slog.Default()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var poller *telegram.Poller
	switch cfg.Telegram.Mode {
	case config.ModeWebhook:
		if err := client.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			return fmt.Errorf("failed to register webhook: %w", err)
		}
		slog.Info("Webhook registered", "url", cfg.Telegram.WebhookURL)
	default:
		// getUpdates is refused while a webhook is set
		if err := client.DeleteWebhook(ctx); err != nil {
			return fmt.Errorf("failed to remove webhook: %w", err)
		}
		poller = telegram.NewPoller(client, cfg.Telegram.PollTimeout)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Cookbook HTTP interface available", "addr", addr, "url", "http://localhost"+addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server...")
		// Give server 5 seconds to shut down gracefully
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "err", err)
			return err
		}
		slog.Info("Server stopped")
		return nil
	})

	if poller != nil {
		g.Go(func() error {
			return poller.Run(gctx, submit)
		})
	}

	return g.Wait()
}

func botCommands() []telegram.BotCommand {
	var commands []telegram.BotCommand
	for _, c := range handlers.Commands() {
		commands = append(commands, telegram.BotCommand{Command: string(c.Intent), Description: c.Description})
	}
	return commands
}

func artifactsConfig(cfg *config.Config) artifacts.Config {
	return artifacts.Config{
		Root:          cfg.Cache.Root,
		Reference:     cfg.Documents.Reference,
		ExtractTool:   cfg.Tools.Extract,
		RenderTool:    cfg.Tools.Render,
		MaxConcurrent: cfg.Tools.MaxConcurrent,
	}
}
