// Package server exposes the bot's HTTP surface: health, session
// inspection and the Telegram webhook.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lehigh-university-libraries/cookbook/internal/handlers"
)

// NewRouter builds the routes. webhook may be nil when updates arrive
// through long polling.
func NewRouter(h *handlers.Handler, webhook http.Handler, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(Logger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})

	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", h.HandleSessions)
		r.Get("/{chatID}", h.HandleSessionDetail)
		r.Delete("/{chatID}", h.HandleSessionDetail)
	})

	if webhook != nil {
		r.Method(http.MethodPost, "/telegram/webhook", webhook)
	}

	return r
}
