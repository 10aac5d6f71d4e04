package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
	"github.com/lehigh-university-libraries/cookbook/internal/storage"
)

// Catalog is the read side of the recipe catalog
type Catalog interface {
	PickExcluding(ctx context.Context, excluded []int64) (models.Record, bool, error)
	GetByID(ctx context.Context, id int64) (models.Record, error)
}

// Artifacts produces the files sent for a recipe
type Artifacts interface {
	DocumentFor(ctx context.Context, rec models.Record) (string, error)
	ImageFor(ctx context.Context, rec models.Record) (string, error)
}

// Messenger delivers replies to a conversation
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, format models.TextFormat) error
	SendPhoto(ctx context.Context, chatID int64, path, caption string, format models.TextFormat) error
	SendDocument(ctx context.Context, chatID int64, path string) error
}

// Handler drives the per-conversation browsing state machine.
// Requests of one conversation must not be handled concurrently.
type Handler struct {
	sessionStore *storage.SessionStore
	catalog      Catalog
	artifacts    Artifacts
	messenger    Messenger
}

func New(sessions *storage.SessionStore, catalog Catalog, artifacts Artifacts, messenger Messenger) *Handler {
	return &Handler{
		sessionStore: sessions,
		catalog:      catalog,
		artifacts:    artifacts,
		messenger:    messenger,
	}
}

const (
	hintText      = "\n\n/accept to get the pdf\n/next for another recipe"
	exhaustedText = "You circled over all recipes. You can start over with /new"
	guidanceText  = "To accept you first need to fetch a recipe with /new"
	failureText   = "Sorry, I could not complete this request. Please try again."
)

// fail logs the cause, tells the user something went wrong and returns the
// error. Tool output never reaches the user.
func (h *Handler) fail(ctx context.Context, req models.Request, op string, err error) error {
	slog.Error("Request failed", "request_id", req.ID, "chat_id", req.ChatID, "intent", req.Intent, "op", op, "err", err)
	if sendErr := h.messenger.SendText(ctx, req.ChatID, failureText, models.FormatPlain); sendErr != nil {
		slog.Error("Unable to send failure message", "request_id", req.ID, "chat_id", req.ChatID, "err", sendErr)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	slog.Error(message)
	http.Error(w, message, code)
}
