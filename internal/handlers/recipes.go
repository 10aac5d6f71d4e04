package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lehigh-university-libraries/cookbook/internal/catalog"
	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// propose shows a recipe the conversation has not seen in its current cycle.
// fresh starts a new cycle regardless of the current state.
func (h *Handler) propose(ctx context.Context, req models.Request, fresh bool) error {
	session := h.sessionStore.Get(req.ChatID)

	var history []int64
	if !fresh && session.State == models.StateBrowsing {
		history = slices.Clone(session.History)
	}

	rec, ok, err := h.catalog.PickExcluding(ctx, history)
	if err != nil {
		return h.fail(ctx, req, "pick recipe", err)
	}
	if !ok {
		slog.Info("Catalog exhausted for conversation", "request_id", req.ID, "chat_id", req.ChatID, "seen", len(history))
		h.sessionStore.Reset(req.ChatID)
		return h.messenger.SendText(ctx, req.ChatID, exhaustedText, models.FormatPlain)
	}

	if err := h.render(ctx, req.ChatID, rec); err != nil {
		return h.fail(ctx, req, "render recipe", err)
	}

	h.sessionStore.Set(models.Session{
		ChatID:  req.ChatID,
		State:   models.StateBrowsing,
		History: append(history, rec.ID),
	})

	slog.Info("Recipe proposed", "request_id", req.ID, "chat_id", req.ChatID, "record_id", rec.ID, "name", rec.Name)
	return nil
}

// render sends a recipe as a captioned picture or as text.
// A picture recipe whose image cannot be produced is an error, not a text fallback.
func (h *Handler) render(ctx context.Context, chatID int64, rec models.Record) error {
	caption := fmt.Sprintf("*%s*%s", EscapeMarkdown(rec.Name), hintText)

	if !rec.HasPicture {
		return h.messenger.SendText(ctx, chatID, caption, models.FormatMarkdownV2)
	}

	image, err := h.artifacts.ImageFor(ctx, rec)
	if err != nil {
		return err
	}
	return h.messenger.SendPhoto(ctx, chatID, image, caption, models.FormatMarkdownV2)
}

// accept sends the PDF of the most recently shown recipe and closes the cycle.
func (h *Handler) accept(ctx context.Context, req models.Request) error {
	session := h.sessionStore.Get(req.ChatID)

	last, ok := session.Last()
	if !ok {
		return h.messenger.SendText(ctx, req.ChatID, guidanceText, models.FormatPlain)
	}

	rec, err := h.catalog.GetByID(ctx, last)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			slog.Error("Data integrity violation: session references unknown recipe", "request_id", req.ID, "chat_id", req.ChatID, "record_id", last)
		}
		return h.fail(ctx, req, "lookup recipe", err)
	}

	path, err := h.artifacts.DocumentFor(ctx, rec)
	if err != nil {
		return h.fail(ctx, req, "extract recipe", err)
	}

	if err := h.messenger.SendDocument(ctx, req.ChatID, path); err != nil {
		return h.fail(ctx, req, "send document", err)
	}

	h.sessionStore.Reset(req.ChatID)
	slog.Info("Recipe accepted", "request_id", req.ID, "chat_id", req.ChatID, "record_id", rec.ID, "name", rec.Name)
	return nil
}
