package telegram

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// SecretHeader carries the webhook secret configured with SetWebhook
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

var intents = map[string]models.Intent{
	"help":   models.IntentHelp,
	"start":  models.IntentHelp,
	"new":    models.IntentNew,
	"accept": models.IntentAccept,
	"next":   models.IntentNext,
}

// ParseCommand extracts the intent from a command message such as "/next" or
// "/next@cookbook_bot extra". Commands addressed to another bot are ignored.
func ParseCommand(text, botName string) (models.Intent, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}

	command := strings.TrimPrefix(fields[0], "/")
	if name, mention, ok := strings.Cut(command, "@"); ok {
		if botName != "" && !strings.EqualFold(mention, botName) {
			return "", false
		}
		command = name
	}

	intent, ok := intents[strings.ToLower(command)]
	return intent, ok
}

// RequestFromUpdate turns an update into a request when it carries a command
func RequestFromUpdate(u Update, botName string) (models.Request, bool) {
	if u.Message == nil || u.Message.Chat == nil {
		return models.Request{}, false
	}
	intent, ok := ParseCommand(u.Message.Text, botName)
	if !ok {
		return models.Request{}, false
	}
	return models.Request{ChatID: u.Message.Chat.ID, Intent: intent}, true
}

// Poller receives updates through getUpdates long polling
type Poller struct {
	client  *Client
	botName string
	timeout int // seconds
}

// NewPoller creates a poller; timeout is capped at MaxPollTimeout.
func NewPoller(client *Client, timeout int) *Poller {
	return &Poller{
		client:  client,
		botName: client.Username(),
		timeout: min(max(timeout, 0), MaxPollTimeout),
	}
}

// Run polls until ctx is done, passing every command to submit in arrival order.
func (p *Poller) Run(ctx context.Context, submit func(models.Request)) error {
	var offset int
	backoff := time.Second

	slog.Info("Polling for updates", "timeout_seconds", p.timeout)
	for {
		updates, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("Failed to get updates", "err", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 30*time.Second)
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID < offset {
				continue
			}
			offset = u.UpdateID + 1
			if req, ok := RequestFromUpdate(u, p.botName); ok {
				submit(req)
			} else {
				slog.Debug("Ignoring update", "update_id", u.UpdateID)
			}
		}
	}
}

// WebhookHandler accepts updates pushed by Telegram. Requests without the
// configured secret are rejected.
func (c *Client) WebhookHandler(secret string, submit func(models.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(SecretHeader)), []byte(secret)) != 1 {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		u, err := c.api.HandleUpdate(r)
		if err != nil {
			slog.Warn("Invalid webhook payload", "err", err)
			http.Error(w, "invalid update", http.StatusBadRequest)
			return
		}

		if req, ok := RequestFromUpdate(*u, c.Username()); ok {
			submit(req)
		}
		w.WriteHeader(http.StatusOK)
	}
}
