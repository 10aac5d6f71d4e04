package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// DefaultAPIURL is the public Bot API endpoint
const DefaultAPIURL = "https://api.telegram.org"

// MaxPollTimeout bounds the long-poll timeout (seconds) so a poll always
// finishes before the HTTP client gives up on it.
const MaxPollTimeout = 100

type (
	Update     = tgbotapi.Update
	Message    = tgbotapi.Message
	Chat       = tgbotapi.Chat
	BotCommand = tgbotapi.BotCommand
)

// Client sends and receives through the Bot API
type Client struct {
	api  *tgbotapi.BotAPI
	http *http.Client
}

// NewClient connects to the Bot API at baseURL and checks the token with getMe.
func NewClient(token, baseURL string) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	endpoint := strings.TrimRight(baseURL, "/") + "/bot%s/%s"

	httpClient := &http.Client{
		Timeout: (MaxPollTimeout + 60) * time.Second,
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, httpClient)
	if err != nil {
		return nil, wrapError("connect to telegram", token, err)
	}

	slog.Debug("Telegram client ready", "bot", api.Self.UserName)
	return &Client{api: api, http: httpClient}, nil
}

// Username is the bot's own username as reported by getMe
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// contextClient attaches ctx to every request the library makes
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// with returns a copy of the API bound to ctx
func (c *Client) with(ctx context.Context) *tgbotapi.BotAPI {
	api := *c.api
	api.Client = contextClient{ctx: ctx, client: c.http}
	return &api
}

// wrapError keeps the token, which is part of every request URL, out of errors
func wrapError(op, token string, err error) error {
	var urlErr *url.Error
	if token != "" && errors.As(err, &urlErr) {
		return fmt.Errorf("failed to %s: %s %s: %w", op, urlErr.Op, strings.ReplaceAll(urlErr.URL, token, "<token>"), urlErr.Err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func (c *Client) wrap(op string, err error) error {
	return wrapError(op, c.api.Token, err)
}

// GetUpdates long-polls for message updates starting at offset
func (c *Client) GetUpdates(ctx context.Context, offset, timeout int) ([]Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = timeout
	cfg.AllowedUpdates = []string{"message"}

	updates, err := c.with(ctx).GetUpdates(cfg)
	if err != nil {
		return nil, c.wrap("get updates", err)
	}
	return updates, nil
}

// SetWebhook points the bot at webhookURL; secret is echoed back in every webhook call
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secret string) error {
	// the library's WebhookConfig predates secret_token, so the call is built by hand
	params := tgbotapi.Params{"url": webhookURL}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return fmt.Errorf("failed to encode allowed updates: %w", err)
	}

	if _, err := c.with(ctx).MakeRequest("setWebhook", params); err != nil {
		return c.wrap("set webhook", err)
	}
	return nil
}

// DeleteWebhook switches the bot back to getUpdates delivery
func (c *Client) DeleteWebhook(ctx context.Context) error {
	if _, err := c.with(ctx).Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return c.wrap("delete webhook", err)
	}
	return nil
}

func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	if _, err := c.with(ctx).Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		return c.wrap("set commands", err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string, format models.TextFormat) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = string(format)

	if _, err := c.with(ctx).Send(msg); err != nil {
		return c.wrap("send message", err)
	}
	slog.Debug("Message sent", "chat_id", chatID, "length", len(text))
	return nil
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, path, caption string, format models.TextFormat) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(path))
	photo.Caption = caption
	photo.ParseMode = string(format)

	if _, err := c.with(ctx).Send(photo); err != nil {
		return c.wrap("send photo", err)
	}
	slog.Debug("Photo sent", "chat_id", chatID, "path", path)
	return nil
}

func (c *Client) SendDocument(ctx context.Context, chatID int64, path string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))

	if _, err := c.with(ctx).Send(doc); err != nil {
		return c.wrap("send document", err)
	}
	slog.Debug("Document sent", "chat_id", chatID, "path", path)
	return nil
}
