// Package telegram implements the Telegram Bot API client used to deliver
// replies, selection keyboards and callback acknowledgments.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"resty.dev/v3"

	"github.com/Phantom00716/telegram-personalities-bot/internal/models"
)

// DefaultAPIBaseURL is the public Telegram Bot API endpoint.
const DefaultAPIBaseURL = "https://api.telegram.org"

// DefaultTimeout bounds every Bot API call.
const DefaultTimeout = 30 * time.Second

// Opts holds configuration for the Telegram client.
type Opts struct {
	// Token is the bot token issued by BotFather.
	Token string
	// APIBaseURL overrides the Bot API endpoint, mainly for tests.
	APIBaseURL string
	// Timeout bounds every API call.
	Timeout time.Duration
}

// Option configures the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) {
		o.Token = token
	}
}

// WithAPIBaseURL overrides the Bot API endpoint.
func WithAPIBaseURL(url string) Option {
	return func(o *Opts) {
		o.APIBaseURL = url
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// apiResponse is the Bot API envelope common to all methods.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Client talks to the Telegram Bot API.
type Client struct {
	http  *resty.Client
	token string
}

// NewClient creates a Telegram client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIBaseURL: DefaultAPIBaseURL,
		Timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}

	http := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(cfg.Timeout)

	slog.Debug("Telegram client initialized", "baseURL", cfg.APIBaseURL, "timeout", cfg.Timeout)
	return &Client{http: http, token: cfg.Token}, nil
}

// call invokes a Bot API method and checks the response envelope.
func (c *Client) call(ctx context.Context, method string, body interface{}) error {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/%s", c.token, method))
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", method, err)
	}
	if !out.OK {
		return fmt.Errorf("telegram %s rejected: %s (status %d)", method, out.Description, resp.StatusCode())
	}
	return nil
}

// SendMessage sends an HTML-formatted text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	slog.Debug("Telegram SendMessage", "chatID", chatID, "textLen", len(text))
	return c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
}

// SendKeyboard sends a text message with an inline keyboard attached.
func (c *Client) SendKeyboard(ctx context.Context, chatID int64, text string, markup models.InlineKeyboardMarkup) error {
	slog.Debug("Telegram SendKeyboard", "chatID", chatID, "rows", len(markup.InlineKeyboard))
	return c.call(ctx, "sendMessage", map[string]interface{}{
		"chat_id":      chatID,
		"text":         text,
		"parse_mode":   "HTML",
		"reply_markup": markup,
	})
}

// AnswerCallback acknowledges a callback query so the client stops showing
// its progress indicator. With showAlert set the text pops up as an alert.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	slog.Debug("Telegram AnswerCallback", "callbackID", callbackID, "showAlert", showAlert)
	return c.call(ctx, "answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        showAlert,
	})
}

// SetWebhook registers url as the bot's webhook endpoint.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	slog.Info("Telegram SetWebhook", "url", url)
	return c.call(ctx, "setWebhook", map[string]interface{}{
		"url": url,
	})
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.http.Close()
}
