// Package genai provides persona-driven chat completions using the OpenAI API.

package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultMaxTokens caps the length of a single persona reply.
const DefaultMaxTokens = 700

// DefaultTemperature is tuned for in-character but coherent replies.
const DefaultTemperature = 0.7

// Opts holds configuration for the GenAI client.
type Opts struct {
	// APIKey is the OpenAI API key. Falls back to the OPENAI_API_KEY
	// environment variable when empty.
	APIKey string
	// Model is the chat completion model name.
	Model string
}

// Option configures the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the default chat completion model.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	client openai.Client
	model  string
}

// NewClient initializes a new GenAI client. The API key is taken from the
// options or the OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	slog.Debug("GenAI client initialized", "model", cfg.Model)
	return &Client{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	slog.Debug("GenAI GeneratePrompt invoked", "model", c.model, "systemLen", len(systemPrompt), "userLen", len(userPrompt))
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxTokens:   openai.Int(DefaultMaxTokens),
		Temperature: openai.Float(DefaultTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	slog.Debug("GenAI GeneratePrompt succeeded", "model", c.model, "responseLen", len(resp.Choices[0].Message.Content))
	return resp.Choices[0].Message.Content, nil
}
