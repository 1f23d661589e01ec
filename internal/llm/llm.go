// Package llm adapts text-completion providers to a single Completer call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Completer sends one prompt with its instructions and returns the model's
// raw text. A timeout of zero means only ctx bounds the call.
type Completer interface {
	Complete(ctx context.Context, prompt, instructions string, timeout time.Duration) (string, error)
}

// TransportError is a failed or empty model call.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s completion: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of time.
func (e *TransportError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ErrNoProvider is returned by Unavailable.
var ErrNoProvider = errors.New("no LLM provider configured")

// Unavailable is a Completer for commands that never talk to a model.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, string, string, time.Duration) (string, error) {
	return "", &TransportError{Provider: "none", Err: ErrNoProvider}
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		temperature: 0.3,
	}
}

// Complete sends instructions as the system message and prompt as the user
// message.
func (c *Client) Complete(ctx context.Context, prompt, instructions string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if instructions != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", &TransportError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &TransportError{Provider: "openai", Err: errors.New("no choices returned")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "provider", "openai", "model", c.model, "elapsed", time.Since(start), "raw", raw)
	if strings.TrimSpace(raw) == "" {
		return "", &TransportError{Provider: "openai", Err: errors.New("empty response")}
	}
	return raw, nil
}

// Ping checks that the endpoint answers a model listing.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return &TransportError{Provider: "openai", Err: err}
	}
	return nil
}
