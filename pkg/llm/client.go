// Package llm wraps the OpenAI chat-completions API behind a strict-JSON
// completion call with bounded repair retries.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Model call failures, classified for the engine's retry policy.
var (
	// ErrModelTransport covers network and API failures reaching the model.
	ErrModelTransport = errors.New("model_transport_error")
	// ErrModelParse means the model never produced schema-valid JSON
	// within the repair budget.
	ErrModelParse = errors.New("model_parse_error")
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxRepairAttempts     = 2
)

// CompletionClient is the slice of the OpenAI client the package uses;
// tests substitute it.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Request is one strict-JSON completion call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Config for the client. Model is required; zero Timeout falls back to
// the default.
type Config struct {
	Model   string
	Timeout time.Duration
}

// Client issues chat completions and enforces JSON output.
type Client struct {
	api     CompletionClient
	model   string
	timeout time.Duration
}

// New creates a client over the real OpenAI API. The key is held by the
// underlying client only and never appears in errors or logs.
func New(apiKey string, cfg Config) *Client {
	return NewWithCompleter(openai.NewClient(apiKey), cfg)
}

// NewWithCompleter creates a client over any completion backend.
func NewWithCompleter(api CompletionClient, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	return &Client{api: api, model: cfg.Model, timeout: cfg.Timeout}
}

// CompleteJSON sends the request with a JSON response format and
// unmarshals the model's output into out. On malformed output it retries
// up to twice, feeding the offending text back with a repair
// instruction, before giving up with ErrModelParse.
func (c *Client) CompleteJSON(ctx context.Context, req Request, out any) error {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
		{Role: openai.ChatMessageRoleUser, Content: req.User},
	}

	var lastParseErr error
	for attempt := 0; attempt <= maxRepairAttempts; attempt++ {
		content, err := c.complete(ctx, messages, req)
		if err != nil {
			return err
		}

		extracted, err := ExtractJSON(content)
		if err == nil {
			if err = json.Unmarshal([]byte(extracted), out); err == nil {
				return nil
			}
		}
		lastParseErr = err
		slog.Warn("Model output failed JSON parse",
			"attempt", attempt+1, "error", err)

		// Feed the bad output back and ask for JSON only.
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleUser,
				Content: "Your previous reply was not a valid JSON object. " +
					"Respond again with only the JSON object, no prose and no markdown fences.",
			},
		)
	}

	return fmt.Errorf("%w: %v", ErrModelParse, lastParseErr)
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrModelTransport, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choice list", ErrModelTransport)
	}
	return resp.Choices[0].Message.Content, nil
}
