package gigachat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Role1776/gigago"

	"expense-agent/internal/domain"
)

const (
	defaultModel = "GigaChat"
	// Every extraction intent runs at low temperature.
	defaultTemperature = 0.1
)

// ErrVisionUnsupported is returned by CompleteWithImage when no vision
// client is configured: GigaChat itself only serves the text intents.
var ErrVisionUnsupported = errors.New("gigachat: image completion is not supported")

// VisionCompleter serves the image intents GigaChat cannot.
type VisionCompleter interface {
	CompleteWithImage(ctx context.Context, prompt string, image []byte, mime string, opts domain.CompletionOptions) (string, error)
}

// Client adapts gigago to the completion contract.
type Client struct {
	generate func(ctx context.Context, messages []gigago.Message, opts domain.CompletionOptions) (string, error)
	vision   VisionCompleter
}

// Config holds the GigaChat credentials and model settings.
type Config struct {
	AuthKey            string
	Scope              string
	Model              string
	InsecureSkipVerify bool
	// Vision receives CompleteWithImage calls. Nil leaves image intents
	// unsupported.
	Vision VisionCompleter
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.AuthKey) == "" {
		return nil, errors.New("gigachat: auth key must not be empty")
	}
	opts := []gigago.Option{}
	if cfg.Scope != "" {
		opts = append(opts, gigago.WithCustomScope(cfg.Scope))
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
	}

	client, err := gigago.NewClient(ctx, cfg.AuthKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("gigachat: create client: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = defaultModel
	}
	// A model per request keeps sampling settings out of shared state.
	generate := func(ctx context.Context, messages []gigago.Message, o domain.CompletionOptions) (string, error) {
		model := client.GenerativeModel(name)
		model.Temperature = defaultTemperature
		if o.MaxTokens > 0 {
			model.MaxTokens = int32(o.MaxTokens)
		}
		resp, err := model.Generate(ctx, messages)
		if err != nil {
			return "", fmt.Errorf("gigachat: generate: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("gigachat: no choices in response")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return &Client{generate: generate, vision: cfg.Vision}, nil
}

// Complete flattens the conversation into user turns, since every
// extraction prompt is a single self-contained instruction.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, opts domain.CompletionOptions) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("gigachat: messages must not be empty")
	}
	out, err := c.generate(ctx, toMessages(messages), opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) CompleteWithImage(ctx context.Context, prompt string, image []byte, mime string, opts domain.CompletionOptions) (string, error) {
	if c.vision == nil {
		return "", ErrVisionUnsupported
	}
	return c.vision.CompleteWithImage(ctx, prompt, image, mime, opts)
}

func toMessages(messages []domain.ChatMessage) []gigago.Message {
	out := make([]gigago.Message, 0, len(messages))
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		out = append(out, gigago.Message{Role: gigago.RoleUser, Content: content})
	}
	return out
}
