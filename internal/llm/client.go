package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tanvi/sahayak/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// ErrUnavailable indicates the completion backend could not be reached at all.
// Callers switch to their fallback path when they see this.
var ErrUnavailable = errors.New("llm: collaborator unavailable")

// Collaborator is the single seam between this system and the language model.
// All structure (plans, classifications, envelopes) is imposed by prompt text
// and recovered from the returned string by the decoder in this package.
type Collaborator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Client adapts a langchaingo model to the Collaborator contract with a
// bounded per-call timeout.
type Client struct {
	Model   llms.Model
	Timeout time.Duration
	Logger  *observability.Logger // optional, records every exchange to llm.jsonl
}

func NewClient(model llms.Model, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{Model: model, Timeout: timeout}
}

func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var messages []llms.MessageContent
	if systemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(systemPrompt)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(userPrompt)},
	})

	resp, err := c.Model.GenerateContent(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	content := resp.Choices[0].Content
	if c.Logger != nil {
		c.Logger.LogLLM("", map[string]string{"system": systemPrompt, "user": userPrompt}, content)
	}
	return content, nil
}
