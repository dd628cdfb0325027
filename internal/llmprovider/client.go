// Package llmprovider wraps the external LLM used for intent classification
// and call summaries. The provider may return prose around a JSON object;
// callers extract the first balanced JSON object from the reply.
package llmprovider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rapidaai/exo-agent-assist/internal/apperr"
)

// Client wraps anthropic-sdk-go behind the narrow shape this system needs:
// send messages, get back raw text, on our own timeout.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
}

func NewClient(apiKey, model string) *Client {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_5HaikuLatest
	}
	return &Client{inner: c, model: m}
}

// Complete sends a single-turn request with the given system prompt and
// user message, and returns the raw assistant text. temperature should be
// low (<=0.3) for intent classification and moderate for summaries, per
// the external interfaces section.
func (c *Client) Complete(ctx context.Context, system, user string, temperature float64, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		Temperature: anthropic.Float(temperature),
	})
	if err != nil {
		return "", apperr.New(apperr.Provider, "llmprovider.complete", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// ExtractFirstJSONObject scans text for the first balanced {...} object,
// tolerating surrounding prose. Returns an error if no balanced object is
// found.
func ExtractFirstJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in LLM reply")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			if escaped {
				escaped = false
			} else if ch == '\\' {
				escaped = true
			} else if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in LLM reply")
}
