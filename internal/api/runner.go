package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// DefaultMaxTokens bounds a single completion.
const DefaultMaxTokens = 4096

// Runner provides simple text-in/text-out Claude API calls.
type Runner struct {
	client    *Client
	maxTokens int64
}

// NewRunner creates a new API runner.
func NewRunner(client *Client) *Runner {
	return &Runner{client: client, maxTokens: DefaultMaxTokens}
}

// WithMaxTokens returns a copy of the runner with a different token limit.
func (r *Runner) WithMaxTokens(n int64) *Runner {
	c := *r
	if n > 0 {
		c.maxTokens = n
	}
	return &c
}

// Run executes a prompt and returns the text response.
func (r *Runner) Run(ctx context.Context, prompt string) (string, error) {
	return r.send(ctx, anthropic.MessageNewParams{
		Model:     r.client.Model(),
		MaxTokens: r.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
}

// RunWithSystem executes a prompt with a system message.
func (r *Runner) RunWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return r.send(ctx, anthropic.MessageNewParams{
		Model:     r.client.Model(),
		MaxTokens: r.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
}

func (r *Runner) send(ctx context.Context, params anthropic.MessageNewParams) (string, error) {
	resp, err := r.client.inner.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("API call failed: %w", err)
	}

	r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var result strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			result.WriteString(variant.Text)
		}
	}
	return result.String(), nil
}
