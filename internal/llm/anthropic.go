package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Anthropic adapts the Anthropic Messages API to llms.Model.
type Anthropic struct {
	client *anthropic.Client
	model  anthropic.Model
}

var _ llms.Model = (*Anthropic)(nil)

func NewAnthropic(client *anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: anthropic.Model(model)}
}

func joinText(parts []llms.ContentPart) string {
	var b strings.Builder
	for _, p := range parts {
		if tc, ok := p.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func (a *Anthropic) params(messages []llms.MessageContent, opts llms.CallOptions) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(opts.MaxTokens),
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if opts.TopK > 0 {
		params.TopK = anthropic.Int(int64(opts.TopK))
	}

	for _, m := range messages {
		text := joinText(m.Parts)
		switch m.Role {
		case schema.ChatMessageTypeSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: text})
		case schema.ChatMessageTypeHuman:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		case schema.ChatMessageTypeAI:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		default:
			return params, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	return params, nil
}

func (a *Anthropic) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	params, err := a.params(messages, opts)
	if err != nil {
		return nil, err
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &UpstreamError{StatusCode: apiErr.StatusCode, Body: []byte(apiErr.RawJSON())}
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	if text.Len() == 0 {
		return nil, ErrNoCandidate
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text.String(),
			StopReason: string(msg.StopReason),
		}},
	}, nil
}

func (a *Anthropic) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, a, prompt, options...)
}
