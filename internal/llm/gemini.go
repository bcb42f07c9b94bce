package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

// Gemini is an llms.Model speaking the generateContent REST endpoint.
type Gemini struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
}

var _ llms.Model = (*Gemini)(nil)

func NewGemini(baseURL, apiKey, model string, client *http.Client, logger *zap.Logger) *Gemini {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Gemini{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  client,
		logger:  logger,
	}
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func textOf(parts []llms.ContentPart) []geminiPart {
	out := make([]geminiPart, 0, len(parts))
	for _, p := range parts {
		if tc, ok := p.(llms.TextContent); ok {
			out = append(out, geminiPart{Text: tc.Text})
		}
	}
	return out
}

func buildGeminiRequest(messages []llms.MessageContent, opts llms.CallOptions) (*geminiRequest, error) {
	req := &geminiRequest{
		Contents: make([]geminiContent, 0, len(messages)),
		GenerationConfig: generationConfig{
			Temperature:     opts.Temperature,
			TopK:            opts.TopK,
			TopP:            opts.TopP,
			MaxOutputTokens: opts.MaxTokens,
		},
	}
	for _, m := range messages {
		switch m.Role {
		case schema.ChatMessageTypeSystem:
			if req.SystemInstruction == nil {
				req.SystemInstruction = &geminiContent{}
			}
			req.SystemInstruction.Parts = append(req.SystemInstruction.Parts, textOf(m.Parts)...)
		case schema.ChatMessageTypeHuman:
			req.Contents = append(req.Contents, geminiContent{Role: "user", Parts: textOf(m.Parts)})
		case schema.ChatMessageTypeAI:
			req.Contents = append(req.Contents, geminiContent{Role: "model", Parts: textOf(m.Parts)})
		default:
			return nil, fmt.Errorf("gemini: unsupported message role %q", m.Role)
		}
	}
	return req, nil
}

func (g *Gemini) endpoint() string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
}

func (g *Gemini) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	payload, err := buildGeminiRequest(messages, opts)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gemini: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// The URL carries the key; report only the transport failure.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.Error("Gemini API error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: respBody}
	}

	text := gjson.GetBytes(respBody, "candidates.0.content.parts.0.text")
	if !text.Exists() {
		g.logger.Warn("Gemini response has no candidate text", zap.ByteString("body", respBody))
		return nil, ErrNoCandidate
	}

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:    text.String(),
			StopReason: gjson.GetBytes(respBody, "candidates.0.finishReason").String(),
		}},
	}, nil
}

func (g *Gemini) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, g, prompt, options...)
}
