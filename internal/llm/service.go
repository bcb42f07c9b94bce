// Package llm relays conversation turns to a hosted language model and
// returns its reply.
//
// Backends are langchaingo llms.Model implementations. The service maps
// stored roles to langchaingo message types, prepends the configured
// persona as a system message and applies the deployment's fixed
// sampling parameters. Every call is a single attempt.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RichardoC/kurosaki/internal/config"
	"github.com/RichardoC/kurosaki/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

var (
	ErrNoCandidate = errors.New("model response contained no candidate text")
	ErrUpstream    = errors.New("model endpoint returned an error status")
	ErrInvalidTurn = errors.New("turn role must be user or assistant")
	ErrNoTurns     = errors.New("no non-empty turns to send")
)

// UpstreamError is returned when the model endpoint answers with a
// non-success status. Body holds the raw upstream payload for logging.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model endpoint returned status %d", e.StatusCode)
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

type Service struct {
	llm      llms.Model
	model    string
	persona  string
	sampling config.Sampling
	logger   *zap.Logger
}

// New wraps an existing backend. A nil backend makes every Reply fail with
// config.ErrMissingAPIKey.
func New(backend llms.Model, model, persona string, sampling config.Sampling, logger *zap.Logger) *Service {
	return &Service{
		llm:      backend,
		model:    model,
		persona:  persona,
		sampling: sampling,
		logger:   logger,
	}
}

// NewFromConfig builds the backend selected by cfg.LLM.Provider. With no
// API key configured the service is still returned, so the HTTP layer can
// report the missing key per request.
func NewFromConfig(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	persona, err := cfg.PersonaPrompt()
	if err != nil {
		return nil, err
	}
	logger = logger.Named("llm")

	if cfg.LLM.APIKey == "" {
		logger.Warn("model API key is empty; chat requests will fail",
			zap.String("provider", cfg.LLM.Provider))
		return New(nil, cfg.LLM.Model, persona, cfg.LLM.Sampling, logger), nil
	}

	backend, err := newBackend(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.LLM.Model, persona, cfg.LLM.Sampling, logger), nil
}

// BuildMessages maps browser turns to langchaingo messages. Turns with
// blank content are dropped. A non-empty persona becomes a leading system
// message.
func BuildMessages(persona string, turns []models.Turn) ([]llms.MessageContent, error) {
	messages := make([]llms.MessageContent, 0, len(turns)+1)
	if persona != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, persona))
	}

	sent := 0
	for i, t := range turns {
		var role schema.ChatMessageType
		switch t.Role {
		case models.RoleUser:
			role = schema.ChatMessageTypeHuman
		case models.RoleAssistant:
			role = schema.ChatMessageTypeAI
		default:
			return nil, fmt.Errorf("%w: turn %d has role %q", ErrInvalidTurn, i, t.Role)
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		messages = append(messages, llms.TextParts(role, t.Content))
		sent++
	}
	if sent == 0 {
		return nil, ErrNoTurns
	}
	return messages, nil
}

func (s *Service) callOptions() []llms.CallOption {
	return []llms.CallOption{
		llms.WithTemperature(s.sampling.Temperature),
		llms.WithTopP(s.sampling.TopP),
		llms.WithTopK(s.sampling.TopK),
		llms.WithMaxTokens(s.sampling.MaxOutputTokens),
	}
}

// Reply sends the transcript and returns the first candidate's text.
func (s *Service) Reply(ctx context.Context, turns []models.Turn) (string, error) {
	if s.llm == nil {
		return "", config.ErrMissingAPIKey
	}

	messages, err := BuildMessages(s.persona, turns)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := s.llm.GenerateContent(ctx, messages, s.callOptions()...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrNoCandidate
	}
	reply := resp.Choices[0].Content

	s.logger.Debug("model replied",
		zap.String("model", s.model),
		zap.Int("turns", len(messages)),
		zap.Int("reply_chars", len(reply)),
		zap.String("stop_reason", resp.Choices[0].StopReason),
		zap.Duration("elapsed", time.Since(start)))
	return reply, nil
}

// ReplyTo answers a single prompt with no history.
func (s *Service) ReplyTo(ctx context.Context, prompt string) (string, error) {
	return s.Reply(ctx, []models.Turn{{Role: models.RoleUser, Content: prompt}})
}
