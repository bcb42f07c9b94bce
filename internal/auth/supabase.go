package auth

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// SupabaseResolver validates access tokens with the provider's user endpoint.
type SupabaseResolver struct {
	baseURL string
	anonKey string
	client  *http.Client
	logger  *zap.Logger
}

func NewSupabaseResolver(baseURL, anonKey string, client *http.Client, logger *zap.Logger) *SupabaseResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &SupabaseResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  client,
		logger:  logger,
	}
}

func (s *SupabaseResolver) Resolve(r *http.Request) (*User, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, ErrNoSession
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, s.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("apikey", s.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth provider request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrNoSession
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.logger.Error("auth provider error",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("auth provider returned status %d", resp.StatusCode)
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if u.ID == "" {
		return nil, ErrNoSession
	}
	return &u, nil
}
