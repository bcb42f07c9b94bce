// Package auth resolves the signed-in user of a browser request. The
// session itself is owned by the managed auth provider; this package only
// asks it who the bearer of a token is.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/RichardoC/kurosaki/internal/config"
	"go.uber.org/zap"
)

// ErrNoSession means the request carries no valid session.
var ErrNoSession = errors.New("no authenticated session")

// AccessTokenCookie is where the browser keeps the provider's access token.
const AccessTokenCookie = "sb-access-token"

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Resolver interface {
	Resolve(r *http.Request) (*User, error)
}

// NewResolver picks the provider-backed resolver when a provider URL is
// configured, a fixed development user otherwise. With neither, every
// request is unauthenticated.
func NewResolver(cfg config.AuthConfig, client *http.Client, logger *zap.Logger) Resolver {
	switch {
	case cfg.SupabaseURL != "":
		return NewSupabaseResolver(cfg.SupabaseURL, cfg.SupabaseAnonKey, client, logger)
	case cfg.DevUser != "":
		logger.Warn("using static development user", zap.String("user_id", cfg.DevUser))
		return StaticResolver{User: User{ID: cfg.DevUser}}
	default:
		return denyAll{}
	}
}

type StaticResolver struct {
	User User
}

func (s StaticResolver) Resolve(*http.Request) (*User, error) {
	u := s.User
	return &u, nil
}

type denyAll struct{}

func (denyAll) Resolve(*http.Request) (*User, error) {
	return nil, ErrNoSession
}

// bearerToken reads the access token from the Authorization header or the
// session cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if c, err := r.Cookie(AccessTokenCookie); err == nil {
		return c.Value
	}
	return ""
}

type userKey struct{}

// WithUser returns a child context carrying u.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser, if any.
func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userKey{}).(*User)
	if !ok || u == nil || u.ID == "" {
		return nil, false
	}
	return u, true
}
