package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RichardoC/kurosaki/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" || r.Header.Get("apikey") != "anon" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			_ = json.NewEncoder(w).Encode(User{ID: "u1", Email: "u1@example.com"})
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabaseResolver(t *testing.T) {
	srv := newProvider(t)
	res := NewSupabaseResolver(srv.URL+"/", "anon", srv.Client(), zap.NewNop())

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "good"})
		u, err := res.Resolve(r)
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
		assert.Equal(t, "u1@example.com", u.Email)
	})

	t.Run("header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer good")
		u, err := res.Resolve(r)
		require.NoError(t, err)
		assert.Equal(t, "u1", u.ID)
	})

	t.Run("no token", func(t *testing.T) {
		_, err := res.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("rejected token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer expired")
		_, err := res.Resolve(r)
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("provider failure", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer broken")
		_, err := res.Resolve(r)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoSession)
	})
}

func TestNewResolver(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	dev := NewResolver(config.AuthConfig{DevUser: "dev"}, nil, zap.NewNop())
	u, err := dev.Resolve(r)
	require.NoError(t, err)
	assert.Equal(t, "dev", u.ID)

	none := NewResolver(config.AuthConfig{}, nil, zap.NewNop())
	_, err = none.Resolve(r)
	assert.ErrorIs(t, err, ErrNoSession)

	_, ok := NewResolver(config.AuthConfig{SupabaseURL: "http://x", DevUser: "dev"}, nil, zap.NewNop()).(*SupabaseResolver)
	assert.True(t, ok)
}

func TestUserContext(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithUser(context.Background(), &User{ID: "u1"})
	u, ok := UserFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)

	_, ok = UserFromContext(WithUser(context.Background(), &User{}))
	assert.False(t, ok)
}
