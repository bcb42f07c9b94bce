// Package web serves the session-gated HTML pages. Pages fetch what they
// render from the store on every request; the browser talks to the JSON
// API for everything after the first paint.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/RichardoC/kurosaki/internal/auth"
	"github.com/RichardoC/kurosaki/internal/db"
	"github.com/RichardoC/kurosaki/internal/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templates embed.FS

type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, convID string) ([]models.Message, error)
}

type Pages struct {
	db       Store
	resolver auth.Resolver
	loginURL string
	tmpl     *template.Template
	logger   *zap.Logger
}

func New(store Store, resolver auth.Resolver, loginURL string, logger *zap.Logger) (*Pages, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"date": func(c models.Conversation) string { return c.UpdatedAt.Format("2006/01/02 15:04") },
	}).ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Pages{
		db:       store,
		resolver: resolver,
		loginURL: loginURL,
		tmpl:     tmpl,
		logger:   logger,
	}, nil
}

func (p *Pages) Register(r *mux.Router) {
	gated := func(h http.HandlerFunc) http.Handler { return p.RequireSession(h) }
	r.Handle("/", gated(p.Home)).Methods(http.MethodGet)
	r.Handle("/history", gated(p.History)).Methods(http.MethodGet)
	r.Handle("/chat/{id}", gated(p.Chat)).Methods(http.MethodGet)
	r.Handle("/new", gated(p.NewChat)).Methods(http.MethodPost)
}

// RequireSession redirects to the login page when the request has no
// signed-in user.
func (p *Pages) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := p.resolver.Resolve(r)
		if errors.Is(err, auth.ErrNoSession) {
			http.Redirect(w, r, p.loginURL, http.StatusFound)
			return
		}
		if err != nil {
			p.logger.Error("Failed to resolve session", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

type listView struct {
	UserID        string
	Conversations []models.Conversation
	ActiveID      string
}

type chatView struct {
	listView
	Conversation   *models.Conversation
	Messages       []models.Message
	InitialMessage string
}

func (p *Pages) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := p.tmpl.ExecuteTemplate(w, name, data); err != nil {
		p.logger.Error("Failed to render page", zap.String("template", name), zap.Error(err))
	}
}

// conversations loads the sidebar list. A store failure renders an empty
// list rather than failing the page.
func (p *Pages) conversations(r *http.Request, userID string) []models.Conversation {
	convs, err := p.db.ListConversations(r.Context(), userID)
	if err != nil {
		p.logger.Error("Failed to get conversations", zap.Error(err), zap.String("user_id", userID))
		return []models.Conversation{}
	}
	return convs
}

func (p *Pages) Home(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	p.render(w, http.StatusOK, "home", listView{
		UserID:        user.ID,
		Conversations: p.conversations(r, user.ID),
	})
}

func (p *Pages) History(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	p.render(w, http.StatusOK, "history", listView{
		UserID:        user.ID,
		Conversations: p.conversations(r, user.ID),
	})
}

func (p *Pages) Chat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id := mux.Vars(r)["id"]

	conv, err := p.db.GetConversation(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) || (err == nil && conv.UserID != user.ID) {
		p.render(w, http.StatusNotFound, "not_found", nil)
		return
	}
	if err != nil {
		p.logger.Error("Failed to get conversation", zap.Error(err), zap.String("conversation_id", id))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	messages, err := p.db.ListMessages(r.Context(), id)
	if err != nil {
		p.logger.Error("Failed to get messages", zap.Error(err), zap.String("conversation_id", id))
		messages = []models.Message{}
	}

	p.render(w, http.StatusOK, "chat", chatView{
		listView: listView{
			UserID:        user.ID,
			Conversations: p.conversations(r, user.ID),
			ActiveID:      id,
		},
		Conversation:   conv,
		Messages:       messages,
		InitialMessage: r.URL.Query().Get("initialMessage"),
	})
}

// NewChat creates a conversation and opens it. A non-empty "message" form
// value is carried over and sent by the chat page on load.
func (p *Pages) NewChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	conv, err := p.db.CreateConversation(r.Context(), user.ID, "")
	if err != nil {
		p.logger.Error("Failed to create conversation", zap.Error(err), zap.String("user_id", user.ID))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	target := "/chat/" + url.PathEscape(conv.ID)
	if msg := strings.TrimSpace(r.FormValue("message")); msg != "" {
		target += "?" + url.Values{"initialMessage": {msg}}.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
