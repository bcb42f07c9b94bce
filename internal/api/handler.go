package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/RichardoC/kurosaki/internal/auth"
	"github.com/RichardoC/kurosaki/internal/config"
	"github.com/RichardoC/kurosaki/internal/db"
	"github.com/RichardoC/kurosaki/internal/llm"
	"github.com/RichardoC/kurosaki/internal/models"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Messages returned to the browser. Upstream and store details are logged,
// never forwarded.
const (
	msgNoAPIKey      = "APIキーが設定されていません"
	msgUpstream      = "AIからの応答取得に失敗しました"
	msgServer        = "サーバーエラーが発生しました"
	msgNoUserID      = "ユーザーIDが必要です"
	msgMissingParams = "必須パラメータが不足しています"
	msgCreateFailed  = "会話の作成に失敗しました"
	msgSaveFailed    = "メッセージの保存に失敗しました"
	msgNotFound      = "会話が見つかりません"
	msgInvalidBody   = "リクエストが不正です"
	msgRateLimited   = "リクエストが多すぎます。しばらくしてからお試しください"
	msgUnauthorized  = "ログインが必要です"
	msgForbidden     = "アクセスが拒否されました"
)

const maxBodyBytes = 1 << 20

// Store is the persistence gateway used by the handlers.
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, convID string) ([]models.Message, error)
	AppendMessage(ctx context.Context, convID string, role models.Role, content string) (*models.Message, error)
	RenameConversation(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Relay produces the assistant's reply to a transcript.
type Relay interface {
	Reply(ctx context.Context, turns []models.Turn) (string, error)
}

type Handler struct {
	db       Store
	llm      Relay
	resolver auth.Resolver
	logger   *zap.Logger
	limiter  *clientLimiter
}

func NewHandler(store Store, relay Relay, resolver auth.Resolver, logger *zap.Logger, srv config.ServerConfig) *Handler {
	return &Handler{
		db:       store,
		llm:      relay,
		resolver: resolver,
		logger:   logger,
		limiter:  newClientLimiter(srv.ChatRate, srv.ChatBurst),
	}
}

// Register mounts the JSON API on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(JSONContentType, h.RequireUser)

	limited := h.limiter.Middleware(h.logger)
	api.Handle("/chat", limited(http.HandlerFunc(h.Chat))).Methods(http.MethodPost)
	api.HandleFunc("/conversations", h.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", h.CreateConversation).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}", h.UpdateConversation).Methods(http.MethodPatch)
	api.HandleFunc("/conversations/{id}", h.DeleteConversation).Methods(http.MethodDelete)
	api.HandleFunc("/conversations/{id}/messages", h.ListMessages).Methods(http.MethodGet)
	api.Handle("/conversations/{id}/turn", limited(http.HandlerFunc(h.Turn))).Methods(http.MethodPost)
	api.HandleFunc("/messages", h.CreateMessage).Methods(http.MethodPost)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, models.ErrorResponse{Error: msg})
}

func decode(r *http.Request, w http.ResponseWriter, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// RequireUser attaches the signed-in user to the request context. API
// callers without a session get 401 rather than the login redirect.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.resolver.Resolve(r)
		if errors.Is(err, auth.ErrNoSession) {
			h.writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if err != nil {
			h.logger.Error("Failed to resolve session", zap.Error(err), zap.String("path", r.URL.Path))
			h.writeError(w, http.StatusInternalServerError, msgServer)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// sessionUser is the user set by RequireUser.
func sessionUser(r *http.Request) string {
	if u, ok := auth.UserFromContext(r.Context()); ok {
		return u.ID
	}
	return ""
}

// ownedConversation loads the conversation and checks it belongs to the
// session user. Conversations of other users are reported as not found.
func (h *Handler) ownedConversation(w http.ResponseWriter, r *http.Request, id string) (*models.Conversation, bool) {
	conv, err := h.db.GetConversation(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "Failed to get conversation", msgServer)
		return nil, false
	}
	if conv.UserID != sessionUser(r) {
		h.logger.Warn("Conversation access denied",
			zap.String("conversation_id", id),
			zap.String("user_id", sessionUser(r)))
		h.writeError(w, http.StatusNotFound, msgNotFound)
		return nil, false
	}
	return conv, true
}

// writeRelayError maps a relay failure onto the response.
func (h *Handler) writeRelayError(w http.ResponseWriter, r *http.Request, err error) {
	var upErr *llm.UpstreamError
	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		h.logger.Error("Model API key is not configured")
		h.writeError(w, http.StatusInternalServerError, msgNoAPIKey)
	case errors.Is(err, llm.ErrInvalidTurn), errors.Is(err, llm.ErrNoTurns):
		h.writeError(w, http.StatusBadRequest, msgMissingParams)
	case errors.As(err, &upErr):
		h.logger.Error("Model endpoint failed",
			zap.Int("status", upErr.StatusCode),
			zap.ByteString("body", upErr.Body),
			zap.String("path", r.URL.Path))
		status := upErr.StatusCode
		if status < 400 {
			status = http.StatusBadGateway
		}
		h.writeError(w, status, msgUpstream)
	case errors.Is(err, llm.ErrNoCandidate):
		h.logger.Error("Model returned no candidate", zap.String("path", r.URL.Path))
		h.writeError(w, http.StatusBadGateway, msgUpstream)
	default:
		h.logger.Error("Failed to get model reply", zap.Error(err), zap.String("path", r.URL.Path))
		h.writeError(w, http.StatusInternalServerError, msgServer)
	}
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	reply, err := h.llm.Reply(r.Context(), req.Messages)
	if err != nil {
		h.writeRelayError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.ChatResponse{Message: reply})
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, msgNoUserID)
		return
	}
	if userID != sessionUser(r) {
		h.writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	conversations, err := h.db.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get conversations",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		h.writeError(w, http.StatusInternalServerError, msgServer)
		return
	}

	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.String("user_id", userID))
	h.writeJSON(w, http.StatusOK, conversations)
}

func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, msgNoUserID)
		return
	}
	if req.UserID != sessionUser(r) {
		h.writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	conversation, err := h.db.CreateConversation(r.Context(), req.UserID, req.Title)
	if err != nil {
		h.logger.Error("Failed to create conversation", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, msgCreateFailed)
		return
	}
	h.writeJSON(w, http.StatusOK, conversation)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.UpdateConversationRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		h.writeError(w, http.StatusBadRequest, msgMissingParams)
		return
	}
	if _, ok := h.ownedConversation(w, r, id); !ok {
		return
	}

	if err := h.db.RenameConversation(r.Context(), id, title); err != nil {
		h.storeError(w, err, "Failed to update conversation", msgServer)
		return
	}
	h.writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true})
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.ownedConversation(w, r, id); !ok {
		return
	}

	if err := h.db.DeleteConversation(r.Context(), id); err != nil {
		h.storeError(w, err, "Failed to delete conversation", msgServer)
		return
	}
	h.writeJSON(w, http.StatusOK, models.SuccessResponse{Success: true})
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.ownedConversation(w, r, id); !ok {
		return
	}

	messages, err := h.db.ListMessages(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get messages", zap.Error(err), zap.String("conversation_id", id))
		h.writeError(w, http.StatusInternalServerError, msgServer)
		return
	}
	h.writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req models.CreateMessageRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.ConversationID == "" || req.Role == "" || req.Content == "" || !req.Role.Valid() {
		h.writeError(w, http.StatusBadRequest, msgMissingParams)
		return
	}
	if _, ok := h.ownedConversation(w, r, req.ConversationID); !ok {
		return
	}

	msg, err := h.db.AppendMessage(r.Context(), req.ConversationID, req.Role, req.Content)
	if err != nil {
		h.storeError(w, err, "Failed to save message", msgSaveFailed)
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}

// Turn runs one exchange on the server: store the user message, ask the
// model with the stored history, store the reply.
func (h *Handler) Turn(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req models.TurnRequest
	if err := decode(r, w, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.writeError(w, http.StatusBadRequest, msgMissingParams)
		return
	}
	if _, ok := h.ownedConversation(w, r, id); !ok {
		return
	}

	ctx := r.Context()
	userMsg, err := h.db.AppendMessage(ctx, id, models.RoleUser, req.Content)
	if err != nil {
		h.storeError(w, err, "Failed to save user message", msgSaveFailed)
		return
	}

	history, err := h.db.ListMessages(ctx, id)
	if err != nil {
		h.logger.Error("Failed to load history", zap.Error(err), zap.String("conversation_id", id))
		h.writeError(w, http.StatusInternalServerError, msgServer)
		return
	}
	turns := make([]models.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, models.Turn{Role: m.Role, Content: m.Content})
	}

	reply, err := h.llm.Reply(ctx, turns)
	if err != nil {
		h.writeRelayError(w, r, err)
		return
	}

	assistantMsg, err := h.db.AppendMessage(ctx, id, models.RoleAssistant, reply)
	if err != nil {
		h.storeError(w, err, "Failed to save assistant message", msgSaveFailed)
		return
	}

	h.writeJSON(w, http.StatusOK, models.TurnResponse{User: userMsg, Assistant: assistantMsg})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// storeError answers a gateway failure: unknown conversation is 404,
// anything else is logged and reported with fallback.
func (h *Handler) storeError(w http.ResponseWriter, err error, logMsg, fallback string) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, db.ErrInvalidRole):
		h.writeError(w, http.StatusBadRequest, msgMissingParams)
	default:
		h.logger.Error(logMsg, zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, fallback)
	}
}
