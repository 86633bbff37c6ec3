// Package httpapi serves the REST side of the chat API: chat listings,
// message history, and message sending for clients without a live WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/apperr"
	"github.com/connecthub/chat-app/internal/auth"
	"github.com/connecthub/chat-app/internal/chat"
	"github.com/connecthub/chat-app/internal/service"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = chat.MaxListLimit
)

// ChatService is the part of the service facade the REST handlers need.
type ChatService interface {
	ListChats(ctx context.Context, userID uuid.UUID) ([]service.ChatSummary, error)
	ListMessages(ctx context.Context, userID uuid.UUID, chatID string, offset, limit int) ([]chat.Message, error)
	ChatForParticipant(ctx context.Context, userID, chatID uuid.UUID) (*chat.Chat, error)
	AppendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string) (*chat.Message, error)
	ReportParticipant(ctx context.Context, reporterID uuid.UUID, chatID, reason string) error
}

// TokenVerifier validates Authorization header credentials.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.Claims, error)
}

// Broadcaster pushes a freshly persisted message to live WebSocket
// subscribers, so a REST-sent message still reaches open sessions.
type Broadcaster interface {
	BroadcastMessage(m *chat.Message) int
}

// Handler serves the authenticated chat REST endpoints.
type Handler struct {
	chats     ChatService
	tokens    TokenVerifier
	broadcast Broadcaster
	log       *logrus.Logger
}

// NewHandler creates a Handler. broadcast may be nil when no WebSocket server
// runs in this process.
func NewHandler(chats ChatService, tokens TokenVerifier, broadcast Broadcaster, log *logrus.Logger) *Handler {
	return &Handler{chats: chats, tokens: tokens, broadcast: broadcast, log: log}
}

// Register mounts the REST routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/chats", h.authenticated(h.listChats))
	mux.Handle("GET /api/chats/{chat_id}/messages", h.authenticated(h.listMessages))
	mux.Handle("POST /api/chats/{chat_id}/messages", h.authenticated(h.postMessage))
	mux.Handle("POST /api/chats/{chat_id}/report", h.authenticated(h.postReport))
}

type contextKey int

const userIDKey contextKey = 0

func userIDFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(userIDKey).(uuid.UUID)
	return id
}

// authenticated wraps a handler with Bearer-token verification and puts the
// authenticated user ID on the request context.
func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, h.log, apperr.Authentication("MISSING_TOKEN", "authorization header required"))
			return
		}

		claims, err := h.tokens.VerifyAccess(token)
		if err != nil {
			writeError(w, h.log, err)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next(w, r.WithContext(ctx))
	})
}

func (h *Handler) listChats(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.chats.ListChats(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if summaries == nil {
		summaries = []service.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pagination(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	msgs, err := h.chats.ListMessages(r.Context(), userIDFrom(r.Context()), r.PathValue("chat_id"), offset, limit)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	chatID, err := uuid.Parse(r.PathValue("chat_id"))
	if err != nil {
		writeError(w, h.log, apperr.Validation("INVALID_UUID", "malformed chat id"))
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Validation("INVALID_BODY", "malformed request body"))
		return
	}

	if _, err := h.chats.ChatForParticipant(r.Context(), userID, chatID); err != nil {
		writeError(w, h.log, err)
		return
	}

	msg, err := h.chats.AppendMessage(r.Context(), chatID, userID, req.Content)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if h.broadcast != nil {
		h.broadcast.BroadcastMessage(msg)
	}
	writeJSON(w, http.StatusCreated, msg)
}

type postReportRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) postReport(w http.ResponseWriter, r *http.Request) {
	var req postReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.log, apperr.Validation("INVALID_BODY", "malformed request body"))
		return
	}

	err := h.chats.ReportParticipant(r.Context(), userIDFrom(r.Context()), r.PathValue("chat_id"), req.Reason)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "accepted"})
}

// pagination parses offset and limit query parameters, applying the default
// page size and rejecting non-numeric or out-of-range values.
func pagination(r *http.Request) (offset, limit int, err error) {
	offset, limit = 0, defaultPageLimit

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, apperr.Validation("INVALID_PAGINATION", "offset must be a non-negative integer")
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxPageLimit {
			return 0, 0, apperr.Validation("INVALID_PAGINATION", "limit must be between 1 and "+strconv.Itoa(maxPageLimit))
		}
	}
	return offset, limit, nil
}
