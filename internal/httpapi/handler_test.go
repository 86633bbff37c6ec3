package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/apperr"
	"github.com/connecthub/chat-app/internal/auth"
	"github.com/connecthub/chat-app/internal/chat"
	"github.com/connecthub/chat-app/internal/service"
	"github.com/connecthub/chat-app/internal/user"
)

type fakeService struct {
	chat chat.Chat

	summaries []service.ChatSummary
	messages  []chat.Message

	lastOffset int
	lastLimit  int
	appended   []chat.Message
	nextID     int64
	reported   int
}

func (f *fakeService) ListChats(context.Context, uuid.UUID) ([]service.ChatSummary, error) {
	return f.summaries, nil
}

func (f *fakeService) ChatForParticipant(_ context.Context, userID, chatID uuid.UUID) (*chat.Chat, error) {
	if chatID != f.chat.ID {
		return nil, apperr.NotFound("CHAT_NOT_FOUND", "chat not found")
	}
	if !f.chat.HasParticipant(userID) {
		return nil, apperr.Authorization("CHAT_ACCESS_DENIED", "no access to this chat")
	}
	c := f.chat
	return &c, nil
}

func (f *fakeService) ListMessages(ctx context.Context, userID uuid.UUID, chatID string, offset, limit int) ([]chat.Message, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return nil, apperr.Validation("INVALID_UUID", "malformed chat id")
	}
	if _, err := f.ChatForParticipant(ctx, userID, id); err != nil {
		return nil, err
	}
	f.lastOffset, f.lastLimit = offset, limit
	return f.messages, nil
}

func (f *fakeService) AppendMessage(_ context.Context, chatID, senderID uuid.UUID, content string) (*chat.Message, error) {
	if err := chat.ValidateContent(content); err != nil {
		return nil, err
	}
	f.nextID++
	msg := chat.Message{ID: f.nextID, ChatID: chatID, SenderID: senderID, Content: content, CreatedAt: time.Now()}
	f.appended = append(f.appended, msg)
	return &msg, nil
}

func (f *fakeService) ReportParticipant(ctx context.Context, reporterID uuid.UUID, chatID, reason string) error {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return apperr.Validation("INVALID_UUID", "malformed chat id")
	}
	if _, err := f.ChatForParticipant(ctx, reporterID, id); err != nil {
		return err
	}
	if reason != "harassment" && reason != "spam" && reason != "explicit" && reason != "other" {
		return apperr.Validation("INVALID_REASON", "unknown reason")
	}
	f.reported++
	return nil
}

type countingBroadcaster struct{ calls int }

func (b *countingBroadcaster) BroadcastMessage(*chat.Message) int {
	b.calls++
	return 0
}

type apiHarness struct {
	svc       *fakeService
	broadcast *countingBroadcaster
	tokens    *auth.Manager
	server    *httptest.Server
	userA     uuid.UUID
	userB     uuid.UUID
	chatID    uuid.UUID
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	userA, userB := uuid.New(), uuid.New()
	u1, u2 := chat.CanonicalPair(userA, userB)
	svc := &fakeService{
		chat: chat.Chat{ID: uuid.New(), User1ID: u1, User2ID: u2, CreatedAt: time.Now()},
	}
	broadcast := &countingBroadcaster{}
	tokens := auth.NewManager("test-secret", time.Hour, time.Hour)

	log := logrus.New()
	log.SetOutput(io.Discard)

	mux := http.NewServeMux()
	NewHandler(svc, tokens, broadcast, log).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &apiHarness{
		svc:       svc,
		broadcast: broadcast,
		tokens:    tokens,
		server:    server,
		userA:     userA,
		userB:     userB,
		chatID:    svc.chat.ID,
	}
}

func (h *apiHarness) request(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *apiHarness) accessToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := h.tokens.IssueAccess(userID)
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}
	return token
}

func decodeErrorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Code
}

func TestAuthenticationRequired(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"no token", "", "MISSING_TOKEN"},
		{"garbage token", "garbage", "INVALID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.request(t, http.MethodGet, "/api/chats", tt.token, "")
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", resp.StatusCode)
			}
			if code := decodeErrorCode(t, resp); code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, code)
			}
		})
	}
}

func TestAuthenticationRejectsRefreshToken(t *testing.T) {
	h := newAPIHarness(t)
	token, err := h.tokens.IssueRefresh(h.userA)
	if err != nil {
		t.Fatalf("IssueRefresh() error: %v", err)
	}

	resp := h.request(t, http.MethodGet, "/api/chats", token, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for refresh token, got %d", resp.StatusCode)
	}
}

func TestListChats(t *testing.T) {
	h := newAPIHarness(t)
	preview := "hi"
	h.svc.summaries = []service.ChatSummary{
		{ID: h.chatID, Companion: user.User{UUID: h.userB, Name: "B"}, LastMessage: &preview},
	}

	resp := h.request(t, http.MethodGet, "/api/chats", h.accessToken(t, h.userA), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var got []service.ChatSummary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(got) != 1 || got[0].ID != h.chatID || got[0].Companion.Name != "B" {
		t.Errorf("unexpected summaries: %+v", got)
	}
}

func TestListChatsEmptyIsArray(t *testing.T) {
	h := newAPIHarness(t)

	resp := h.request(t, http.MethodGet, "/api/chats", h.accessToken(t, h.userA), "")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("expected empty array, got %q", body)
	}
}

func TestListMessagesPagination(t *testing.T) {
	h := newAPIHarness(t)
	token := h.accessToken(t, h.userA)
	base := "/api/chats/" + h.chatID.String() + "/messages"

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantOffset int
		wantLimit  int
	}{
		{"defaults", "", http.StatusOK, 0, 50},
		{"explicit", "?offset=10&limit=25", http.StatusOK, 10, 25},
		{"max limit", "?limit=200", http.StatusOK, 0, 200},
		{"limit too large", "?limit=201", http.StatusBadRequest, 0, 0},
		{"limit zero", "?limit=0", http.StatusBadRequest, 0, 0},
		{"negative offset", "?offset=-1", http.StatusBadRequest, 0, 0},
		{"non-numeric", "?offset=abc", http.StatusBadRequest, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.request(t, http.MethodGet, base+tt.query, token, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			if h.svc.lastOffset != tt.wantOffset || h.svc.lastLimit != tt.wantLimit {
				t.Errorf("expected offset=%d limit=%d, got offset=%d limit=%d",
					tt.wantOffset, tt.wantLimit, h.svc.lastOffset, h.svc.lastLimit)
			}
		})
	}
}

func TestListMessagesErrorStatuses(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name       string
		user       uuid.UUID
		chatID     string
		wantStatus int
	}{
		{"malformed chat id", h.userA, "not-a-uuid", http.StatusBadRequest},
		{"unknown chat", h.userA, uuid.New().String(), http.StatusNotFound},
		{"not a participant", uuid.New(), h.chatID.String(), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/chats/" + tt.chatID + "/messages"
			resp := h.request(t, http.MethodGet, path, h.accessToken(t, tt.user), "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestPostMessage(t *testing.T) {
	h := newAPIHarness(t)
	path := "/api/chats/" + h.chatID.String() + "/messages"

	resp := h.request(t, http.MethodPost, path, h.accessToken(t, h.userA), `{"content":"hello"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var msg chat.Message
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if msg.Content != "hello" || msg.SenderID != h.userA || msg.ChatID != h.chatID {
		t.Errorf("unexpected message: %+v", msg)
	}
	if h.broadcast.calls != 1 {
		t.Errorf("expected 1 broadcast, got %d", h.broadcast.calls)
	}
}

func TestPostMessageErrors(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name       string
		user       uuid.UUID
		chatID     string
		body       string
		wantStatus int
	}{
		{"malformed chat id", h.userA, "not-a-uuid", `{"content":"x"}`, http.StatusBadRequest},
		{"unknown chat", h.userA, uuid.New().String(), `{"content":"x"}`, http.StatusNotFound},
		{"not a participant", uuid.New(), h.chatID.String(), `{"content":"x"}`, http.StatusForbidden},
		{"malformed body", h.userA, h.chatID.String(), `{broken`, http.StatusBadRequest},
		{"empty content", h.userA, h.chatID.String(), `{"content":""}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/chats/" + tt.chatID + "/messages"
			resp := h.request(t, http.MethodPost, path, h.accessToken(t, tt.user), tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}

	if h.broadcast.calls != 0 {
		t.Errorf("expected no broadcasts for failed posts, got %d", h.broadcast.calls)
	}
}

func TestPostReport(t *testing.T) {
	h := newAPIHarness(t)
	path := "/api/chats/" + h.chatID.String() + "/report"

	resp := h.request(t, http.MethodPost, path, h.accessToken(t, h.userA), `{"reason":"harassment"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if h.svc.reported != 1 {
		t.Errorf("expected 1 report, got %d", h.svc.reported)
	}

	tests := []struct {
		name       string
		user       uuid.UUID
		chatID     string
		body       string
		wantStatus int
	}{
		{"invalid reason", h.userA, h.chatID.String(), `{"reason":"because"}`, http.StatusBadRequest},
		{"malformed body", h.userA, h.chatID.String(), `{broken`, http.StatusBadRequest},
		{"not a participant", uuid.New(), h.chatID.String(), `{"reason":"spam"}`, http.StatusForbidden},
		{"unknown chat", h.userA, uuid.New().String(), `{"reason":"spam"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := "/api/chats/" + tt.chatID + "/report"
			resp := h.request(t, http.MethodPost, p, h.accessToken(t, tt.user), tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}
