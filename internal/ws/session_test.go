package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/apperr"
	"github.com/connecthub/chat-app/internal/auth"
	"github.com/connecthub/chat-app/internal/chat"
	"github.com/connecthub/chat-app/internal/ratelimit"
	"github.com/connecthub/chat-app/internal/registry"
	"github.com/connecthub/chat-app/internal/user"
)

type fakeChats struct {
	mu        sync.Mutex
	chat      chat.Chat
	appendErr error
	nextID    int64
	appended  []chat.Message
}

func (f *fakeChats) ChatForParticipant(_ context.Context, userID, chatID uuid.UUID) (*chat.Chat, error) {
	if chatID != f.chat.ID {
		return nil, apperr.NotFound("CHAT_NOT_FOUND", "chat not found")
	}
	if !f.chat.HasParticipant(userID) {
		return nil, apperr.Authorization("CHAT_ACCESS_DENIED", "no access to this chat")
	}
	c := f.chat
	return &c, nil
}

func (f *fakeChats) AppendMessage(_ context.Context, chatID, senderID uuid.UUID, content string) (*chat.Message, error) {
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	if err := chat.ValidateContent(content); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg := chat.Message{ID: f.nextID, ChatID: chatID, SenderID: senderID, Content: content, CreatedAt: time.Now()}
	f.appended = append(f.appended, msg)
	return &msg, nil
}

func (f *fakeChats) appendedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appended)
}

type fakeUsers struct {
	users map[uuid.UUID]user.User
}

func (f *fakeUsers) FindByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	if u, ok := f.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

type fakePresence struct {
	mu        sync.Mutex
	online    int
	offline   int
	refreshes int
}

func (f *fakePresence) SetOnline(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online++
	return nil
}

func (f *fakePresence) Refresh(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakePresence) SetOffline(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline++
	return nil
}

func (f *fakePresence) counts() (online, offline int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online, f.offline
}

// testHarness bundles a Server with two participants of one chat and a token
// manager that can mint credentials for them.
type testHarness struct {
	srv    *Server
	chats  *fakeChats
	tokens *auth.Manager
	userA  uuid.UUID
	userB  uuid.UUID
	chatID uuid.UUID
}

func newHarness(t *testing.T, presence Presence, limiter RateLimiter) *testHarness {
	t.Helper()

	userA, userB := uuid.New(), uuid.New()
	u1, u2 := chat.CanonicalPair(userA, userB)
	chats := &fakeChats{
		chat: chat.Chat{ID: uuid.New(), User1ID: u1, User2ID: u2, CreatedAt: time.Now()},
	}
	users := &fakeUsers{users: map[uuid.UUID]user.User{
		userA: {UUID: userA, Name: "A"},
		userB: {UUID: userB, Name: "B"},
	}}
	tokens := auth.NewManager("test-secret", time.Hour, time.Hour)

	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := NewServer(Options{
		Config:   Config{ReadTimeout: 5 * time.Second, WriteTimeout: 2 * time.Second},
		Registry: registry.New(),
		Chats:    chats,
		Tokens:   tokens,
		Users:    users,
		Presence: presence,
		Limiter:  limiter,
		Log:      log,
	})

	return &testHarness{
		srv:    srv,
		chats:  chats,
		tokens: tokens,
		userA:  userA,
		userB:  userB,
		chatID: chats.chat.ID,
	}
}

// connect starts a session over a pipe and returns the client end.
func (h *testHarness) connect(t *testing.T, token, chatID string) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })
	go h.srv.serveConn(server, token, chatID)
	return client
}

func (h *testHarness) accessToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := h.tokens.IssueAccess(userID)
	if err != nil {
		t.Fatalf("IssueAccess() error: %v", err)
	}
	return token
}

func expectClose(t *testing.T, client net.Conn, want ws.StatusCode) {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := wsutil.ReadServerText(client)
	var closed wsutil.ClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("expected close frame, got %v", err)
	}
	if closed.Code != want {
		t.Errorf("expected close code %d, got %d (%q)", want, closed.Code, closed.Reason)
	}
}

func readMessage(t *testing.T, client net.Conn) chat.Message {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(client)
	if err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	var m chat.Message
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding broadcast %q: %v", data, err)
	}
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionRejectsMissingToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	client := h.connect(t, "", h.chatID.String())
	expectClose(t, client, ws.StatusPolicyViolation)
}

func TestSessionCloseAwaitsPeerCloseEcho(t *testing.T) {
	h := newHarness(t, nil, nil)
	client := h.connect(t, "", h.chatID.String())

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := ws.ReadFrame(client)
	if err != nil {
		t.Fatalf("reading close frame: %v", err)
	}
	if frame.Header.OpCode != ws.OpClose {
		t.Fatalf("expected a close frame, got opcode %v", frame.Header.OpCode)
	}
	if code, _ := ws.ParseCloseFrameData(frame.Payload); code != ws.StatusPolicyViolation {
		t.Errorf("expected close code %d, got %d", ws.StatusPolicyViolation, code)
	}

	// The server must keep reading until the echo arrives instead of cutting
	// the connection the moment its own close frame is written.
	echo := ws.MaskFrameInPlace(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusPolicyViolation, "")))
	client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := ws.WriteFrame(client, echo); err != nil {
		t.Fatalf("echoing close frame: %v", err)
	}
}

func TestSessionRejectsBadToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	client := h.connect(t, "not-a-token", h.chatID.String())
	expectClose(t, client, ws.StatusPolicyViolation)
}

func TestSessionRejectsRefreshToken(t *testing.T) {
	h := newHarness(t, nil, nil)
	token, err := h.tokens.IssueRefresh(h.userA)
	if err != nil {
		t.Fatalf("IssueRefresh() error: %v", err)
	}
	client := h.connect(t, token, h.chatID.String())
	expectClose(t, client, ws.StatusPolicyViolation)
}

func TestSessionRejectsUnknownUser(t *testing.T) {
	h := newHarness(t, nil, nil)
	client := h.connect(t, h.accessToken(t, uuid.New()), h.chatID.String())
	expectClose(t, client, ws.StatusPolicyViolation)
}

type mutedChecker struct{ muted bool }

func (m mutedChecker) IsMuted(context.Context, string) (bool, time.Duration, string, error) {
	return m.muted, time.Minute, "spam", nil
}

func TestSessionRejectsMutedUser(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.srv.mutes = mutedChecker{muted: true}

	client := h.connect(t, h.accessToken(t, h.userA), h.chatID.String())
	expectClose(t, client, ws.StatusPolicyViolation)

	if n := h.srv.registry.Count(h.chatID); n != 0 {
		t.Errorf("expected no registrations for muted user, got %d", n)
	}
}

func TestSessionRejectsMalformedChatID(t *testing.T) {
	h := newHarness(t, nil, nil)
	client := h.connect(t, h.accessToken(t, h.userA), "not-a-uuid")
	expectClose(t, client, ws.StatusUnsupportedData)
}

func TestSessionRejectsNonParticipant(t *testing.T) {
	h := newHarness(t, nil, nil)
	stranger := uuid.New()
	h.srv.users.(*fakeUsers).users[stranger] = user.User{UUID: stranger, Name: "S"}

	client := h.connect(t, h.accessToken(t, stranger), h.chatID.String())
	expectClose(t, client, ws.StatusPolicyViolation)

	if n := h.srv.registry.Count(h.chatID); n != 0 {
		t.Errorf("expected no registrations after rejection, got %d", n)
	}
}

func TestSessionRejectsUnknownChat(t *testing.T) {
	h := newHarness(t, nil, nil)
	client := h.connect(t, h.accessToken(t, h.userA), uuid.New().String())
	expectClose(t, client, ws.StatusPolicyViolation)
}

func TestSessionBroadcastReachesAllParticipants(t *testing.T) {
	pres := &fakePresence{}
	h := newHarness(t, pres, nil)

	clientA := h.connect(t, h.accessToken(t, h.userA), h.chatID.String())
	clientB := h.connect(t, h.accessToken(t, h.userB), h.chatID.String())

	waitFor(t, "both registrations", func() bool { return h.srv.registry.Count(h.chatID) == 2 })

	if err := wsutil.WriteClientText(clientA, []byte(`{"content":"hello there"}`)); err != nil {
		t.Fatalf("writing message: %v", err)
	}

	// Both pipe writes during fan-out are synchronous, so the ends must be
	// drained concurrently.
	got := make(chan chat.Message, 2)
	for _, client := range []net.Conn{clientA, clientB} {
		go func(c net.Conn) {
			got <- readMessage(t, c)
		}(client)
	}

	for i := 0; i < 2; i++ {
		select {
		case m := <-got:
			if m.Content != "hello there" {
				t.Errorf("unexpected content %q", m.Content)
			}
			if m.SenderID != h.userA {
				t.Errorf("expected sender %s, got %s", h.userA, m.SenderID)
			}
			if m.ChatID != h.chatID {
				t.Errorf("expected chat %s, got %s", h.chatID, m.ChatID)
			}
			if m.ID == 0 {
				t.Error("expected a persisted message ID")
			}
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}

	if online, _ := pres.counts(); online != 2 {
		t.Errorf("expected 2 presence registrations, got %d", online)
	}
}

func TestSessionSkipsEmptyAndUndecodablePayloads(t *testing.T) {
	h := newHarness(t, nil, nil)

	client := h.connect(t, h.accessToken(t, h.userA), h.chatID.String())
	waitFor(t, "registration", func() bool { return h.srv.registry.Count(h.chatID) == 1 })

	for _, payload := range []string{`{"content":""}`, `{broken`, `{"other":"field"}`} {
		if err := wsutil.WriteClientText(client, []byte(payload)); err != nil {
			t.Fatalf("writing %q: %v", payload, err)
		}
	}
	if err := wsutil.WriteClientText(client, []byte(`{"content":"real"}`)); err != nil {
		t.Fatalf("writing message: %v", err)
	}

	if m := readMessage(t, client); m.Content != "real" {
		t.Errorf("expected first delivered message to be %q, got %q", "real", m.Content)
	}
	if n := h.chats.appendedCount(); n != 1 {
		t.Errorf("expected 1 persisted message, got %d", n)
	}
}

type ruleLimiter struct{ deny map[ratelimit.Rule]bool }

func (l ruleLimiter) Allow(_ context.Context, _ string, rule ratelimit.Rule) bool {
	return !l.deny[rule]
}

func TestSessionRejectsOverConnectLimit(t *testing.T) {
	h := newHarness(t, nil, ruleLimiter{deny: map[ratelimit.Rule]bool{ratelimit.RuleConnect: true}})

	client := h.connect(t, h.accessToken(t, h.userA), h.chatID.String())
	expectClose(t, client, ws.StatusPolicyViolation)

	if n := h.srv.registry.Count(h.chatID); n != 0 {
		t.Errorf("expected no registrations over the connect limit, got %d", n)
	}
}

func TestSessionDropsRateLimitedMessages(t *testing.T) {
	h := newHarness(t, nil, ruleLimiter{deny: map[ratelimit.Rule]bool{ratelimit.RuleMessage: true}})

	client := h.connect(t, h.accessToken(t, h.userA), h.chatID.String())
	waitFor(t, "registration", func() bool { return h.srv.registry.Count(h.chatID) == 1 })

	if err := wsutil.WriteClientText(client, []byte(`{"content":"throttled"}`)); err != nil {
		t.Fatalf("writing message: %v", err)
	}

	// The session must stay open and the message must not be persisted.
	time.Sleep(100 * time.Millisecond)
	if n := h.chats.appendedCount(); n != 0 {
		t.Errorf("expected no persisted messages, got %d", n)
	}
	if n := h.srv.registry.Count(h.chatID); n != 1 {
		t.Errorf("expected session to stay registered, got %d", n)
	}
}

func TestSessionClosesOnPersistenceFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.chats.appendErr = errors.New("db down")

	client := h.connect(t, h.accessToken(t, h.userA), h.chatID.String())
	waitFor(t, "registration", func() bool { return h.srv.registry.Count(h.chatID) == 1 })

	if err := wsutil.WriteClientText(client, []byte(`{"content":"doomed"}`)); err != nil {
		t.Fatalf("writing message: %v", err)
	}

	expectClose(t, client, ws.StatusInternalServerError)
	waitFor(t, "unregistration", func() bool { return h.srv.registry.Count(h.chatID) == 0 })
}

func TestSessionUnregistersOnDisconnect(t *testing.T) {
	pres := &fakePresence{}
	h := newHarness(t, pres, nil)

	client := h.connect(t, h.accessToken(t, h.userA), h.chatID.String())
	waitFor(t, "registration", func() bool { return h.srv.registry.Count(h.chatID) == 1 })

	client.Close()

	waitFor(t, "unregistration", func() bool { return h.srv.registry.Count(h.chatID) == 0 })
	waitFor(t, "presence offline", func() bool {
		_, offline := pres.counts()
		return offline == 1
	})
}

func TestHandleChatEndToEnd(t *testing.T) {
	h := newHarness(t, nil, nil)

	mux := http.NewServeMux()
	h.srv.Register(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") +
		"/api/chats/ws/" + h.chatID.String() + "?token=" + h.accessToken(t, h.userA)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.DefaultDialer.Dial(ctx, url)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	defer conn.Close()

	if err := wsutil.WriteClientText(conn, []byte(`{"content":"over tcp"}`)); err != nil {
		t.Fatalf("writing message: %v", err)
	}
	if m := readMessage(t, conn); m.Content != "over tcp" {
		t.Errorf("unexpected content %q", m.Content)
	}
}
