// Package ws implements the WebSocket side of the chat server: the HTTP
// upgrade endpoint, the per-connection session (one blocking reader goroutine
// per connection), and in-process fan-out through the registry.
package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/auth"
	"github.com/connecthub/chat-app/internal/chat"
	"github.com/connecthub/chat-app/internal/metrics"
	"github.com/connecthub/chat-app/internal/ratelimit"
	"github.com/connecthub/chat-app/internal/registry"
	"github.com/connecthub/chat-app/internal/user"
)

// ChatService is the part of the service facade the sessions need.
type ChatService interface {
	ChatForParticipant(ctx context.Context, userID, chatID uuid.UUID) (*chat.Chat, error)
	AppendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string) (*chat.Message, error)
}

// TokenVerifier validates bearer tokens from the token query parameter.
type TokenVerifier interface {
	VerifyAccess(token string) (*auth.Claims, error)
}

// UserDirectory resolves token subjects to user records.
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Presence marks users online and offline for the duration of a session. May
// be nil.
type Presence interface {
	SetOnline(ctx context.Context, userID string) error
	Refresh(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
}

// RateLimiter throttles inbound messages per user. May be nil.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) bool
}

// MuteChecker reports whether a user is currently muted. May be nil.
type MuteChecker interface {
	IsMuted(ctx context.Context, userID string) (bool, time.Duration, string, error)
}

// Config holds the WebSocket server tunables.
type Config struct {
	// MaxConnections caps concurrent sessions; upgrades beyond it are
	// refused with 503 before the handshake.
	MaxConnections int

	// ReadTimeout is the maximum idle time between inbound frames before
	// the session is dropped.
	ReadTimeout time.Duration

	// WriteTimeout bounds each outbound frame write.
	WriteTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 100000,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Options bundles the Server's collaborators. Presence, Limiter, and Mutes
// are optional; the rest are required.
type Options struct {
	Config   Config
	Registry *registry.Registry
	Chats    ChatService
	Tokens   TokenVerifier
	Users    UserDirectory
	Presence Presence
	Limiter  RateLimiter
	Mutes    MuteChecker
	Log      *logrus.Logger
}

// Server owns the chat WebSocket endpoint and the live-connection registry.
type Server struct {
	config   Config
	registry *registry.Registry
	chats    ChatService
	tokens   TokenVerifier
	users    UserDirectory
	presence Presence
	limiter  RateLimiter
	mutes    MuteChecker
	log      *logrus.Logger

	startedAt time.Time
}

// NewServer creates a Server from its options.
func NewServer(opts Options) *Server {
	return &Server{
		config:    opts.Config,
		registry:  opts.Registry,
		chats:     opts.Chats,
		tokens:    opts.Tokens,
		users:     opts.Users,
		presence:  opts.Presence,
		limiter:   opts.Limiter,
		mutes:     opts.Mutes,
		log:       opts.Log,
		startedAt: time.Now(),
	}
}

// Register mounts the WebSocket and health endpoints on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/chats/ws/{chat_id}", s.HandleChat)
	mux.HandleFunc("GET /health", s.HandleHealth)
}

// HandleChat upgrades the request and runs the session until the connection
// closes. Credential and chat checks happen after the upgrade so that
// failures can be reported as WebSocket close frames, which browser clients
// can actually observe.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxConnections > 0 && s.registry.Connections() >= s.config.MaxConnections {
		s.log.Warn("connection limit reached, refusing upgrade")
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	chatID := r.PathValue("chat_id")
	token := r.URL.Query().Get("token")

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	go s.serveConn(raw, token, chatID)
}

// serveConn runs a single session on its own goroutine.
func (s *Server) serveConn(raw net.Conn, token, chatID string) {
	conn := newConn(raw, s.config.WriteTimeout)
	defer conn.Close()

	sess := &session{srv: s, conn: conn, log: s.log.WithField("remote", raw.RemoteAddr())}
	sess.run(context.Background(), token, chatID)
}

// BroadcastMessage fans a persisted message out to every connection
// registered for its chat and returns the number of deliveries.
func (s *Server) BroadcastMessage(m *chat.Message) int {
	payload, err := json.Marshal(m)
	if err != nil {
		s.log.WithError(err).Error("marshal outbound message")
		return 0
	}

	start := time.Now()
	delivered := s.registry.Broadcast(m.ChatID, payload)
	metrics.BroadcastLatency.Observe(time.Since(start).Seconds())
	metrics.BroadcastDeliveries.Add(float64(delivered))
	return delivered
}

// HandleHealth reports liveness plus basic connection stats.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": s.registry.Connections(),
		"chats":       s.registry.Chats(),
		"uptime":      time.Since(s.startedAt).String(),
	})
}
