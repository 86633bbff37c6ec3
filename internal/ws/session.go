package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/apperr"
	"github.com/connecthub/chat-app/internal/chat"
	"github.com/connecthub/chat-app/internal/metrics"
	"github.com/connecthub/chat-app/internal/ratelimit"
)

// inboundMessage is the only payload accepted on an open session. Unknown
// fields are ignored.
type inboundMessage struct {
	Content string `json:"content"`
}

// session is one authenticated WebSocket connection bound to one chat.
type session struct {
	srv  *Server
	conn *Conn
	log  *logrus.Entry

	userID uuid.UUID
	chatID uuid.UUID
}

// run drives the session: authenticate, authorize against the chat, register
// for fan-out, then read until the peer disconnects or a fatal error occurs.
func (s *session) run(ctx context.Context, token, chatID string) {
	if !s.authenticate(ctx, token) {
		return
	}
	if !s.bindChat(ctx, chatID) {
		return
	}

	s.log = s.log.WithFields(logrus.Fields{
		"user_id": s.userID,
		"chat_id": s.chatID,
	})

	reg := s.srv.registry
	reg.Register(s.chatID, s.conn)
	metrics.ConnectionsActive.Inc()
	metrics.SubscribedChats.Set(float64(reg.Chats()))
	s.log.Info("chat session opened")

	if s.srv.presence != nil {
		if err := s.srv.presence.SetOnline(ctx, s.userID.String()); err != nil {
			s.log.WithError(err).Warn("presence set online failed")
		}
	}

	defer func() {
		reg.Unregister(s.chatID, s.conn)
		metrics.ConnectionsActive.Dec()
		metrics.SubscribedChats.Set(float64(reg.Chats()))
		if s.srv.presence != nil {
			if err := s.srv.presence.SetOffline(ctx, s.userID.String()); err != nil {
				s.log.WithError(err).Warn("presence set offline failed")
			}
		}
		s.log.Info("chat session closed")
	}()

	s.readLoop(ctx)
}

// authenticate verifies the query-supplied token and that its subject still
// exists. Any failure closes the connection with a policy-violation frame,
// which is what clients key their "re-login" handling on.
func (s *session) authenticate(ctx context.Context, token string) bool {
	if token == "" {
		s.close(ws.StatusPolicyViolation, "missing token")
		return false
	}

	claims, err := s.srv.tokens.VerifyAccess(token)
	if err != nil {
		s.log.WithError(err).Debug("rejected chat connection")
		s.close(ws.StatusPolicyViolation, apperr.CodeOf(err))
		return false
	}

	u, err := s.srv.users.FindByID(ctx, claims.UserID)
	if err != nil {
		s.log.WithError(err).Error("user lookup failed during handshake")
		s.close(ws.StatusInternalServerError, "internal error")
		return false
	}
	if u == nil {
		s.close(ws.StatusPolicyViolation, "unknown user")
		return false
	}

	if s.srv.limiter != nil && !s.srv.limiter.Allow(ctx, claims.UserID.String(), ratelimit.RuleConnect) {
		s.log.WithField("user_id", claims.UserID).Warn("connection rate limit exceeded")
		s.close(ws.StatusPolicyViolation, "connection rate limit exceeded")
		return false
	}

	if s.srv.mutes != nil {
		muted, _, _, err := s.srv.mutes.IsMuted(ctx, claims.UserID.String())
		if err != nil {
			// Fail open: a Redis outage must not lock everyone out of chat.
			s.log.WithError(err).Warn("mute check failed, allowing connection")
		} else if muted {
			s.close(ws.StatusPolicyViolation, "account muted")
			return false
		}
	}

	s.userID = claims.UserID
	return true
}

// bindChat parses the path-supplied chat ID and checks that the chat exists
// with the session user as a participant. A malformed ID is unsupported data;
// a missing chat or a non-participant is a policy violation.
func (s *session) bindChat(ctx context.Context, chatID string) bool {
	id, err := uuid.Parse(chatID)
	if err != nil {
		s.close(ws.StatusUnsupportedData, "malformed chat id")
		return false
	}

	if _, err := s.srv.chats.ChatForParticipant(ctx, s.userID, id); err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindNotFound:
			s.close(ws.StatusPolicyViolation, "chat not found")
		case apperr.KindAuthorization:
			s.close(ws.StatusPolicyViolation, "no access to this chat")
		default:
			s.log.WithError(err).Error("chat lookup failed during handshake")
			s.close(ws.StatusInternalServerError, "internal error")
		}
		return false
	}

	s.chatID = id
	return true
}

// readLoop consumes frames until the peer goes away. Empty and undecodable
// payloads are skipped; over-limit and invalid messages are dropped without
// closing the session; a store failure is fatal.
func (s *session) readLoop(ctx context.Context) {
	for {
		if s.srv.config.ReadTimeout > 0 {
			if err := s.conn.raw.SetReadDeadline(time.Now().Add(s.srv.config.ReadTimeout)); err != nil {
				return
			}
		}

		data, op, err := wsutil.ReadClientData(s.conn.raw)
		if err != nil {
			var closed wsutil.ClosedError
			switch {
			case errors.As(err, &closed):
				s.log.WithField("code", closed.Code).Debug("peer closed connection")
			case errors.Is(err, io.EOF):
				s.log.Debug("peer went away")
			default:
				s.log.WithError(err).Debug("read failed")
			}
			return
		}
		if op != ws.OpText {
			continue
		}

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			s.log.WithError(err).Debug("skipping undecodable payload")
			continue
		}
		if in.Content == "" {
			continue
		}

		if s.srv.limiter != nil && !s.srv.limiter.Allow(ctx, s.userID.String(), ratelimit.RuleMessage) {
			metrics.MessagesTotal.WithLabelValues("rejected").Inc()
			s.log.Warn("message rate limit exceeded, dropping")
			continue
		}

		msg, err := s.srv.chats.AppendMessage(ctx, s.chatID, s.userID, in.Content)
		if err != nil {
			if apperr.Is(err, apperr.KindValidation) {
				metrics.MessagesTotal.WithLabelValues("rejected").Inc()
				s.log.WithError(err).Debug("dropping invalid message")
				continue
			}
			metrics.MessagesTotal.WithLabelValues("failed").Inc()
			s.log.WithError(err).Error("message persistence failed")
			s.close(ws.StatusInternalServerError, "message persistence failed")
			return
		}
		metrics.MessagesTotal.WithLabelValues("persisted").Inc()

		if s.srv.presence != nil {
			if err := s.srv.presence.Refresh(ctx, s.userID.String()); err != nil {
				s.log.WithError(err).Debug("presence refresh failed")
			}
		}

		s.broadcast(msg)
	}
}

func (s *session) broadcast(m *chat.Message) {
	delivered := s.srv.BroadcastMessage(m)
	s.log.WithFields(logrus.Fields{
		"message_id": m.ID,
		"delivered":  delivered,
	}).Debug("message broadcast")
}

// close performs the closing handshake: send a close frame, wait briefly for
// the peer's echo, then tear the connection down.
func (s *session) close(code ws.StatusCode, reason string) {
	if err := s.conn.writeClose(code, reason); err != nil {
		s.log.WithError(err).Debug("close frame write failed")
	} else {
		s.conn.drainClose(closeDrainTimeout)
	}
	s.conn.Close()
}
