// Package service implements the chat facade shared by the REST handlers, the
// WebSocket sessions, and the friendship-event consumer. It owns the
// validation and authorization checks; the stores below it assume
// pre-validated input.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/connecthub/chat-app/internal/apperr"
	"github.com/connecthub/chat-app/internal/chat"
	"github.com/connecthub/chat-app/internal/moderation"
	"github.com/connecthub/chat-app/internal/report"
	"github.com/connecthub/chat-app/internal/user"
)

// ChatStore is the persistence contract the service needs (implemented by
// chat.Store).
type ChatStore interface {
	FindChatByParticipants(ctx context.Context, a, b uuid.UUID) (*chat.Chat, error)
	CreateChat(ctx context.Context, a, b uuid.UUID) (*chat.Chat, error)
	GetChatByID(ctx context.Context, id uuid.UUID) (*chat.Chat, error)
	ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]chat.Chat, error)
	AppendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string) (*chat.Message, error)
	ListMessages(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]chat.Message, error)
	RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]chat.Message, error)
	LastMessage(ctx context.Context, chatID uuid.UUID) (*chat.Message, error)
}

// UserDirectory resolves user profiles (implemented by user.Store).
type UserDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// PresenceChecker reports whether a user has a live connection. It may be nil,
// in which case summaries report everyone as offline.
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// ContentScreen screens message content for abuse patterns beyond plain
// validation (implemented by moderation.Filter).
type ContentScreen interface {
	Check(content string) moderation.Result
}

// ReportSink persists abuse reports (implemented by report.Store).
type ReportSink interface {
	Create(ctx context.Context, r *report.Report) error
	CountRecent(ctx context.Context, reportedID uuid.UUID, window time.Duration) (int, error)
}

// reportAuditWindow is the lookback used when logging how many reports a user
// has accumulated. The durable count survives cache resets, unlike the strike
// counter behind MutePolicy.
const reportAuditWindow = 24 * time.Hour

// MutePolicy applies the escalating auto-mute policy (implemented by
// mute.Store).
type MutePolicy interface {
	RecordReport(ctx context.Context, userID, reason string) (bool, time.Duration, error)
}

// ChatSummary is one entry of a user's chat list.
type ChatSummary struct {
	ID              uuid.UUID  `json:"id"`
	Companion       user.User  `json:"companion"`
	CompanionOnline bool       `json:"companionOnline"`
	LastMessage     *string    `json:"lastMessage"`
	LastMessageAt   *time.Time `json:"lastMessageAt"`
}

// ChatService is the facade over the chat store, user directory, and presence.
type ChatService struct {
	chats    ChatStore
	users    UserDirectory
	presence PresenceChecker
	log      *logrus.Logger

	screen  ContentScreen
	reports ReportSink
	mutes   MutePolicy
}

// New creates a ChatService. presence may be nil.
func New(chats ChatStore, users UserDirectory, presence PresenceChecker, log *logrus.Logger) *ChatService {
	return &ChatService{chats: chats, users: users, presence: presence, log: log}
}

// EnableModeration attaches a content screen. Screened-out messages are
// rejected as validation failures, so both ingress paths treat them the same
// way as empty or oversized content.
func (s *ChatService) EnableModeration(screen ContentScreen) {
	s.screen = screen
}

// EnableAbuseReports attaches report storage and the auto-mute policy.
func (s *ChatService) EnableAbuseReports(reports ReportSink, mutes MutePolicy) {
	s.reports = reports
	s.mutes = mutes
}

// CreateChatForFriendship returns the chat for the pair, creating it if
// absent. Two callers racing to create the same pair both end up with the
// single surviving row: the loser's insert hits the unique constraint and is
// resolved by re-fetching.
func (s *ChatService) CreateChatForFriendship(ctx context.Context, a, b uuid.UUID) (*chat.Chat, error) {
	if a == b {
		return nil, apperr.Validation("SELF_CHAT", "cannot create a chat with yourself")
	}

	existing, err := s.chats.FindChatByParticipants(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	created, err := s.chats.CreateChat(ctx, a, b)
	if apperr.Is(err, apperr.KindConflict) {
		// Lost the creation race; the winner's row is authoritative.
		return s.chats.FindChatByParticipants(ctx, a, b)
	}
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"chat_id": created.ID,
		"user1":   created.User1ID,
		"user2":   created.User2ID,
	}).Info("chat created")
	return created, nil
}

// ListChats returns the user's chats with companion profiles and last-message
// previews. Presence lookups are best-effort: a Redis failure leaves the
// online flag false rather than failing the listing.
func (s *ChatService) ListChats(ctx context.Context, userID uuid.UUID) ([]ChatSummary, error) {
	chats, err := s.chats.ListChatsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]ChatSummary, 0, len(chats))
	for _, c := range chats {
		companionID := c.Companion(userID)
		companion, err := s.users.FindByID(ctx, companionID)
		if err != nil {
			return nil, err
		}
		if companion == nil {
			s.log.WithFields(logrus.Fields{
				"chat_id":      c.ID,
				"companion_id": companionID,
			}).Warn("chat companion missing from user directory, skipping")
			continue
		}

		summary := ChatSummary{ID: c.ID, Companion: *companion}

		last, err := s.chats.LastMessage(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		if last != nil {
			summary.LastMessage = &last.Content
			summary.LastMessageAt = &last.CreatedAt
		}

		if s.presence != nil {
			online, err := s.presence.IsOnline(ctx, companionID.String())
			if err != nil {
				s.log.WithError(err).Debug("presence lookup failed")
			}
			summary.CompanionOnline = online
		}

		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ChatForParticipant returns the chat if it exists and the user is one of its
// two participants.
func (s *ChatService) ChatForParticipant(ctx context.Context, userID, chatID uuid.UUID) (*chat.Chat, error) {
	c, err := s.chats.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("CHAT_NOT_FOUND", "chat not found")
	}
	if !c.HasParticipant(userID) {
		return nil, apperr.Authorization("CHAT_ACCESS_DENIED", "no access to this chat")
	}
	return c, nil
}

// ListMessages returns a page of chat history for a participant. The chat ID
// arrives as a string from the URL path and is validated here.
func (s *ChatService) ListMessages(ctx context.Context, userID uuid.UUID, chatID string, offset, limit int) ([]chat.Message, error) {
	id, err := uuid.Parse(chatID)
	if err != nil {
		return nil, apperr.Validation("INVALID_UUID", "malformed chat id")
	}
	if _, err := s.ChatForParticipant(ctx, userID, id); err != nil {
		return nil, err
	}
	return s.chats.ListMessages(ctx, id, offset, limit)
}

// AppendMessage screens, validates, and persists a message. Participant
// checks happen at the boundary (session handshake or REST handler) before
// this is called.
func (s *ChatService) AppendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string) (*chat.Message, error) {
	if s.screen != nil {
		if res := s.screen.Check(content); res.Blocked {
			s.log.WithFields(logrus.Fields{
				"chat_id": chatID,
				"sender":  senderID,
				"rule":    res.Rule,
			}).Info("message blocked by moderation")
			return nil, apperr.Validation("CONTENT_BLOCKED", res.Reason)
		}
	}
	return s.chats.AppendMessage(ctx, chatID, senderID, content)
}

// ReportParticipant files an abuse report from one participant of a chat
// against the other, attaching a snapshot of the latest messages. When the
// reported user accumulates enough reports the mute policy silences them.
func (s *ChatService) ReportParticipant(ctx context.Context, reporterID uuid.UUID, chatID, reason string) error {
	if s.reports == nil {
		return apperr.NotFound("REPORTS_DISABLED", "abuse reports are not enabled")
	}

	id, err := uuid.Parse(chatID)
	if err != nil {
		return apperr.Validation("INVALID_UUID", "malformed chat id")
	}
	c, err := s.ChatForParticipant(ctx, reporterID, id)
	if err != nil {
		return err
	}
	reportedID := c.Companion(reporterID)

	recent, err := s.chats.RecentMessages(ctx, id, report.SnapshotSize)
	if err != nil {
		return err
	}

	r := &report.Report{
		ReporterID: reporterID,
		ReportedID: reportedID,
		ChatID:     id,
		Reason:     reason,
		Messages:   report.Snapshot(reporterID, recent),
	}
	if err := s.reports.Create(ctx, r); err != nil {
		return err
	}

	if s.mutes != nil {
		muted, duration, err := s.mutes.RecordReport(ctx, reportedID.String(), reason)
		if err != nil {
			// The report itself is stored; a mute bookkeeping failure
			// should not fail the request.
			s.log.WithError(err).Warn("recording report strike failed")
		} else if muted {
			s.log.WithFields(logrus.Fields{
				"reported": reportedID,
				"duration": duration,
			}).Info("user auto-muted after repeated reports")
		}
	}

	entry := s.log.WithFields(logrus.Fields{
		"chat_id":  id,
		"reporter": reporterID,
		"reported": reportedID,
		"reason":   reason,
	})
	if recent, err := s.reports.CountRecent(ctx, reportedID, reportAuditWindow); err != nil {
		s.log.WithError(err).Warn("counting recent reports failed")
	} else {
		entry = entry.WithField("reports_24h", recent)
	}
	entry.Info("abuse report filed")
	return nil
}
