// Package report provides PostgreSQL-backed storage for abuse reports filed
// against chat participants. Each report captures who reported whom, the chat
// it happened in, and a snapshot of recent messages for moderator review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/connecthub/chat-app/internal/apperr"
	"github.com/connecthub/chat-app/internal/chat"
)

// validReasons is the set of allowed reason values, matching the CHECK
// constraint on the abuse_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"other":      true,
}

// SnapshotSize is how many of the latest messages are attached to a report.
const SnapshotSize = 20

// Report is a single abuse report.
type Report struct {
	ReporterID uuid.UUID
	ReportedID uuid.UUID
	ChatID     uuid.UUID
	Reason     string
	Messages   []MessageEntry
}

// MessageEntry is one message in the conversation snapshot attached to a
// report. Sender is "reporter" or "reported" rather than a raw ID so the
// snapshot reads naturally in the moderation UI.
type MessageEntry struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
	Ts      int64  `json:"ts"`
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Snapshot converts the latest messages of a chat into report entries,
// attributing each one to the reporter or the reported user.
func Snapshot(reporterID uuid.UUID, messages []chat.Message) []MessageEntry {
	start := 0
	if len(messages) > SnapshotSize {
		start = len(messages) - SnapshotSize
	}

	entries := make([]MessageEntry, 0, len(messages)-start)
	for _, m := range messages[start:] {
		sender := "reported"
		if m.SenderID == reporterID {
			sender = "reporter"
		}
		entries = append(entries, MessageEntry{
			Sender:  sender,
			Content: m.Content,
			Ts:      m.CreatedAt.Unix(),
		})
	}
	return entries
}

// Create validates and inserts an abuse report.
func (s *Store) Create(ctx context.Context, r *Report) error {
	if !validReasons[r.Reason] {
		return apperr.Validation("INVALID_REASON", fmt.Sprintf("reason must be one of harassment, spam, explicit, other; got %q", r.Reason))
	}

	var messagesJSON []byte
	if len(r.Messages) > 0 {
		var err error
		messagesJSON, err = json.Marshal(r.Messages)
		if err != nil {
			return fmt.Errorf("report: marshal snapshot: %w", err)
		}
	}

	const query = `
		INSERT INTO abuse_reports (reporter_id, reported_id, chat_id, reason, messages)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.db.ExecContext(ctx, query, r.ReporterID, r.ReportedID, r.ChatID, r.Reason, messagesJSON); err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against a user within the
// given window. This count is durable, unlike the Redis strike counter.
func (s *Store) CountRecent(ctx context.Context, reportedID uuid.UUID, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported_id = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	if err := s.db.QueryRowContext(ctx, query, reportedID, window.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
