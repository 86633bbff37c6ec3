package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/connecthub/chat-app/internal/apperr"
)

// MaxListLimit bounds a single history page to prevent unbounded reads.
const MaxListLimit = 200

// uniqueViolation is the PostgreSQL error code for a unique constraint hit.
const uniqueViolation = "23505"

// Store manages chat and message rows in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a chat store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindChatByParticipants looks up the chat for an unordered pair of users.
// Returns nil if no chat exists.
func (s *Store) FindChatByParticipants(ctx context.Context, a, b uuid.UUID) (*Chat, error) {
	u1, u2 := CanonicalPair(a, b)

	const query = `
		SELECT id, user1_id, user2_id, created_at
		FROM chats
		WHERE user1_id = $1 AND user2_id = $2`

	var c Chat
	err := s.db.QueryRowContext(ctx, query, u1, u2).Scan(
		&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: find by participants: %w", err)
	}
	return &c, nil
}

// CreateChat inserts a chat row for the pair, in canonical order. If another
// caller won the race to create the same pair, the unique constraint fires
// and the error carries the conflict kind so the caller can re-fetch.
func (s *Store) CreateChat(ctx context.Context, a, b uuid.UUID) (*Chat, error) {
	u1, u2 := CanonicalPair(a, b)

	const query = `
		INSERT INTO chats (id, user1_id, user2_id)
		VALUES ($1, $2, $3)
		RETURNING created_at`

	c := Chat{ID: uuid.New(), User1ID: u1, User2ID: u2}
	err := s.db.QueryRowContext(ctx, query, c.ID, u1, u2).Scan(&c.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return nil, apperr.Conflict("CHAT_EXISTS", "chat already exists for this pair")
		}
		return nil, fmt.Errorf("chat: insert chat: %w", err)
	}
	return &c, nil
}

// GetChatByID returns the chat with the given ID, or nil if absent.
func (s *Store) GetChatByID(ctx context.Context, id uuid.UUID) (*Chat, error) {
	const query = `
		SELECT id, user1_id, user2_id, created_at
		FROM chats
		WHERE id = $1`

	var c Chat
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: get chat: %w", err)
	}
	return &c, nil
}

// ListChatsForUser returns every chat where the user is either participant.
func (s *Store) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]Chat, error) {
	const query = `
		SELECT id, user1_id, user2_id, created_at
		FROM chats
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan chat: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: list chats: %w", err)
	}
	return chats, nil
}

// AppendMessage validates and persists a message, returning the stored record
// with its assigned ID and timestamp. The caller is responsible for having
// checked that the sender is a participant of the chat.
func (s *Store) AppendMessage(ctx context.Context, chatID, senderID uuid.UUID, content string) (*Message, error) {
	if err := ValidateContent(content); err != nil {
		return nil, err
	}

	const query = `
		INSERT INTO messages (chat_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	m := Message{ChatID: chatID, SenderID: senderID, Content: content}
	err := s.db.QueryRowContext(ctx, query, chatID, senderID, content).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("chat: insert message: %w", err)
	}
	return &m, nil
}

// ListMessages returns a page of a chat's messages in ascending creation
// order, ties broken by ID. Offset below zero is treated as zero and limit is
// clamped to [1, MaxListLimit].
func (s *Store) ListMessages(ctx context.Context, chatID uuid.UUID, offset, limit int) ([]Message, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	const query = `
		SELECT id, chat_id, sender_id, content, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at, id
		OFFSET $2 LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, chatID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: list messages: %w", err)
	}
	return messages, nil
}

// RecentMessages returns the newest messages of a chat, at most limit of
// them, in ascending creation order. Used for report snapshots.
func (s *Store) RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]Message, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	const query = `
		SELECT id, chat_id, sender_id, content, created_at
		FROM (
			SELECT id, chat_id, sender_id, content, created_at
			FROM messages
			WHERE chat_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) latest
		ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: recent messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: recent messages: %w", err)
	}
	return messages, nil
}

// LastMessage returns the newest message of a chat, or nil if the chat has no
// messages yet. Used for chat list previews.
func (s *Store) LastMessage(ctx context.Context, chatID uuid.UUID) (*Message, error) {
	const query = `
		SELECT id, chat_id, sender_id, content, created_at
		FROM messages
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	var m Message
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("chat: last message: %w", err)
	}
	return &m, nil
}
