// Package chat holds the chat and message records and their PostgreSQL store.
// A chat is a persistent pairing of exactly two users; its participants are
// stored in canonical order so that the unordered pair maps to exactly one row.
package chat

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Chat is a persistent pairing of two users. User1ID always sorts before
// User2ID (byte order), enforced on insert and by a CHECK constraint.
type Chat struct {
	ID        uuid.UUID
	User1ID   uuid.UUID
	User2ID   uuid.UUID
	CreatedAt time.Time
}

// HasParticipant reports whether the user is one of the chat's two participants.
func (c *Chat) HasParticipant(userID uuid.UUID) bool {
	return userID == c.User1ID || userID == c.User2ID
}

// Companion returns the other participant's ID, or uuid.Nil if the given user
// is not a participant.
func (c *Chat) Companion(userID uuid.UUID) uuid.UUID {
	switch userID {
	case c.User1ID:
		return c.User2ID
	case c.User2ID:
		return c.User1ID
	}
	return uuid.Nil
}

// Message is a single immutable chat message. IDs are assigned by the store
// and are monotonic, so (created_at, id) gives a total order within a chat.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    uuid.UUID `json:"chatId"`
	SenderID  uuid.UUID `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// CanonicalPair orders two user IDs so that the smaller (byte order) comes
// first. Both lookup and insert go through this, which is what guarantees at
// most one chat row per unordered pair.
func CanonicalPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}
