// Package presence tracks which users currently hold an open chat connection.
// State lives in Redis as one hash per user with a TTL, so a crashed server
// never leaves users permanently "online":
//
//	Key:   presence:<user_uuid>
//	Hash:  server, since
//	TTL:   PresenceTTL, refreshed on activity
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Prefix is the Redis key prefix for presence hashes.
	Prefix = "presence:"

	// PresenceTTL is how long a presence record survives without a refresh.
	PresenceTTL = 2 * time.Minute
)

// Store manages presence records in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this chatserver instance
}

// NewStore creates a presence store using the provided Redis client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// SetOnline marks a user online on this server. Called when a chat connection
// finishes its handshake.
func (s *Store) SetOnline(ctx context.Context, userID string) error {
	key := Prefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"server": s.serverName,
		"since":  time.Now().Unix(),
	})
	pipe.Expire(ctx, key, PresenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: set online: %w", err)
	}
	return nil
}

// Refresh extends the TTL of a user's presence record. Called on inbound
// message activity so long-lived idle connections eventually expire anyway.
func (s *Store) Refresh(ctx context.Context, userID string) error {
	return s.client.Expire(ctx, Prefix+userID, PresenceTTL).Err()
}

// SetOffline removes a user's presence record. Called when the last
// connection for the user closes.
func (s *Store) SetOffline(ctx context.Context, userID string) error {
	return s.client.Del(ctx, Prefix+userID).Err()
}

// IsOnline reports whether the user has a live presence record.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := s.client.Exists(ctx, Prefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence: exists: %w", err)
	}
	return n > 0, nil
}
