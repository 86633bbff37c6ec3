// Package mute provides temporary chat mutes backed by Redis. A muted user
// cannot open chat connections until the mute expires:
//
//	Key:   mute:<user_uuid>     Value: <reason>   TTL: mute duration
//	Key:   strikes:<user_uuid>  Value: <count>    TTL: StrikesTTL
package mute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// MutePrefix is the Redis key prefix for mute records.
	MutePrefix = "mute:"

	// StrikesPrefix is the Redis key prefix for strike counters.
	StrikesPrefix = "strikes:"

	// Escalating mute durations by strike count.
	MuteFirst  = 15 * time.Minute
	MuteSecond = 1 * time.Hour
	MuteRepeat = 24 * time.Hour

	// StrikesTTL is how long the strike counter lives without new strikes.
	StrikesTTL = 24 * time.Hour

	// AutoMuteThreshold is the number of reports within StrikesTTL that
	// triggers an automatic mute.
	AutoMuteThreshold = 3
)

// Store manages mute records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a mute store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsMuted reports whether the user is currently muted, and if so for how much
// longer and why. Redis errors are returned so callers can decide the policy;
// the chat server fails open.
func (s *Store) IsMuted(ctx context.Context, userID string) (bool, time.Duration, string, error) {
	key := MutePrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", fmt.Errorf("mute: get: %w", err)
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// The mute exists but the remaining time is unknown.
		return true, 0, reason, nil
	}
	return true, ttl, reason, nil
}

// Mute silences a user for the given duration. The record expires on its own.
func (s *Store) Mute(ctx context.Context, userID string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, MutePrefix+userID, reason, duration).Err()
}

// Unmute lifts a mute immediately.
func (s *Store) Unmute(ctx context.Context, userID string) error {
	return s.client.Del(ctx, MutePrefix+userID).Err()
}

// durationForStrikes maps a strike count to a mute duration.
func durationForStrikes(strikes int) time.Duration {
	switch {
	case strikes <= 1:
		return MuteFirst
	case strikes == 2:
		return MuteSecond
	default:
		return MuteRepeat
	}
}

// Strikes returns the user's current strike counter, or 0 if it expired.
func (s *Store) Strikes(ctx context.Context, userID string) (int, error) {
	val, err := s.client.Get(ctx, StrikesPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mute: strikes: %w", err)
	}
	return val, nil
}

// RecordReport increments the user's strike counter and, once the counter
// reaches AutoMuteThreshold, applies a mute whose duration escalates with the
// count. The counter window is fixed: the TTL is set on the first strike only.
// Returns whether a mute was applied and for how long.
func (s *Store) RecordReport(ctx context.Context, userID, reason string) (bool, time.Duration, error) {
	key := StrikesPrefix + userID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("mute: record incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, StrikesTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("mute: record expire: %w", err)
		}
	}

	if int(count) < AutoMuteThreshold {
		return false, 0, nil
	}

	duration := durationForStrikes(int(count))
	if err := s.Mute(ctx, userID, duration, reason); err != nil {
		return false, 0, fmt.Errorf("mute: record mute: %w", err)
	}
	return true, duration, nil
}
