// Package ratelimit provides Redis-backed per-user throttling using the
// INCR + EXPIRE fixed-window algorithm.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rule defines a throttling policy: the Redis key prefix, the maximum count
// allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleMessage allows 10 chat messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleConnect allows 10 chat connections per minute per user.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 10, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *logrus.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, log *logrus.Logger) *Limiter {
	return &Limiter{client: client, log: log}
}

// Allow reports whether the identifier is within the rule's limit, counting
// this call. On Redis errors it fails open so an outage never blocks
// legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("rate limit INCR failed, failing open")
		return true
	}

	// The first increment defines the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("rate limit EXPIRE failed, failing open")
			// Without a TTL the key would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}
