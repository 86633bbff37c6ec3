// Package messaging provides the NATS client used for control-plane events
// between the profile service and the chat server. The profile service
// publishes friendship.accepted when a friend request is accepted; the chat
// server reacts by creating the pair's chat and announces it on chat.created.
// Message fan-out stays in-process and never touches NATS.
package messaging

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Subjects used between ConnectHub services.
const (
	SubjectFriendshipAccepted = "friendship.accepted"
	SubjectChatCreated        = "chat.created"
)

// FriendshipAcceptedEvent is published by the profile service when a friend
// request transitions to accepted.
type FriendshipAcceptedEvent struct {
	UserID   string `json:"user_id"`
	FriendID string `json:"friend_id"`
	Ts       int64  `json:"ts,omitempty"`
}

// ChatCreatedEvent is published by the chat server after a chat row exists
// for a pair (whether it was just created or already present).
type ChatCreatedEvent struct {
	ChatID  string `json:"chat_id"`
	User1ID string `json:"user1_id"`
	User2ID string `json:"user2_id"`
	Ts      int64  `json:"ts"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "connecthub-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// Client wraps the NATS connection with the typed publish/subscribe helpers
// the chat server needs.
type Client struct {
	conn *nats.Conn
	log  *logrus.Logger
	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewClient connects to NATS with the given config and returns a ready client.
func NewClient(config Config, log *logrus.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("nats disconnected")
			} else {
				log.Warn("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Info("nats connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("messaging: connect: %w", err)
	}
	log.WithField("url", nc.ConnectedUrl()).Info("connected to nats")

	return &Client{conn: nc, log: log}, nil
}

// SubscribeFriendshipAccepted registers a handler for friendship.accepted
// events. Undecodable payloads are logged and dropped.
func (c *Client) SubscribeFriendshipAccepted(handler func(ev FriendshipAcceptedEvent)) error {
	sub, err := c.conn.Subscribe(SubjectFriendshipAccepted, func(msg *nats.Msg) {
		var ev FriendshipAcceptedEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.log.WithError(err).Warn("dropping malformed friendship.accepted event")
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("messaging: subscribe %s: %w", SubjectFriendshipAccepted, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// PublishChatCreated announces that a chat exists for a pair.
func (c *Client) PublishChatCreated(ev ChatCreatedEvent) error {
	if ev.Ts == 0 {
		ev.Ts = time.Now().Unix()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("messaging: marshal chat.created: %w", err)
	}
	if err := c.conn.Publish(SubjectChatCreated, data); err != nil {
		return fmt.Errorf("messaging: publish %s: %w", SubjectChatCreated, err)
	}
	return nil
}

// Close drains all subscriptions and the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.log.WithError(err).Warn("nats subscription drain failed")
		}
	}
	c.subs = nil

	if err := c.conn.Drain(); err != nil {
		c.log.WithError(err).Warn("nats connection drain failed")
	}
}
