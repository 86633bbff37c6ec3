// Package client provides a reusable WebSocket load test client for the
// ConnectHub chat server. It connects using gobwas/ws (the same library the
// server uses), authenticating through the token query parameter, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Message is the broadcast payload the server fans out to every connection of
// a chat.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chatId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	FirstMsgLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// Client represents a single simulated user connection subscribed to one
// chat. It manages the WebSocket lifecycle and dispatches incoming broadcast
// messages to a registered handler.
type Client struct {
	conn      net.Conn
	mu        sync.Mutex
	metrics   Metrics
	onMessage func(Message)
	done      chan struct{}
	closeOnce sync.Once
	dialStart time.Time
	gotFirst  bool
}

// New connects to the chat endpoint for the given chat ID, authenticating
// with the supplied access token. There is no in-band handshake: a failed
// token or membership check surfaces as a close frame, which the read loop
// records as an error. A background goroutine begins reading immediately.
func New(ctx context.Context, baseURL, chatID, token string) (*Client, error) {
	endpoint := fmt.Sprintf("%s/api/chats/ws/%s?token=%s",
		strings.TrimRight(baseURL, "/"), chatID, url.QueryEscape(token))

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:      conn,
		done:      make(chan struct{}),
		dialStart: start,
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a chat message with the given content. It is goroutine-safe.
func (c *Client) Send(content string) error {
	data, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// OnMessage registers the handler invoked for every broadcast message. The
// handler runs on the read loop goroutine so it should not block for extended
// periods. Register before generating traffic; replacing the handler while
// the read loop is running is not synchronized.
func (c *Client) OnMessage(handler func(Message)) {
	c.onMessage = handler
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads broadcast frames from the server and dispatches
// them to the registered handler. It runs until the connection is closed or
// an unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if !c.gotFirst {
			c.gotFirst = true
			c.metrics.FirstMsgLatency = time.Since(c.dialStart)
		}
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}
