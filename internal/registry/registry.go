// Package registry maintains the in-process directory of live WebSocket
// subscriptions, keyed by chat ID. It is addressing only: delivery is
// best-effort to currently-registered connections, with no queueing and no
// cross-process fan-out.
package registry

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

// Conn is the write side of a registered connection. Implementations must be
// safe for concurrent WriteText calls and must fail (not block indefinitely)
// when the peer is gone.
type Conn interface {
	WriteText(payload []byte) error
	Close() error
}

// numBuckets shards the chat map so that registration and broadcast on
// unrelated chats never contend on the same lock.
const numBuckets = 32

type bucket struct {
	mu    sync.RWMutex
	chats map[uuid.UUID]map[Conn]struct{}
}

// Registry maps chat IDs to their currently-open connections.
type Registry struct {
	buckets [numBuckets]bucket
}

// New creates an empty Registry.
func New() *Registry {
	r := &Registry{}
	for i := range r.buckets {
		r.buckets[i].chats = make(map[uuid.UUID]map[Conn]struct{})
	}
	return r
}

func (r *Registry) bucket(chatID uuid.UUID) *bucket {
	h := fnv.New32a()
	h.Write(chatID[:])
	return &r.buckets[h.Sum32()%numBuckets]
}

// Register adds a connection to the chat's subscription set, creating the set
// if absent. Registering the same connection twice is a no-op.
func (r *Registry) Register(chatID uuid.UUID, conn Conn) {
	b := r.bucket(chatID)
	b.mu.Lock()
	set, ok := b.chats[chatID]
	if !ok {
		set = make(map[Conn]struct{})
		b.chats[chatID] = set
	}
	set[conn] = struct{}{}
	b.mu.Unlock()
}

// Unregister removes a connection from the chat's subscription set. When the
// last connection leaves, the chat entry itself is removed so the registry
// never accumulates empty sets. Unregistering an absent connection is a no-op.
func (r *Registry) Unregister(chatID uuid.UUID, conn Conn) {
	b := r.bucket(chatID)
	b.mu.Lock()
	if set, ok := b.chats[chatID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(b.chats, chatID)
		}
	}
	b.mu.Unlock()
}

// Broadcast delivers payload to every connection currently registered for the
// chat, sender included. Delivery happens outside the bucket lock on a
// snapshot of the set, so a slow write never blocks registration. A failed
// write evicts that connection (unregister + close) without affecting
// delivery to the others. Returns the number of successful deliveries.
func (r *Registry) Broadcast(chatID uuid.UUID, payload []byte) int {
	b := r.bucket(chatID)
	b.mu.RLock()
	set := b.chats[chatID]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	b.mu.RUnlock()

	delivered := 0
	var dead []Conn
	for _, c := range conns {
		if err := c.WriteText(payload); err != nil {
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	for _, c := range dead {
		r.Unregister(chatID, c)
		_ = c.Close()
	}
	return delivered
}

// Count returns the number of connections currently registered for the chat.
func (r *Registry) Count(chatID uuid.UUID) int {
	b := r.bucket(chatID)
	b.mu.RLock()
	n := len(b.chats[chatID])
	b.mu.RUnlock()
	return n
}

// Chats returns the number of chats with at least one live connection.
func (r *Registry) Chats() int {
	total := 0
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		total += len(b.chats)
		b.mu.RUnlock()
	}
	return total
}

// Connections returns the total number of registered connections across all
// chats.
func (r *Registry) Connections() int {
	total := 0
	for i := range r.buckets {
		b := &r.buckets[i]
		b.mu.RLock()
		for _, set := range b.chats {
			total += len(set)
		}
		b.mu.RUnlock()
	}
	return total
}
