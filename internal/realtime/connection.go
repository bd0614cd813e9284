package realtime

import (
	"sort"
	"sync"
	"time"

	"github.com/stanstork/herald/internal/identity"
)

type deliveryResult int

const (
	delivered deliveryResult = iota
	dropped
	closed
)

// Connection is one live duplex session. Outbound messages are queued on a
// bounded channel drained by the transport's write loop.
type Connection struct {
	id          string
	connectedAt time.Time
	send        chan []byte

	mu       sync.RWMutex
	closed   bool
	identity *identity.Identity
	rooms    map[string]struct{}
}

func newConnection(id string, buffer int, now time.Time) *Connection {
	return &Connection{
		id:          id,
		connectedAt: now,
		send:        make(chan []byte, max(buffer, 1)),
		rooms:       make(map[string]struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// Outbound is closed once the connection is deregistered.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

func (c *Connection) Identity() (identity.Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.identity == nil {
		return identity.Identity{}, false
	}
	return *c.identity, true
}

func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (c *Connection) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// deliver never blocks. The read lock keeps close from racing the send.
func (c *Connection) deliver(msg []byte) deliveryResult {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return closed
	}
	select {
	case c.send <- msg:
		return delivered
	default:
		return dropped
	}
}
