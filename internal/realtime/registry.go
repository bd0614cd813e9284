package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stanstork/herald/internal/identity"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrInvalidRoom        = errors.New("invalid room name")
)

const shardCount = 32

const (
	RoomViolations    = "violations"
	RoomNotifications = "notifications"
	RoomSystem        = "system"
)

func UserRoom(id string) string { return "user:" + id }

func RoleRoom(role string) string { return "role:" + role }

func CameraRoom(id string) string { return "camera:" + id }

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection
}

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// ConnectionStats is a point-in-time view of the registry.
type ConnectionStats struct {
	TotalConnections           int            `json:"total_connections"`
	AuthenticatedConnections   int            `json:"authenticated_connections"`
	UnauthenticatedConnections int            `json:"unauthenticated_connections"`
	ConnectionsByRole          map[string]int `json:"connections_by_role"`
	Rooms                      int            `json:"rooms"`
	DroppedMessages            int64          `json:"dropped_messages"`
}

type ConnectedUser struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	Role         string    `json:"role"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// Registry tracks live connections and their room memberships. Rooms and
// connections are spread over independently locked shards so traffic to
// unrelated rooms does not contend.
//
// Lock order: Connection.mu before any shard lock. Delivery happens with
// no shard lock held.
type Registry struct {
	verifier   identity.Verifier
	sendBuffer int
	logger     zerolog.Logger
	now        func() time.Time

	rooms   [shardCount]roomShard
	conns   [shardCount]connShard
	dropped atomic.Int64
}

func NewRegistry(verifier identity.Verifier, sendBuffer int, logger zerolog.Logger) *Registry {
	r := &Registry{
		verifier:   verifier,
		sendBuffer: sendBuffer,
		logger:     logger.With().Str("component", "realtime_registry").Logger(),
		now:        time.Now,
	}
	for i := range r.rooms {
		r.rooms[i].rooms = make(map[string]map[string]*Connection)
		r.conns[i].conns = make(map[string]*Connection)
	}
	return r
}

func shardFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

// Register adds an anonymous connection. An empty id gets a generated one;
// an id already in use replaces the previous connection.
func (r *Registry) Register(id string) *Connection {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}

	conn := newConnection(id, r.sendBuffer, r.now())
	shard := &r.conns[shardFor(id)]
	shard.mu.Lock()
	previous, replaced := shard.conns[id]
	shard.conns[id] = conn
	shard.mu.Unlock()

	if replaced {
		r.release(previous)
	}

	r.logger.Debug().Str("connection_id", id).Msg("connection registered")
	return conn
}

func (r *Registry) Lookup(id string) (*Connection, bool) {
	shard := &r.conns[shardFor(id)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	conn, ok := shard.conns[id]
	return conn, ok
}

// Authenticate verifies token and moves the connection into its user and
// role rooms. Failures are reported to the connection as an
// authentication_error event and leave it usable as an anonymous session.
func (r *Registry) Authenticate(ctx context.Context, id, token string) (identity.Identity, error) {
	conn, ok := r.Lookup(id)
	if !ok {
		return identity.Identity{}, ErrConnectionNotFound
	}

	if r.verifier == nil {
		r.sendTo(conn, EventAuthenticationError, authError("Authentication unavailable"))
		return identity.Identity{}, identity.ErrUnavailable
	}
	if strings.TrimSpace(token) == "" {
		r.sendTo(conn, EventAuthenticationError, authError("Token required"))
		return identity.Identity{}, identity.ErrInvalidToken
	}

	who, err := r.verifier.Verify(ctx, token)
	if err != nil {
		message := "Authentication failed"
		switch {
		case errors.Is(err, identity.ErrInvalidToken):
			message = "Invalid token"
		case errors.Is(err, identity.ErrUnavailable):
			message = "Authentication unavailable"
		}
		r.logger.Warn().Err(err).Str("connection_id", id).Msg("authentication failed")
		r.sendTo(conn, EventAuthenticationError, authError(message))
		return identity.Identity{}, err
	}

	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return identity.Identity{}, ErrConnectionClosed
	}
	if prev := conn.identity; prev != nil {
		if prev.UserID != who.UserID {
			r.leaveLocked(conn, UserRoom(prev.UserID))
		}
		if prev.Role != who.Role {
			r.leaveLocked(conn, RoleRoom(prev.Role))
		}
	}
	conn.identity = &who
	r.joinLocked(conn, UserRoom(who.UserID))
	r.joinLocked(conn, RoleRoom(who.Role))
	conn.mu.Unlock()

	r.logger.Info().Str("connection_id", id).Str("user_id", who.UserID).Str("role", who.Role).Msg("connection authenticated")
	r.sendTo(conn, EventAuthenticated, map[string]any{
		"success": true,
		"user":    who,
	})
	return who, nil
}

func (r *Registry) Subscribe(id, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return ErrInvalidRoom
	}
	conn, ok := r.Lookup(id)
	if !ok {
		return ErrConnectionNotFound
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	r.joinLocked(conn, room)
	r.logger.Debug().Str("connection_id", id).Str("room", room).Msg("joined room")
	return nil
}

func (r *Registry) Unsubscribe(id, room string) error {
	conn, ok := r.Lookup(id)
	if !ok {
		return ErrConnectionNotFound
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return ErrConnectionClosed
	}
	r.leaveLocked(conn, strings.TrimSpace(room))
	r.logger.Debug().Str("connection_id", id).Str("room", room).Msg("left room")
	return nil
}

// Emit delivers the event to every current member of room and returns the
// number of connections that accepted it. Empty rooms are a no-op.
func (r *Registry) Emit(room, event string, payload any) int {
	shard := &r.rooms[shardFor(room)]
	shard.mu.RLock()
	members := make([]*Connection, 0, len(shard.rooms[room]))
	for _, conn := range shard.rooms[room] {
		members = append(members, conn)
	}
	shard.mu.RUnlock()

	if len(members) == 0 {
		return 0
	}
	msg, ok := r.encode(event, payload)
	if !ok {
		return 0
	}
	count := r.deliverAll(members, msg)
	r.logger.Debug().Str("room", room).Str("event", event).Int("delivered", count).Msg("emitted to room")
	return count
}

// Broadcast delivers the event to every registered connection regardless
// of room membership.
func (r *Registry) Broadcast(event string, payload any) int {
	members := r.snapshot()
	if len(members) == 0 {
		return 0
	}
	msg, ok := r.encode(event, payload)
	if !ok {
		return 0
	}
	count := r.deliverAll(members, msg)
	r.logger.Debug().Str("event", event).Int("delivered", count).Msg("broadcast")
	return count
}

// Send delivers the event to a single connection.
func (r *Registry) Send(id, event string, payload any) error {
	conn, ok := r.Lookup(id)
	if !ok {
		return ErrConnectionNotFound
	}
	if r.sendTo(conn, event, payload) == closed {
		return ErrConnectionClosed
	}
	return nil
}

// Deregister removes the connection from every room and closes its
// outbound queue. It is safe to call repeatedly and concurrently with Emit.
func (r *Registry) Deregister(id string) bool {
	shard := &r.conns[shardFor(id)]
	shard.mu.Lock()
	conn, ok := shard.conns[id]
	if ok {
		delete(shard.conns, id)
	}
	shard.mu.Unlock()
	if !ok {
		return false
	}
	return r.release(conn)
}

// release leaves every room and closes the outbound queue of a connection
// already removed from the connection table.
func (r *Registry) release(conn *Connection) bool {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return false
	}
	conn.closed = true
	for room := range conn.rooms {
		r.leaveLocked(conn, room)
	}
	close(conn.send)
	conn.mu.Unlock()

	r.logger.Debug().Str("connection_id", conn.id).Msg("connection deregistered")
	return true
}

// DisconnectUser deregisters every connection authenticated as userID.
func (r *Registry) DisconnectUser(userID string) int {
	disconnected := 0
	for _, conn := range r.snapshot() {
		if who, ok := conn.Identity(); ok && who.UserID == userID {
			if r.Deregister(conn.id) {
				disconnected++
			}
		}
	}
	if disconnected > 0 {
		r.logger.Info().Str("user_id", userID).Int("connections", disconnected).Msg("user disconnected")
	}
	return disconnected
}

func (r *Registry) Stats() ConnectionStats {
	stats := ConnectionStats{
		ConnectionsByRole: make(map[string]int),
		DroppedMessages:   r.dropped.Load(),
	}
	for _, conn := range r.snapshot() {
		stats.TotalConnections++
		if who, ok := conn.Identity(); ok {
			stats.AuthenticatedConnections++
			stats.ConnectionsByRole[who.Role]++
		}
	}
	stats.UnauthenticatedConnections = stats.TotalConnections - stats.AuthenticatedConnections

	for i := range r.rooms {
		shard := &r.rooms[i]
		shard.mu.RLock()
		stats.Rooms += len(shard.rooms)
		shard.mu.RUnlock()
	}
	return stats
}

func (r *Registry) ConnectedUsers() []ConnectedUser {
	var users []ConnectedUser
	for _, conn := range r.snapshot() {
		if who, ok := conn.Identity(); ok {
			users = append(users, ConnectedUser{
				ConnectionID: conn.id,
				UserID:       who.UserID,
				Role:         who.Role,
				ConnectedAt:  conn.connectedAt,
			})
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ConnectionID < users[j].ConnectionID })
	return users
}

// CloseAll deregisters every connection, authenticated or not.
func (r *Registry) CloseAll() int {
	closed := 0
	for _, conn := range r.snapshot() {
		if r.Deregister(conn.id) {
			closed++
		}
	}
	return closed
}

// RoomSize reports the current member count of room.
func (r *Registry) RoomSize(room string) int {
	shard := &r.rooms[shardFor(room)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	return len(shard.rooms[room])
}

// joinLocked requires conn.mu to be held for writing.
func (r *Registry) joinLocked(conn *Connection, room string) {
	conn.rooms[room] = struct{}{}

	shard := &r.rooms[shardFor(room)]
	shard.mu.Lock()
	members, ok := shard.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		shard.rooms[room] = members
	}
	members[conn.id] = conn
	shard.mu.Unlock()
}

// leaveLocked requires conn.mu to be held for writing.
func (r *Registry) leaveLocked(conn *Connection, room string) {
	delete(conn.rooms, room)

	shard := &r.rooms[shardFor(room)]
	shard.mu.Lock()
	// a replacement connection may already hold the same id
	if members, ok := shard.rooms[room]; ok && members[conn.id] == conn {
		delete(members, conn.id)
		if len(members) == 0 {
			delete(shard.rooms, room)
		}
	}
	shard.mu.Unlock()
}

func (r *Registry) snapshot() []*Connection {
	var all []*Connection
	for i := range r.conns {
		shard := &r.conns[i]
		shard.mu.RLock()
		for _, conn := range shard.conns {
			all = append(all, conn)
		}
		shard.mu.RUnlock()
	}
	return all
}

func (r *Registry) deliverAll(members []*Connection, msg []byte) int {
	count := 0
	for _, conn := range members {
		switch conn.deliver(msg) {
		case delivered:
			count++
		case dropped:
			r.dropped.Add(1)
			r.logger.Warn().Str("connection_id", conn.id).Msg("outbound queue full, dropping message")
		}
	}
	return count
}

func (r *Registry) sendTo(conn *Connection, event string, payload any) deliveryResult {
	msg, ok := r.encode(event, payload)
	if !ok {
		return dropped
	}
	result := conn.deliver(msg)
	if result == dropped {
		r.dropped.Add(1)
	}
	return result
}

func (r *Registry) encode(event string, payload any) ([]byte, bool) {
	msg, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		r.logger.Error().Err(err).Str("event", event).Msg("failed to encode event")
		return nil, false
	}
	return msg, true
}

func authError(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}
