package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"learnbridge/internal/metrics"
	"learnbridge/pkg/rooms"
	"learnbridge/pkg/types"
)

// Fanout forwards deliveries to other server instances
type Fanout interface {
	Publish(ctx context.Context, delivery types.Delivery) error
}

// Registry tracks live connections and their room memberships.
// Emits snapshot recipients under the read lock and write outside it, so
// a slow client never blocks joins or other emits.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection            // connID -> conn
	byPrincipal map[string]map[string]*Connection // principalID -> connID -> conn
	rooms       map[string]map[string]*Connection // room -> connID -> conn
	memberships map[string]map[string]struct{}    // connID -> rooms

	origin string
	fanout Fanout
	logger zerolog.Logger
}

// NewRegistry creates an empty registry owned by one server instance
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		connections: make(map[string]*Connection),
		byPrincipal: make(map[string]map[string]*Connection),
		rooms:       make(map[string]map[string]*Connection),
		memberships: make(map[string]map[string]struct{}),
		origin:      uuid.NewString(),
		logger:      logger.With().Str("component", "registry").Logger(),
	}
}

// Origin identifies this instance on the backplane
func (r *Registry) Origin() string {
	return r.origin
}

// SetFanout enables cross-instance delivery. Call before serving traffic.
func (r *Registry) SetFanout(f Fanout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fanout = f
}

// RegisterConnection adds an authenticated connection and joins its
// personal room. first is true when it is the principal's only live
// connection on this instance.
func (r *Registry) RegisterConnection(conn *Connection) (first bool, err error) {
	if conn == nil {
		return false, ErrNilConnection
	}
	principalID := conn.UserID()
	if principalID == "" {
		return false, ErrConnectionNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return false, nil
	}

	r.connections[conn.ID()] = conn
	peers := r.byPrincipal[principalID]
	if peers == nil {
		peers = make(map[string]*Connection)
		r.byPrincipal[principalID] = peers
	}
	peers[conn.ID()] = conn
	r.memberships[conn.ID()] = make(map[string]struct{})
	r.joinLocked(conn, rooms.PersonalRoomID(principalID))

	metrics.ConnectionsActive.Inc()
	return len(peers) == 1, nil
}

// UnregisterConnection removes conn from every room. last is true when it
// was the principal's final live connection on this instance. Removing an
// unknown connection is a no-op.
func (r *Registry) UnregisterConnection(conn *Connection) (last bool) {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return false
	}

	for room := range r.memberships[conn.ID()] {
		r.leaveLocked(conn, room)
	}
	delete(r.memberships, conn.ID())
	delete(r.connections, conn.ID())

	principalID := conn.UserID()
	peers := r.byPrincipal[principalID]
	delete(peers, conn.ID())
	if len(peers) == 0 {
		delete(r.byPrincipal, principalID)
		last = true
	}

	metrics.ConnectionsActive.Dec()
	return last
}

// Join adds conn to room. Joining twice is a no-op and reports false.
func (r *Registry) Join(conn *Connection, room string) (bool, error) {
	if room == "" {
		return false, ErrEmptyRoom
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[conn.ID()]; !ok {
		return false, ErrConnectionNotRegistered
	}
	return r.joinLocked(conn, room), nil
}

// Leave removes conn from room. Leaving a room not joined is a no-op.
func (r *Registry) Leave(conn *Connection, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(conn, room)
}

func (r *Registry) joinLocked(conn *Connection, room string) bool {
	members := r.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		r.rooms[room] = members
	}
	if _, ok := members[conn.ID()]; ok {
		return false
	}
	members[conn.ID()] = conn
	r.memberships[conn.ID()][room] = struct{}{}
	return true
}

func (r *Registry) leaveLocked(conn *Connection, room string) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[conn.ID()]; !ok {
		return false
	}
	delete(members, conn.ID())
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	if joined, ok := r.memberships[conn.ID()]; ok {
		delete(joined, room)
	}
	return true
}

// Rooms returns the rooms conn currently belongs to, sorted
func (r *Registry) Rooms(conn *Connection) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := make([]string, 0, len(r.memberships[conn.ID()]))
	for room := range r.memberships[conn.ID()] {
		joined = append(joined, room)
	}
	sort.Strings(joined)
	return joined
}

// RoomPrincipals returns the distinct principal ids present in room, sorted
func (r *Registry) RoomPrincipals(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, conn := range r.rooms[room] {
		seen[conn.UserID()] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOnline reports whether principalID has a live connection here
func (r *Registry) IsOnline(principalID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPrincipal[principalID]) > 0
}

// Emit encodes event once and delivers it to every local connection the
// target selects, then forwards it to other instances when a fanout is
// configured. It returns the number of local connections reached.
func (r *Registry) Emit(ctx context.Context, target types.Target, event types.ServerEvent) int {
	payload, err := types.EncodeServerEvent(event)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode event")
		return 0
	}

	delivery := types.Delivery{Target: target, Payload: payload, Origin: r.origin}
	delivered := r.DeliverLocal(delivery)
	if delivered > 0 {
		metrics.EventsDelivered.WithLabelValues(event.EventType()).Add(float64(delivered))
	}

	r.mu.RLock()
	fanout := r.fanout
	r.mu.RUnlock()
	if fanout != nil {
		if err := fanout.Publish(ctx, delivery); err != nil {
			r.logger.Warn().Err(err).Str("event", event.EventType()).Msg("backplane publish failed")
		}
	}

	return delivered
}

// DeliverLocal writes an encoded delivery to the local connections it
// selects. Each connection receives it at most once even when it is in
// several target rooms.
func (r *Registry) DeliverLocal(d types.Delivery) int {
	recipients := r.recipients(d.Target)

	delivered := 0
	for _, conn := range recipients {
		if err := conn.Send(d.Payload); err != nil {
			r.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("delivery skipped")
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) recipients(target types.Target) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selected := make(map[string]*Connection)
	if target.All {
		for id, conn := range r.connections {
			selected[id] = conn
		}
	} else {
		for _, room := range target.Rooms {
			for id, conn := range r.rooms[room] {
				selected[id] = conn
			}
		}
	}

	recipients := make([]*Connection, 0, len(selected))
	for id, conn := range selected {
		if id == target.ExceptConn {
			continue
		}
		if target.ExceptUser != "" && conn.UserID() == target.ExceptUser {
			continue
		}
		recipients = append(recipients, conn)
	}
	return recipients
}

// GetStats returns registry counters for the stats endpoint
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"online_users":      len(r.byPrincipal),
		"active_rooms":      len(r.rooms),
	}
}

// CloseAll closes every registered connection, used on shutdown
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.CloseWithReason(websocket.CloseGoingAway, "server shutting down")
	}
}
