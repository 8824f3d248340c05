// Package hub dispatches client events and broadcasts presence.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"learnbridge/internal/websocket"
	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/rooms"
	"learnbridge/pkg/types"
)

const lifecycleBuffer = 256

// SessionChecker answers session membership questions for joins and
// status updates
type SessionChecker interface {
	CheckParticipant(ctx context.Context, sessionID, principalID string) error
	Invalidate(sessionID string)
}

type presenceChange struct {
	principalID string
	connID      string
	online      bool
}

// Hub implements websocket.Dispatcher.
// ARCHITECTURAL DISCOVERY: presence changes go through one goroutine so
// userOnline and userOffline of a principal are never reordered, while
// room and relay events run on the connection's own read goroutine
type Hub struct {
	registry *websocket.Registry
	relay    interfaces.MessageRelay
	sessions SessionChecker
	strict   bool
	logger   zerolog.Logger

	lifecycle chan presenceChange
	shutdown  chan struct{}
	done      chan struct{}
	running   bool
	mu        sync.RWMutex
}

// NewHub creates a hub. When strictSessionJoin is set, joinSession and
// sessionUpdate require the principal to be the session's student or tutor.
func NewHub(registry *websocket.Registry, relay interfaces.MessageRelay, sessions SessionChecker, strictSessionJoin bool, logger zerolog.Logger) *Hub {
	return &Hub{
		registry:  registry,
		relay:     relay,
		sessions:  sessions,
		strict:    strictSessionJoin,
		logger:    logger.With().Str("component", "hub").Logger(),
		lifecycle: make(chan presenceChange, lifecycleBuffer),
	}
}

// Start begins processing presence changes
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	go h.run(ctx, h.shutdown, h.done)
	h.logger.Info().Msg("hub started")
	return nil
}

// Stop ends processing and waits for the hub goroutine. Presence changes
// still queued are broadcast first.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info().Msg("hub stopped")
	return nil
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case change := <-h.lifecycle:
			h.broadcastPresence(ctx, change)
		case <-shutdown:
			h.drain(ctx)
			return
		case <-ctx.Done():
			h.drain(context.Background())
			return
		}
	}
}

func (h *Hub) drain(ctx context.Context) {
	for {
		select {
		case change := <-h.lifecycle:
			h.broadcastPresence(ctx, change)
		default:
			return
		}
	}
}

// Connected announces a principal's first connection
func (h *Hub) Connected(conn *websocket.Connection, first bool) {
	if first {
		h.enqueue(presenceChange{principalID: conn.UserID(), connID: conn.ID(), online: true})
	}
}

// Disconnected announces that a principal's last connection closed
func (h *Hub) Disconnected(conn *websocket.Connection, last bool) {
	if last {
		h.enqueue(presenceChange{principalID: conn.UserID(), connID: conn.ID(), online: false})
	}
}

func (h *Hub) enqueue(change presenceChange) {
	h.mu.RLock()
	running, shutdown := h.running, h.shutdown
	h.mu.RUnlock()

	if !running {
		h.broadcastPresence(context.Background(), change)
		return
	}
	select {
	case h.lifecycle <- change:
	case <-shutdown:
		h.broadcastPresence(context.Background(), change)
	}
}

func (h *Hub) broadcastPresence(ctx context.Context, change presenceChange) {
	if change.online {
		h.registry.Emit(ctx, types.Target{All: true, ExceptConn: change.connID}, types.UserOnline{UserID: change.principalID})
	} else {
		h.registry.Emit(ctx, types.Target{All: true}, types.UserOffline{UserID: change.principalID})
	}
	h.logger.Debug().Str("user_id", change.principalID).Bool("online", change.online).Msg("presence broadcast")
}

// HandleEvent processes one client event of an authenticated connection
func (h *Hub) HandleEvent(ctx context.Context, conn *websocket.Connection, event types.ClientEvent) {
	principal := conn.Principal()
	if principal == nil {
		return
	}

	var err error
	switch ev := event.(type) {
	case *types.JoinConversation:
		err = h.joinConversation(ctx, conn, principal, ev.Peer.ID)
	case *types.LeaveConversation:
		err = h.leaveConversation(conn, principal, ev.Peer.ID)
	case *types.JoinSession:
		err = h.joinSession(ctx, conn, principal, ev.Session.ID)
	case *types.LeaveSession:
		err = h.leaveSession(conn, ev.Session.ID)
	case *types.PrivateMessage:
		// the relay reports its own failures to the sender
		if relayErr := h.relay.SendMessage(ctx, conn, ev); relayErr != nil {
			h.logger.Debug().Err(relayErr).Str("conn_id", conn.ID()).Msg("private message not relayed")
		}
	case *types.MarkAsRead:
		err = h.relay.MarkRead(ctx, conn, ev)
	case *types.Typing:
		err = h.typing(ctx, conn, principal, ev.Receiver, true)
	case *types.StopTyping:
		err = h.typing(ctx, conn, principal, ev.Receiver, false)
	case *types.SessionUpdate:
		err = h.sessionUpdate(ctx, principal, ev)
	default:
		err = types.ErrUnknownEvent
	}

	if err != nil {
		h.logger.Debug().Err(err).Str("event", event.EventType()).Str("conn_id", conn.ID()).Msg("event refused")
		_ = conn.Emit(types.ErrorEvent{Error: err.Error()})
	}
}

// conversationRoom names the room shared by principal and peer. The
// principal side always comes from the connection.
func conversationRoom(principal *types.Principal, peer string) (string, error) {
	if !types.IsValidUserID(peer) || peer == principal.ID {
		return "", ErrInvalidPeer
	}
	return rooms.ConversationRoomID(principal.ID, peer), nil
}

func (h *Hub) joinConversation(ctx context.Context, conn *websocket.Connection, principal *types.Principal, peer string) error {
	room, err := conversationRoom(principal, peer)
	if err != nil {
		return err
	}
	if _, err := h.registry.Join(conn, room); err != nil {
		return err
	}

	// users is the pair that names the room, not who is present
	h.registry.Emit(ctx, types.Target{Rooms: []string{room}}, types.ConversationJoined{
		Room:  room,
		Users: []string{principal.ID, peer},
	})
	return nil
}

func (h *Hub) leaveConversation(conn *websocket.Connection, principal *types.Principal, peer string) error {
	room, err := conversationRoom(principal, peer)
	if err != nil {
		return err
	}
	h.registry.Leave(conn, room)
	return nil
}

func (h *Hub) joinSession(ctx context.Context, conn *websocket.Connection, principal *types.Principal, sessionID string) error {
	if !types.IsValidUserID(sessionID) {
		return ErrInvalidSession
	}
	if err := h.authorizeSession(ctx, principal, sessionID); err != nil {
		return err
	}
	_, err := h.registry.Join(conn, rooms.SessionRoomID(sessionID))
	return err
}

func (h *Hub) leaveSession(conn *websocket.Connection, sessionID string) error {
	if !types.IsValidUserID(sessionID) {
		return ErrInvalidSession
	}
	h.registry.Leave(conn, rooms.SessionRoomID(sessionID))
	return nil
}

func (h *Hub) authorizeSession(ctx context.Context, principal *types.Principal, sessionID string) error {
	if !h.strict || h.sessions == nil {
		return nil
	}
	err := h.sessions.CheckParticipant(ctx, sessionID, principal.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, interfaces.ErrNotFound):
		return interfaces.ErrSessionNotFound
	default:
		h.logger.Warn().Err(err).Str("session_id", sessionID).Str("user_id", principal.ID).Msg("session access refused")
		return ErrNotParticipant
	}
}

func (h *Hub) typing(ctx context.Context, conn *websocket.Connection, principal *types.Principal, receiver string, active bool) error {
	room, err := conversationRoom(principal, receiver)
	if err != nil {
		return err
	}

	target := types.Target{Rooms: []string{room}, ExceptConn: conn.ID()}
	if active {
		h.registry.Emit(ctx, target, types.UserTyping{User: principal.ID, Name: principal.DisplayName})
	} else {
		h.registry.Emit(ctx, target, types.UserStoppedTyping{User: principal.ID, Name: principal.DisplayName})
	}
	return nil
}

// sessionUpdate relays a status change to the session room. The session
// record itself is never written here.
func (h *Hub) sessionUpdate(ctx context.Context, principal *types.Principal, ev *types.SessionUpdate) error {
	if err := types.Validate(ev); err != nil {
		return err
	}
	if err := h.authorizeSession(ctx, principal, ev.SessionID); err != nil {
		return err
	}
	if h.sessions != nil {
		h.sessions.Invalidate(ev.SessionID)
	}

	h.registry.Emit(ctx, types.Target{Rooms: []string{rooms.SessionRoomID(ev.SessionID)}}, types.SessionStatusChanged{
		SessionID: ev.SessionID,
		Status:    ev.Status,
		UpdatedBy: principal.ID,
	})
	h.logger.Info().
		Str("session_id", ev.SessionID).
		Str("status", ev.Status).
		Str("updated_by", principal.ID).
		Msg("session status relayed")
	return nil
}
