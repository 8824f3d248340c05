// Package router relays private messages: validate, persist, then broadcast.
package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"learnbridge/internal/metrics"
	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/rooms"
	"learnbridge/pkg/types"
)

// Router implements interfaces.MessageRelay
// ARCHITECTURAL DISCOVERY: the relay never touches sockets; it addresses
// rooms through the Emitter and lets the registry resolve connections
type Router struct {
	emitter  interfaces.Emitter
	store    interfaces.MessageStore
	users    interfaces.UserDirectory
	sessions interfaces.SessionDirectory
	limiter  *RateLimiter
	logger   zerolog.Logger
}

// NewRouter creates a message relay
func NewRouter(
	emitter interfaces.Emitter,
	store interfaces.MessageStore,
	users interfaces.UserDirectory,
	sessions interfaces.SessionDirectory,
	limiter *RateLimiter,
	logger zerolog.Logger,
) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultMessagesPerMinute)
	}
	return &Router{
		emitter:  emitter,
		store:    store,
		users:    users,
		sessions: sessions,
		limiter:  limiter,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// SendMessage relays one private message from the principal bound to conn.
// Any failure is answered with messageError to conn alone and returned;
// nothing is broadcast unless the message was stored. A send that has
// started runs to completion even if conn closes meanwhile.
func (r *Router) SendMessage(ctx context.Context, conn interfaces.Connection, msg *types.PrivateMessage) error {
	sender := conn.Principal()
	if sender == nil {
		return ErrNotAuthenticated
	}
	// a disconnect may only race the confirmation, never the broadcasts
	ctx = context.WithoutCancel(ctx)

	view, err := r.persist(ctx, sender, msg)
	if err != nil {
		r.reject(conn, sender, err)
		return err
	}
	metrics.MessagesPersisted.Inc()

	// FUNCTIONAL DISCOVERY: the receiver's personal room is always a target,
	// so delivery does not depend on the receiver having joined the
	// conversation room
	conversation := rooms.ConversationRoomID(sender.ID, view.Receiver.ID)
	r.emitter.Emit(ctx, types.Target{
		Rooms:      []string{conversation, rooms.PersonalRoomID(view.Receiver.ID)},
		ExceptConn: conn.ID(),
	}, types.NewMessage{MessageView: view})

	if view.SessionID != nil {
		r.emitter.Emit(ctx, types.Target{
			Rooms: []string{rooms.SessionRoomID(*view.SessionID)},
		}, types.SessionMessage{MessageView: view})
	}

	if err := conn.Emit(types.MessageSent{MessageView: view}); err != nil {
		r.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("sender left before confirmation")
	}

	r.logger.Debug().
		Str("message_id", view.ID).
		Str("sender_id", sender.ID).
		Str("receiver_id", view.Receiver.ID).
		Msg("message relayed")
	return nil
}

// persist runs every check, stores the message and reads it back enriched
func (r *Router) persist(ctx context.Context, sender *types.Principal, msg *types.PrivateMessage) (*types.MessageView, error) {
	if err := types.ValidatePrivateMessage(sender.ID, msg); err != nil {
		return nil, err
	}

	if !r.limiter.Allow(sender.ID) {
		return nil, ErrRateLimitExceeded
	}

	receiver, err := r.users.GetUser(ctx, msg.Receiver)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrReceiverNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrLookup, err)
	}
	if receiver.IsDeleted {
		return nil, ErrReceiverNotFound
	}

	var sessionID *string
	if msg.Session != "" {
		session, err := r.sessions.GetTutoringSession(ctx, msg.Session)
		if err != nil {
			if errors.Is(err, interfaces.ErrNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("%w: %w", ErrLookup, err)
		}
		if !session.IsPair(sender.ID, receiver.ID) {
			return nil, ErrNotSessionParticipant
		}
		id := session.ID
		sessionID = &id
	}

	stored, err := r.store.CreateMessage(ctx, &types.Message{
		ID:         ulid.Make().String(),
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Content:    msg.Content,
		SessionID:  sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	view, err := r.store.FindMessageByID(ctx, stored.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return view, nil
}

func (r *Router) reject(conn interfaces.Connection, sender *types.Principal, err error) {
	reason, message := rejection(err)
	metrics.MessagesRejected.WithLabelValues(reason).Inc()

	event := r.logger.Info()
	if reason == "persistence" || reason == "lookup" {
		event = r.logger.Error()
	}
	event.Err(err).Str("sender_id", sender.ID).Str("reason", reason).Msg("message rejected")

	if emitErr := conn.Emit(types.MessageError{Error: message}); emitErr != nil {
		r.logger.Debug().Err(emitErr).Str("conn_id", conn.ID()).Msg("failed to report message error")
	}
}

// rejection maps a relay failure to a metrics label and the text sent to
// the client. Store and directory internals are not exposed.
func rejection(err error) (reason, message string) {
	switch {
	case types.IsValidationError(err):
		return "validation", err.Error()
	case errors.Is(err, ErrRateLimitExceeded):
		return "rate_limit", ErrRateLimitExceeded.Error()
	case errors.Is(err, ErrReceiverNotFound):
		return "receiver", ErrReceiverNotFound.Error()
	case errors.Is(err, ErrSessionNotFound):
		return "session", ErrSessionNotFound.Error()
	case errors.Is(err, ErrNotSessionParticipant):
		return "unauthorized", ErrNotSessionParticipant.Error()
	case errors.Is(err, ErrPersistence):
		return "persistence", ErrPersistence.Error()
	default:
		return "lookup", ErrLookup.Error()
	}
}

// MarkRead flags every unread message from req.Sender to the reader as read
// and notifies both sides. Store failures are logged and swallowed.
func (r *Router) MarkRead(ctx context.Context, conn interfaces.Connection, req *types.MarkAsRead) error {
	reader := conn.Principal()
	if reader == nil {
		return ErrNotAuthenticated
	}
	ctx = context.WithoutCancel(ctx)
	if req == nil || !types.IsValidUserID(req.Sender) {
		r.logger.Warn().Str("reader_id", reader.ID).Msg("markAsRead without a valid sender ignored")
		return nil
	}

	updated, err := r.store.MarkConversationRead(ctx, req.Sender, reader.ID)
	if err != nil {
		r.logger.Error().Err(err).
			Str("reader_id", reader.ID).
			Str("sender_id", req.Sender).
			Msg("failed to mark messages as read")
		return nil
	}
	metrics.ReadReceipts.Inc()

	r.emitter.Emit(ctx, types.Target{
		Rooms:      []string{rooms.ConversationRoomID(reader.ID, req.Sender), rooms.PersonalRoomID(req.Sender)},
		ExceptUser: reader.ID,
	}, types.MessagesRead{By: reader.ID, For: req.Sender})

	r.logger.Debug().
		Str("reader_id", reader.ID).
		Str("sender_id", req.Sender).
		Int64("updated", updated).
		Msg("conversation marked read")
	return nil
}
