package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Client -> server event names
const (
	EventAuthenticate      = "authenticate"
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventJoinSession       = "joinSession"
	EventLeaveSession      = "leaveSession"
	EventPrivateMessage    = "privateMessage"
	EventMarkAsRead        = "markAsRead"
	EventTyping            = "typing"
	EventStopTyping        = "stopTyping"
	EventSessionUpdate     = "sessionUpdate"
)

// Server -> client event names
const (
	EventAuthenticated        = "authenticated"
	EventAuthError            = "authError"
	EventNewMessage           = "newMessage"
	EventSessionMessage       = "sessionMessage"
	EventMessageSent          = "messageSent"
	EventMessageError         = "messageError"
	EventMessagesRead         = "messagesRead"
	EventUserOnline           = "userOnline"
	EventUserOffline          = "userOffline"
	EventUserTyping           = "userTyping"
	EventUserStoppedTyping    = "userStoppedTyping"
	EventSessionStatusChanged = "sessionStatusChanged"
	EventConversationJoined   = "conversationJoined"
	EventError                = "error"
)

// Envelope is the wire frame used in both directions
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ClientEvent is a decoded, typed client frame
type ClientEvent interface {
	EventType() string
}

// ServerEvent is a typed payload emitted to clients
type ServerEvent interface {
	EventType() string
}

// IDRef accepts either a bare JSON string or an object {"id": "..."}
type IDRef struct {
	ID string `json:"id"`
}

func (r *IDRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &r.ID)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	return nil
}

type Authenticate struct {
	Token string `json:"token"`
}

type JoinConversation struct{ Peer IDRef }
type LeaveConversation struct{ Peer IDRef }
type JoinSession struct{ Session IDRef }
type LeaveSession struct{ Session IDRef }

// PrivateMessage is the relay input. Receiver and content must be non-blank.
type PrivateMessage struct {
	Receiver string `json:"receiver" validate:"notblank,userid"`
	Content  string `json:"content" validate:"notblank,max=5000"`
	Session  string `json:"session,omitempty" validate:"omitempty,userid"`
}

type MarkAsRead struct {
	Sender string `json:"sender" validate:"notblank,userid"`
}

type Typing struct {
	Receiver string `json:"receiver" validate:"notblank,userid"`
}

type StopTyping struct {
	Receiver string `json:"receiver" validate:"notblank,userid"`
}

type SessionUpdate struct {
	SessionID string `json:"sessionId" validate:"notblank,userid"`
	Status    string `json:"status" validate:"notblank,max=50"`
}

func (Authenticate) EventType() string      { return EventAuthenticate }
func (JoinConversation) EventType() string  { return EventJoinConversation }
func (LeaveConversation) EventType() string { return EventLeaveConversation }
func (JoinSession) EventType() string       { return EventJoinSession }
func (LeaveSession) EventType() string      { return EventLeaveSession }
func (PrivateMessage) EventType() string    { return EventPrivateMessage }
func (MarkAsRead) EventType() string        { return EventMarkAsRead }
func (Typing) EventType() string            { return EventTyping }
func (StopTyping) EventType() string        { return EventStopTyping }
func (SessionUpdate) EventType() string     { return EventSessionUpdate }

// DecodeClientEvent parses a raw frame into its typed event.
// Unknown event names return ErrUnknownEvent; payloads of the wrong shape
// return ErrMalformedFrame. Field-level rules are checked by Validate.
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}

	var (
		event  ClientEvent
		target any
	)
	switch env.Type {
	case EventAuthenticate:
		ev := &Authenticate{}
		event, target = ev, ev
	case EventJoinConversation:
		ev := &JoinConversation{}
		event, target = ev, &ev.Peer
	case EventLeaveConversation:
		ev := &LeaveConversation{}
		event, target = ev, &ev.Peer
	case EventJoinSession:
		ev := &JoinSession{}
		event, target = ev, &ev.Session
	case EventLeaveSession:
		ev := &LeaveSession{}
		event, target = ev, &ev.Session
	case EventPrivateMessage:
		ev := &PrivateMessage{}
		event, target = ev, ev
	case EventMarkAsRead:
		ev := &MarkAsRead{}
		event, target = ev, ev
	case EventTyping:
		ev := &Typing{}
		event, target = ev, ev
	case EventStopTyping:
		ev := &StopTyping{}
		event, target = ev, ev
	case EventSessionUpdate:
		ev := &SessionUpdate{}
		event, target = ev, ev
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}

	if len(env.Data) > 0 && !bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		if err := json.Unmarshal(env.Data, target); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
		}
	}
	return event, nil
}

type Authenticated struct {
	User Principal `json:"user"`
}

type AuthError struct {
	Error string `json:"error"`
}

// NewMessage, SessionMessage and MessageSent all carry the enriched message
// as their payload.
type NewMessage struct{ *MessageView }
type SessionMessage struct{ *MessageView }
type MessageSent struct{ *MessageView }

type MessageError struct {
	Error string `json:"error"`
}

type MessagesRead struct {
	By  string `json:"by"`
	For string `json:"for"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID string `json:"userId"`
}

type UserTyping struct {
	User string `json:"user"`
	Name string `json:"name"`
}

type UserStoppedTyping struct {
	User string `json:"user"`
	Name string `json:"name"`
}

type SessionStatusChanged struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updatedBy"`
}

type ConversationJoined struct {
	Room  string   `json:"room"`
	Users []string `json:"users"`
}

type ErrorEvent struct {
	Error string `json:"error"`
}

func (Authenticated) EventType() string        { return EventAuthenticated }
func (AuthError) EventType() string            { return EventAuthError }
func (NewMessage) EventType() string           { return EventNewMessage }
func (SessionMessage) EventType() string       { return EventSessionMessage }
func (MessageSent) EventType() string          { return EventMessageSent }
func (MessageError) EventType() string         { return EventMessageError }
func (MessagesRead) EventType() string         { return EventMessagesRead }
func (UserOnline) EventType() string           { return EventUserOnline }
func (UserOffline) EventType() string          { return EventUserOffline }
func (UserTyping) EventType() string           { return EventUserTyping }
func (UserStoppedTyping) EventType() string    { return EventUserStoppedTyping }
func (SessionStatusChanged) EventType() string { return EventSessionStatusChanged }
func (ConversationJoined) EventType() string   { return EventConversationJoined }
func (ErrorEvent) EventType() string           { return EventError }

// EncodeServerEvent renders ev inside the wire envelope
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	if ev == nil {
		return nil, ErrNilEvent
	}
	return json.Marshal(struct {
		Type string      `json:"type"`
		Data ServerEvent `json:"data"`
	}{Type: ev.EventType(), Data: ev})
}
