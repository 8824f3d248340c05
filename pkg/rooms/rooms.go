// Package rooms names the broadcast scopes of the conversation core.
//
// A conversation room is shared by exactly two principals, a session room by
// everyone following a tutoring session, and a personal room by every live
// connection of one principal.
package rooms

import "strings"

const (
	ConversationPrefix = "conversation:"
	SessionPrefix      = "session:"
)

// Kind of a room id
type Kind int

const (
	KindPersonal Kind = iota
	KindConversation
	KindSession
)

func (k Kind) String() string {
	switch k {
	case KindConversation:
		return "conversation"
	case KindSession:
		return "session"
	default:
		return "personal"
	}
}

// ConversationRoomID returns the room shared by a and b.
// FUNCTIONAL DISCOVERY: ids are ordered lexicographically so the result is
// the same whichever side asks.
func ConversationRoomID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return ConversationPrefix + a + "_" + b
}

// SessionRoomID returns the room of a tutoring session
func SessionRoomID(sessionID string) string {
	return SessionPrefix + sessionID
}

// PersonalRoomID returns the room every connection of principalID joins
// on authentication.
func PersonalRoomID(principalID string) string {
	return principalID
}

// KindOf classifies a room id by its prefix
func KindOf(room string) Kind {
	switch {
	case strings.HasPrefix(room, ConversationPrefix):
		return KindConversation
	case strings.HasPrefix(room, SessionPrefix):
		return KindSession
	default:
		return KindPersonal
	}
}
