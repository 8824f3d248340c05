package types

import (
	"encoding/json"
	"time"
)

// Role of a principal in the marketplace
type Role string

const (
	RoleStudent Role = "student"
	RoleTutor   Role = "tutor"
	RoleAdmin   Role = "admin"
)

// IsValid reports whether r is one of the known roles
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTutor, RoleAdmin:
		return true
	default:
		return false
	}
}

// Principal is the authenticated identity bound to a connection.
// FUNCTIONAL DISCOVERY: immutable for the connection's lifetime once the
// handshake succeeds
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
	Role        Role   `json:"role"`
}

// User is a read-only directory record
type User struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Role      Role   `json:"role" db:"role"`
	IsDeleted bool   `json:"isDeleted" db:"is_deleted"`
}

// Participant returns the public projection of the user carried on messages
func (u *User) Participant() Participant {
	return Participant{ID: u.ID, Name: u.Name, Role: u.Role}
}

// TutoringSession is a read-only record owned by the booking surface
type TutoringSession struct {
	ID        string `json:"id" db:"id"`
	StudentID string `json:"studentId" db:"student_id"`
	TutorID   string `json:"tutorId" db:"tutor_id"`
	Status    string `json:"status" db:"status"`
}

// HasParticipant reports whether userID is the student or the tutor
func (s *TutoringSession) HasParticipant(userID string) bool {
	return userID != "" && (userID == s.StudentID || userID == s.TutorID)
}

// IsPair reports whether {a, b} is exactly {student, tutor}, in either order
func (s *TutoringSession) IsPair(a, b string) bool {
	return (a == s.StudentID && b == s.TutorID) || (a == s.TutorID && b == s.StudentID)
}

// Message is the only durable entity of the conversation core
type Message struct {
	ID         string    `json:"id" db:"id"`
	SenderID   string    `json:"senderId" db:"sender_id"`
	ReceiverID string    `json:"receiverId" db:"receiver_id"`
	Content    string    `json:"content" db:"content"`
	SessionID  *string   `json:"session,omitempty" db:"session_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	IsRead     bool      `json:"isRead" db:"is_read"`
}

// Participant is the sender/receiver projection embedded in a MessageView
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// MessageView is a persisted message enriched with both participants.
// Every broadcast of a message carries the stored id and timestamp.
type MessageView struct {
	ID        string      `json:"id"`
	Sender    Participant `json:"sender"`
	Receiver  Participant `json:"receiver"`
	Content   string      `json:"content"`
	SessionID *string     `json:"session,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	IsRead    bool        `json:"isRead"`
}

// Target selects the connections an event is delivered to.
// Rooms are unioned and each connection receives the event at most once.
type Target struct {
	Rooms      []string `json:"rooms,omitempty"`
	All        bool     `json:"all,omitempty"`
	ExceptConn string   `json:"exceptConn,omitempty"`
	ExceptUser string   `json:"exceptUser,omitempty"`
}

// Delivery is an encoded event addressed to a Target. It is the unit
// exchanged between server instances over the backplane.
type Delivery struct {
	Target  Target          `json:"target"`
	Payload json.RawMessage `json:"payload"`
	Origin  string          `json:"origin,omitempty"`
}
