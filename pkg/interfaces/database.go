package interfaces

import (
	"context"

	"learnbridge/pkg/types"
)

// MessageStore persists conversation messages
type MessageStore interface {
	// CreateMessage stores msg and returns the stored record
	// FUNCTIONAL DISCOVERY: must complete before any broadcast of msg
	CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error)

	// FindMessageByID returns the stored message enriched with both participants
	FindMessageByID(ctx context.Context, id string) (*types.MessageView, error)

	// MarkConversationRead flags every unread message from senderID to
	// receiverID as read and returns the number updated
	MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error)
}

// UserDirectory resolves user records
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
}

// HealthChecker is implemented by every backing store
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Store is the full persistence surface a backend provides
type Store interface {
	MessageStore
	UserDirectory
	SessionDirectory
	HealthChecker
	Close() error
}
