package interfaces

import (
	"context"

	"learnbridge/pkg/types"
)

// Connection is an authenticated client connection as seen by the relay
// and the presence broadcaster.
// ARCHITECTURAL DISCOVERY: business logic never touches the websocket
// itself, only this boundary
type Connection interface {
	// ID returns the server-assigned connection id
	ID() string

	// Principal returns the identity bound at authentication, or nil
	// before the handshake completes
	Principal() *types.Principal

	// Emit queues a server event for this connection only (thread-safe)
	Emit(event types.ServerEvent) error

	// Close closes the connection and releases its writer
	Close() error
}

// Emitter delivers server events to every connection selected by a target
type Emitter interface {
	// Emit returns the number of local connections the event was queued for
	Emit(ctx context.Context, target types.Target, event types.ServerEvent) int
}
