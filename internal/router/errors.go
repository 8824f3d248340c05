package router

import "errors"

// Relay errors. Each one is reported to the sender as messageError and
// never closes the connection.
var (
	ErrNotAuthenticated      = errors.New("connection is not authenticated")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded: too many messages per minute")
	ErrReceiverNotFound      = errors.New("receiver not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrNotSessionParticipant = errors.New("sender and receiver are not the participants of this session")
	ErrPersistence           = errors.New("failed to save message")
	ErrLookup                = errors.New("failed to send message")
)
