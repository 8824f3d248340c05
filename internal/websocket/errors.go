package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed     = errors.New("connection closed")
	ErrWriteTimeout         = errors.New("write timeout after 5 seconds")
	ErrInvalidJSON          = errors.New("invalid JSON data")
	ErrInvalidPrincipal     = errors.New("principal must have an id")
	ErrAlreadyAuthenticated = errors.New("connection already authenticated")
)

// Registry-related errors
var (
	ErrNilConnection              = errors.New("connection cannot be nil")
	ErrConnectionNotAuthenticated = errors.New("connection must be authenticated before registration")
	ErrConnectionNotRegistered    = errors.New("connection is not registered")
	ErrEmptyRoom                  = errors.New("room id cannot be empty")
)

// Handler-related errors
var (
	ErrHandshakeTimeout     = errors.New("authentication handshake timed out")
	ErrExpectedAuthenticate = errors.New("first event must be authenticate")
)
