package auth

import "errors"

// Handshake refusals. Each one keeps the connection out of every room.
var (
	ErrMissingToken = errors.New("authentication error: token missing")
	ErrInvalidToken = errors.New("authentication error: invalid token")
	ErrUserNotFound = errors.New("authentication error: user not found")
)
