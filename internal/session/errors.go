package session

import "errors"

var (
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrNotParticipant   = errors.New("user is not a participant of this session")
)
