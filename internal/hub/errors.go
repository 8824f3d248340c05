package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrInvalidPeer       = errors.New("invalid conversation peer")
	ErrInvalidSession    = errors.New("invalid session id")
	ErrNotParticipant    = errors.New("not a participant of this session")
)
