package interfaces

import (
	"errors"
	"fmt"
)

// Lookup errors shared by every store implementation. Each one matches
// ErrNotFound under errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrSessionNotFound = fmt.Errorf("session %w", ErrNotFound)
	ErrMessageNotFound = fmt.Errorf("message %w", ErrNotFound)
	ErrUnauthorized    = errors.New("unauthorized access")
)
