package interfaces

import (
	"context"

	"learnbridge/pkg/types"
)

// SessionDirectory resolves tutoring sessions. The conversation core only
// reads sessions; their lifecycle belongs to the booking surface.
type SessionDirectory interface {
	GetTutoringSession(ctx context.Context, id string) (*types.TutoringSession, error)
}

// PrincipalResolver maps a bearer credential to a principal
type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (*types.Principal, error)
}
