package interfaces

import (
	"context"

	"learnbridge/pkg/types"
)

// MessageRelay carries private messages and read receipts between principals
type MessageRelay interface {
	// SendMessage validates, persists, then broadcasts. Failures are reported
	// to the sender as messageError and returned.
	SendMessage(ctx context.Context, conn Connection, msg *types.PrivateMessage) error

	// MarkRead flags the conversation read and notifies the original sender.
	MarkRead(ctx context.Context, conn Connection, req *types.MarkAsRead) error
}
