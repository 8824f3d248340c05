package database

import (
	"database/sql"
	"errors"
	"time"

	"learnbridge/pkg/types"
)

var (
	ErrManagerClosed = errors.New("database manager is closed")
	ErrWriteTimeout  = errors.New("write operation timeout")
	ErrNilMessage    = errors.New("message cannot be nil")
)

// messageRow is a message joined with its sender and receiver. Both the
// SQLite and Postgres stores scan into it by db tag.
type messageRow struct {
	ID           string         `db:"id"`
	SenderID     string         `db:"sender_id"`
	SenderName   sql.NullString `db:"sender_name"`
	SenderRole   sql.NullString `db:"sender_role"`
	ReceiverID   string         `db:"receiver_id"`
	ReceiverName sql.NullString `db:"receiver_name"`
	ReceiverRole sql.NullString `db:"receiver_role"`
	Content      string         `db:"content"`
	SessionID    sql.NullString `db:"session_id"`
	CreatedAt    time.Time      `db:"created_at"`
	IsRead       bool           `db:"is_read"`
}

func (r *messageRow) view() *types.MessageView {
	v := &types.MessageView{
		ID: r.ID,
		Sender: types.Participant{
			ID:   r.SenderID,
			Name: r.SenderName.String,
			Role: types.Role(r.SenderRole.String),
		},
		Receiver: types.Participant{
			ID:   r.ReceiverID,
			Name: r.ReceiverName.String,
			Role: types.Role(r.ReceiverRole.String),
		},
		Content:   r.Content,
		CreatedAt: r.CreatedAt.UTC(),
		IsRead:    r.IsRead,
	}
	if r.SessionID.Valid {
		session := r.SessionID.String
		v.SessionID = &session
	}
	return v
}
