package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    role TEXT NOT NULL CHECK (role IN ('student', 'tutor', 'admin')),
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS tutoring_sessions (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL REFERENCES users(id),
    tutor_id TEXT NOT NULL REFERENCES users(id),
    status TEXT NOT NULL DEFAULT 'pending',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    sender_id TEXT NOT NULL REFERENCES users(id),
    receiver_id TEXT NOT NULL REFERENCES users(id),
    content TEXT NOT NULL CHECK (length(content) > 0),
    session_id TEXT REFERENCES tutoring_sessions(id),
    created_at TIMESTAMPTZ NOT NULL,
    is_read BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_messages_session_time ON messages(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_pair_unread ON messages(sender_id, receiver_id, is_read);
CREATE INDEX IF NOT EXISTS idx_messages_receiver_unread ON messages(receiver_id, is_read);
`

// PostgresStore is the Postgres-backed store used when several server
// instances share one database
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresStore connects, pings and ensures the schema exists
func NewPostgresStore(ctx context.Context, url string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{
		pool:   pool,
		logger: logger.With().Str("component", "postgres").Logger(),
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply postgres schema: %w", err)
	}
	s.logger.Info().Msg("postgres store ready")
	return s, nil
}

// CreateMessage inserts msg. A zero CreatedAt is set to now.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	stored := *msg
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.CreatedAt = stored.CreatedAt.UTC().Truncate(time.Millisecond)

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, content, session_id, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, stored.ID, stored.SenderID, stored.ReceiverID, stored.Content, stored.SessionID, stored.CreatedAt, stored.IsRead)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return &stored, nil
}

// FindMessageByID returns the message joined with both participants
func (s *PostgresStore) FindMessageByID(ctx context.Context, id string) (*types.MessageView, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.sender_id, s.name AS sender_name, s.role AS sender_role,
		       m.receiver_id, r.name AS receiver_name, r.role AS receiver_role,
		       m.content, m.session_id, m.created_at, m.is_read
		FROM messages m
		LEFT JOIN users s ON s.id = m.sender_id
		LEFT JOIN users r ON r.id = m.receiver_id
		WHERE m.id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[messageRow])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to scan message: %w", err)
	}
	return row.view(), nil
}

// MarkConversationRead flags unread messages from senderID to receiverID
// and returns how many changed
func (s *PostgresStore) MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET is_read = TRUE WHERE sender_id = $1 AND receiver_id = $2 AND is_read = FALSE`,
		senderID, receiverID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetUser returns the user record including deleted users
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	err := s.pool.QueryRow(ctx, `SELECT id, name, role, is_deleted FROM users WHERE id = $1`, id).
		Scan(&user.ID, &user.Name, &user.Role, &user.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// GetTutoringSession returns the session record
func (s *PostgresStore) GetTutoringSession(ctx context.Context, id string) (*types.TutoringSession, error) {
	var session types.TutoringSession
	err := s.pool.QueryRow(ctx, `SELECT id, student_id, tutor_id, status FROM tutoring_sessions WHERE id = $1`, id).
		Scan(&session.ID, &session.StudentID, &session.TutorID, &session.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query tutoring session: %w", err)
	}
	return &session, nil
}

// UpsertUser keeps the local users replica in step with the account service
func (s *PostgresStore) UpsertUser(ctx context.Context, user *types.User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (id, name, role, is_deleted) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role, is_deleted = EXCLUDED.is_deleted
	`, user.ID, user.Name, string(user.Role), user.IsDeleted)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// UpsertTutoringSession writes a session record from the booking surface.
// Only the status of an existing session changes.
func (s *PostgresStore) UpsertTutoringSession(ctx context.Context, session *types.TutoringSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tutoring_sessions (id, student_id, tutor_id, status) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, updated_at = NOW()
	`, session.ID, session.StudentID, session.TutorID, session.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert tutoring session: %w", err)
	}
	return nil
}

// HealthCheck pings the pool
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

// Close releases every pooled connection
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
