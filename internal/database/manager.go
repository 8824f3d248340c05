package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "learnbridge/pkg/database"
	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

// Manager is the SQLite-backed message store and user/session directory.
// TECHNICAL DISCOVERY: SQLite allows one writer at a time, so every write
// goes through writeLoop while reads use the pool directly.
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sqlx.DB) error
	result    chan error
}

// NewManager opens the database, applies pending migrations and starts the
// writer goroutine
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sqlx.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, err := dbconfig.NewMigrationManager(db.DB, dbconfig.Migrations()).ApplyMigrations(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db.DB).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "sqlite").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}
	if len(applied) > 0 {
		m.logger.Info().Strs("versions", applied).Msg("applied migrations")
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				m.logger.Warn().Err(err).Msg("database write failed")
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("database write loop shutting down")
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(30 * time.Second):
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// CreateMessage inserts msg. A zero CreatedAt is set to now.
func (m *Manager) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	if msg == nil {
		return nil, ErrNilMessage
	}
	stored := *msg
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.CreatedAt = stored.CreatedAt.UTC().Truncate(time.Millisecond)

	err := m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO messages (id, sender_id, receiver_id, content, session_id, created_at, is_read)
			VALUES (:id, :sender_id, :receiver_id, :content, :session_id, :created_at, :is_read)
		`, &stored)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// FindMessageByID returns the message joined with both participants
func (m *Manager) FindMessageByID(ctx context.Context, id string) (*types.MessageView, error) {
	var row messageRow
	err := m.db.GetContext(ctx, &row, `
		SELECT m.id, m.sender_id, s.name AS sender_name, s.role AS sender_role,
		       m.receiver_id, r.name AS receiver_name, r.role AS receiver_role,
		       m.content, m.session_id, m.created_at, m.is_read
		FROM messages m
		LEFT JOIN users s ON s.id = m.sender_id
		LEFT JOIN users r ON r.id = m.receiver_id
		WHERE m.id = ?
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return row.view(), nil
}

// MarkConversationRead flags unread messages from senderID to receiverID
func (m *Manager) MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	var updated int64
	err := m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE messages SET is_read = 1 WHERE sender_id = ? AND receiver_id = ? AND is_read = 0`,
			senderID, receiverID)
		if err != nil {
			return fmt.Errorf("failed to mark messages read: %w", err)
		}
		updated, err = res.RowsAffected()
		return err
	})
	return updated, err
}

// GetUser returns the user record including deleted users
func (m *Manager) GetUser(ctx context.Context, id string) (*types.User, error) {
	var user types.User
	err := m.db.GetContext(ctx, &user, `SELECT id, name, role, is_deleted FROM users WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// GetTutoringSession returns the session record
func (m *Manager) GetTutoringSession(ctx context.Context, id string) (*types.TutoringSession, error) {
	var session types.TutoringSession
	err := m.db.GetContext(ctx, &session,
		`SELECT id, student_id, tutor_id, status FROM tutoring_sessions WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query tutoring session: %w", err)
	}
	return &session, nil
}

// UpsertUser writes a directory record. The marketplace's account service
// owns users; this keeps the local replica in step.
func (m *Manager) UpsertUser(ctx context.Context, user *types.User) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO users (id, name, role, is_deleted)
			VALUES (:id, :name, :role, :is_deleted)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, role = excluded.role, is_deleted = excluded.is_deleted
		`, user)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}

// UpsertTutoringSession writes a session record from the booking surface
func (m *Manager) UpsertTutoringSession(ctx context.Context, session *types.TutoringSession) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO tutoring_sessions (id, student_id, tutor_id, status)
			VALUES (:id, :student_id, :tutor_id, :status)
			ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = CURRENT_TIMESTAMP
		`, session)
		if err != nil {
			return fmt.Errorf("failed to upsert tutoring session: %w", err)
		}
		return nil
	})
}

// HealthCheck verifies connectivity and that the messages table is readable
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM messages LIMIT 1"); err != nil {
		return fmt.Errorf("database query failed: %w", err)
	}
	return nil
}

// GetDB exposes the pool for tests and tooling
func (m *Manager) GetDB() *sqlx.DB {
	return m.db
}

// Close stops the writer and closes the pool. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
