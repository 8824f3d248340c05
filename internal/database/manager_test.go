package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	dbconfig "learnbridge/pkg/database"
	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

type userUpserter interface {
	UpsertUser(ctx context.Context, user *types.User) error
	UpsertTutoringSession(ctx context.Context, session *types.TutoringSession) error
}

func seedUsers(t *testing.T, store userUpserter) {
	t.Helper()
	ctx := context.Background()
	users := []*types.User{
		{ID: "u1", Name: "Ada", Role: types.RoleStudent},
		{ID: "u2", Name: "Grace", Role: types.RoleTutor},
		{ID: "u3", Name: "Gone", Role: types.RoleStudent, IsDeleted: true},
	}
	for _, u := range users {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser(%s) error = %v", u.ID, err)
		}
	}
	if err := store.UpsertTutoringSession(ctx, &types.TutoringSession{ID: "s1", StudentID: "u1", TutorID: "u2", Status: "confirmed"}); err != nil {
		t.Fatalf("UpsertTutoringSession() error = %v", err)
	}
}

func TestManager_CreateAndFindMessage(t *testing.T) {
	manager := setupTestDB(t)
	seedUsers(t, manager)
	ctx := context.Background()

	session := "s1"
	created, err := manager.CreateMessage(ctx, &types.Message{
		ID:         "m1",
		SenderID:   "u1",
		ReceiverID: "u2",
		Content:    "hello",
		SessionID:  &session,
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Error("CreatedAt should be assigned")
	}

	view, err := manager.FindMessageByID(ctx, "m1")
	if err != nil {
		t.Fatalf("FindMessageByID() error = %v", err)
	}
	if view.Sender.Name != "Ada" || view.Sender.Role != types.RoleStudent {
		t.Errorf("sender = %+v", view.Sender)
	}
	if view.Receiver.Name != "Grace" || view.Receiver.Role != types.RoleTutor {
		t.Errorf("receiver = %+v", view.Receiver)
	}
	if view.SessionID == nil || *view.SessionID != "s1" {
		t.Errorf("session = %v", view.SessionID)
	}
	if view.IsRead {
		t.Error("new message should be unread")
	}
	if !view.CreatedAt.Equal(created.CreatedAt) {
		t.Errorf("CreatedAt round trip: got %v, want %v", view.CreatedAt, created.CreatedAt)
	}
}

func TestManager_FindMessageByID_NotFound(t *testing.T) {
	manager := setupTestDB(t)

	_, err := manager.FindMessageByID(context.Background(), "missing")
	if !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestManager_CreateMessage_UnknownReceiver(t *testing.T) {
	manager := setupTestDB(t)
	seedUsers(t, manager)

	_, err := manager.CreateMessage(context.Background(), &types.Message{
		ID: "m1", SenderID: "u1", ReceiverID: "ghost", Content: "hi",
	})
	if err == nil {
		t.Fatal("expected foreign key failure")
	}
	if _, err := manager.FindMessageByID(context.Background(), "m1"); !errors.Is(err, interfaces.ErrMessageNotFound) {
		t.Errorf("message should not exist, got %v", err)
	}
}

func TestManager_MarkConversationRead(t *testing.T) {
	manager := setupTestDB(t)
	seedUsers(t, manager)
	ctx := context.Background()

	messages := []*types.Message{
		{ID: "a", SenderID: "u1", ReceiverID: "u2", Content: "one"},
		{ID: "b", SenderID: "u1", ReceiverID: "u2", Content: "two"},
		{ID: "c", SenderID: "u1", ReceiverID: "u2", Content: "three", IsRead: true},
		{ID: "d", SenderID: "u2", ReceiverID: "u1", Content: "reply"},
	}
	for _, msg := range messages {
		if _, err := manager.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage(%s) error = %v", msg.ID, err)
		}
	}

	updated, err := manager.MarkConversationRead(ctx, "u1", "u2")
	if err != nil {
		t.Fatalf("MarkConversationRead() error = %v", err)
	}
	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}

	for id, wantRead := range map[string]bool{"a": true, "b": true, "c": true, "d": false} {
		view, err := manager.FindMessageByID(ctx, id)
		if err != nil {
			t.Fatalf("FindMessageByID(%s) error = %v", id, err)
		}
		if view.IsRead != wantRead {
			t.Errorf("message %s isRead = %v, want %v", id, view.IsRead, wantRead)
		}
	}

	again, err := manager.MarkConversationRead(ctx, "u1", "u2")
	if err != nil || again != 0 {
		t.Errorf("second MarkConversationRead() = %d, %v", again, err)
	}
}

func TestManager_GetUser(t *testing.T) {
	manager := setupTestDB(t)
	seedUsers(t, manager)
	ctx := context.Background()

	user, err := manager.GetUser(ctx, "u3")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if !user.IsDeleted {
		t.Error("deleted flag not read back")
	}

	if _, err := manager.GetUser(ctx, "nobody"); !errors.Is(err, interfaces.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestManager_GetTutoringSession(t *testing.T) {
	manager := setupTestDB(t)
	seedUsers(t, manager)
	ctx := context.Background()

	session, err := manager.GetTutoringSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetTutoringSession() error = %v", err)
	}
	if session.StudentID != "u1" || session.TutorID != "u2" || session.Status != "confirmed" {
		t.Errorf("session = %+v", session)
	}

	if err := manager.UpsertTutoringSession(ctx, &types.TutoringSession{ID: "s1", StudentID: "u1", TutorID: "u2", Status: "completed"}); err != nil {
		t.Fatalf("UpsertTutoringSession() error = %v", err)
	}
	session, _ = manager.GetTutoringSession(ctx, "s1")
	if session.Status != "completed" {
		t.Errorf("status = %s, want completed", session.Status)
	}

	if _, err := manager.GetTutoringSession(ctx, "missing"); !errors.Is(err, interfaces.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestManager_ConcurrentWrites(t *testing.T) {
	manager := setupTestDB(t)
	seedUsers(t, manager)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := manager.CreateMessage(ctx, &types.Message{
				ID:         fmt.Sprintf("m%02d", i),
				SenderID:   "u1",
				ReceiverID: "u2",
				Content:    "burst",
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write failed: %v", err)
	}

	updated, err := manager.MarkConversationRead(ctx, "u1", "u2")
	if err != nil || updated != 50 {
		t.Errorf("MarkConversationRead() = %d, %v; want 50", updated, err)
	}
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	manager := setupTestDB(t)
	ctx := context.Background()

	if err := manager.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := manager.HealthCheck(ctx); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("HealthCheck() after close = %v", err)
	}
	if _, err := manager.CreateMessage(ctx, &types.Message{ID: "x", SenderID: "u1", ReceiverID: "u2", Content: "late"}); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("CreateMessage() after close = %v", err)
	}
}

func TestManager_WriteRespectsContext(t *testing.T) {
	manager := setupTestDB(t)
	seedUsers(t, manager)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := manager.CreateMessage(ctx, &types.Message{ID: "x", SenderID: "u1", ReceiverID: "u2", Content: "hi"})
	if err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestStores_ImplementStore(t *testing.T) {
	var _ interfaces.Store = &Manager{}
	var _ interfaces.Store = &PostgresStore{}
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("LEARNBRIDGE_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("LEARNBRIDGE_TEST_POSTGRES_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, url, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer func() { _ = store.Close() }()
	seedUsers(t, store)

	id := fmt.Sprintf("pg-%d", time.Now().UnixNano())
	if _, err := store.CreateMessage(ctx, &types.Message{ID: id, SenderID: "u1", ReceiverID: "u2", Content: "hello"}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	view, err := store.FindMessageByID(ctx, id)
	if err != nil {
		t.Fatalf("FindMessageByID() error = %v", err)
	}
	if view.Sender.Name != "Ada" {
		t.Errorf("sender = %+v", view.Sender)
	}
	if _, err := store.MarkConversationRead(ctx, "u1", "u2"); err != nil {
		t.Errorf("MarkConversationRead() error = %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
