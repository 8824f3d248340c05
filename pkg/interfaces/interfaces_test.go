package interfaces_test

import (
	"context"
	"errors"
	"testing"

	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

type mockConnection struct{}

func (m *mockConnection) ID() string                         { return "c1" }
func (m *mockConnection) Principal() *types.Principal        { return nil }
func (m *mockConnection) Emit(event types.ServerEvent) error { return nil }
func (m *mockConnection) Close() error                       { return nil }

type mockStore struct{}

func (m *mockStore) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	return msg, nil
}
func (m *mockStore) FindMessageByID(ctx context.Context, id string) (*types.MessageView, error) {
	return nil, interfaces.ErrMessageNotFound
}
func (m *mockStore) MarkConversationRead(ctx context.Context, senderID, receiverID string) (int64, error) {
	return 0, nil
}
func (m *mockStore) GetUser(ctx context.Context, id string) (*types.User, error) {
	return nil, interfaces.ErrUserNotFound
}
func (m *mockStore) GetTutoringSession(ctx context.Context, id string) (*types.TutoringSession, error) {
	return nil, interfaces.ErrSessionNotFound
}
func (m *mockStore) HealthCheck(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                          { return nil }

type mockRelay struct{}

func (m *mockRelay) SendMessage(ctx context.Context, conn interfaces.Connection, msg *types.PrivateMessage) error {
	return nil
}
func (m *mockRelay) MarkRead(ctx context.Context, conn interfaces.Connection, req *types.MarkAsRead) error {
	return nil
}

func TestInterfaces_Satisfied(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.Store = &mockStore{}
	var _ interfaces.MessageStore = &mockStore{}
	var _ interfaces.UserDirectory = &mockStore{}
	var _ interfaces.SessionDirectory = &mockStore{}
	var _ interfaces.MessageRelay = &mockRelay{}
}

func TestNotFoundErrors(t *testing.T) {
	for _, err := range []error{
		interfaces.ErrUserNotFound,
		interfaces.ErrSessionNotFound,
		interfaces.ErrMessageNotFound,
	} {
		if !errors.Is(err, interfaces.ErrNotFound) {
			t.Errorf("%v should match ErrNotFound", err)
		}
	}
	if errors.Is(interfaces.ErrUnauthorized, interfaces.ErrNotFound) {
		t.Error("ErrUnauthorized must not match ErrNotFound")
	}

	store := &mockStore{}
	if _, err := store.GetUser(context.Background(), "x"); !errors.Is(err, interfaces.ErrNotFound) {
		t.Errorf("GetUser() error = %v", err)
	}
}
