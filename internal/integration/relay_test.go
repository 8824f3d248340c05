package integration

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"learnbridge/internal/database"
	"learnbridge/internal/router"
	"learnbridge/internal/websocket"
	"learnbridge/internal/websocket/wstest"
	"learnbridge/pkg/types"
)

// closingStore closes a connection as soon as a message row commits
type closingStore struct {
	*database.Manager
	conn *websocket.Connection
}

func (s *closingStore) CreateMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	stored, err := s.Manager.CreateMessage(ctx, msg)
	if err == nil {
		_ = s.conn.Close()
	}
	return stored, err
}

func TestRelay_SenderDisconnectsDuringPersist(t *testing.T) {
	store := newStore(t)
	registry := websocket.NewRegistry(zerolog.Nop())

	sender, _ := wstest.NewObservedConnection(t, &types.Principal{ID: "u1", DisplayName: "Ada", Role: types.RoleStudent})
	receiver, receiverObs := wstest.NewObservedConnection(t, &types.Principal{ID: "u2", DisplayName: "Grace", Role: types.RoleTutor})
	for _, conn := range []*websocket.Connection{sender, receiver} {
		if _, err := registry.RegisterConnection(conn); err != nil {
			t.Fatal(err)
		}
	}

	relay := router.NewRouter(registry, &closingStore{Manager: store, conn: sender}, store, store, router.NewRateLimiter(0), zerolog.Nop())

	err := relay.SendMessage(sender.Context(), sender, &types.PrivateMessage{Receiver: "u2", Content: "did this arrive?"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	var count int
	if err := store.GetDB().Get(&count, "SELECT COUNT(*) FROM messages"); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("stored %d messages, want 1", count)
	}

	var msg types.MessageView
	wstest.Decode(t, receiverObs.Expect(t, types.EventNewMessage, wait), &msg)
	if msg.Content != "did this arrive?" || msg.Sender.ID != "u1" {
		t.Errorf("newMessage = %+v", msg)
	}
}
