package integration

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"learnbridge/internal/api"
	"learnbridge/internal/auth"
	"learnbridge/internal/database"
	"learnbridge/internal/hub"
	"learnbridge/internal/router"
	"learnbridge/internal/session"
	"learnbridge/internal/websocket"
	dbconfig "learnbridge/pkg/database"
	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

const (
	testSecret = "integration-secret"
	wait       = 3 * time.Second
)

// stack is a full conversation core served over httptest
type stack struct {
	server   *httptest.Server
	store    *database.Manager
	registry *websocket.Registry
	hub      *hub.Hub
}

// newStore opens a temp sqlite store seeded with three users and one
// tutoring session between u1 and u2
func newStore(t *testing.T) *database.Manager {
	t.Helper()
	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "integration.db")
	store, err := database.NewManager(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	for _, u := range []*types.User{
		{ID: "u1", Name: "Ada", Role: types.RoleStudent},
		{ID: "u2", Name: "Grace", Role: types.RoleTutor},
		{ID: "u3", Name: "Alan", Role: types.RoleStudent},
	} {
		if err := store.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser(%s) error = %v", u.ID, err)
		}
	}
	if err := store.UpsertTutoringSession(ctx, &types.TutoringSession{ID: "s1", StudentID: "u1", TutorID: "u2", Status: "confirmed"}); err != nil {
		t.Fatalf("UpsertTutoringSession() error = %v", err)
	}
	return store
}

func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()
	ctx := context.Background()
	store := newStore(t)

	sessions := session.NewManager(store, session.DefaultTTL, logger)
	registry := websocket.NewRegistry(logger)
	relay := router.NewRouter(registry, store, store, sessions, router.NewRateLimiter(0), logger)
	messageHub := hub.NewHub(registry, relay, sessions, false, logger)
	if err := messageHub.Start(ctx); err != nil {
		t.Fatalf("hub Start() error = %v", err)
	}

	config := websocket.DefaultHandlerConfig()
	config.HandshakeTimeout = time.Second
	gate := websocket.NewHandler(registry, auth.NewJWTResolver(testSecret, store), messageHub, config, logger)

	server := httptest.NewServer(api.NewServer(api.Options{
		WebSocket: gate,
		Checks:    map[string]interfaces.HealthChecker{"database": store},
		Stats:     map[string]api.StatsProvider{"registry": registry},
	}, logger))

	t.Cleanup(func() {
		server.Close()
		registry.CloseAll()
		_ = messageHub.Stop()
	})

	return &stack{server: server, store: store, registry: registry, hub: messageHub}
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		ID:             userID,
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return signed
}

// client is one dialed websocket with its frames pumped into a channel
type client struct {
	t      *testing.T
	conn   *gws.Conn
	frames chan types.Envelope
	closed chan struct{}
}

func (s *stack) connect(t *testing.T, userID string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws?token=" + signToken(t, userID)
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", userID, err)
	}

	c := &client{t: t, conn: conn, frames: make(chan types.Envelope, 256), closed: make(chan struct{})}
	go c.pump()
	t.Cleanup(c.close)

	c.expect(types.EventAuthenticated)
	return c
}

func (c *client) pump() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.Envelope
		if json.Unmarshal(data, &env) == nil {
			c.frames <- env
		}
	}
}

func (c *client) close() {
	_ = c.conn.Close()
	<-c.closed
}

func (c *client) send(eventType string, data any) {
	c.t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatal(err)
	}
	frame, _ := json.Marshal(types.Envelope{Type: eventType, Data: payload})
	if err := c.conn.WriteMessage(gws.TextMessage, frame); err != nil {
		c.t.Fatalf("send %s: %v", eventType, err)
	}
}

// expect skips frames until one of eventType arrives
func (c *client) expect(eventType string) types.Envelope {
	c.t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case env := <-c.frames:
			if env.Type == eventType {
				return env
			}
		case <-deadline:
			c.t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

// count drains frames for d and returns how many were of eventType
func (c *client) count(eventType string, d time.Duration) int {
	n := 0
	deadline := time.After(d)
	for {
		select {
		case env := <-c.frames:
			if env.Type == eventType {
				n++
			}
		case <-deadline:
			return n
		}
	}
}

func decode(t *testing.T, env types.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s: %v", env.Type, err)
	}
}
