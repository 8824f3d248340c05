// Package wstest provides websocket connections whose outbound frames can
// be inspected, for tests of the registry, relay and hub.
package wstest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"

	"learnbridge/internal/websocket"
	"learnbridge/pkg/types"
)

var upgrader = gws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Observer records every frame written by one Connection
type Observer struct {
	frames chan types.Envelope
	closed chan struct{}

	mu        sync.Mutex
	closeCode int
}

// NewObservedConnection returns a Connection authenticated as principal
// (left unauthenticated when principal is nil) and the observer of its
// frames. Both are torn down by t.Cleanup.
func NewObservedConnection(t testing.TB, principal *types.Principal) (*websocket.Connection, *Observer) {
	t.Helper()

	obs := &Observer{
		frames: make(chan types.Envelope, 256),
		closed: make(chan struct{}),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		defer close(obs.closed)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				var closeErr *gws.CloseError
				if errors.As(err, &closeErr) {
					obs.mu.Lock()
					obs.closeCode = closeErr.Code
					obs.mu.Unlock()
				}
				return
			}
			var env types.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			obs.frames <- env
		}
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	clientConn, _, err := gws.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		server.Close()
		t.Fatalf("Failed to dial test server: %v", err)
	}

	conn := websocket.NewConnection(clientConn, 0, 0)
	if principal != nil {
		if err := conn.Authenticate(principal); err != nil {
			t.Fatalf("Failed to authenticate test connection: %v", err)
		}
	}

	t.Cleanup(func() {
		_ = conn.Close()
		server.Close()
	})

	return conn, obs
}

// Next returns the next frame or false after timeout
func (o *Observer) Next(timeout time.Duration) (types.Envelope, bool) {
	select {
	case env := <-o.frames:
		return env, true
	case <-time.After(timeout):
		return types.Envelope{}, false
	}
}

// Expect skips frames until one of eventType arrives and returns it
func (o *Observer) Expect(t testing.TB, eventType string, timeout time.Duration) types.Envelope {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %s", eventType)
		}
		env, ok := o.Next(remaining)
		if !ok {
			t.Fatalf("timed out waiting for %s", eventType)
		}
		if env.Type == eventType {
			return env
		}
	}
}

// ExpectNone fails if a frame of eventType arrives within wait
func (o *Observer) ExpectNone(t testing.TB, eventType string, wait time.Duration) {
	t.Helper()
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		env, ok := o.Next(remaining)
		if !ok {
			return
		}
		if env.Type == eventType {
			t.Fatalf("unexpected %s: %s", eventType, string(env.Data))
		}
	}
}

// Count drains frames for wait and returns how many were of eventType
func (o *Observer) Count(eventType string, wait time.Duration) int {
	n := 0
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return n
		}
		env, ok := o.Next(remaining)
		if !ok {
			return n
		}
		if env.Type == eventType {
			n++
		}
	}
}

// WaitClosed waits for the connection to close and returns the close code
// the peer sent, or 0 when none arrived
func (o *Observer) WaitClosed(t testing.TB, timeout time.Duration) int {
	t.Helper()
	select {
	case <-o.closed:
	case <-time.After(timeout):
		t.Fatal("connection was not closed")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closeCode
}

// Decode unmarshals the frame payload into v
func Decode(t testing.TB, env types.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("failed to decode %s payload %s: %v", env.Type, string(env.Data), err)
	}
}
