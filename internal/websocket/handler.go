package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"learnbridge/internal/auth"
	"learnbridge/internal/metrics"
	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

const maxFrameBytes = 64 * 1024

// Dispatcher receives the lifecycle and events of authenticated connections
type Dispatcher interface {
	// Connected is called once the connection is registered, before the
	// authenticated ack. first reports whether it is the principal's only
	// live connection here.
	Connected(conn *Connection, first bool)

	// Disconnected is called after the connection has left every room
	Disconnected(conn *Connection, last bool)

	// HandleEvent processes one decoded client event. Events of a single
	// connection are handled sequentially in arrival order.
	HandleEvent(ctx context.Context, conn *Connection, event types.ClientEvent)
}

// HandlerConfig holds connection timing
type HandlerConfig struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	BufferSize       int
}

// DefaultHandlerConfig returns the production timings
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       100,
	}
}

// Handler is the connection gate: it authenticates, registers and then
// pumps client events into the dispatcher
type Handler struct {
	registry   *Registry
	resolver   interfaces.PrincipalResolver
	dispatcher Dispatcher
	config     HandlerConfig
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler creates a websocket handler
func NewHandler(registry *Registry, resolver interfaces.PrincipalResolver, dispatcher Dispatcher, config HandlerConfig, logger zerolog.Logger) *Handler {
	return &Handler{
		registry:   registry,
		resolver:   resolver,
		dispatcher: dispatcher,
		config:     config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			HandshakeTimeout: config.HandshakeTimeout,
		},
		logger: logger.With().Str("component", "gate").Logger(),
	}
}

// ServeHTTP lets the handler be mounted directly on a router
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWebSocket(w, r)
}

// HandleWebSocket authenticates before upgrading when the request carries
// a token (query parameter "token" or a Bearer header). Without one, the
// client must send an authenticate frame within the handshake timeout.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.TokenFromHeader(r.Header.Get("Authorization"))
	}

	var principal *types.Principal
	if token != "" {
		ctx, cancel := context.WithTimeout(r.Context(), h.config.HandshakeTimeout)
		p, err := h.resolver.Resolve(ctx, token)
		cancel()
		if err != nil {
			h.refuseHTTP(w, r, err)
			return
		}
		principal = p
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	wsConn := NewConnection(conn, h.config.BufferSize, h.config.WriteTimeout)
	go h.serve(wsConn, principal)
}

func (h *Handler) serve(conn *Connection, principal *types.Principal) {
	if principal == nil {
		p, err := h.awaitAuthenticate(conn)
		if err != nil {
			h.refuse(conn, err)
			return
		}
		principal = p
	}

	if err := conn.Authenticate(principal); err != nil {
		h.refuse(conn, err)
		return
	}
	first, err := h.registry.RegisterConnection(conn)
	if err != nil {
		h.refuse(conn, err)
		return
	}
	metrics.Handshakes.WithLabelValues("ok").Inc()

	// Connected and Disconnected always come in pairs
	h.dispatcher.Connected(conn, first)
	defer func() {
		last := h.registry.UnregisterConnection(conn)
		h.dispatcher.Disconnected(conn, last)
		_ = conn.Close()
		h.logger.Info().Str("user_id", principal.ID).Str("conn_id", conn.ID()).Bool("last", last).Msg("user disconnected")
	}()

	if err := conn.Emit(types.Authenticated{User: *principal}); err != nil {
		h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to acknowledge authentication")
		return
	}
	h.logger.Info().
		Str("user_id", principal.ID).
		Str("name", principal.DisplayName).
		Str("role", string(principal.Role)).
		Str("conn_id", conn.ID()).
		Msg("user connected")

	h.readLoop(conn)
}

// awaitAuthenticate reads the first frame, which must be authenticate
func (h *Handler) awaitAuthenticate(conn *Connection) (*types.Principal, error) {
	deadline := time.Now().Add(h.config.HandshakeTimeout)
	if err := conn.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	_, data, err := conn.conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %w", auth.ErrMissingToken, ErrHandshakeTimeout)
		}
		return nil, err
	}

	event, err := types.DecodeClientEvent(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrMissingToken, err)
	}
	authenticate, ok := event.(*types.Authenticate)
	if !ok {
		return nil, fmt.Errorf("%w: %w", auth.ErrMissingToken, ErrExpectedAuthenticate)
	}

	ctx, cancel := context.WithDeadline(conn.Context(), deadline)
	defer cancel()
	return h.resolver.Resolve(ctx, authenticate.Token)
}

// refuse reports a post-upgrade authentication failure and closes with a
// policy violation
func (h *Handler) refuse(conn *Connection, err error) {
	message, code := refusalMessage(err), websocket.ClosePolicyViolation
	result := "refused"
	if !auth.IsRefusal(err) {
		code, result = websocket.CloseInternalServerErr, "error"
	}
	metrics.Handshakes.WithLabelValues(result).Inc()

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		h.logger.Debug().Err(err).Msg("client left during handshake")
		_ = conn.Close()
		return
	}

	h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("connection refused")
	_ = conn.Emit(types.AuthError{Error: message})
	_ = conn.CloseWithReason(code, message)
}

func (h *Handler) refuseHTTP(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusUnauthorized
	result := "refused"
	if !auth.IsRefusal(err) {
		status, result = http.StatusInternalServerError, "error"
	}
	metrics.Handshakes.WithLabelValues(result).Inc()
	h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("connection refused before upgrade")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": refusalMessage(err)})
}

func refusalMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return auth.ErrMissingToken.Error()
	case errors.Is(err, auth.ErrInvalidToken):
		return auth.ErrInvalidToken.Error()
	case errors.Is(err, auth.ErrUserNotFound):
		return auth.ErrUserNotFound.Error()
	default:
		return "authentication error: service unavailable"
	}
}

func (h *Handler) readLoop(conn *Connection) {
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		h.logger.Warn().Err(err).Msg("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		event, err := types.DecodeClientEvent(data)
		if err != nil {
			_ = conn.Emit(types.ErrorEvent{Error: err.Error()})
			continue
		}
		metrics.EventsReceived.WithLabelValues(event.EventType()).Inc()

		if _, ok := event.(*types.Authenticate); ok {
			_ = conn.Emit(types.ErrorEvent{Error: ErrAlreadyAuthenticated.Error()})
			continue
		}

		h.dispatcher.HandleEvent(conn.Context(), conn, event)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
