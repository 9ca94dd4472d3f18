// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

// Package realtime pushes task notifications to connected browser clients.
//
// The Gateway admits authenticated websocket connections and groups them by
// user, the Emitter addresses those groups, and the Bridge turns domain events
// from the core bus into notifications.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/taskhub/taskhub/internal/auth"
	"github.com/taskhub/taskhub/internal/core"
	"github.com/taskhub/taskhub/internal/socket"
	"github.com/taskhub/taskhub/pkg/errutil"
)

// CodeNotInitialized is returned when an operation needs a running gateway.
const CodeNotInitialized = "GATEWAY_NOT_INITIALIZED"

// Client-facing event names produced by the gateway.
const (
	EventWelcome        = "welcome"
	EventPing           = "ping"
	EventPong           = "pong"
	EventServerShutdown = "server_shutdown"
)

// Handshake rejection reasons sent to the client.
const (
	ReasonAuthRequired = "Authentication required"
	ReasonInvalidToken = "Invalid token"
)

const identityKey = "identity"

// UserRoom returns the broadcast group holding every connection of userID.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Welcome is sent once to every admitted connection.
type Welcome struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// Pong answers an application-level ping.
type Pong struct {
	Pong     int64           `json:"pong"`
	Received json.RawMessage `json:"received"`
}

// ServerShutdown is broadcast before the transport closes.
type ServerShutdown struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Stats describes the gateway for introspection.
type Stats struct {
	Enabled     bool `json:"enabled"`
	Initialized bool `json:"initialized"`
	Users       int  `json:"users"`
	Connections int  `json:"connections"`
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Enabled turns the real-time layer on. A disabled gateway never
	// initializes and refuses every connection.
	Enabled bool
	// Verifier checks handshake tokens. Required.
	Verifier auth.Verifier
	// Registry indexes admitted connections by user. Required.
	Registry *core.ConnectionRegistry
	// AllowedOrigins restricts the browser origins that may connect. Empty or
	// "*" accepts any origin.
	AllowedOrigins []string
	// Socket tunes the transport.
	Socket socket.Options
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Gateway admits authenticated websocket connections and binds each to its
// user's broadcast group. It is an http.Handler for the socket endpoint.
type Gateway struct {
	enabled  bool
	verifier auth.Verifier
	registry *core.ConnectionRegistry
	upgrader websocket.Upgrader
	opts     socket.Options
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.RWMutex
	hub *socket.Hub
}

// NewGateway creates a gateway. It does not accept connections until
// Initialize is called.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Verifier == nil {
		return nil, oops.Errorf("verifier is required")
	}
	if cfg.Registry == nil {
		return nil, oops.Errorf("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	opts := cfg.Socket
	if opts.Logger == nil {
		opts.Logger = logger
	}

	return &Gateway{
		enabled:  cfg.Enabled,
		verifier: cfg.Verifier,
		registry: cfg.Registry,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: opts.WriteWait,
			CheckOrigin:      socket.CheckOrigin(cfg.AllowedOrigins),
		},
		opts:   opts,
		logger: logger,
		now:    now,
	}, nil
}

// Initialize creates the transport. Calling it again while initialized is a
// no-op; calling it on a disabled gateway logs a warning and does nothing.
func (g *Gateway) Initialize() {
	if !g.enabled {
		g.logger.Warn("real-time layer disabled, gateway not initialized")
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.hub != nil {
		g.logger.Warn("gateway already initialized")
		return
	}
	g.hub = socket.NewHub(g.opts)
	g.logger.Info("real-time gateway initialized")
}

// Initialized reports whether the gateway has a live transport.
func (g *Gateway) Initialized() bool {
	return g.currentHub() != nil
}

func (g *Gateway) currentHub() *socket.Hub {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hub
}

// Shutdown tells every connected client the server is going away, closes the
// transport, and clears the registry. It returns once every connection has
// closed or ctx ends. Emits return false afterwards.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	hub := g.hub
	g.hub = nil
	g.mu.Unlock()

	if hub == nil {
		return nil
	}

	notice := ServerShutdown{
		Message:   "Server is shutting down",
		Timestamp: formatTimestamp(g.now()),
	}
	if err := hub.EmitAll(EventServerShutdown, notice); err != nil {
		errutil.LogWarn(g.logger, "shutdown notice not sent", err)
	}

	// Connections still closing when ctx ends decrement the gauge themselves.
	err := hub.Close(ctx)
	g.registry.Clear()

	if err != nil {
		return oops.With("operation", "shutdown_gateway").Wrap(err)
	}
	g.logger.Info("real-time gateway stopped")
	return nil
}

// Stats reports the gateway state and registry counts.
func (g *Gateway) Stats() Stats {
	return Stats{
		Enabled:     g.enabled,
		Initialized: g.Initialized(),
		Users:       len(g.registry.Users()),
		Connections: g.registry.Count(),
	}
}

// StatsHandler serves Stats as JSON.
func (g *Gateway) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.Stats()); err != nil {
			g.logger.Debug("stats write failed", "error", err)
		}
	})
}

// ServeHTTP runs the handshake for one inbound connection and, once admitted,
// serves it until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hub := g.currentHub()
	if hub == nil {
		http.Error(w, "real-time layer not initialized", http.StatusServiceUnavailable)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	identity, reason := g.authenticate(r)
	if reason != "" {
		if err := socket.Reject(ws, reason, g.opts.WriteWait); err != nil {
			g.logger.Debug("reject write failed", "remote", r.RemoteAddr, "error", err)
		}
		return
	}

	c, err := hub.Attach(ws)
	if err != nil {
		_ = ws.Close()
		g.logger.Debug("connection refused during shutdown", "user_id", identity.ID)
		return
	}

	g.admit(hub, c, identity)
	c.Serve(r.Context())
}

// authenticate returns the token holder, or the rejection reason for the client.
func (g *Gateway) authenticate(r *http.Request) (auth.Identity, string) {
	token := TokenFromRequest(r)
	if token == "" {
		RecordHandshake(HandshakeMissingToken)
		g.logger.Debug("handshake rejected", "remote", r.RemoteAddr, "reason", ReasonAuthRequired)
		return auth.Identity{}, ReasonAuthRequired
	}

	identity, err := g.verifier.Verify(r.Context(), token)
	if err != nil {
		RecordHandshake(HandshakeInvalidToken)
		attrs := append(errutil.Attrs(err), "remote", r.RemoteAddr, "reason", ReasonInvalidToken)
		g.logger.Debug("handshake rejected", attrs...)
		return auth.Identity{}, ReasonInvalidToken
	}

	RecordHandshake(HandshakeAccepted)
	return identity, ""
}

func (g *Gateway) admit(hub *socket.Hub, c *socket.Conn, identity auth.Identity) {
	c.Set(identityKey, identity)
	g.registry.Register(identity.ID, c.ID())
	hub.Join(c, UserRoom(identity.ID))
	Connections.Inc()

	logger := g.logger.With("user_id", identity.ID, "conn_id", c.ID())
	logger.Info("client connected")

	c.OnDisconnect(func(reason string) {
		g.registry.Unregister(identity.ID, c.ID())
		Connections.Dec()
		logger.Info("client disconnected", "reason", reason)
	})
	c.On(EventPing, g.handlePing)

	welcome := Welcome{
		Message: "Connected to TaskHub real-time notifications",
		UserID:  identity.ID,
	}
	if err := c.Emit(EventWelcome, welcome); err != nil {
		errutil.LogWarn(logger, "welcome not sent", err)
	}
}

// handlePing replies through the ack when the client asked for one, and with
// a pong event otherwise.
func (g *Gateway) handlePing(c *socket.Conn, data json.RawMessage, ack socket.Ack) {
	reply := Pong{Pong: g.now().UnixMilli(), Received: data}

	var err error
	if ack != nil {
		err = ack(reply)
	} else {
		err = c.Emit(EventPong, reply)
	}
	if err != nil {
		g.logger.Debug("pong not sent", "conn_id", c.ID(), "error", err)
	}
}

// Identity returns the identity attached to the live connection connID.
func (g *Gateway) Identity(connID string) (auth.Identity, bool) {
	hub := g.currentHub()
	if hub == nil {
		return auth.Identity{}, false
	}
	c, ok := hub.Conn(connID)
	if !ok {
		return auth.Identity{}, false
	}
	return IdentityFrom(c)
}

// IdentityFrom returns the identity attached to an admitted connection.
func IdentityFrom(c *socket.Conn) (auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}, false
	}
	identity, ok := v.(auth.Identity)
	return identity, ok
}

// TokenFromRequest extracts the handshake credential. The Authorization
// bearer header is checked first, then the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

const timestampLayout = "2006-01-02T15:04:05.000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
