// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package socket

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/taskhub/taskhub/internal/core"
)

// Options tunes connection keepalive and buffering.
type Options struct {
	// PingInterval is how often a websocket ping is sent. Must be shorter
	// than PongWait.
	PingInterval time.Duration
	// PongWait is how long a connection may stay silent before it is dropped.
	PongWait time.Duration
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int
	// ReadLimit caps the size of an inbound frame in bytes.
	ReadLimit int64
	// Logger receives transport logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PingInterval: 25 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    10 * time.Second,
		SendBuffer:   64,
		ReadLimit:    64 << 10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = d.ReadLimit
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Hub owns the set of live connections and the rooms they belong to.
// All methods are safe for concurrent use.
type Hub struct {
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	conns  map[string]*Conn
	rooms  map[string]map[string]*Conn
	closed bool

	serving sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		opts:   opts,
		logger: opts.Logger,
		conns:  make(map[string]*Conn),
		rooms:  make(map[string]map[string]*Conn),
	}
}

// Attach wraps an upgraded websocket in a Conn owned by the hub. The caller
// must run Conn.Serve; Close waits for it to return.
func (h *Hub) Attach(ws *websocket.Conn) (*Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, oops.Code(CodeClosed).Errorf("hub is closed")
	}

	c := newConn(core.NewConnectionID(), h, ws)
	h.conns[c.id] = c
	h.serving.Add(1)
	return c, nil
}

// Join adds c to room. Joining a room twice has no effect.
func (h *Hub) Join(c *Conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c.id]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Conn)
		h.rooms[room] = members
	}
	members[c.id] = c
}

func (h *Hub) leaveLocked(connID, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// detach drops c from the hub and every room it joined.
func (h *Hub) detach(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.id)
	for room, members := range h.rooms {
		if _, ok := members[c.id]; ok {
			h.leaveLocked(c.id, room)
		}
	}
}

// Room returns the sorted ids of the connections in room.
func (h *Hub) Room(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Conn returns the live connection with the given id.
func (h *Hub) Conn(id string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[id]
	return c, ok
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// EmitTo queues event for every connection in room. A room with no members
// is not an error.
func (h *Hub) EmitTo(room, event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[room]))
	for _, c := range h.rooms[room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		_ = c.enqueue(event, payload)
	}
	return nil
}

// EmitAll queues event for every live connection.
func (h *Hub) EmitAll(event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return err
	}

	for _, c := range h.snapshot() {
		_ = c.enqueue(event, payload)
	}
	return nil
}

func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// Close stops accepting connections, flushes and closes every live one, and
// waits for their Serve loops to finish or ctx to end. Frames queued before
// Close are written before the close frame.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		c.shutdown(ReasonServerShutdown)
	}

	done := make(chan struct{})
	go func() {
		h.serving.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code(CodeClosed).With("connections", h.Len()).Wrapf(ctx.Err(), "hub close")
	}
}

// CheckOrigin returns an Upgrader origin check accepting the given origins.
// An empty list or a "*" entry accepts any origin. Requests without an Origin
// header come from non-browser clients and are accepted.
func CheckOrigin(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			set[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(strings.TrimRight(origin, "/"))]
		return ok
	}
}

// Reject refuses a connection that failed the handshake: it sends a
// connect_error frame with reason, then a policy-violation close frame, and
// closes ws. The connection never enters a hub.
func Reject(ws *websocket.Conn, reason string, writeWait time.Duration) error {
	defer ws.Close() //nolint:errcheck // closing after the close frame

	if writeWait <= 0 {
		writeWait = DefaultOptions().WriteWait
	}

	payload, err := Encode(EventConnectError, map[string]string{"message": reason})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if err := ws.SetWriteDeadline(deadline); err != nil {
		return oops.Code(CodeClosed).Wrap(err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return oops.Code(CodeClosed).Wrap(err)
	}
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		return oops.Code(CodeClosed).Wrap(err)
	}
	return nil
}
