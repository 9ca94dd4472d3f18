// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
)

// Disconnect reasons passed to OnDisconnect handlers.
const (
	ReasonClientClosed     = "client closed"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
	ReasonServerDisconnect = "server disconnect"
	ReasonServerShutdown   = "server shutdown"
)

// Ack replies to an inbound frame that carried an ack id. Only the first call
// sends anything.
type Ack func(data any) error

// EventHandler handles one inbound event. ack is nil when the sender did not
// ask for a reply.
type EventHandler func(c *Conn, data json.RawMessage, ack Ack)

// Conn is one live websocket connection registered with a Hub.
//
// Outbound frames pass through a per-connection FIFO buffer drained by a single
// writer goroutine, so frames reach the peer in the order they were queued.
type Conn struct {
	id     string
	hub    *Hub
	ws     *websocket.Conn
	opts   Options
	logger *slog.Logger

	sendMu sync.Mutex
	send   chan []byte
	closed bool
	reason string

	mu           sync.RWMutex
	values       map[string]any
	handlers     map[string]EventHandler
	onDisconnect []func(reason string)

	served atomic.Bool
}

func newConn(id string, hub *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:       id,
		hub:      hub,
		ws:       ws,
		opts:     hub.opts,
		logger:   hub.logger.With("conn_id", id),
		send:     make(chan []byte, hub.opts.SendBuffer),
		values:   make(map[string]any),
		handlers: make(map[string]EventHandler),
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string {
	return c.id
}

// Set stores a value on the connection for its lifetime.
func (c *Conn) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Get returns a value stored with Set.
func (c *Conn) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// On installs the handler for inbound frames named event, replacing any
// previous one.
func (c *Conn) On(event string, handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

// OnDisconnect installs fn to run once the connection has gone away. Handlers
// run in installation order after the connection has left every room.
func (c *Conn) OnDisconnect(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Emit queues event for this connection only.
func (c *Conn) Emit(event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return err
	}
	return c.enqueue(event, payload)
}

// Close disconnects the connection from the server side after flushing the
// frames already queued.
func (c *Conn) Close() {
	c.shutdown(ReasonServerDisconnect)
}

func (c *Conn) enqueue(event string, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return oops.Code(CodeClosed).With("conn_id", c.id).With("event", event).Errorf("connection closed")
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("frame dropped: send buffer full", "event", event)
		return oops.Code(CodeBufferFull).With("conn_id", c.id).With("event", event).Errorf("send buffer full")
	}
}

// shutdown closes the send buffer. The first reason recorded wins.
func (c *Conn) shutdown(reason string) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	close(c.send)
}

func (c *Conn) closeReason() string {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.reason
}

// Serve runs the connection until it disconnects, then leaves every room and
// runs the OnDisconnect handlers. Cancelling ctx disconnects the connection.
// Only the first call does anything.
func (c *Conn) Serve(ctx context.Context) {
	if !c.served.CompareAndSwap(false, true) {
		return
	}
	defer c.hub.serving.Done()

	stop := context.AfterFunc(ctx, func() { c.shutdown(ReasonServerDisconnect) })
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	readReason := c.readPump()
	c.hub.detach(c)
	c.shutdown(readReason)
	<-writerDone
	_ = c.ws.Close()

	reason := c.closeReason()
	c.logger.Debug("connection closed", "reason", reason)

	c.mu.RLock()
	handlers := append([]func(string){}, c.onDisconnect...)
	c.mu.RUnlock()
	for _, fn := range handlers {
		fn(reason)
	}
}

// readPump reads frames until the transport fails and returns why it stopped.
func (c *Conn) readPump() string {
	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			return readFailureReason(err)
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		frame, err := Decode(msg)
		if err != nil {
			c.logger.Debug("discarding malformed frame", "error", err)
			continue
		}
		c.dispatch(frame)
	}
}

func readFailureReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return ReasonClientClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonPingTimeout
	}
	return ReasonTransportError
}

func (c *Conn) dispatch(frame Frame) {
	c.mu.RLock()
	handler := c.handlers[frame.Event]
	c.mu.RUnlock()

	if handler == nil {
		c.logger.Debug("no handler for inbound event", "event", frame.Event)
		return
	}

	var ack Ack
	if frame.Ack != nil {
		id := *frame.Ack
		var replied atomic.Bool
		ack = func(data any) error {
			if !replied.CompareAndSwap(false, true) {
				return nil
			}
			payload, err := encodeAck(id, data)
			if err != nil {
				return err
			}
			return c.enqueue(EventAck, payload)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("inbound event handler panicked", "event", frame.Event, "panic", r)
		}
	}()
	handler(c, frame.Data, ack)
}

// writePump is the connection's only writer. It drains the send buffer and
// sends keepalive pings; when the buffer is closed it writes a close frame.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				reason := c.closeReason()
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode(reason), reason))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func closeCode(reason string) int {
	switch reason {
	case ReasonServerShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseNormalClosure
	}
}
