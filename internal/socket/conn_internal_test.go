// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package socket

import (
	"log/slog"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub/pkg/errutil"
)

func TestConn_EnqueueDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(Options{SendBuffer: 1, Logger: slog.New(slog.DiscardHandler)})
	c := newConn("c1", hub, nil)

	require.NoError(t, c.Emit("first", nil))
	err := c.Emit("second", nil)
	errutil.AssertErrorCode(t, err, CodeBufferFull)

	assert.Len(t, c.send, 1)
}

func TestConn_EmitAfterShutdown(t *testing.T) {
	hub := NewHub(Options{Logger: slog.New(slog.DiscardHandler)})
	c := newConn("c1", hub, nil)

	c.shutdown(ReasonServerShutdown)
	c.shutdown(ReasonClientClosed)

	errutil.AssertErrorCode(t, c.Emit("late", nil), CodeClosed)
	assert.Equal(t, ReasonServerShutdown, c.closeReason(), "first reason wins")
}

func TestConn_Values(t *testing.T) {
	hub := NewHub(Options{})
	c := newConn("c1", hub, nil)

	_, ok := c.Get("identity")
	assert.False(t, ok)

	c.Set("identity", "u1")
	v, ok := c.Get("identity")
	require.True(t, ok)
	assert.Equal(t, "u1", v)
	assert.Equal(t, "c1", c.ID())
}

func TestCloseCode(t *testing.T) {
	assert.Equal(t, websocket.CloseGoingAway, closeCode(ReasonServerShutdown))
	assert.Equal(t, websocket.CloseNormalClosure, closeCode(ReasonServerDisconnect))
	assert.Equal(t, websocket.CloseNormalClosure, closeCode(ReasonClientClosed))
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{SendBuffer: 8}.withDefaults()

	d := DefaultOptions()
	assert.Equal(t, 8, o.SendBuffer)
	assert.Equal(t, d.PingInterval, o.PingInterval)
	assert.Equal(t, d.PongWait, o.PongWait)
	assert.Equal(t, d.WriteWait, o.WriteWait)
	assert.Equal(t, d.ReadLimit, o.ReadLimit)
	assert.NotNil(t, o.Logger)
}
