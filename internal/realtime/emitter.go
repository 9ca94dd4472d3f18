// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package realtime

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/taskhub/taskhub/internal/socket"
	"github.com/taskhub/taskhub/pkg/errutil"
)

// Emitter delivers named events to connected clients. Both methods return
// whether a send was attempted, not whether any client received it.
type Emitter interface {
	EmitToUser(userID, event string, payload any) bool
	EmitToAll(event string, payload any) bool
}

// GatewayEmitter addresses the broadcast groups of a Gateway.
type GatewayEmitter struct {
	gateway *Gateway
	logger  *slog.Logger
}

// NewEmitter creates an emitter over gateway. A nil logger uses slog.Default.
func NewEmitter(gateway *Gateway, logger *slog.Logger) *GatewayEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &GatewayEmitter{gateway: gateway, logger: logger}
}

// EmitToUser sends event to every connection of userID. It returns false when
// the gateway is not initialized or the payload cannot be encoded. A user with
// no open connections is not an error.
func (e *GatewayEmitter) EmitToUser(userID, event string, payload any) bool {
	hub := e.hub()
	if hub == nil {
		e.notInitialized(TargetUser, event, "user_id", userID)
		return false
	}

	if err := hub.EmitTo(UserRoom(userID), event, payload); err != nil {
		RecordEmit(TargetUser, EmitFailed)
		errutil.LogError(e.logger, "emit to user failed", err, "user_id", userID, "event", event)
		return false
	}

	RecordEmit(TargetUser, EmitSent)
	e.logger.Debug("emitted to user", "user_id", userID, "event", event)
	return true
}

// EmitToAll sends event to every connected client.
func (e *GatewayEmitter) EmitToAll(event string, payload any) bool {
	hub := e.hub()
	if hub == nil {
		e.notInitialized(TargetAll, event)
		return false
	}

	if err := hub.EmitAll(event, payload); err != nil {
		RecordEmit(TargetAll, EmitFailed)
		errutil.LogError(e.logger, "emit to all failed", err, "event", event)
		return false
	}

	RecordEmit(TargetAll, EmitSent)
	e.logger.Debug("emitted to all", "event", event)
	return true
}

func (e *GatewayEmitter) hub() *socket.Hub {
	if e.gateway == nil {
		return nil
	}
	return e.gateway.currentHub()
}

func (e *GatewayEmitter) notInitialized(target, event string, attrs ...any) {
	RecordEmit(target, EmitNotInitialized)
	err := oops.Code(CodeNotInitialized).With("event", event).Errorf("gateway not initialized")
	errutil.LogWarn(e.logger, "emit skipped", err, attrs...)
}
