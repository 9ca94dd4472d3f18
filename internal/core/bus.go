// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/samber/oops"

	"github.com/taskhub/taskhub/pkg/errutil"
)

// Handler consumes a domain event. A returned error is logged by the bus and
// does not affect other handlers.
type Handler func(ctx context.Context, event Event) error

type handlerEntry struct {
	id      uint64
	handler Handler
}

// dispatchKey marks a context that is already inside Publish, so handlers
// may publish follow-up events without deadlocking.
type dispatchKey struct{}

// Bus is an in-process publish/subscribe bus for domain events.
//
// Publish delivers synchronously to the handlers of the event's type in
// subscription order. Publications are serialized, so every handler observes
// events in publication order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	nextID   uint64

	publishMu sync.Mutex
	logger    *slog.Logger
}

// NewBus creates a bus that logs through slog.Default.
func NewBus() *Bus {
	return NewBusWithLogger(slog.Default())
}

// NewBusWithLogger creates a bus that logs through logger.
func NewBusWithLogger(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[EventType][]handlerEntry),
		logger:   logger,
	}
}

// Subscribe registers handler for events of eventType and returns the handle
// that releases it.
func (b *Bus) Subscribe(eventType EventType, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], handlerEntry{id: id, handler: handler})

	return &Subscription{bus: b, eventType: eventType, id: id}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.handlers[eventType]
	for i, e := range entries {
		if e.id == id {
			b.handlers[eventType] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Len returns the number of handlers subscribed to eventType.
func (b *Bus) Len(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Publish delivers event to every handler subscribed to its type.
// Pointer variants are delivered as values; nil events are dropped with a
// BUS_EVENT_INVALID warning.
func (b *Bus) Publish(ctx context.Context, event Event) {
	event, ok := Normalize(event)
	if !ok {
		errutil.LogWarn(b.logger, "ignoring event publication",
			oops.Code("BUS_EVENT_INVALID").Errorf("nil event"))
		return
	}

	if ctx.Value(dispatchKey{}) == nil {
		b.publishMu.Lock()
		defer b.publishMu.Unlock()
		ctx = context.WithValue(ctx, dispatchKey{}, true)
	}

	b.mu.RLock()
	entries := make([]handlerEntry, len(b.handlers[event.Type()]))
	copy(entries, b.handlers[event.Type()])
	b.mu.RUnlock()

	for _, e := range entries {
		if err := b.invoke(ctx, e.handler, event); err != nil {
			errutil.LogError(b.logger, "event handler failed", err)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = oops.Code("BUS_HANDLER_FAILED").
				With("event_type", string(event.Type())).
				With("user_id", event.Target()).
				Errorf("handler panicked: %v", r)
		}
	}()

	if herr := handler(ctx, event); herr != nil {
		return oops.Code("BUS_HANDLER_FAILED").
			With("event_type", string(event.Type())).
			With("user_id", event.Target()).
			Wrap(herr)
	}
	return nil
}

// Subscription is the handle returned by Bus.Subscribe.
type Subscription struct {
	bus       *Bus
	eventType EventType
	id        uint64
	once      sync.Once
}

// EventType returns the event type the subscription listens to.
func (s *Subscription) EventType() EventType {
	return s.eventType
}

// Unsubscribe releases the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.unsubscribe(s.eventType, s.id)
	})
}

// String implements fmt.Stringer for log output.
func (s *Subscription) String() string {
	return fmt.Sprintf("%s#%d", s.eventType, s.id)
}
