// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/taskhub/taskhub/internal/core"
	"github.com/taskhub/taskhub/pkg/errutil"
)

// Notification event names pushed to clients.
const (
	NotifyLoginSuccess  = "auth:login_success"
	NotifyTaskCreated   = "task:created"
	NotifyTaskUpdated   = "task:updated"
	NotifyTaskCompleted = "task:completed"
	NotifyTaskDeleted   = "task:deleted"
	NotifyTaskDueSoon   = "task:due_soon"
)

// dueSoonPreview is the number of tasks listed in a due-soon notification.
const dueSoonPreview = 5

// LoginNotification greets a user after login.
type LoginNotification struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// TaskCreatedNotification announces a new task.
type TaskCreatedNotification struct {
	TaskID    string     `json:"taskId"`
	Title     string     `json:"title"`
	Priority  string     `json:"priority,omitempty"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	Message   string     `json:"message"`
	Timestamp string     `json:"timestamp"`
}

// TaskUpdatedNotification carries the fields that changed on a task.
type TaskUpdatedNotification struct {
	TaskID    string         `json:"taskId"`
	Changes   map[string]any `json:"changes"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
}

// TaskNotification is used for completed and deleted tasks.
type TaskNotification struct {
	TaskID    string `json:"taskId"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// DueSoonNotification lists the first pending tasks due within the window.
type DueSoonNotification struct {
	Count      int                `json:"count"`
	Tasks      []core.TaskSummary `json:"tasks"`
	HasMore    bool               `json:"hasMore"`
	DaysWindow int                `json:"daysWindow"`
	Message    string             `json:"message"`
	Timestamp  string             `json:"timestamp"`
}

// Format converts a domain event into the notification pushed to its user.
// ok is false when the event produces no notification: system errors are
// never relayed and an empty due-soon list is skipped.
func Format(event core.Event, now time.Time) (name string, payload any, ok bool) {
	ts := formatTimestamp(now)

	event, valid := core.Normalize(event)
	if !valid {
		return "", nil, false
	}
	switch e := event.(type) {
	case core.LoginSucceeded:
		return NotifyLoginSuccess, LoginNotification{
			Message:   "Welcome back, " + e.Email,
			Timestamp: ts,
		}, true

	case core.TaskCreated:
		return NotifyTaskCreated, TaskCreatedNotification{
			TaskID:    e.TaskID,
			Title:     e.Title,
			Priority:  e.Priority,
			DueDate:   e.DueDate,
			Message:   "New task created: " + e.Title,
			Timestamp: ts,
		}, true

	case core.TaskUpdated:
		title := e.Title
		if title == "" {
			title = "Task"
		}
		changes := e.Changes
		if changes == nil {
			changes = map[string]any{}
		}
		return NotifyTaskUpdated, TaskUpdatedNotification{
			TaskID:    e.TaskID,
			Changes:   changes,
			Message:   "Task updated: " + title,
			Timestamp: ts,
		}, true

	case core.TaskCompleted:
		return NotifyTaskCompleted, TaskNotification{
			TaskID:    e.TaskID,
			Title:     e.Title,
			Message:   "Congratulations! Task completed: " + e.Title,
			Timestamp: ts,
		}, true

	case core.TaskDeleted:
		return NotifyTaskDeleted, TaskNotification{
			TaskID:    e.TaskID,
			Title:     e.Title,
			Message:   "Task deleted: " + e.Title,
			Timestamp: ts,
		}, true

	case core.TasksDueSoon:
		count := len(e.Tasks)
		if count == 0 {
			return "", nil, false
		}
		noun := "pending tasks"
		if count == 1 {
			noun = "pending task"
		}
		preview := e.Tasks[:min(count, dueSoonPreview)]
		return NotifyTaskDueSoon, DueSoonNotification{
			Count:      count,
			Tasks:      append([]core.TaskSummary(nil), preview...),
			HasMore:    count > dueSoonPreview,
			DaysWindow: e.DaysWindow,
			Message:    fmt.Sprintf("You have %d %s for the next %d days", count, noun, e.DaysWindow),
			Timestamp:  ts,
		}, true

	case core.SystemError:
		return "", nil, false

	default:
		return "", nil, false
	}
}

// Subscriber is the part of the event bus the bridge needs.
type Subscriber interface {
	Subscribe(eventType core.EventType, handler core.Handler) *core.Subscription
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// Enabled must be true for Init to subscribe anything.
	Enabled bool
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Bridge subscribes to domain events and pushes the matching notification to
// the user each event concerns.
type Bridge struct {
	bus     Subscriber
	emitter Emitter
	enabled bool
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	subs []*core.Subscription
}

// NewBridge creates a bridge. It subscribes nothing until Init.
func NewBridge(bus Subscriber, emitter Emitter, opts BridgeOptions) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		bus:     bus,
		emitter: emitter,
		enabled: opts.Enabled,
		logger:  logger,
		now:     now,
	}
}

// Init subscribes one handler per domain event type. A disabled bridge, or
// one without an emitter or bus, logs a warning and stays inert. Calling Init
// on an initialized bridge does nothing.
func (b *Bridge) Init() {
	if !b.enabled || b.emitter == nil || b.bus == nil {
		b.logger.Warn("notification bridge disabled",
			"enabled", b.enabled,
			"has_emitter", b.emitter != nil,
			"has_bus", b.bus != nil,
		)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) > 0 {
		b.logger.Warn("notification bridge already initialized")
		return
	}
	for _, et := range core.EventTypes() {
		b.subs = append(b.subs, b.bus.Subscribe(et, b.handle))
	}
	b.logger.Info("notification bridge initialized", "subscriptions", len(b.subs))
}

// Dispose releases every subscription. It is safe to call repeatedly and on a
// bridge that was never initialized.
func (b *Bridge) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		sub.Unsubscribe()
	}
	b.subs = nil
}

// Subscriptions returns the number of subscriptions currently held.
func (b *Bridge) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bridge) handle(_ context.Context, event core.Event) error {
	event, valid := core.Normalize(event)
	if !valid {
		return nil
	}
	if se, ok := event.(core.SystemError); ok {
		b.logSystemError(se)
		return nil
	}

	name, payload, ok := Format(event, b.now())
	if !ok {
		b.logger.Debug("no notification for event", "event_type", string(event.Type()), "user_id", event.Target())
		return nil
	}

	if b.emitter.EmitToUser(event.Target(), name, payload) {
		RecordNotification(name)
	}
	return nil
}

// logSystemError records a system error server-side. Its detail is never
// pushed to clients.
func (b *Bridge) logSystemError(se core.SystemError) {
	attrs := []any{"source", se.Source, "user_id", se.UserID, "message", se.Message}
	if se.Err != nil {
		errutil.LogError(b.logger, "system error event", se.Err, attrs...)
		return
	}
	b.logger.Error("system error event", attrs...)
}
