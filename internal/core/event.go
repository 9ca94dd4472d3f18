// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

// Package core contains the domain events, the in-process event bus and the
// connection registry shared by the real-time layer.
package core

import "time"

// EventType identifies the kind of domain event.
type EventType string

const (
	EventTypeLoginSuccess  EventType = "auth.login_success"
	EventTypeTaskCreated   EventType = "task.created"
	EventTypeTaskUpdated   EventType = "task.updated"
	EventTypeTaskCompleted EventType = "task.completed"
	EventTypeTaskDeleted   EventType = "task.deleted"
	EventTypeTaskDueSoon   EventType = "task.due_soon"
	EventTypeSystemError   EventType = "system.error"
)

// EventTypes lists every domain event type in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventTypeLoginSuccess,
		EventTypeTaskCreated,
		EventTypeTaskUpdated,
		EventTypeTaskCompleted,
		EventTypeTaskDeleted,
		EventTypeTaskDueSoon,
		EventTypeSystemError,
	}
}

// Event is a fact published by another subsystem. The set of implementations
// is closed: only the variants declared in this package satisfy it.
type Event interface {
	// Type returns the event's type tag.
	Type() EventType
	// Target returns the id of the user the event concerns.
	Target() string

	sealed()
}

// LoginSucceeded is published by the auth service after a successful login.
type LoginSucceeded struct {
	UserID string
	Email  string
}

// TaskCreated is published when a task is created.
type TaskCreated struct {
	UserID   string
	TaskID   string
	Title    string
	Priority string
	DueDate  *time.Time
}

// TaskUpdated is published when a task changes. Title is optional.
type TaskUpdated struct {
	UserID  string
	TaskID  string
	Title   string
	Changes map[string]any
}

// TaskCompleted is published when a task is marked complete.
type TaskCompleted struct {
	UserID string
	TaskID string
	Title  string
}

// TaskDeleted is published when a task is removed.
type TaskDeleted struct {
	UserID string
	TaskID string
	Title  string
}

// TaskSummary is the compact task shape carried by due-soon events.
type TaskSummary struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Priority string     `json:"priority,omitempty"`
	DueDate  *time.Time `json:"dueDate,omitempty"`
}

// TasksDueSoon is published by the reminder job with the user's pending tasks
// due within DaysWindow days.
type TasksDueSoon struct {
	UserID     string
	Tasks      []TaskSummary
	DaysWindow int
}

// SystemError is published by error middleware. It never leaves the server.
type SystemError struct {
	UserID  string
	Source  string
	Message string
	Err     error
}

func (LoginSucceeded) Type() EventType { return EventTypeLoginSuccess }
func (TaskCreated) Type() EventType    { return EventTypeTaskCreated }
func (TaskUpdated) Type() EventType    { return EventTypeTaskUpdated }
func (TaskCompleted) Type() EventType  { return EventTypeTaskCompleted }
func (TaskDeleted) Type() EventType    { return EventTypeTaskDeleted }
func (TasksDueSoon) Type() EventType   { return EventTypeTaskDueSoon }
func (SystemError) Type() EventType    { return EventTypeSystemError }

func (e LoginSucceeded) Target() string { return e.UserID }
func (e TaskCreated) Target() string    { return e.UserID }
func (e TaskUpdated) Target() string    { return e.UserID }
func (e TaskCompleted) Target() string  { return e.UserID }
func (e TaskDeleted) Target() string    { return e.UserID }
func (e TasksDueSoon) Target() string   { return e.UserID }
func (e SystemError) Target() string    { return e.UserID }

func (LoginSucceeded) sealed() {}
func (TaskCreated) sealed()    {}
func (TaskUpdated) sealed()    {}
func (TaskCompleted) sealed()  {}
func (TaskDeleted) sealed()    {}
func (TasksDueSoon) sealed()   {}
func (SystemError) sealed()    {}

// Normalize returns the value form of event. Pointer variants satisfy Event
// through their value methods, so they are dereferenced here; a nil event or
// nil pointer variant reports false.
func Normalize(event Event) (Event, bool) {
	switch e := event.(type) {
	case nil:
		return nil, false
	case *LoginSucceeded:
		return deref(e)
	case *TaskCreated:
		return deref(e)
	case *TaskUpdated:
		return deref(e)
	case *TaskCompleted:
		return deref(e)
	case *TaskDeleted:
		return deref(e)
	case *TasksDueSoon:
		return deref(e)
	case *SystemError:
		return deref(e)
	default:
		return event, true
	}
}

func deref[T Event](p *T) (Event, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}
