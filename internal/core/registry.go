// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package core

import (
	"log/slog"
	"slices"
	"sync"
)

// ConnectionRegistry maps user ids to the ids of their open connections.
//
// A user key exists only while that user has at least one connection, and a
// connection id is indexed under at most one user. The registry holds ids
// only; connections themselves belong to the transport.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	byUser map[string][]string // user id -> connection ids in connect order
	owner  map[string]string   // connection id -> user id
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byUser: make(map[string][]string),
		owner:  make(map[string]string),
	}
}

// Register adds connID to userID's connections, creating the entry if absent.
// Registering the same pair twice keeps a single entry. A connection id that
// was registered under another user is moved to userID.
func (r *ConnectionRegistry) Register(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[connID]; ok {
		if prev == userID {
			return
		}
		slog.Debug("connection re-registered under a different user",
			"conn_id", connID,
			"previous_user_id", prev,
			"user_id", userID,
		)
		r.removeLocked(prev, connID)
	}

	r.byUser[userID] = append(r.byUser[userID], connID)
	r.owner[connID] = userID
}

// Unregister removes connID from userID's connections. The user's entry is
// deleted once it holds no connections. Unknown users or ids are ignored.
func (r *ConnectionRegistry) Unregister(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owner[connID] != userID {
		return
	}
	r.removeLocked(userID, connID)
}

func (r *ConnectionRegistry) removeLocked(userID, connID string) {
	delete(r.owner, connID)

	conns := r.byUser[userID]
	if i := slices.Index(conns, connID); i >= 0 {
		conns = slices.Delete(conns, i, i+1)
	}
	if len(conns) == 0 {
		delete(r.byUser, userID)
		return
	}
	r.byUser[userID] = conns
}

// HasUser reports whether any connection is registered for userID.
func (r *ConnectionRegistry) HasUser(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.byUser[userID]
	return ok
}

// ConnectionsFor returns a copy of userID's connection ids in connect order.
// The result is empty, never nil, when the user has no connections.
func (r *ConnectionRegistry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.byUser[userID]
	result := make([]string, len(conns))
	copy(result, conns)
	return result
}

// Users returns the ids of all users with at least one connection, sorted.
func (r *ConnectionRegistry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		users = append(users, id)
	}
	slices.Sort(users)
	return users
}

// Count returns the total number of registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// Clear drops every entry.
func (r *ConnectionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byUser = make(map[string][]string)
	r.owner = make(map[string]string)
}
