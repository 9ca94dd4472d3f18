// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewULID generates a new ULID.
func NewULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewConnectionID returns an opaque, time-sortable connection identifier.
func NewConnectionID() string {
	return NewULID().String()
}
