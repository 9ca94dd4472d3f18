// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package core

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewULID(t *testing.T) {
	id1 := NewULID()
	id2 := NewULID()

	assert.NotEqual(t, id1.String(), id2.String(), "Two ULIDs should be different")
	assert.LessOrEqual(t, id1.String(), id2.String(), "Later ULID should sort after earlier ULID")
}

func TestNewConnectionID_IsParseable(t *testing.T) {
	id := NewConnectionID()
	require.Len(t, id, 26)

	_, err := ulid.Parse(id)
	assert.NoError(t, err)
}
