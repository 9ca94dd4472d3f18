// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package socket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskhub/taskhub/pkg/errutil"
)

func TestEncode(t *testing.T) {
	b, err := Encode("welcome", map[string]string{"userId": "u1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"welcome","data":{"userId":"u1"}}`, string(b))
}

func TestEncode_NilDataIsOmitted(t *testing.T) {
	b, err := Encode("pong", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"pong"}`, string(b))
}

func TestEncode_Unmarshalable(t *testing.T) {
	_, err := Encode("bad", map[string]any{"ch": make(chan int)})
	errutil.AssertErrorCode(t, err, CodeEncodeFailed)
}

func TestEncodeAck(t *testing.T) {
	b, err := encodeAck(7, "ok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"ack","ack":7,"data":"ok"}`, string(b))
}

func TestDecode(t *testing.T) {
	f, err := Decode([]byte(`{"event":"ping","data":{"seq":1},"ack":3}`))
	require.NoError(t, err)

	assert.Equal(t, "ping", f.Event)
	assert.JSONEq(t, `{"seq":1}`, string(f.Data))
	require.NotNil(t, f.Ack)
	assert.Equal(t, uint64(3), *f.Ack)
}

func TestDecode_WithoutAck(t *testing.T) {
	f, err := Decode([]byte(`{"event":"ping"}`))
	require.NoError(t, err)
	assert.Nil(t, f.Ack)
	assert.Empty(t, f.Data)
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "ping"},
		{"no event", `{"data":1}`},
		{"wrong type", `{"event":5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			errutil.AssertErrorCode(t, err, CodeEncodeFailed)
		})
	}
}
