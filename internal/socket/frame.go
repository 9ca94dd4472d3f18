// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TaskHub Contributors

package socket

import (
	"encoding/json"

	"github.com/samber/oops"
)

// Error codes returned by the transport.
const (
	CodeClosed       = "SOCKET_CLOSED"
	CodeBufferFull   = "SOCKET_BUFFER_FULL"
	CodeEncodeFailed = "SOCKET_ENCODE_FAILED"
)

// Reserved event names.
const (
	// EventAck carries the reply to an inbound frame that requested one.
	EventAck = "ack"
	// EventConnectError is sent to a connection refused during the handshake.
	EventConnectError = "connect_error"
)

// Frame is the JSON envelope exchanged over the socket in both directions.
//
// Ack is set on inbound frames that expect a reply, and on the outbound
// EventAck frame that answers them.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *uint64         `json:"ack,omitempty"`
}

// Encode builds the wire form of an event. A nil data value is omitted.
func Encode(event string, data any) ([]byte, error) {
	return encode(Frame{Event: event}, data)
}

func encodeAck(id uint64, data any) ([]byte, error) {
	return encode(Frame{Event: EventAck, Ack: &id}, data)
}

func encode(frame Frame, data any) ([]byte, error) {
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, oops.Code(CodeEncodeFailed).With("event", frame.Event).Wrap(err)
		}
		frame.Data = raw
	}

	b, err := json.Marshal(frame)
	if err != nil {
		return nil, oops.Code(CodeEncodeFailed).With("event", frame.Event).Wrap(err)
	}
	return b, nil
}

// Decode parses an inbound frame. Frames without an event name are rejected.
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, oops.Code(CodeEncodeFailed).Wrapf(err, "decode frame")
	}
	if f.Event == "" {
		return Frame{}, oops.Code(CodeEncodeFailed).Errorf("frame has no event name")
	}
	return f, nil
}
