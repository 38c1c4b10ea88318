// Package protocol defines the downstream client wire format (spec.md
// §6): plain JSON frames over the per-robot WebSocket, no msgpack, no
// binary envelope — the teacher's Message/codec pair was a
// msgpack-first wire aimed at a native mobile client, which this
// gateway's browser clients have no use for.
package protocol

import "encoding/json"

// FrameType is the `type` discriminator on every client-facing frame.
type FrameType string

const (
	FrameEvent   FrameType = "event"
	FrameError   FrameType = "error"
	FrameCommand FrameType = "command"
	FrameRequest FrameType = "request"
)

// Inbound is a frame received from a downstream client. Data is kept
// as raw JSON so a command frame's payload can be decoded into the
// shape handleCommand expects without double-unmarshaling.
type Inbound struct {
	Type      FrameType       `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// EventFrame forwards one Manager channel-data event.
type EventFrame struct {
	Type    FrameType `json:"type"`
	Channel string    `json:"channel"`
	Data    any       `json:"data"`
}

// NewEventFrame builds an EventFrame ready to marshal.
func NewEventFrame(channel string, data any) EventFrame {
	return EventFrame{Type: FrameEvent, Channel: channel, Data: data}
}

// ErrorFrame reports a Protocol/Validation/Resource failure back to
// the client that caused it; Channel and RequestID are omitted when
// not applicable.
type ErrorFrame struct {
	Type      FrameType `json:"type"`
	Channel   string    `json:"channel,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
	Message   string    `json:"message"`
}

// NewErrorFrame builds an ErrorFrame ready to marshal.
func NewErrorFrame(channel, requestID, message string) ErrorFrame {
	return ErrorFrame{Type: FrameError, Channel: channel, RequestID: requestID, Message: message}
}
