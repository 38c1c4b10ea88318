// Package adapter defines the shared data model for the gateway's
// per-robot configuration and the BridgeConnection contract that
// internal/bridgeconn implements against a real upstream WebSocket
// bridge (and that internal/adapter/mock implements against an
// in-memory fake for tests).
//
// This file used to define a vendor-adapter interface
// (Connect/Disconnect/SendCommand/SensorDataChannel/GetCapabilities/
// EmergencyStop) for a multi-vendor REST/MQTT robot fleet. That shape
// doesn't fit a gateway whose one upstream contract is a topic-based
// pub/sub WebSocket bridge, so it has been replaced by the
// publish/subscribe contract below. The "implicit interface, duck
// typing, swap the implementation behind a registry" idea is kept.
package adapter

import "context"

// Direction is which way a channel's messages flow relative to the
// gateway.
type Direction string

const (
	DirectionSubscribe Direction = "subscribe"
	DirectionPublish   Direction = "publish"
)

// ConnectionConfig names one upstream bridge endpoint a Robot Manager
// may open.
type ConnectionConfig struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ChannelConfig binds a logical channel name (e.g. "odom", "teleop") to
// a wire topic/message type on one of the robot's connections.
type ChannelConfig struct {
	Name         string    `json:"name"`
	Topic        string    `json:"topic"`
	MsgType      string    `json:"msgType"`
	Direction    Direction `json:"direction"`
	RateLimitHz  float64   `json:"rateLimitHz,omitempty"`
	ConnectionID string    `json:"connectionId,omitempty"`
}

// TeleopLimits bounds velocity commands and the idle watchdog for a
// robot's teleop channel.
type TeleopLimits struct {
	MaxLinear  float64 `json:"maxLinear"`
	MaxAngular float64 `json:"maxAngular"`
	WatchdogMs int64   `json:"watchdogMs"`
}

// LaserOffset is the static laser->base transform to fall back on when
// no dynamic TF for that pair has been observed yet.
type LaserOffset struct {
	X, Y, Yaw float64
}

// RobotConfig is the pure value a Robot Manager is built from. Two
// RobotConfigs with the same canonical serialization (see Canonical)
// are treated as identical by the Fleet Registry.
type RobotConfig struct {
	ID           string             `json:"id"`
	BridgeURL    string             `json:"bridgeUrl"`
	Connections  []ConnectionConfig `json:"connections"`
	Channels     []ChannelConfig    `json:"channels"`
	LaserOffset  *LaserOffset       `json:"laserOffset,omitempty"`
	TeleopLimits *TeleopLimits      `json:"teleopLimits,omitempty"`
}

// Envelope is one decoded upstream pub/sub message.
type Envelope struct {
	Topic   string
	MsgType string
	Payload map[string]any
}

// EventKind classifies a BridgeConnection lifecycle event.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventError        EventKind = "error"
)

// ConnectionEvent is emitted on a BridgeConnection's event channel.
type ConnectionEvent struct {
	Kind EventKind
	Err  error
}

// Unsubscribe removes exactly the handler it was returned for.
type Unsubscribe func()

// BridgeConnection is one outbound session to an upstream pub/sub
// bridge (C1 in the design). Implementations must tolerate repeated
// Connect calls while a session exists or is being established, must
// reconnect indefinitely with backoff until Disconnect is called, and
// must never let a Subscribe handler's failure take down the session.
type BridgeConnection interface {
	// Connect opens (or, if already open/opening, no-ops) the session.
	// It returns once the first connection attempt either succeeds or
	// is rejected; subsequent reconnect attempts happen in the
	// background and are observed only through the event channel.
	Connect(ctx context.Context) error

	// Disconnect terminates the session for good; no further reconnect
	// attempts occur afterward.
	Disconnect() error

	IsConnected() bool

	// Subscribe installs a handler for a (topic, msgType) pair and
	// returns a closure that removes only this handler. Requires an
	// open session.
	Subscribe(topic, msgType string, handler func(Envelope)) (Unsubscribe, error)

	// Publish sends a message on (topic, msgType), auto-advertising the
	// topic on first use.
	Publish(topic, msgType string, payload map[string]any) error

	// Events streams connected/disconnected/error lifecycle events.
	Events() <-chan ConnectionEvent
}

// Factory constructs a BridgeConnection for a given URL. Registered
// factories let tests substitute a fake transport without touching
// Robot Manager code — the plugin idea the teacher's mock adapter
// package demonstrated, carried over to the new interface shape.
type Factory func(url string) BridgeConnection
