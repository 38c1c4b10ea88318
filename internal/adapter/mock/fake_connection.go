// Package mock provides an in-memory adapter.BridgeConnection used by
// Robot Manager tests. It is adapted from the teacher's MockAdapter
// (internal/adapter/mock/mock_adapter.go): the same
// context-cancellation-driven background goroutine and non-blocking
// channel-send idiom, repurposed from a sensor-data simulator into a
// scriptable pub/sub fake a test can drive deterministically.
package mock

import (
	"context"
	"sync"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
)

// FakeConnection implements adapter.BridgeConnection entirely in
// memory. Tests call Emit to simulate an upstream message arriving on a
// subscribed topic, and inspect Published to see what the unit under
// test tried to send upstream.
type FakeConnection struct {
	mu        sync.Mutex
	connected bool
	subs      map[string][]func(adapter.Envelope)
	Published []PublishedMessage
	events    chan adapter.ConnectionEvent
}

// PublishedMessage records one Publish call for test assertions.
type PublishedMessage struct {
	Topic   string
	MsgType string
	Payload map[string]any
}

// NewFakeConnection builds a disconnected fake ready for Connect.
func NewFakeConnection() *FakeConnection {
	return &FakeConnection{
		subs:   make(map[string][]func(adapter.Envelope)),
		events: make(chan adapter.ConnectionEvent, 16),
	}
}

func (f *FakeConnection) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		return nil
	}
	f.connected = true
	f.events <- adapter.ConnectionEvent{Kind: adapter.EventConnected}
	return nil
}

func (f *FakeConnection) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *FakeConnection) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeConnection) Subscribe(topic, msgType string, handler func(adapter.Envelope)) (adapter.Unsubscribe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = append(f.subs[topic], handler)
	idx := len(f.subs[topic]) - 1
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		list := f.subs[topic]
		if idx < len(list) {
			list[idx] = nil
		}
	}, nil
}

func (f *FakeConnection) Publish(topic, msgType string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, PublishedMessage{Topic: topic, MsgType: msgType, Payload: payload})
	return nil
}

func (f *FakeConnection) Events() <-chan adapter.ConnectionEvent { return f.events }

// Snapshot returns a copy of Published safe to read concurrently with
// Publish calls from the unit under test.
func (f *FakeConnection) Snapshot() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PublishedMessage, len(f.Published))
	copy(out, f.Published)
	return out
}

// Emit simulates an upstream message arriving on topic for every handler
// currently subscribed to it.
func (f *FakeConnection) Emit(topic, msgType string, payload map[string]any) {
	f.mu.Lock()
	handlers := append(([]func(adapter.Envelope))(nil), f.subs[topic]...)
	f.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			h(adapter.Envelope{Topic: topic, MsgType: msgType, Payload: payload})
		}
	}
}

var _ adapter.BridgeConnection = (*FakeConnection)(nil)
