// Package bridgeconn implements adapter.BridgeConnection against a real
// upstream JSON-over-WebSocket pub/sub bridge (spec.md §6). Its
// reconnect-with-backoff loop and single-writer-goroutine discipline are
// adapted from the teacher's internal/server/websocket.go
// (readPump/writePump split, since gorilla/websocket forbids concurrent
// writers) and internal/adapter/mock/mock_adapter.go's
// context-cancellation-driven goroutine lifecycle.
package bridgeconn

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
)

const (
	minReconnectDelay = 1 * time.Second
	maxReconnectDelay = 10 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
)

// wireMessage is the on-the-wire shape for every upstream pub/sub
// operation: subscribe, unsubscribe, advertise, publish.
type wireMessage struct {
	Op      string         `json:"op"`
	Topic   string         `json:"topic"`
	Type    string         `json:"type,omitempty"`
	Msg     map[string]any `json:"msg,omitempty"`
	Latch   bool           `json:"latch,omitempty"`
}

type subscription struct {
	msgType string
	handler func(adapter.Envelope)
}

// Connection is the default adapter.BridgeConnection implementation.
type Connection struct {
	url    string
	logger *zap.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connecting    bool
	closed        bool
	reconnectWait time.Duration
	subs          map[string][]*subscription // topic -> handlers
	advertised    map[string]bool            // "topic|msgType" already advertised
	writeCh       chan wireMessage
	events        chan adapter.ConnectionEvent
	connectedOnce chan struct{}
	connectErr    error
}

// New builds a Connection for url. It does not dial until Connect is
// called.
func New(url string, logger *zap.Logger) *Connection {
	return &Connection{
		url:           url,
		logger:        logger,
		reconnectWait: minReconnectDelay,
		subs:          make(map[string][]*subscription),
		advertised:    make(map[string]bool),
		writeCh:       make(chan wireMessage, 64),
		events:        make(chan adapter.ConnectionEvent, 16),
	}
}

func (c *Connection) Events() <-chan adapter.ConnectionEvent { return c.events }

// Connect is idempotent while a session exists or is being established.
// It blocks until the first dial attempt either succeeds or fails, then
// returns; all subsequent reconnects happen in the background.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("bridge connection %s: disconnect is terminal", c.url)
	}
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	first := make(chan struct{})
	c.connectedOnce = first
	c.mu.Unlock()

	go c.runLoop(ctx, first)

	select {
	case <-first:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	err := c.connectErr
	c.mu.Unlock()
	return err
}

func (c *Connection) runLoop(ctx context.Context, firstAttempt chan struct{}) {
	notifiedFirst := false
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			wrapped := fmt.Errorf("bridge connection %s: dial failed: %w", c.url, err)
			c.logger.Warn("bridge dial failed", zap.String("url", c.url), zap.Error(err))
			c.events <- adapter.ConnectionEvent{Kind: adapter.EventError, Err: wrapped}

			if !notifiedFirst {
				c.mu.Lock()
				c.connectErr = wrapped
				c.connecting = false
				c.mu.Unlock()
				close(firstAttempt)
				notifiedFirst = true
			}

			if !c.sleepBackoff(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connecting = false
		c.reconnectWait = minReconnectDelay
		c.connectErr = nil
		c.mu.Unlock()

		if !notifiedFirst {
			close(firstAttempt)
			notifiedFirst = true
		}
		c.resendSubscriptions()
		c.events <- adapter.ConnectionEvent{Kind: adapter.EventConnected}

		c.runSession(ctx, conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.advertised = make(map[string]bool)
		closed := c.closed
		c.mu.Unlock()

		c.events <- adapter.ConnectionEvent{Kind: adapter.EventDisconnected}
		if closed {
			return
		}
		if !c.sleepBackoff(ctx) {
			return
		}
	}
}

func (c *Connection) sleepBackoff(ctx context.Context) bool {
	c.mu.Lock()
	wait := c.reconnectWait
	next := wait * 2
	if next > maxReconnectDelay {
		next = maxReconnectDelay
	}
	c.reconnectWait = next
	c.mu.Unlock()

	select {
	case <-time.After(wait):
		return true
	case <-ctx.Done():
		return false
	}
}

// runSession owns the socket for its lifetime: one goroutine reads, the
// caller's goroutine writes (gorilla/websocket disallows concurrent
// writers, mirroring internal/server/websocket.go's readPump/writePump
// split).
func (c *Connection) runSession(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg wireMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.logger.Warn("bridge message decode error", zap.Error(err))
				continue
			}
			if msg.Op != "publish" {
				continue
			}
			c.dispatch(adapter.Envelope{Topic: msg.Topic, MsgType: adapter.NormalizeMsgType(msg.Type), Payload: msg.Msg})
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			conn.Close()
			return
		case <-ctx.Done():
			conn.Close()
			<-done
			return
		case wm := <-c.writeCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(wm)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				conn.Close()
				<-done
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				<-done
				return
			}
		}
	}
}

// resendSubscriptions re-issues subscribe ops for every topic a caller
// is still subscribed to. Subscriptions outlive a single TCP session
// (I1 requires exactly one active upstream subscription per subscribe
// channel of a *connected* Bridge Connection, not per raw socket).
func (c *Connection) resendSubscriptions() {
	c.mu.Lock()
	topics := make(map[string]string, len(c.subs))
	for topic, handlers := range c.subs {
		if len(handlers) > 0 {
			topics[topic] = handlers[0].msgType
		}
	}
	c.mu.Unlock()
	for topic, msgType := range topics {
		c.send(wireMessage{Op: "subscribe", Topic: topic, Type: msgType})
	}
}

func (c *Connection) dispatch(env adapter.Envelope) {
	c.mu.Lock()
	handlers := append([]*subscription(nil), c.subs[env.Topic]...)
	c.mu.Unlock()

	for _, s := range handlers {
		if s.msgType != "" && s.msgType != env.MsgType {
			continue
		}
		s.handler(env)
	}
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	return nil
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Connection) Subscribe(topic, msgType string, handler func(adapter.Envelope)) (adapter.Unsubscribe, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("bridge connection %s: subscribe requires an open session", c.url)
	}
	sub := &subscription{msgType: msgType, handler: handler}
	c.subs[topic] = append(c.subs[topic], sub)
	c.mu.Unlock()

	c.send(wireMessage{Op: "subscribe", Topic: topic, Type: msgType})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		list := c.subs[topic]
		for i, s := range list {
			if s == sub {
				c.subs[topic] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(c.subs[topic]) == 0 {
			delete(c.subs, topic)
			c.send(wireMessage{Op: "unsubscribe", Topic: topic, Type: msgType})
		}
	}, nil
}

func (c *Connection) Publish(topic, msgType string, payload map[string]any) error {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return fmt.Errorf("bridge connection %s: publish requires an open session", c.url)
	}
	key := topic + "|" + msgType
	needsAdvertise := !c.advertised[key]
	if needsAdvertise {
		c.advertised[key] = true
	}
	c.mu.Unlock()

	if needsAdvertise {
		c.send(wireMessage{Op: "advertise", Topic: topic, Type: msgType, Latch: topic == "/initialpose"})
	}
	c.send(wireMessage{Op: "publish", Topic: topic, Type: msgType, Msg: payload})
	return nil
}

func (c *Connection) send(wm wireMessage) {
	select {
	case c.writeCh <- wm:
	default:
		c.logger.Warn("bridge write queue full, dropping message", zap.String("op", wm.Op), zap.String("topic", wm.Topic))
	}
}

var _ adapter.BridgeConnection = (*Connection)(nil)
