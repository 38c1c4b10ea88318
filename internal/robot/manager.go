// Package robot implements the Robot Manager (C4): the component that
// owns a single robot's upstream Bridge Connections, runs the
// subscribe/transform/pose pipeline, enforces the teleop safety
// envelope, and emits normalized events for C6 (Client Fan-out) to
// forward. State ownership follows spec.md §5: a single mutex guards
// every field a background goroutine or a client command could touch,
// the same discipline internal/bridgeconn.Connection uses for its own
// session state.
package robot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/geometry"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/safety"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/throttle"
)

// Tunables mirrors the subset of config.Tunables the Manager needs.
// Kept as its own type so this package doesn't import internal/config;
// cmd/gateway translates config.Tunables into this shape. Zero fields
// fall back to the built-in defaults.
type Tunables struct {
	TFStaleMs        int64
	AMCLMinDeltaPos  float64
	AMCLMinDeltaYaw  float64
	PoseEps          float64
	TeleopMaxLinear  float64
	TeleopMaxAngular float64
	TeleopWatchdogMs int64
}

var defaultLaserOffset = geometry.Pose2D{X: 0.12, Y: 0, Yaw: 0}

var baseFrames = map[string]bool{"base_link": true, "base_footprint": true}
var laserChildFrames = map[string]bool{"laser": true, "base_scan": true}

// channelRuntime is the per-channel runtime entry spec.md §3 names:
// config plus the mutable bookkeeping the Manager keeps about it.
type channelRuntime struct {
	cfg           adapter.ChannelConfig
	errorCount    int
	lastMessageAt time.Time
	unsubscribe   adapter.Unsubscribe
	throttle      *throttle.Throttle
}

// transformSet holds the four cached transforms spec.md §3 names. A nil
// pointer means "never observed".
type transformSet struct {
	mapToOdom   *geometry.Pose2D
	mapToBase   *geometry.Pose2D
	odomToBase  *geometry.Pose2D
	laserToBase *geometry.Pose2D
}

// Manager is the C4 Robot Manager: single owner of one robot's Bridge
// Connections, channel runtime state, cached transforms, pose cache,
// and teleop watchdogs.
type Manager struct {
	id     string
	logger *zap.Logger

	mu          sync.Mutex
	cfg         adapter.RobotConfig
	connections map[string]adapter.BridgeConnection
	connInit    map[string]bool // subscriptions installed for this connection at least once
	channels    map[string]*channelRuntime
	transforms  transformSet
	odomPose    *geometry.Pose2D
	mapPose     *geometry.Pose2D
	lastPose    *geometry.Pose2D
	watchdogs   map[string]*safety.Watchdog
	tfSubOnce   bool
	laserOffset geometry.Pose2D
	teleop      safety.TeleopLimits
	watchdogMs  time.Duration
	tun         Tunables

	events *eventBus
	cancel context.CancelFunc
}

// New validates cfg and builds a Manager. It does not connect anything
// — call Start for that.
func New(cfg adapter.RobotConfig, factory adapter.Factory, tun Tunables, logger *zap.Logger) *Manager {
	m := &Manager{
		id:          cfg.ID,
		logger:      logger.Named("manager").With(zap.String("robot_id", cfg.ID)),
		cfg:         cfg,
		connections: make(map[string]adapter.BridgeConnection),
		connInit:    make(map[string]bool),
		channels:    make(map[string]*channelRuntime),
		watchdogs:   make(map[string]*safety.Watchdog),
		tun:         tun,
		events:      newEventBus(),
	}

	m.laserOffset = defaultLaserOffset
	if cfg.LaserOffset != nil {
		m.laserOffset = geometry.Pose2D{X: cfg.LaserOffset.X, Y: cfg.LaserOffset.Y, Yaw: cfg.LaserOffset.Yaw}
	}

	m.teleop = safety.TeleopLimits{MaxLinear: m.tunable(tun.TeleopMaxLinear, 0.5), MaxAngular: m.tunable(tun.TeleopMaxAngular, 0.8)}
	m.watchdogMs = time.Duration(m.tunable64(tun.TeleopWatchdogMs, 750)) * time.Millisecond
	if cfg.TeleopLimits != nil {
		if cfg.TeleopLimits.MaxLinear > 0 {
			m.teleop.MaxLinear = cfg.TeleopLimits.MaxLinear
		}
		if cfg.TeleopLimits.MaxAngular > 0 {
			m.teleop.MaxAngular = cfg.TeleopLimits.MaxAngular
		}
		if cfg.TeleopLimits.WatchdogMs > 0 {
			m.watchdogMs = time.Duration(cfg.TeleopLimits.WatchdogMs) * time.Millisecond
		}
	}

	conns := cfg.Connections
	if len(conns) == 0 {
		conns = []adapter.ConnectionConfig{{ID: "default", URL: cfg.BridgeURL}}
	}
	seen := make(map[string]bool, len(conns))
	for _, c := range conns {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		m.connections[c.ID] = factory(c.URL)
	}

	for _, ch := range cfg.Channels {
		connID := ch.ConnectionID
		if connID == "" {
			connID = "default"
		}
		if _, ok := m.connections[connID]; !ok {
			m.events.emit(Event{Kind: EventError, Channel: ch.Name, Err: fmt.Errorf("channel %q: no connection %q configured", ch.Name, connID)})
			continue
		}
		ch.ConnectionID = connID
		m.channels[ch.Name] = &channelRuntime{cfg: ch}
	}

	return m
}

// Events streams channel-data and error events for C6 to forward.
func (m *Manager) Events() (<-chan Event, func()) {
	return m.events.Subscribe()
}

// Start connects every Bridge Connection in parallel and begins the
// subscribe pipeline as each one comes up.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	conns := make(map[string]adapter.BridgeConnection, len(m.connections))
	for id, c := range m.connections {
		conns[id] = c
	}
	m.mu.Unlock()

	for id, c := range conns {
		id, c := id, c
		go m.watchConnection(ctx, id, c)
		go func() {
			if err := c.Connect(ctx); err != nil {
				m.logger.Warn("initial connect failed, will keep retrying", zap.String("connection", id), zap.Error(err))
			}
		}()
	}
}

// watchConnection drains one Bridge Connection's event stream for the
// Manager's lifetime, installing subscriptions the first time it comes
// up (I1: exactly one active upstream subscription per subscribe
// channel of a connected Bridge Connection — repeat EventConnected from
// a reconnect is a no-op here because bridgeconn.Connection keeps its
// own subscription set alive across reconnects).
func (m *Manager) watchConnection(ctx context.Context, connID string, conn adapter.BridgeConnection) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case adapter.EventConnected:
				m.onConnected(connID, conn)
			case adapter.EventError:
				m.events.emit(Event{Kind: EventError, Err: fmt.Errorf("connection %q: %w", connID, ev.Err)})
			}
		}
	}
}

func (m *Manager) onConnected(connID string, conn adapter.BridgeConnection) {
	m.mu.Lock()
	alreadyInit := m.connInit[connID]
	m.connInit[connID] = true
	needTF := connID == "default" && !m.tfSubOnce
	if needTF {
		m.tfSubOnce = true
	}
	var toSubscribe []*channelRuntime
	if !alreadyInit {
		for _, ch := range m.channels {
			if ch.cfg.ConnectionID == connID && ch.cfg.Direction == adapter.DirectionSubscribe {
				toSubscribe = append(toSubscribe, ch)
			}
		}
	}
	m.mu.Unlock()

	if needTF {
		if _, err := conn.Subscribe("/tf", "tf2_msgs/msg/TFMessage", m.handleTF); err != nil {
			m.events.emit(Event{Kind: EventError, Err: fmt.Errorf("subscribe /tf: %w", err)})
		}
		if _, err := conn.Subscribe("/tf_static", "tf2_msgs/msg/TFMessage", m.handleTF); err != nil {
			m.events.emit(Event{Kind: EventError, Err: fmt.Errorf("subscribe /tf_static: %w", err)})
		}
	}

	for _, ch := range toSubscribe {
		ch := ch
		m.mu.Lock()
		if ch.throttle == nil {
			name := ch.cfg.Name
			ch.throttle = throttle.New(ch.cfg.RateLimitHz, func(v any) {
				m.events.emit(Event{Kind: EventChannelData, Channel: name, Data: v})
			})
		}
		m.mu.Unlock()

		unsub, err := conn.Subscribe(ch.cfg.Topic, ch.cfg.MsgType, func(env adapter.Envelope) {
			m.onChannelMessage(ch, env)
		})
		if err != nil {
			m.events.emit(Event{Kind: EventError, Channel: ch.cfg.Name, Err: fmt.Errorf("subscribe %s: %w", ch.cfg.Name, err)})
			continue
		}
		m.mu.Lock()
		ch.unsubscribe = unsub
		m.mu.Unlock()
	}
}

func (m *Manager) onChannelMessage(ch *channelRuntime, env adapter.Envelope) {
	m.mu.Lock()
	ch.lastMessageAt = time.Now()
	m.mu.Unlock()

	data, ok := m.process(ch.cfg.Name, env)
	if !ok {
		return
	}
	ch.throttle.Push(data)
}

// Stop emits a final zero twist (if a publishable teleop channel
// exists) before tearing anything else down, cancels every watchdog,
// unsubscribes every channel, and disconnects every Bridge Connection.
// The zero twist must reach the bridge session before it's torn down
// (spec.md §4.4 orders "zero-twist emit" first): canceling the
// Manager's context first would let bridgeconn.Connection's runSession
// take its ctx.Done() exit and close the socket without draining its
// write queue, dropping the safety stop.
func (m *Manager) Stop() {
	m.mu.Lock()
	if tch, ok := m.channels["teleop"]; ok && tch.cfg.Direction == adapter.DirectionPublish {
		conn := m.connections[tch.cfg.ConnectionID]
		topic, msgType := tch.cfg.Topic, tch.cfg.MsgType
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Publish(topic, msgType, twistPayload(0, 0))
		}
		m.mu.Lock()
	}
	if m.cancel != nil {
		m.cancel()
	}
	for _, wd := range m.watchdogs {
		wd.Stop()
	}
	m.watchdogs = make(map[string]*safety.Watchdog)
	for _, ch := range m.channels {
		if ch.unsubscribe != nil {
			ch.unsubscribe()
		}
		if ch.throttle != nil {
			ch.throttle.Stop()
		}
	}
	conns := make([]adapter.BridgeConnection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Disconnect()
	}
}

func twistPayload(linearX, angularZ float64) map[string]any {
	return map[string]any{
		"linear":  map[string]any{"x": linearX, "y": 0.0, "z": 0.0},
		"angular": map[string]any{"x": 0.0, "y": 0.0, "z": angularZ},
	}
}
