package robot

import (
	"fmt"
	"math"
	"time"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/geometry"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/safety"
)

// process runs the per-channel subscribe pipeline (odom/amcl/laser/
// waypoints, else passthrough), returning the sanitized value to push
// through the channel's throttle, or false to emit nothing.
func (m *Manager) process(channelName string, env adapter.Envelope) (any, bool) {
	switch channelName {
	case "odom":
		return m.handleOdom(env)
	case "amcl":
		return m.handleAMCL(env)
	case "laser":
		return m.handleLaser(env)
	case "waypoints":
		return m.handleWaypoints(env)
	default:
		return env.Payload, true
	}
}

func (m *Manager) handleOdom(env adapter.Envelope) (any, bool) {
	pose, ok := poseAt(env.Payload, "pose", "pose")
	if !ok {
		return nil, false
	}
	stamp := headerStampMs(env.Payload)
	pose.StampMs = stamp

	m.mu.Lock()
	m.odomPose = &pose
	m.mu.Unlock()

	m.attemptPoseSelection(stamp)

	return map[string]any{"pose": poseJSON(pose)}, true
}

func (m *Manager) handleAMCL(env adapter.Envelope) (any, bool) {
	pose, ok := poseAt(env.Payload, "pose", "pose")
	if !ok {
		return nil, false
	}
	pose.StampMs = headerStampMs(env.Payload)

	minPos := m.tunable(m.tun.AMCLMinDeltaPos, 0.05)
	minYaw := m.tunable(m.tun.AMCLMinDeltaYaw, 0.05)

	m.mu.Lock()
	prev := m.mapPose
	if prev != nil {
		dx, dy := pose.X-prev.X, pose.Y-prev.Y
		dPos := math.Hypot(dx, dy)
		dYaw := math.Abs(pose.Yaw - prev.Yaw)
		if dPos < minPos && dYaw < minYaw {
			m.mu.Unlock()
			return nil, false
		}
	}
	m.mapPose = &pose
	m.mu.Unlock()

	return map[string]any{"pose": poseJSON(pose)}, true
}

func (m *Manager) handleLaser(env adapter.Envelope) (any, bool) {
	scan, ok := parseLaserScan(env.Payload)
	if !ok || scan.stampMs == nil {
		return env.Payload, true
	}

	pose, ok := m.laserPose(scan.stampMs)
	if !ok {
		return env.Payload, true
	}

	offset := m.currentLaserOffset()
	laserPose := geometry.Combine(pose, offset)

	points := make([]map[string]any, 0, len(scan.ranges))
	for i, r := range scan.ranges {
		if math.IsNaN(r) || math.IsInf(r, 0) || r < scan.rangeMin || r > scan.rangeMax {
			continue
		}
		theta := scan.angleMin + float64(i)*scan.angleIncrement
		local := geometry.Pose2D{X: r * math.Cos(theta), Y: r * math.Sin(theta)}
		pt := geometry.Combine(laserPose, local)
		points = append(points, map[string]any{"x": pt.X, "y": pt.Y})
	}

	return map[string]any{
		"angleMin":       scan.angleMin,
		"angleIncrement": scan.angleIncrement,
		"ranges":         scan.ranges,
		"points":         points,
		"frame":          "map",
	}, true
}

func (m *Manager) handleWaypoints(env adapter.Envelope) (any, bool) {
	posesAny, ok := env.Payload["poses"].([]any)
	if !ok {
		return env.Payload, true
	}
	out := make([]map[string]any, 0, len(posesAny))
	for _, p := range posesAny {
		pm, ok := asMap(p)
		if !ok {
			continue
		}
		if pose, ok := poseAt(pm, "pose"); ok {
			out = append(out, map[string]any{"pose": poseJSON(pose)})
		}
	}
	return map[string]any{"waypoints": out}, true
}

func poseJSON(p geometry.Pose2D) map[string]any {
	return map[string]any{"x": p.X, "y": p.Y, "yaw": p.Yaw}
}

// laserPose implements the laser-pose selection rule: the scan's own
// stamp is the freshness reference; mapToOdom∘odomPose wins if neither
// input is stale, otherwise the last AMCL mapPose, otherwise the caller
// passes the scan through untransformed.
func (m *Manager) laserPose(refMs *int64) (geometry.Pose2D, bool) {
	staleMs := m.tunable64(m.tun.TFStaleMs, geometry.StaleMsDefault)

	m.mu.Lock()
	mapToOdom := m.transforms.mapToOdom
	odomPose := m.odomPose
	mapPose := m.mapPose
	m.mu.Unlock()

	if mapToOdom != nil && odomPose != nil &&
		!geometry.IsStaleAt(*mapToOdom, refMs, staleMs) &&
		!geometry.IsStaleAt(*odomPose, refMs, staleMs) {
		return geometry.Combine(*mapToOdom, *odomPose), true
	}
	if mapPose != nil {
		return *mapPose, true
	}
	return geometry.Pose2D{}, false
}

// attemptPoseSelection implements the hysteresis rule for the synthetic
// "pose" channel, run on every odom/TF update.
func (m *Manager) attemptPoseSelection(refMs *int64) {
	staleMs := m.tunable64(m.tun.TFStaleMs, geometry.StaleMsDefault)
	eps := m.tunable(m.tun.PoseEps, 1e-3)

	m.mu.Lock()
	mapToBase := m.transforms.mapToBase
	mapToOdom := m.transforms.mapToOdom
	odomToBase := m.transforms.odomToBase
	odomPose := m.odomPose
	mapPose := m.mapPose
	last := m.lastPose
	m.mu.Unlock()

	var candidate geometry.Pose2D
	found := false

	switch {
	case mapToBase != nil && !geometry.IsStaleAt(*mapToBase, refMs, staleMs):
		candidate, found = *mapToBase, true
	case mapToOdom != nil && odomToBase != nil &&
		!geometry.IsStaleAt(*mapToOdom, refMs, staleMs) && !geometry.IsStaleAt(*odomToBase, refMs, staleMs):
		candidate, found = geometry.Combine(*mapToOdom, *odomToBase), true
	case mapToOdom != nil && odomPose != nil &&
		!geometry.IsStaleAt(*mapToOdom, refMs, staleMs) && !geometry.IsStaleAt(*odomPose, refMs, staleMs):
		candidate, found = geometry.Combine(*mapToOdom, *odomPose), true
	case mapPose != nil:
		candidate, found = *mapPose, true
	}

	if !found {
		return
	}
	if last != nil && geometry.NearlyEqual(*last, candidate, eps) {
		return
	}

	m.mu.Lock()
	m.lastPose = &candidate
	m.mu.Unlock()

	m.events.emit(Event{Kind: EventChannelData, Channel: "pose", Data: poseJSON(candidate)})
}

func (m *Manager) currentLaserOffset() geometry.Pose2D {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transforms.laserToBase != nil {
		return *m.transforms.laserToBase
	}
	return m.laserOffset
}

func (m *Manager) tunable(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}

func (m *Manager) tunable64(v, def int64) int64 {
	if v > 0 {
		return v
	}
	return def
}

// handleTF ingests /tf and /tf_static messages, updating whichever of
// the four cached transforms the (parent, child) pair matches, then
// retries pose selection against the current odom timestamp.
func (m *Manager) handleTF(env adapter.Envelope) {
	entries, ok := env.Payload["transforms"].([]any)
	if !ok {
		return
	}

	var odomRef *int64
	m.mu.Lock()
	if m.odomPose != nil {
		odomRef = m.odomPose.StampMs
	}
	m.mu.Unlock()

	changed := false
	for _, raw := range entries {
		item, ok := asMap(raw)
		if !ok {
			continue
		}
		header, ok := asMap(item["header"])
		if !ok {
			continue
		}
		parent, _ := header["frame_id"].(string)
		child, _ := item["child_frame_id"].(string)
		tf, ok := transformAt(item, "transform")
		if !ok {
			continue
		}
		tf.StampMs = headerStampMs(item)

		m.mu.Lock()
		switch {
		case parent == "map" && child == "odom":
			m.transforms.mapToOdom = &tf
		case parent == "map" && baseFrames[child]:
			m.transforms.mapToBase = &tf
		case parent == "odom" && baseFrames[child]:
			m.transforms.odomToBase = &tf
		case laserChildFrames[child] && baseFrames[parent]:
			m.transforms.laserToBase = &tf
		default:
			m.mu.Unlock()
			continue
		}
		m.mu.Unlock()
		changed = true
	}

	if changed {
		m.attemptPoseSelection(odomRef)
	}
}

// HandleCommand validates and dispatches a client command frame. The
// teleop channel runs the safety-clamp + watchdog pipeline; every other
// publish channel forwards the payload unmodified.
func (m *Manager) HandleCommand(channelName string, payload map[string]any) (bool, error) {
	if channelName == "teleop" {
		return m.handleTeleopCommand(payload)
	}

	m.mu.Lock()
	ch, ok := m.channels[channelName]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("unknown channel %q", channelName)
	}
	if ch.cfg.Direction != adapter.DirectionPublish {
		return false, fmt.Errorf("channel %q is not publishable", channelName)
	}

	conn := m.connectionFor(ch.cfg.ConnectionID)
	if conn == nil {
		return false, fmt.Errorf("channel %q: no connection %q", channelName, ch.cfg.ConnectionID)
	}
	if err := conn.Publish(ch.cfg.Topic, ch.cfg.MsgType, payload); err != nil {
		return false, fmt.Errorf("publish %q: %w", channelName, err)
	}
	return true, nil
}

func (m *Manager) handleTeleopCommand(payload map[string]any) (bool, error) {
	linearMap, ok := asMap(payload["linear"])
	if !ok {
		return false, fmt.Errorf("teleop command missing linear")
	}
	angularMap, ok := asMap(payload["angular"])
	if !ok {
		return false, fmt.Errorf("teleop command missing angular")
	}

	m.mu.Lock()
	ch, ok := m.channels["teleop"]
	limits := m.teleop
	window := m.watchdogMs
	m.mu.Unlock()
	if !ok || ch.cfg.Direction != adapter.DirectionPublish {
		return false, fmt.Errorf("no publishable teleop channel configured")
	}

	twist := safety.ClampTeleop(getFloat(linearMap, "x"), getFloat(angularMap, "z"), limits)

	conn := m.connectionFor(ch.cfg.ConnectionID)
	if conn == nil {
		return false, fmt.Errorf("teleop channel: no connection %q", ch.cfg.ConnectionID)
	}
	topic, msgType := ch.cfg.Topic, ch.cfg.MsgType
	if err := conn.Publish(topic, msgType, twistPayload(twist.LinearX, twist.AngularZ)); err != nil {
		return false, fmt.Errorf("publish teleop: %w", err)
	}

	m.armTeleopWatchdog(conn, topic, msgType, window)
	return true, nil
}

func (m *Manager) armTeleopWatchdog(conn adapter.BridgeConnection, topic, msgType string, window time.Duration) {
	m.mu.Lock()
	wd, ok := m.watchdogs["teleop"]
	if !ok {
		wd = safety.NewWatchdog(window, func() {
			_ = conn.Publish(topic, msgType, twistPayload(0, 0))
		})
		m.watchdogs["teleop"] = wd
	}
	m.mu.Unlock()
	wd.Kick()
}

func (m *Manager) connectionFor(id string) adapter.BridgeConnection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connections[id]
}
