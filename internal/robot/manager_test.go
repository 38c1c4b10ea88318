package robot

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter/mock"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/geometry"
)

func defaultChannels() []adapter.ChannelConfig {
	return []adapter.ChannelConfig{
		{Name: "odom", Topic: "/odom", MsgType: "nav_msgs/msg/Odometry", Direction: adapter.DirectionSubscribe, RateLimitHz: 2},
		{Name: "laser", Topic: "/scan", MsgType: "sensor_msgs/msg/LaserScan", Direction: adapter.DirectionSubscribe, RateLimitHz: 1},
		{Name: "teleop", Topic: "/cmd_vel", MsgType: "geometry_msgs/msg/Twist", Direction: adapter.DirectionPublish},
	}
}

func newTestManager(t *testing.T, channels []adapter.ChannelConfig) (*Manager, *mock.FakeConnection) {
	t.Helper()
	var conn *mock.FakeConnection
	factory := adapter.Factory(func(url string) adapter.BridgeConnection {
		conn = mock.NewFakeConnection()
		return conn
	})
	cfg := adapter.RobotConfig{ID: "r1", BridgeURL: "ws://fake", Channels: channels}
	m := New(cfg, factory, Tunables{}, zap.NewNop())
	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond) // let onConnected install subscriptions
	t.Cleanup(m.Stop)
	return m, conn
}

// S1 teleop happy path.
func TestTeleopHappyPathClampsAndWatchdogFires(t *testing.T) {
	m, conn := newTestManager(t, defaultChannels())

	ok, err := m.HandleCommand("teleop", map[string]any{
		"linear":  map[string]any{"x": 0.3},
		"angular": map[string]any{"z": 1.5},
	})
	if !ok || err != nil {
		t.Fatalf("HandleCommand = (%v, %v), want (true, nil)", ok, err)
	}

	last := lastPublished(t, conn)
	if lin := linearX(last.Payload); lin != 0.3 {
		t.Fatalf("linear.x = %v, want 0.3", lin)
	}
	if ang := angularZ(last.Payload); ang != 0.8 {
		t.Fatalf("angular.z = %v, want 0.8 (clamped)", ang)
	}

	time.Sleep(850 * time.Millisecond)
	last = lastPublished(t, conn)
	if linearX(last.Payload) != 0 || angularZ(last.Payload) != 0 {
		t.Fatalf("expected a zero twist after watchdog idle, got %+v", last.Payload)
	}
}

func TestTeleopRejectsMalformedPayload(t *testing.T) {
	m, _ := newTestManager(t, defaultChannels())
	if ok, err := m.HandleCommand("teleop", map[string]any{"linear": map[string]any{"x": 1}}); ok || err == nil {
		t.Fatalf("expected rejection of a payload missing angular, got (%v, %v)", ok, err)
	}
}

func TestHandleCommandRejectsUnknownChannel(t *testing.T) {
	m, _ := newTestManager(t, defaultChannels())
	if ok, err := m.HandleCommand("nope", map[string]any{}); ok || err == nil {
		t.Fatalf("expected rejection of unknown channel, got (%v, %v)", ok, err)
	}
}

func TestHandleCommandRejectsNonPublishChannel(t *testing.T) {
	m, _ := newTestManager(t, defaultChannels())
	if ok, err := m.HandleCommand("odom", map[string]any{}); ok || err == nil {
		t.Fatalf("expected rejection of subscribe-only channel, got (%v, %v)", ok, err)
	}
}

// S2 pose hysteresis.
func TestPoseHysteresisSuppressesBelowEps(t *testing.T) {
	m, _ := newTestManager(t, defaultChannels())

	var seen []geometry.Pose2D
	events, unsub := m.Events()
	defer unsub()
	go func() {
		for ev := range events {
			if ev.Kind == EventChannelData && ev.Channel == "pose" {
				data := ev.Data.(map[string]any)
				seen = append(seen, geometry.Pose2D{X: data["x"].(float64), Y: data["y"].(float64), Yaw: data["yaw"].(float64)})
			}
		}
	}()

	stamp1 := int64(1000)
	m.mu.Lock()
	m.transforms.mapToBase = &geometry.Pose2D{X: 1, Y: 1, Yaw: 0, StampMs: &stamp1}
	m.mu.Unlock()
	m.attemptPoseSelection(&stamp1)

	// identical feed again: suppressed
	m.attemptPoseSelection(&stamp1)

	stamp2 := int64(1050)
	m.mu.Lock()
	m.transforms.mapToBase = &geometry.Pose2D{X: 1.01, Y: 1, Yaw: 0, StampMs: &stamp2}
	m.mu.Unlock()
	m.attemptPoseSelection(&stamp2)

	time.Sleep(20 * time.Millisecond)
	if len(seen) != 2 {
		t.Fatalf("got %d pose emissions, want 2 (first + delta above eps)", len(seen))
	}
}

// S3 laser transform.
func TestLaserTransformProjectsToMapFrame(t *testing.T) {
	m, _ := newTestManager(t, defaultChannels())

	mapToOdom := geometry.Pose2D{X: 0, Y: 0, Yaw: math.Pi / 2}
	odomStamp := int64(1000)
	odomPose := geometry.Pose2D{X: 1, Y: 0, Yaw: 0, StampMs: &odomStamp}

	m.mu.Lock()
	m.transforms.mapToOdom = &mapToOdom
	m.odomPose = &odomPose
	m.mu.Unlock()

	stamp := int64(1000)
	env := adapter.Envelope{Topic: "/scan", MsgType: "sensor_msgs/msg/LaserScan", Payload: map[string]any{
		"header":          map[string]any{"stamp": map[string]any{"sec": 1, "nanosec": 0}},
		"angle_min":       0.0,
		"angle_increment": 0.1,
		"range_min":       0.0,
		"range_max":       10.0,
		"ranges":          []any{1.0},
	}}
	_ = stamp

	data, ok := m.handleLaser(env)
	if !ok {
		t.Fatalf("handleLaser returned ok=false")
	}
	sanitized := data.(map[string]any)
	points := sanitized["points"].([]map[string]any)
	if len(points) != 1 {
		t.Fatalf("got %d points, want 1", len(points))
	}
	x, y := points[0]["x"].(float64), points[0]["y"].(float64)
	if math.Abs(x-0) > 1e-9 || math.Abs(y-2.12) > 1e-9 {
		t.Fatalf("point = (%v, %v), want (0, 2.12)", x, y)
	}
}

// P4 AMCL suppression.
func TestAMCLSuppressesSmallDeltas(t *testing.T) {
	m, _ := newTestManager(t, defaultChannels())

	first := amclEnvelope(0, 0, 0)
	if _, ok := m.handleAMCL(first); !ok {
		t.Fatalf("first AMCL message should not be suppressed")
	}
	if m.mapPose == nil || m.mapPose.X != 0 {
		t.Fatalf("mapPose not cached after first message")
	}

	small := amclEnvelope(0.01, 0, 0.01)
	if _, ok := m.handleAMCL(small); ok {
		t.Fatalf("small delta should be suppressed")
	}
	if m.mapPose.X != 0 {
		t.Fatalf("mapPose must not change on a suppressed update")
	}

	large := amclEnvelope(0.1, 0, 0)
	if _, ok := m.handleAMCL(large); !ok {
		t.Fatalf("delta above threshold should not be suppressed")
	}
	if m.mapPose.X != 0.1 {
		t.Fatalf("mapPose should update on a non-suppressed message")
	}
}

func amclEnvelope(x, y, yaw float64) adapter.Envelope {
	return adapter.Envelope{Topic: "/amcl_pose", MsgType: "geometry_msgs/msg/PoseWithCovarianceStamped", Payload: map[string]any{
		"pose": map[string]any{
			"pose": map[string]any{
				"position":    map[string]any{"x": x, "y": y, "z": 0.0},
				"orientation": map[string]any{"x": 0.0, "y": 0.0, "z": math.Sin(yaw / 2), "w": math.Cos(yaw / 2)},
			},
		},
	}}
}

func lastPublished(t *testing.T, conn *mock.FakeConnection) mock.PublishedMessage {
	t.Helper()
	msgs := conn.Snapshot()
	if len(msgs) == 0 {
		t.Fatalf("no messages published")
	}
	return msgs[len(msgs)-1]
}

func linearX(payload map[string]any) float64 {
	lin, _ := payload["linear"].(map[string]any)
	v, _ := lin["x"].(float64)
	return v
}

func angularZ(payload map[string]any) float64 {
	ang, _ := payload["angular"].(map[string]any)
	v, _ := ang["z"].(float64)
	return v
}
