package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter/mock"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/protocol"
	"github.com/robot-ai-webapp/telemetry-gateway/internal/robot"
)

type fakeRegistry struct {
	managers map[string]*robot.Manager
}

func (r *fakeRegistry) Get(robotID string) (*robot.Manager, bool) {
	m, ok := r.managers[robotID]
	return m, ok
}

func dialWS(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	return conn
}

// S5: a client opening the socket for a robot the Fleet Registry
// doesn't know about gets exactly one error frame, then the socket
// closes.
func TestUnknownRobotGetsErrorFrameAndCloses(t *testing.T) {
	reg := &fakeRegistry{managers: map[string]*robot.Manager{}}
	srv := New(reg, 600, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialWS(t, ts, "/ws/robots/ghost")
	defer conn.Close()

	var frame protocol.ErrorFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame.Type != protocol.FrameError {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
	if frame.Message != "Unknown robot: ghost" {
		t.Fatalf("message = %q, want Unknown robot: ghost", frame.Message)
	}

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected the socket to close after the single error frame")
	}
}

func TestKnownRobotAcceptsTeleopCommand(t *testing.T) {
	var conn *mock.FakeConnection
	factory := adapter.Factory(func(url string) adapter.BridgeConnection {
		conn = mock.NewFakeConnection()
		return conn
	})
	cfg := adapter.RobotConfig{
		ID:        "r1",
		BridgeURL: "ws://fake",
		Channels: []adapter.ChannelConfig{
			{Name: "teleop", Topic: "/cmd_vel", MsgType: "geometry_msgs/msg/Twist", Direction: adapter.DirectionPublish},
		},
	}
	mgr := robot.New(cfg, factory, robot.Tunables{}, zap.NewNop())
	defer mgr.Stop()

	reg := &fakeRegistry{managers: map[string]*robot.Manager{"r1": mgr}}
	srv := New(reg, 600, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := dialWS(t, ts, "/ws/robots/r1")
	defer client.Close()

	cmd := map[string]any{
		"type":    "command",
		"channel": "teleop",
		"data":    map[string]any{"linear": map[string]any{"x": 0.2}, "angular": map[string]any{"z": 0.1}},
	}
	if err := client.WriteJSON(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(conn.Snapshot()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	msgs := conn.Snapshot()
	if len(msgs) == 0 {
		t.Fatalf("expected the teleop command to reach the Bridge Connection")
	}
	if msgs[0].Topic != "/cmd_vel" {
		t.Fatalf("published topic = %q, want /cmd_vel", msgs[0].Topic)
	}
}

func TestUnsupportedRequestChannelIsRejected(t *testing.T) {
	factory := adapter.Factory(func(url string) adapter.BridgeConnection {
		return mock.NewFakeConnection()
	})
	cfg := adapter.RobotConfig{ID: "r1", BridgeURL: "ws://fake"}
	mgr := robot.New(cfg, factory, robot.Tunables{}, zap.NewNop())
	defer mgr.Stop()

	reg := &fakeRegistry{managers: map[string]*robot.Manager{"r1": mgr}}
	srv := New(reg, 600, zap.NewNop())
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	client := dialWS(t, ts, "/ws/robots/r1")
	defer client.Close()

	if err := client.WriteJSON(map[string]any{"type": "request", "channel": "asset", "requestId": "1"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var frame protocol.ErrorFrame
	if err := client.ReadJSON(&frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame.Message != "asset channel is disabled" {
		t.Fatalf("message = %q, want asset channel is disabled", frame.Message)
	}
}
