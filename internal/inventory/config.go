package inventory

import (
	"fmt"

	"github.com/robot-ai-webapp/telemetry-gateway/internal/adapter"
)

var defaultChannels = []adapter.ChannelConfig{
	{Name: "odom", Topic: "/odom", MsgType: "nav_msgs/msg/Odometry", Direction: adapter.DirectionSubscribe, RateLimitHz: 2},
	{Name: "laser", Topic: "/scan", MsgType: "sensor_msgs/msg/LaserScan", Direction: adapter.DirectionSubscribe, RateLimitHz: 1},
	{Name: "waypoints", Topic: "/plan", MsgType: "nav_msgs/msg/Path", Direction: adapter.DirectionSubscribe, RateLimitHz: 2},
	{Name: "teleop", Topic: "/cmd_vel", MsgType: "geometry_msgs/msg/Twist", Direction: adapter.DirectionPublish},
}

// rateLimitOverrides are applied after alias normalization regardless
// of what the inventory record specified (spec.md §6).
var rateLimitOverrides = map[string]float64{
	"odom":  2,
	"laser": 1,
}

// BuildRobotConfig turns one inventory Record into the canonical
// adapter.RobotConfig the Fleet Registry compares and hands to a
// Manager. defaultBridgePort/defaultMappingPort/mappingEnabled are the
// process-wide fallbacks (ROS_BRIDGE_PORT / ROS_MAPPING_BRIDGE_PORT);
// a Record may override either per-robot.
func BuildRobotConfig(rec Record, defaultBridgePort, defaultMappingPort int, mappingEnabled bool) (adapter.RobotConfig, bool) {
	if rec.IPAddress == "" {
		return adapter.RobotConfig{}, false
	}

	bridgePort := rec.BridgePort
	if bridgePort == 0 {
		bridgePort = defaultBridgePort
	}
	bridgeURL := fmt.Sprintf("ws://%s:%d", rec.IPAddress, bridgePort)

	connections := []adapter.ConnectionConfig{{ID: "default", URL: bridgeURL}}

	mappingPort := rec.MappingBridgePort
	if mappingPort == 0 {
		mappingPort = defaultMappingPort
	}
	if mappingPort > 0 && (mappingEnabled || rec.MappingBridgePort > 0) {
		connections = append(connections, adapter.ConnectionConfig{
			ID:  "mapping",
			URL: fmt.Sprintf("ws://%s:%d", rec.IPAddress, mappingPort),
		})
	}

	channels := buildChannels(rec.Channels)

	cfg := adapter.RobotConfig{
		ID:           rec.ID,
		BridgeURL:    bridgeURL,
		Connections:  connections,
		Channels:     channels,
		LaserOffset:  rec.LaserOffset,
		TeleopLimits: rec.TeleopLimits,
	}
	return cfg, true
}

func buildChannels(records []ChannelRecord) []adapter.ChannelConfig {
	var channels []adapter.ChannelConfig
	if len(records) == 0 {
		channels = make([]adapter.ChannelConfig, len(defaultChannels))
		copy(channels, defaultChannels)
	} else {
		channels = make([]adapter.ChannelConfig, 0, len(records))
		for _, r := range records {
			channels = append(channels, adapter.ChannelConfig{
				Name:        r.Name,
				Topic:       r.Topic,
				MsgType:     adapter.NormalizeMsgType(r.MsgType),
				Direction:   adapter.Direction(r.Direction),
				RateLimitHz: r.RateLimitHz,
			})
		}
	}

	for i := range channels {
		channels[i].MsgType = adapter.NormalizeMsgType(channels[i].MsgType)
		if hz, ok := rateLimitOverrides[channels[i].Name]; ok {
			channels[i].RateLimitHz = hz
		}
	}
	return channels
}
