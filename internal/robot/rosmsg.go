package robot

import "github.com/robot-ai-webapp/telemetry-gateway/internal/geometry"

// Parsing helpers for the loosely-typed JSON payloads a rosbridge-style
// pub/sub bridge sends upstream. Every lookup degrades to "not present"
// rather than panicking: a malformed upstream message should drop that
// one update, never take the Manager down (§7, Transport/External
// errors never fatal).

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func nested(m map[string]any, keys ...string) (map[string]any, bool) {
	cur := m
	for _, k := range keys {
		next, ok := asMap(cur[k])
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func getFloat(m map[string]any, key string) float64 {
	f, _ := asFloat(m[key])
	return f
}

// headerStampMs extracts header.stamp.{sec,nanosec} as epoch
// milliseconds. Returns nil when absent.
func headerStampMs(payload map[string]any) *int64 {
	header, ok := asMap(payload["header"])
	if !ok {
		return nil
	}
	stamp, ok := asMap(header["stamp"])
	if !ok {
		return nil
	}
	sec, secOK := asFloat(stamp["sec"])
	nsec, _ := asFloat(stamp["nanosec"])
	if !secOK {
		return nil
	}
	ms := int64(sec*1000 + nsec/1e6)
	return &ms
}

// poseAt reads a geometry_msgs/Pose located at payload[path...] into a
// Pose2D (yaw recovered from the orientation quaternion, z/roll/pitch
// dropped since the gateway only reasons in 2D).
func poseAt(payload map[string]any, path ...string) (geometry.Pose2D, bool) {
	poseMsg, ok := nested(payload, path...)
	if !ok {
		return geometry.Pose2D{}, false
	}
	position, ok := asMap(poseMsg["position"])
	if !ok {
		return geometry.Pose2D{}, false
	}
	orientation, ok := asMap(poseMsg["orientation"])
	if !ok {
		return geometry.Pose2D{}, false
	}
	yaw := geometry.YawFromQuaternion(
		getFloat(orientation, "x"),
		getFloat(orientation, "y"),
		getFloat(orientation, "z"),
		getFloat(orientation, "w"),
	)
	return geometry.Pose2D{X: getFloat(position, "x"), Y: getFloat(position, "y"), Yaw: yaw}, true
}

// transformAt reads a geometry_msgs/Transform (translation+rotation
// instead of position+orientation) located at payload[path...].
func transformAt(payload map[string]any, path ...string) (geometry.Pose2D, bool) {
	tfMsg, ok := nested(payload, path...)
	if !ok {
		return geometry.Pose2D{}, false
	}
	translation, ok := asMap(tfMsg["translation"])
	if !ok {
		return geometry.Pose2D{}, false
	}
	rotation, ok := asMap(tfMsg["rotation"])
	if !ok {
		return geometry.Pose2D{}, false
	}
	yaw := geometry.YawFromQuaternion(
		getFloat(rotation, "x"),
		getFloat(rotation, "y"),
		getFloat(rotation, "z"),
		getFloat(rotation, "w"),
	)
	return geometry.Pose2D{X: getFloat(translation, "x"), Y: getFloat(translation, "y"), Yaw: yaw}, true
}

type laserScan struct {
	angleMin       float64
	angleIncrement float64
	rangeMin       float64
	rangeMax       float64
	ranges         []float64
	stampMs        *int64
}

func parseLaserScan(payload map[string]any) (laserScan, bool) {
	rangesAny, ok := payload["ranges"].([]any)
	if !ok {
		return laserScan{}, false
	}
	ranges := make([]float64, len(rangesAny))
	for i, v := range rangesAny {
		f, _ := asFloat(v)
		ranges[i] = f
	}
	return laserScan{
		angleMin:       getFloat(payload, "angle_min"),
		angleIncrement: getFloat(payload, "angle_increment"),
		rangeMin:       getFloat(payload, "range_min"),
		rangeMax:       getFloat(payload, "range_max"),
		ranges:         ranges,
		stampMs:        headerStampMs(payload),
	}, true
}
