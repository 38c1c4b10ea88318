// Package geometry implements the 2D pose algebra the gateway uses to
// project sensor data into the map frame: composing chained transforms,
// inverting them, recovering yaw from a quaternion, and judging whether a
// cached transform has gone stale relative to a reference timestamp.
package geometry

import "math"

// Pose2D is a planar pose (or a relative transform between two frames,
// which is algebraically the same shape). StampMs is nil for values that
// never go stale (static transforms) and set for everything ingested off
// the wire with a ROS-style header stamp.
type Pose2D struct {
	X       float64
	Y       float64
	Yaw     float64
	StampMs *int64
}

// StaleMsDefault is TF_STALE_MS: a non-static transform older than this
// relative to the reference timestamp it's being combined against is
// considered stale.
const StaleMsDefault = 1200

// Combine composes two poses: b expressed in a's frame, into b expressed
// in a's parent frame. a*b in the usual "transform chaining" sense.
func Combine(a, b Pose2D) Pose2D {
	cos, sin := math.Cos(a.Yaw), math.Sin(a.Yaw)
	return Pose2D{
		X:   a.X + cos*b.X - sin*b.Y,
		Y:   a.Y + sin*b.X + cos*b.Y,
		Yaw: a.Yaw + b.Yaw,
	}
}

// Invert returns the pose such that Combine(t, Invert(t)) is the
// identity pose within floating point tolerance.
func Invert(t Pose2D) Pose2D {
	cos, sin := math.Cos(t.Yaw), math.Sin(t.Yaw)
	return Pose2D{
		X:   -cos*t.X - sin*t.Y,
		Y:   sin*t.X - cos*t.Y,
		Yaw: -t.Yaw,
	}
}

// YawFromQuaternion recovers the planar heading from a full orientation
// quaternion, ignoring roll/pitch (the gateway only reasons about 2D
// ground robots).
func YawFromQuaternion(qx, qy, qz, qw float64) float64 {
	return math.Atan2(2*(qw*qz+qx*qy), 1-2*(qy*qy+qz*qz))
}

// IsStale reports whether tf should be treated as out of date given a
// reference timestamp refMs, using the default 1200ms threshold. A
// transform with a nil or zero stamp is a static transform and is never
// stale. A transform is only comparable when both stamps are present.
func IsStale(tf Pose2D, refMs *int64) bool {
	return IsStaleAt(tf, refMs, StaleMsDefault)
}

// IsStaleAt is IsStale with an explicit threshold, for callers driven by
// a configured TF_STALE_MS rather than the package default.
func IsStaleAt(tf Pose2D, refMs *int64, thresholdMs int64) bool {
	if tf.StampMs == nil || *tf.StampMs == 0 {
		return false
	}
	if refMs == nil {
		return true
	}
	delta := *refMs - *tf.StampMs
	if delta < 0 {
		delta = -delta
	}
	return delta > thresholdMs
}

// NearlyEqual reports whether two poses differ by less than eps in both
// position (Euclidean) and yaw — used to suppress redundant pose/AMCL
// emissions.
func NearlyEqual(a, b Pose2D, eps float64) bool {
	dx, dy := a.X-b.X, a.Y-b.Y
	posDelta := math.Sqrt(dx*dx + dy*dy)
	yawDelta := math.Abs(a.Yaw - b.Yaw)
	return posDelta < eps && yawDelta < eps
}
