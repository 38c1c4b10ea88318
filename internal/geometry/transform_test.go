package geometry

import (
	"math"
	"testing"
)

func ms(v int64) *int64 { return &v }

func TestCombineInvertIsIdentity(t *testing.T) {
	tf := Pose2D{X: 1.25, Y: -0.4, Yaw: 0.77}
	identity := Combine(Invert(tf), tf)
	if math.Abs(identity.X) > 1e-9 || math.Abs(identity.Y) > 1e-9 || math.Abs(identity.Yaw) > 1e-9 {
		t.Fatalf("combine(invert(t), t) = %+v, want ~identity", identity)
	}
}

func TestLaserTransformScenario(t *testing.T) {
	// S3: mapToOdom = {0,0,pi/2}, odomPose = {1,0,0}, laserOffset = {0.12,0,0},
	// a range reading of 1m at angle 0 should land at map point (0, 2.12).
	mapToOdom := Pose2D{X: 0, Y: 0, Yaw: math.Pi / 2}
	odomPose := Pose2D{X: 1, Y: 0, Yaw: 0}
	laserOffset := Pose2D{X: 0.12, Y: 0, Yaw: 0}
	mapToBase := Combine(mapToOdom, odomPose)
	laserPose := Combine(mapToBase, laserOffset)

	r, theta := 1.0, 0.0
	point := Combine(laserPose, Pose2D{X: r * math.Cos(theta), Y: r * math.Sin(theta)})

	if math.Abs(point.X-0) > 1e-9 || math.Abs(point.Y-2.12) > 1e-9 {
		t.Fatalf("laser point = (%v, %v), want (0, 2.12)", point.X, point.Y)
	}
}

func TestYawFromQuaternion(t *testing.T) {
	want := math.Pi / 4
	qz := math.Sin(want / 2)
	qw := math.Cos(want / 2)
	got := YawFromQuaternion(0, 0, qz, qw)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("yaw = %v, want %v", got, want)
	}
}

func TestIsStale(t *testing.T) {
	cases := []struct {
		name string
		tf   Pose2D
		ref  *int64
		want bool
	}{
		{"zero stamp never stale", Pose2D{StampMs: ms(0)}, ms(100000), false},
		{"nil stamp never stale", Pose2D{}, ms(100000), false},
		{"within bound", Pose2D{StampMs: ms(1000)}, ms(1000 + StaleMsDefault), false},
		{"just over bound", Pose2D{StampMs: ms(1000)}, ms(1000 + StaleMsDefault + 1), true},
		{"no reference", Pose2D{StampMs: ms(1000)}, nil, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsStale(c.tf, c.ref); got != c.want {
				t.Fatalf("IsStale = %v, want %v", got, c.want)
			}
		})
	}
}
