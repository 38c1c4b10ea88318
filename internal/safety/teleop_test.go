package safety

import (
	"math"
	"testing"
)

func TestClampTeleopWithinLimits(t *testing.T) {
	limits := TeleopLimits{MaxLinear: 0.5, MaxAngular: 0.8}
	twist := ClampTeleop(0.3, 1.5, limits)
	if twist.LinearX != 0.3 {
		t.Fatalf("linear.x = %v, want 0.3 (within limit, unchanged)", twist.LinearX)
	}
	if twist.AngularZ != 0.8 {
		t.Fatalf("angular.z = %v, want 0.8 (clamped from 1.5)", twist.AngularZ)
	}
}

func TestClampTeleopNegativeBound(t *testing.T) {
	limits := TeleopLimits{MaxLinear: 0.5, MaxAngular: 0.8}
	twist := ClampTeleop(-10, -10, limits)
	if twist.LinearX != -0.5 || twist.AngularZ != -0.8 {
		t.Fatalf("got %+v, want clamped to -maxLinear/-maxAngular", twist)
	}
}

func TestClampTeleopNonFiniteBecomesZero(t *testing.T) {
	limits := TeleopLimits{MaxLinear: 0.5, MaxAngular: 0.8}
	twist := ClampTeleop(math.NaN(), math.Inf(1), limits)
	if twist.LinearX != 0 || twist.AngularZ != 0 {
		t.Fatalf("got %+v, want {0,0} for non-finite input", twist)
	}
}

// P5: every twist produced is within bounds and every non-linear.x/
// angular.z component is exactly zero by construction (Twist only has
// those two fields).
func TestClampTeleopAlwaysWithinBounds(t *testing.T) {
	limits := TeleopLimits{MaxLinear: 0.5, MaxAngular: 0.8}
	inputs := []float64{-100, -1, -0.1, 0, 0.1, 1, 100}
	for _, lx := range inputs {
		for _, az := range inputs {
			tw := ClampTeleop(lx, az, limits)
			if math.Abs(tw.LinearX) > limits.MaxLinear+1e-9 {
				t.Fatalf("linear.x %v exceeds maxLinear for input %v", tw.LinearX, lx)
			}
			if math.Abs(tw.AngularZ) > limits.MaxAngular+1e-9 {
				t.Fatalf("angular.z %v exceeds maxAngular for input %v", tw.AngularZ, az)
			}
		}
	}
}
