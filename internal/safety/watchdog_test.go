package safety

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWatchdogFiresOnceAfterIdle(t *testing.T) {
	var fired int32
	wd := NewWatchdog(30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	defer wd.Stop()

	wd.Kick()
	time.Sleep(80 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("fired %d times, want exactly 1", got)
	}

	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("fired %d times after extra idle time, want still 1", got)
	}
}

func TestWatchdogReKickDelaysFire(t *testing.T) {
	var fired int32
	wd := NewWatchdog(40*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	defer wd.Stop()

	wd.Kick()
	time.Sleep(20 * time.Millisecond)
	wd.Kick() // re-arm before the first window elapses
	time.Sleep(20 * time.Millisecond)

	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("fired %d times before idle window elapsed, want 0", got)
	}

	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Fatalf("fired %d times, want exactly 1", got)
	}
}

func TestWatchdogStopPreventsFire(t *testing.T) {
	var fired int32
	wd := NewWatchdog(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	wd.Kick()
	wd.Stop()

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("fired %d times after Stop, want 0", got)
	}

	wd.Kick() // Kick after Stop must stay inert
	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt32(&fired); got != 0 {
		t.Fatalf("fired %d times after Kick post-Stop, want 0", got)
	}
}
