package safety

import (
	"sync"
	"time"
)

// Watchdog implements the idle timer behind I2: armed on every accepted
// teleop command, it fires fn exactly once if no further command arrives
// within the configured window. Each Kick re-arms the timer, so the
// fire only happens after a genuine idle period — mirroring
// internal/throttle.Throttle's single-pending-timer discipline, but for
// "fire once after silence" instead of "coalesce during activity".
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	window  time.Duration
	fn      func()
	stopped bool
}

// NewWatchdog builds a Watchdog that calls fn after window of no Kick
// calls. It starts disarmed; the first Kick arms it.
func NewWatchdog(window time.Duration, fn func()) *Watchdog {
	return &Watchdog{window: window, fn: fn}
}

// Kick (re)arms the timer, canceling any timer already running.
func (w *Watchdog) Kick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.window, w.fn)
}

// Stop cancels any pending fire and makes the Watchdog inert; subsequent
// Kick calls are no-ops. Safe to call more than once.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
