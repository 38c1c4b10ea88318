// Package throttle implements the latest-value throttle the gateway uses
// to rate-limit high-frequency upstream channels (odom, laser scans)
// before they're transformed and fanned out. The timer bookkeeping here
// is a sync.Mutex-guarded single timer, the same idiom
// internal/safety.Watchdog uses, applied to a per-channel coalescing
// timer.
package throttle

import (
	"sync"
	"time"
)

// Emitter receives the most recent value passed to Push once per quiet
// period has elapsed.
type Emitter func(value any)

// Throttle coalesces Push calls so that Emitter fires at most once every
// period. A value pushed during a quiet period replaces any pending
// value; exactly one timer is ever outstanding. hz <= 0 degrades to a
// passthrough (every Push emits immediately).
type Throttle struct {
	mu      sync.Mutex
	period  time.Duration
	emit    Emitter
	pending any
	armed   bool
	timer   *time.Timer
}

// New builds a Throttle that emits at most every 1000/hz milliseconds.
// hz <= 0 means "no throttling" — every pushed value is emitted inline.
func New(hz float64, emit Emitter) *Throttle {
	var period time.Duration
	if hz > 0 {
		period = time.Duration(1000.0/hz) * time.Millisecond
	}
	return &Throttle{period: period, emit: emit}
}

// Push submits a new value. If the throttle is in its quiet period the
// value is buffered and will be emitted when the period ends; otherwise
// it's emitted immediately and a new quiet period begins.
func (t *Throttle) Push(value any) {
	if t.period <= 0 {
		t.emit(value)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.armed {
		t.pending = value
		return
	}

	t.armed = true
	t.emit(value)
	t.timer = time.AfterFunc(t.period, t.fireTrailing)
}

func (t *Throttle) fireTrailing() {
	t.mu.Lock()
	pending := t.pending
	hadPending := t.pending != nil
	t.pending = nil
	t.armed = false
	t.mu.Unlock()

	if hadPending {
		t.Push(pending)
	}
}

// Stop cancels any pending trailing timer. Safe to call more than once.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.armed = false
	t.pending = nil
}
