// control.go - Stop and activity signalling for pinned litmus workers
// ============================================================================
// WORKER CONTROL
// ============================================================================
//
// A Switch carries the two flags a pinned worker polls in its loop:
//   • stop: set once by the scenario to terminate the worker
//   • hot:  set by producers (grace-period requests, callback pushes) so
//           the worker keeps polling instead of parking
//
// Activity cools down automatically: PollCooldown clears hot once the
// configured window has passed without a new SignalActivity.
//
// Each scenario owns its switches; nothing here is process-global, so
// repeated runs in one process never observe each other's flags.

package control

import (
	"sync/atomic"
	"time"
)

// Switch is the stop/activity pair shared between a worker and the code
// that feeds it. The zero value is running and idle with no cooldown.
type Switch struct {
	stop     atomic.Uint32
	hot      atomic.Uint32
	lastHot  atomic.Int64
	cooldown int64
	wake     chan struct{}
}

// NewSwitch returns a running, idle switch whose activity expires after
// cooldown.
func NewSwitch(cooldown time.Duration) *Switch {
	return &Switch{cooldown: int64(cooldown), wake: make(chan struct{}, 1)}
}

// ============================================================================
// ACTIVITY SIGNALING
// ============================================================================

// SignalActivity marks the worker hot and nudges it if it is parked.
// Safe for concurrent callers.
func (s *Switch) SignalActivity() {
	s.lastHot.Store(time.Now().UnixNano())
	s.hot.Store(1)
	s.nudge()
}

// PollCooldown clears the hot flag once the cooldown has elapsed since
// the last activity. Called from the worker's own loop.
func (s *Switch) PollCooldown() {
	if s.hot.Load() == 1 && time.Now().UnixNano()-s.lastHot.Load() > s.cooldown {
		s.hot.Store(0)
	}
}

// Hot reports whether activity was signalled within the cooldown.
func (s *Switch) Hot() bool { return s.hot.Load() == 1 }

// ============================================================================
// SHUTDOWN
// ============================================================================

// Shutdown requests termination. Idempotent.
func (s *Switch) Shutdown() {
	s.stop.Store(1)
	s.nudge()
}

// Stopping reports whether Shutdown has been called.
func (s *Switch) Stopping() bool { return s.stop.Load() != 0 }

// ============================================================================
// PARKING
// ============================================================================

// Wake returns the channel a parked worker selects on. It receives after
// SignalActivity or Shutdown.
func (s *Switch) Wake() <-chan struct{} {
	if s.wake == nil {
		return nil
	}
	return s.wake
}

// Park blocks until the switch is nudged or d elapses.
func (s *Switch) Park(d time.Duration) {
	if s.Stopping() {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.Wake():
	case <-t.C:
	}
}

func (s *Switch) nudge() {
	if s.wake == nil {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
