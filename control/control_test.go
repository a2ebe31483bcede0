// ════════════════════════════════════════════════════════════════════════════════════════════════
// 🧪 TEST SUITE: WORKER CONTROL SWITCH
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Covers stop/hot flag transitions, cooldown expiry and park/wake behaviour
// including concurrent signalling.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package control

import (
	"sync"
	"testing"
	"time"
)

// ============================================================================
// UNIT TESTS - STATE
// ============================================================================

func TestSwitch_InitialState(t *testing.T) {
	s := NewSwitch(time.Second)
	if s.Stopping() {
		t.Error("new switch should not be stopping")
	}
	if s.Hot() {
		t.Error("new switch should not be hot")
	}
}

func TestSwitch_ShutdownIdempotent(t *testing.T) {
	s := NewSwitch(time.Second)
	s.Shutdown()
	s.Shutdown()
	if !s.Stopping() {
		t.Fatal("Stopping() = false after Shutdown")
	}
}

func TestSwitch_ZeroValueUsable(t *testing.T) {
	var s Switch
	s.SignalActivity()
	s.Shutdown()
	if !s.Stopping() || !s.Hot() {
		t.Fatal("zero-value switch lost state")
	}
	if s.Wake() != nil {
		t.Error("zero-value switch should have no wake channel")
	}
}

// ============================================================================
// UNIT TESTS - COOLDOWN
// ============================================================================

func TestSwitch_CooldownExpires(t *testing.T) {
	s := NewSwitch(5 * time.Millisecond)
	s.SignalActivity()

	s.PollCooldown()
	if !s.Hot() {
		t.Fatal("hot cleared before cooldown elapsed")
	}

	time.Sleep(10 * time.Millisecond)
	s.PollCooldown()
	if s.Hot() {
		t.Error("hot still set after cooldown elapsed")
	}
}

func TestSwitch_ActivityRefreshesCooldown(t *testing.T) {
	s := NewSwitch(20 * time.Millisecond)
	s.SignalActivity()
	time.Sleep(10 * time.Millisecond)
	s.SignalActivity()
	time.Sleep(12 * time.Millisecond)

	s.PollCooldown()
	if !s.Hot() {
		t.Error("second activity did not refresh cooldown")
	}
}

// ============================================================================
// UNIT TESTS - PARKING
// ============================================================================

func TestSwitch_ParkWokenBySignal(t *testing.T) {
	s := NewSwitch(time.Second)
	done := make(chan struct{})
	go func() {
		s.Park(time.Minute)
		close(done)
	}()

	s.SignalActivity()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Park not woken by SignalActivity")
	}
}

func TestSwitch_ParkReturnsWhenStopping(t *testing.T) {
	s := NewSwitch(time.Second)
	s.Shutdown()

	start := time.Now()
	s.Park(time.Minute)
	if time.Since(start) > 100*time.Millisecond {
		t.Error("Park blocked on a stopped switch")
	}
}

func TestSwitch_ParkTimesOut(t *testing.T) {
	s := NewSwitch(time.Second)
	start := time.Now()
	s.Park(5 * time.Millisecond)
	if time.Since(start) < 5*time.Millisecond {
		t.Error("Park returned before timeout without a nudge")
	}
}

// ============================================================================
// CONCURRENCY
// ============================================================================

func TestSwitch_ConcurrentSignals(t *testing.T) {
	s := NewSwitch(time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				s.SignalActivity()
				s.PollCooldown()
			}
		}()
	}
	wg.Wait()
	s.Shutdown()

	if !s.Hot() || !s.Stopping() {
		t.Error("flags lost under concurrent signalling")
	}
}
