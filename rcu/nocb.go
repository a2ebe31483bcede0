// ════════════════════════════════════════════════════════════════════════════════════════════════
// Callback Offload (NOCB)
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Per-CPU offload workers for ready callbacks
//
// Description:
//   Ready callbacks of an offloaded CPU travel from the coordinator to that
//   CPU's worker through a per-domain SPSC ring. The coordinator wakes the
//   group leader; the leader wakes any follower with callbacks in flight.
//   Every worker drains only its own rings.
//
// Grouping:
//   Offloaded CPUs, in ascending order, form groups of stride CPUs. The
//   first CPU of each group leads it.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package rcu

import (
	"fmt"
	"strconv"

	"rculitmus/constants"
	"rculitmus/control"
	"rculitmus/debug"
	"rculitmus/sched"
)

// offload pushes cpu's pending ready callbacks into its ring and wakes the
// worker group. Coordinator only.
func (e *Tree) offload(d *domain, cpu int) bool {
	dc := d.cpus[cpu]
	dc.mu.Lock()
	pending := dc.overflow
	dc.overflow = nil
	dc.mu.Unlock()

	pushed := 0
	for pushed < len(pending) && dc.rcv.Push(pending[pushed]) {
		pushed++
	}
	if pushed > 0 {
		dc.inRing.Add(int64(pushed))
		e.stats.offloaded.Add(uint64(pushed))
		e.wakeGroup(cpu)
	}
	if pushed == len(pending) {
		return false
	}

	dc.mu.Lock()
	dc.overflow = append(pending[pushed:len(pending):len(pending)], dc.overflow...)
	dc.mu.Unlock()
	debug.DropTrace("NOCB", "ring full on cpu "+strconv.Itoa(cpu)+", "+
		strconv.Itoa(len(pending)-pushed)+" deferred")
	return true
}

// flushOverflow retries callbacks a full ring turned away. It reports
// whether any are still waiting.
func (e *Tree) flushOverflow(d *domain) bool {
	left := false
	for cpu, dc := range d.cpus {
		if dc.rcv == nil {
			continue
		}
		dc.mu.Lock()
		n := len(dc.overflow)
		dc.mu.Unlock()
		if n > 0 && e.offload(d, cpu) {
			left = true
		}
	}
	return left
}

// wakeGroup signals the leader of cpu's group, or cpu's own worker when
// the leader has none.
func (e *Tree) wakeGroup(cpu int) {
	e.mu.Lock()
	leader := e.leaderOf[cpu]
	e.mu.Unlock()

	if leader >= 0 {
		if w := e.nocbWorkers[leader].Load(); w != nil {
			w.Switch().SignalActivity()
			return
		}
	}
	if w := e.nocbWorkers[cpu].Load(); w != nil {
		w.Switch().SignalActivity()
	}
}

// SpawnNocbWorker implements Engine.
func (e *Tree) SpawnNocbWorker(cpu int) (*sched.Worker, error) {
	if cpu < 0 || cpu >= len(e.cpus) {
		return nil, fmt.Errorf("%w: cpu %d", ErrNotNocb, cpu)
	}
	e.mu.Lock()
	tickless, on := e.tickless, e.nocb[cpu]
	e.mu.Unlock()
	if !tickless {
		return nil, fmt.Errorf("%w: nocb worker before tickless init", ErrInitOrder)
	}
	if !on {
		return nil, fmt.Errorf("%w: cpu %d", ErrNotNocb, cpu)
	}
	if e.nocbWorkers[cpu].Load() != nil {
		return nil, fmt.Errorf("%w: nocb worker cpu %d", ErrAlreadyInitialized, cpu)
	}

	w, err := e.adapter.Spawn(cpu, "rcuo/"+strconv.Itoa(cpu), func(t *sched.Thread, sw *control.Switch) {
		e.offloadLoop(t, sw)
	})
	if err != nil {
		return nil, err
	}
	e.nocbWorkers[cpu].Store(w)
	return w, nil
}

func (e *Tree) offloadLoop(t *sched.Thread, sw *control.Switch) {
	cpu := t.CPU()
	e.mu.Lock()
	followers := append([]int(nil), e.followers[cpu]...)
	e.mu.Unlock()

	for !sw.Stopping() {
		for _, f := range followers {
			if e.ringPending(f) {
				if w := e.nocbWorkers[f].Load(); w != nil {
					w.Switch().SignalActivity()
				}
			}
		}

		if e.drain(cpu) > 0 {
			sw.SignalActivity()
		}

		park := constants.IdlePark
		if sw.Hot() {
			park = constants.FQSInterval
		}
		t.Block(func() { sw.Park(park) })
		sw.PollCooldown()
	}
}

func (e *Tree) ringPending(cpu int) bool {
	for _, d := range e.live() {
		if d.cpus[cpu].inRing.Load() > 0 {
			return true
		}
	}
	return false
}

// drain invokes every callback waiting in cpu's rings. Consumer side.
func (e *Tree) drain(cpu int) int {
	total := 0
	for _, d := range e.live() {
		dc := d.cpus[cpu]
		if dc.rcv == nil {
			continue
		}
		n := dc.rcv.Drain(func(cb *callback) {
			dc.inRing.Add(-1)
			e.stats.invoked.Add(1)
			cb.fn()
		})
		total += n
	}
	return total
}

// Stats implements Engine.
func (e *Tree) Stats() Stats {
	e.mu.Lock()
	stride, computed := e.stride, e.strideComputed
	e.mu.Unlock()
	return Stats{
		GracePeriods:       e.stats.gps.Load(),
		QSReports:          e.stats.qs.Load(),
		CallbacksQueued:    e.stats.queued.Load(),
		CallbacksInvoked:   e.stats.invoked.Load(),
		CallbacksOffloaded: e.stats.offloaded.Load(),
		LeaderStride:       stride,
		StrideComputed:     computed,
	}
}
