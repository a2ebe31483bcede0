// ════════════════════════════════════════════════════════════════════════════════════════════════
// Scheduling Adapter
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Logical-CPU occupancy and preemption-injection points
//
// Description:
//   Lets a host goroutine act as a logical CPU. A Thread owns its CPU while
//   it runs and gives it up only at explicit points (Yield, Block,
//   Release), so threads sharing a CPU interleave exactly there.
//
// Engine integration:
//   - Occupying a CPU is an idle-exit; giving it up is an idle-enter.
//   - Yield is a voluntary context switch.
//   - Interrupt simulates an interrupt arriving on the CPU.
//   All four reach the engine through Hooks.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sched

import (
	"errors"
	"runtime"
	"strconv"
	"sync/atomic"

	"rculitmus/constants"
	"rculitmus/debug"
	"rculitmus/topology"
)

// Hooks receives the per-CPU transitions the adapter injects. The RCU
// engine implements it to keep its quiescent-state accounting current.
type Hooks interface {
	IdleEnter(cpu int)
	IdleExit(cpu int)
	ContextSwitch(cpu int)
	Interrupt(cpu int)
}

// NopHooks ignores every transition.
type NopHooks struct{}

func (NopHooks) IdleEnter(int)     {}
func (NopHooks) IdleExit(int)      {}
func (NopHooks) ContextSwitch(int) {}
func (NopHooks) Interrupt(int)     {}

type hookBox struct{ Hooks }

// Adapter hands out Threads for the CPUs of one topology.
type Adapter struct {
	topo  *topology.Table
	hooks atomic.Pointer[hookBox]
	pin   bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHostPinning pins each Thread's OS thread to a host core derived from
// its logical CPU.
func WithHostPinning(on bool) Option {
	return func(a *Adapter) { a.pin = on }
}

// NewAdapter returns an adapter over topo with no-op hooks.
func NewAdapter(topo *topology.Table, opts ...Option) *Adapter {
	a := &Adapter{topo: topo}
	a.hooks.Store(&hookBox{NopHooks{}})
	for _, o := range opts {
		o(a)
	}
	return a
}

// SetHooks installs the engine's hooks. Must happen before threads start.
func (a *Adapter) SetHooks(h Hooks) {
	if h == nil {
		h = NopHooks{}
	}
	a.hooks.Store(&hookBox{h})
}

// Topology returns the table the adapter binds against.
func (a *Adapter) Topology() *topology.Table { return a.topo }

func (a *Adapter) h() Hooks { return a.hooks.Load().Hooks }

// ============================================================================
// BINDING
// ============================================================================

// Bind makes the calling goroutine logical CPU cpu, waiting while another
// thread occupies it. Unknown CPUs fail immediately. The goroutine stays
// locked to its OS thread until Release.
func (a *Adapter) Bind(cpu int, name string) (*Thread, error) {
	var (
		b    *topology.Binding
		err  error
		miss int
	)
	for {
		b, err = a.topo.Bind(cpu, name)
		if err == nil {
			break
		}
		if !errors.Is(err, topology.ErrAlreadyBound) {
			return nil, err
		}
		miss = backoff(miss)
	}

	runtime.LockOSThread()
	if a.pin {
		if perr := setAffinity(HostCore(cpu)); perr != nil {
			debug.DropError("host pin "+name+" cpu "+strconv.Itoa(cpu), perr)
		}
	}
	a.h().IdleExit(cpu)
	return &Thread{a: a, b: b, cpu: cpu, name: name}, nil
}

// ForceIdle drives cpu through one idle-enter on behalf of the setup code.
// The CPU must be free.
func (a *Adapter) ForceIdle(cpu int) error {
	b, err := a.topo.Claim(cpu, "init")
	if err != nil {
		return err
	}
	a.h().IdleEnter(cpu)
	b.Release()
	return nil
}

// backoff spins with PAUSE up to the spin budget, then yields the host
// scheduler and starts over.
func backoff(miss int) int {
	if miss++; miss >= constants.SpinBudget {
		runtime.Gosched()
		return 0
	}
	cpuRelax()
	return miss
}

// ============================================================================
// THREAD
// ============================================================================

// Thread is a goroutine currently acting as one logical CPU. Its methods
// must be called from that goroutine.
type Thread struct {
	a    *Adapter
	b    *topology.Binding
	cpu  int
	name string
}

// CPU returns the logical CPU the thread represents.
func (t *Thread) CPU() int { return t.cpu }

// Name returns the label the thread was bound with.
func (t *Thread) Name() string { return t.name }

// Yield is a voluntary reschedule: the engine sees a context switch, then
// the CPU is offered to any waiting thread before this one resumes.
func (t *Thread) Yield() {
	t.a.h().ContextSwitch(t.cpu)
	t.suspend()
	runtime.Gosched()
	t.resume()
}

// Interrupt simulates an interrupt arriving on the thread's CPU. It does
// not switch threads.
func (t *Thread) Interrupt() { t.a.h().Interrupt(t.cpu) }

// IdleEnter reports an idle-enter transition without giving the CPU up.
func (t *Thread) IdleEnter() { t.a.h().IdleEnter(t.cpu) }

// IdleExit reports the matching idle-exit.
func (t *Thread) IdleExit() { t.a.h().IdleExit(t.cpu) }

// Block gives the CPU up for the duration of wait and reclaims it after.
func (t *Thread) Block(wait func()) {
	t.suspend()
	wait()
	t.resume()
}

// Release ends the binding; the CPU goes idle.
func (t *Thread) Release() {
	t.a.h().IdleEnter(t.cpu)
	t.b.Release()
	runtime.UnlockOSThread()
}

func (t *Thread) suspend() {
	t.a.h().IdleEnter(t.cpu)
	t.b.Suspend()
}

func (t *Thread) resume() {
	miss := 0
	for {
		err := t.b.Resume()
		if err == nil {
			break
		}
		miss = backoff(miss)
	}
	t.a.h().IdleExit(t.cpu)
}
