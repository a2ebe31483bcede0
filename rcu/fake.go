package rcu

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"rculitmus/constants"
	"rculitmus/control"
	"rculitmus/sched"
	"rculitmus/topology"
)

// fakeCPU tracks one CPU's reader: nesting depth and how many outermost
// critical sections have ended there.
type fakeCPU struct {
	nesting atomic.Int32
	exits   atomic.Uint64
}

// Fake is the minimal engine. Synchronize snapshots which CPUs are inside a
// reader and waits until each of them has left at least once. It keeps no
// grace-period state, ignores scheduler hooks and its workers only park.
type Fake struct {
	sched.NopHooks

	adapter *sched.Adapter
	topo    *topology.Table
	cpus    []fakeCPU
	sw      *control.Switch

	mu       sync.Mutex
	inited   [numDomains]bool
	tickless bool
	stride   int

	syncs atomic.Uint64
}

// NewFake returns a Fake over adapter's topology and installs it as the
// adapter's hooks.
func NewFake(adapter *sched.Adapter) *Fake {
	f := &Fake{
		adapter: adapter,
		topo:    adapter.Topology(),
		cpus:    make([]fakeCPU, adapter.Topology().Len()),
		sw:      control.NewSwitch(constants.HotWindow),
	}
	adapter.SetHooks(f)
	return f
}

// Name implements Engine.
func (f *Fake) Name() string { return string(KindFake) }

// ConfigureNocb implements Engine.
func (f *Fake) ConfigureNocb(spec topology.NocbSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, on := range f.inited {
		if on {
			return fmt.Errorf("%w: nocb setup after init", ErrInitOrder)
		}
	}
	return f.topo.EnableNocb(spec)
}

// SetLeaderStride implements Engine. The stride is recorded only.
func (f *Fake) SetLeaderStride(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tickless {
		return fmt.Errorf("%w: leader stride after tickless init", ErrInitOrder)
	}
	if n > f.topo.Len() {
		return fmt.Errorf("%w: %d > %d cpus", ErrBadStride, n, f.topo.Len())
	}
	f.stride = max(n, 0)
	return nil
}

// Init implements Engine.
func (f *Fake) Init(d Domain) error {
	if d >= numDomains {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, d)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inited[d] {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, d)
	}
	f.inited[d] = true
	return nil
}

// InitTickless implements Engine.
func (f *Fake) InitTickless() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.inited[DomainSched] {
		return fmt.Errorf("%w: tickless init before %s", ErrInitOrder, DomainSched)
	}
	if f.tickless {
		return fmt.Errorf("%w: tickless", ErrAlreadyInitialized)
	}
	f.tickless = true
	return nil
}

// ReadLock implements Engine.
func (f *Fake) ReadLock(t *sched.Thread) { f.cpus[t.CPU()].nesting.Add(1) }

// ReadUnlock implements Engine.
func (f *Fake) ReadUnlock(t *sched.Thread) {
	c := &f.cpus[t.CPU()]
	n := c.nesting.Add(-1)
	if n < 0 {
		panic("rcu: unbalanced read unlock on cpu " + strconv.Itoa(t.CPU()))
	}
	if n == 0 {
		c.exits.Add(1)
		f.sw.SignalActivity()
	}
}

// Synchronize implements Engine.
func (f *Fake) Synchronize(t *sched.Thread) error {
	f.mu.Lock()
	ok := f.inited[DomainSched]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInitialized, DomainSched)
	}
	if f.cpus[t.CPU()].nesting.Load() > 0 {
		return ErrSyncInReader
	}

	type wait struct {
		cpu  int
		exit uint64
	}
	var waits []wait
	for i := range f.cpus {
		c := &f.cpus[i]
		exit := c.exits.Load()
		if c.nesting.Load() > 0 {
			waits = append(waits, wait{cpu: i, exit: exit})
		}
	}

	for len(waits) > 0 {
		rest := waits[:0]
		for _, w := range waits {
			if f.cpus[w.cpu].exits.Load() == w.exit {
				rest = append(rest, w)
			}
		}
		waits = rest
		if len(waits) > 0 {
			t.Block(func() { f.sw.Park(constants.FQSInterval) })
		}
	}
	f.syncs.Add(1)
	return nil
}

// SpawnGracePeriodWorker implements Engine.
func (f *Fake) SpawnGracePeriodWorker(d Domain) (*sched.Worker, error) {
	f.mu.Lock()
	ok := d < numDomains && f.inited[d]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, d)
	}
	return f.adapter.Spawn(constants.CPU0, "rcu_"+d.String(), parkLoop)
}

// SpawnNocbWorker implements Engine.
func (f *Fake) SpawnNocbWorker(cpu int) (*sched.Worker, error) {
	f.mu.Lock()
	tickless := f.tickless
	f.mu.Unlock()
	if !tickless {
		return nil, fmt.Errorf("%w: nocb worker before tickless init", ErrInitOrder)
	}
	if !f.topo.Nocb(cpu) {
		return nil, fmt.Errorf("%w: cpu %d", ErrNotNocb, cpu)
	}
	return f.adapter.Spawn(cpu, "rcuo/"+strconv.Itoa(cpu), parkLoop)
}

// Stats implements Engine. Each completed Synchronize counts as a grace
// period.
func (f *Fake) Stats() Stats {
	f.mu.Lock()
	stride := f.stride
	f.mu.Unlock()
	return Stats{GracePeriods: f.syncs.Load(), LeaderStride: stride}
}

func parkLoop(t *sched.Thread, sw *control.Switch) {
	for !sw.Stopping() {
		t.Block(func() { sw.Park(constants.IdlePark) })
	}
}
