// ════════════════════════════════════════════════════════════════════════════════════════════════
// Tree RCU Engine
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Grace-period engine with per-CPU quiescent-state accounting
//
// Description:
//   One coordinator per domain drives grace periods. A grace period starts
//   when a queued callback needs one (gpSeq goes odd) and ends once every
//   online CPU has been observed quiescent after the start (gpSeq goes
//   even). Callbacks whose grace period has ended become ready and run
//   either on the NOCB worker of their CPU or inline on the CPU itself.
//
// Quiescent evidence per CPU:
//   - dynticks counter snapshot: idle at start, or passed through idle since
//   - explicit report with the current gpSeq: unlock to nesting 0, context
//     switch or interrupt outside a reader
//   - the coordinator's own CPU, when no reader is preempted there
//
// Safety model:
//   - Idle inside a reader does not enter the extended quiescent state
//   - Context switches and interrupts inside a reader do not report
//   - Fault bits reverse exactly one of those rules each
// ════════════════════════════════════════════════════════════════════════════════════════════════

package rcu

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"rculitmus/constants"
	"rculitmus/control"
	"rculitmus/debug"
	"rculitmus/ring"
	"rculitmus/sched"
	"rculitmus/topology"
)

// callback is one queued RCU callback.
type callback struct {
	fn     func()
	target uint64 // gpSeq value at which the callback is ready
}

// cpuState is the per-CPU state shared by every domain.
type cpuState struct {
	nesting atomic.Int32  // read-side nesting of the reader running here
	eqs     atomic.Uint64 // dynticks counter: odd while idle
}

// domainCPU is one CPU's slice of a domain.
type domainCPU struct {
	qsSeq atomic.Uint64 // gpSeq at the last explicit report

	mu      sync.Mutex
	waiting []*callback // grace period not yet complete
	ready   []*callback // ready, invoked inline (non-offloaded CPUs)

	// Offloaded CPUs only. The coordinator is the sole producer and the
	// CPU's NOCB worker the sole consumer.
	rcv      *ring.Ring[*callback]
	overflow []*callback // ready but rcv was full; coordinator-owned
	inRing   atomic.Int64
}

// domain is one grace-period domain.
type domain struct {
	id     Domain
	gpSeq  atomic.Uint64
	needed atomic.Uint64
	cpus   []*domainCPU

	worker atomic.Pointer[sched.Worker]
	dead   chan struct{} // closed when the coordinator exits

	endMu sync.Mutex
	end   chan struct{} // closed at each grace-period end, then replaced
}

func newDomain(id Domain, n int) *domain {
	d := &domain{id: id, dead: make(chan struct{}), end: make(chan struct{})}
	d.cpus = make([]*domainCPU, n)
	for i := range d.cpus {
		d.cpus[i] = &domainCPU{}
	}
	return d
}

func (d *domain) kick() {
	if w := d.worker.Load(); w != nil {
		w.Switch().SignalActivity()
	}
}

func (d *domain) endCh() <-chan struct{} {
	d.endMu.Lock()
	defer d.endMu.Unlock()
	return d.end
}

func (d *domain) signalEnd() {
	d.endMu.Lock()
	close(d.end)
	d.end = make(chan struct{})
	d.endMu.Unlock()
}

type counters struct {
	gps       atomic.Uint64
	qs        atomic.Uint64
	queued    atomic.Uint64
	invoked   atomic.Uint64
	offloaded atomic.Uint64
}

// Tree is the real RCU engine.
type Tree struct {
	adapter *sched.Adapter
	topo    *topology.Table
	faults  Fault

	cpus    []cpuState
	domains [numDomains]atomic.Pointer[domain]

	mu             sync.Mutex // setup state below
	stride         int
	strideComputed bool
	tickless       bool
	nocb           []bool
	leaderOf       []int
	followers      [][]int
	nocbWorkers    []atomic.Pointer[sched.Worker]

	stats counters
}

// NewTree returns a Tree over adapter's topology and installs it as the
// adapter's hooks.
func NewTree(adapter *sched.Adapter, faults Fault) *Tree {
	n := adapter.Topology().Len()
	e := &Tree{
		adapter:     adapter,
		topo:        adapter.Topology(),
		faults:      faults,
		cpus:        make([]cpuState, n),
		nocb:        make([]bool, n),
		leaderOf:    make([]int, n),
		followers:   make([][]int, n),
		nocbWorkers: make([]atomic.Pointer[sched.Worker], n),
	}
	for i := range e.leaderOf {
		e.leaderOf[i] = -1
	}
	adapter.SetHooks(e)
	return e
}

// Name implements Engine.
func (e *Tree) Name() string { return string(KindTree) }

// Faults returns the injected fault set.
func (e *Tree) Faults() Fault { return e.faults }

func (e *Tree) domain(d Domain) *domain {
	if d >= numDomains {
		return nil
	}
	return e.domains[d].Load()
}

func (e *Tree) live() []*domain {
	out := make([]*domain, 0, numDomains)
	for i := range e.domains {
		if d := e.domains[i].Load(); d != nil {
			out = append(out, d)
		}
	}
	return out
}

func (e *Tree) offloaded(cpu int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tickless && e.nocb[cpu]
}

// ============================================================================
// SETUP
// ============================================================================

// ConfigureNocb implements Engine. It writes the NOCB mask into the
// topology, so it must also precede topology freeze.
func (e *Tree) ConfigureNocb(spec topology.NocbSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.live()) > 0 {
		return fmt.Errorf("%w: nocb setup after init", ErrInitOrder)
	}
	return e.topo.EnableNocb(spec)
}

// SetLeaderStride implements Engine.
func (e *Tree) SetLeaderStride(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tickless {
		return fmt.Errorf("%w: leader stride after tickless init", ErrInitOrder)
	}
	if n > e.topo.Len() {
		return fmt.Errorf("%w: %d > %d cpus", ErrBadStride, n, e.topo.Len())
	}
	if n <= 0 {
		n = 0
	}
	e.stride = n
	return nil
}

// Init implements Engine.
func (e *Tree) Init(id Domain) error {
	if id >= numDomains {
		return fmt.Errorf("%w: %s", ErrUnknownDomain, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.domains[id].Load() != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyInitialized, id)
	}
	d := newDomain(id, e.topo.Len())
	if e.tickless {
		e.allocRings(d)
	}
	e.domains[id].Store(d)
	debug.DropMessage("RCU", "init domain "+id.String())
	return nil
}

// InitTickless implements Engine. It fixes the offloaded set from the
// topology and groups offloaded CPUs under leaders.
func (e *Tree) InitTickless() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.domains[DomainSched].Load() == nil {
		return fmt.Errorf("%w: tickless init before %s", ErrInitOrder, DomainSched)
	}
	if e.tickless {
		return fmt.Errorf("%w: tickless", ErrAlreadyInitialized)
	}

	stride := e.stride
	if stride == 0 {
		stride = max(isqrt(e.topo.Len()), constants.MinLeaderStride)
		e.strideComputed = true
	}
	e.stride = stride

	ids := e.topo.NocbCPUs()
	for i, c := range ids {
		leader := ids[(i/stride)*stride]
		e.nocb[c] = true
		e.leaderOf[c] = leader
		if leader != c {
			e.followers[leader] = append(e.followers[leader], c)
		}
	}
	for i := range e.domains {
		if d := e.domains[i].Load(); d != nil {
			e.allocRings(d)
		}
	}
	e.tickless = true

	debug.DropMessage("RCU", fmt.Sprintf("tickless: nocb=%v stride=%d computed=%t",
		ids, stride, e.strideComputed))
	return nil
}

func (e *Tree) allocRings(d *domain) {
	for c, on := range e.nocb {
		if on && d.cpus[c].rcv == nil {
			d.cpus[c].rcv = ring.New[*callback](constants.CallbackRingSize)
		}
	}
}

// ============================================================================
// READ SIDE
// ============================================================================

// ReadLock implements Engine.
func (e *Tree) ReadLock(t *sched.Thread) {
	e.cpus[t.CPU()].nesting.Add(1)
}

// ReadUnlock implements Engine. Leaving the outermost reader is a
// quiescent state.
func (e *Tree) ReadUnlock(t *sched.Thread) {
	cpu := t.CPU()
	n := e.cpus[cpu].nesting.Add(-1)
	if n < 0 {
		panic("rcu: unbalanced read unlock on cpu " + strconv.Itoa(cpu))
	}
	if n == 0 {
		e.reportQS(cpu)
	}
}

func (e *Tree) inReader(cpu int) bool { return e.cpus[cpu].nesting.Load() > 0 }

// reportQS records an explicit quiescent state for cpu in every domain
// with a grace period in flight.
func (e *Tree) reportQS(cpu int) {
	for _, d := range e.live() {
		s := d.gpSeq.Load()
		if s&1 == 0 {
			continue
		}
		if d.cpus[cpu].qsSeq.Swap(s) != s {
			e.stats.qs.Add(1)
			d.kick()
		}
	}
}

// ============================================================================
// HOOKS
// ============================================================================

// IdleEnter implements sched.Hooks.
func (e *Tree) IdleEnter(cpu int) {
	cs := &e.cpus[cpu]
	if cs.nesting.Load() > 0 && !e.faults.Has(FaultIdleInReader) {
		return
	}
	if cs.eqs.Load()&1 == 0 {
		cs.eqs.Add(1)
		for _, d := range e.live() {
			if d.gpSeq.Load()&1 == 1 {
				d.kick()
			}
		}
	}
}

// IdleExit implements sched.Hooks.
func (e *Tree) IdleExit(cpu int) {
	cs := &e.cpus[cpu]
	if cs.eqs.Load()&1 == 1 {
		cs.eqs.Add(1)
	}
}

// ContextSwitch implements sched.Hooks.
func (e *Tree) ContextSwitch(cpu int) {
	if !e.inReader(cpu) || e.faults.Has(FaultYieldInReader) {
		e.reportQS(cpu)
	}
	if !e.offloaded(cpu) {
		e.invokeReady(cpu)
	}
}

// Interrupt implements sched.Hooks.
func (e *Tree) Interrupt(cpu int) {
	if !e.inReader(cpu) || e.faults.Has(FaultIRQInReader) {
		e.reportQS(cpu)
	}
	if !e.offloaded(cpu) {
		e.invokeReady(cpu)
	}
}

// ============================================================================
// UPDATE SIDE
// ============================================================================

// Call queues fn to run on t's CPU after a full grace period of the sched
// domain.
func (e *Tree) Call(t *sched.Thread, fn func()) error {
	d := e.domain(DomainSched)
	if d == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, DomainSched)
	}
	e.queue(d, t.CPU(), fn)
	return nil
}

func (e *Tree) queue(d *domain, cpu int, fn func()) {
	dc := d.cpus[cpu]
	dc.mu.Lock()
	target := gpSnap(d.gpSeq.Load())
	dc.waiting = append(dc.waiting, &callback{fn: fn, target: target})
	dc.mu.Unlock()
	e.stats.queued.Add(1)

	for {
		cur := d.needed.Load()
		if cur >= target || d.needed.CompareAndSwap(cur, target) {
			break
		}
	}
	d.kick()
}

// Synchronize implements Engine. The caller's CPU is given up while it
// waits, so threads sharing the CPU keep running.
func (e *Tree) Synchronize(t *sched.Thread) error {
	d := e.domain(DomainSched)
	if d == nil {
		return fmt.Errorf("%w: %s", ErrNotInitialized, DomainSched)
	}
	if d.worker.Load() == nil {
		return fmt.Errorf("%w: %s", ErrNoWorker, DomainSched)
	}
	cpu := t.CPU()
	if e.inReader(cpu) {
		return ErrSyncInReader
	}

	done := make(chan struct{})
	e.queue(d, cpu, func() { close(done) })

	for {
		select {
		case <-done:
			return nil
		case <-d.dead:
			return fmt.Errorf("%w: %s", ErrStopped, DomainSched)
		default:
		}

		end := d.endCh()
		t.Block(func() {
			timer := time.NewTimer(constants.IdlePark)
			defer timer.Stop()
			select {
			case <-done:
			case <-d.dead:
			case <-end:
			case <-timer.C:
			}
		})
		if !e.offloaded(cpu) {
			e.invokeReady(cpu)
		}
	}
}

// invokeReady runs cpu's inline-ready callbacks of every domain.
func (e *Tree) invokeReady(cpu int) {
	for _, d := range e.live() {
		dc := d.cpus[cpu]
		dc.mu.Lock()
		ready := dc.ready
		dc.ready = nil
		dc.mu.Unlock()

		e.stats.invoked.Add(uint64(len(ready)))
		for _, cb := range ready {
			cb.fn()
		}
	}
}

// ============================================================================
// GRACE-PERIOD COORDINATOR
// ============================================================================

// SpawnGracePeriodWorker implements Engine.
func (e *Tree) SpawnGracePeriodWorker(id Domain) (*sched.Worker, error) {
	d := e.domain(id)
	if d == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, id)
	}
	if d.worker.Load() != nil {
		return nil, fmt.Errorf("%w: %s coordinator", ErrAlreadyInitialized, id)
	}
	w, err := e.adapter.Spawn(constants.CPU0, "rcu_"+id.String(), func(t *sched.Thread, sw *control.Switch) {
		e.coordinate(t, sw, d)
	})
	if err != nil {
		return nil, err
	}
	d.worker.Store(w)
	return w, nil
}

func (e *Tree) coordinate(t *sched.Thread, sw *control.Switch, d *domain) {
	defer close(d.dead)

	for !sw.Stopping() {
		if d.gpSeq.Load() < d.needed.Load() {
			e.gracePeriod(t, sw, d)
			continue
		}

		park := constants.IdlePark
		if e.flushOverflow(d) || sw.Hot() {
			park = constants.FQSInterval
		}
		t.Block(func() { sw.Park(park) })
		sw.PollCooldown()
	}
}

func (e *Tree) gracePeriod(t *sched.Thread, sw *control.Switch, d *domain) {
	seq := d.gpSeq.Add(1)
	debug.DropTrace("RCU", d.id.String()+" gp "+strconv.FormatUint(seq, 10)+" start")

	online := e.topo.OnlineCPUs()
	snap := make([]uint64, len(e.cpus))
	for _, c := range online {
		snap[c] = e.cpus[c].eqs.Load()
	}

	pending := online
	for {
		rest := pending[:0:0]
		for _, c := range pending {
			if !e.quiescent(d, c, seq, snap[c], t.CPU()) {
				rest = append(rest, c)
			}
		}
		pending = rest
		if len(pending) == 0 {
			break
		}
		if sw.Stopping() {
			return
		}
		t.Block(func() { sw.Park(constants.FQSInterval) })
	}

	d.gpSeq.Add(1)
	e.stats.gps.Add(1)
	sw.SignalActivity()
	e.advance(d)
	d.signalEnd()
	debug.DropTrace("RCU", d.id.String()+" gp "+strconv.FormatUint(seq, 10)+" end")
}

func (e *Tree) quiescent(d *domain, cpu int, seq, snap uint64, self int) bool {
	cs := &e.cpus[cpu]
	if cpu == self && cs.nesting.Load() == 0 {
		return true
	}
	if snap&1 == 1 || cs.eqs.Load() != snap {
		return true
	}
	return d.cpus[cpu].qsSeq.Load() == seq
}

// advance moves every callback whose grace period has ended to where it
// will be invoked.
func (e *Tree) advance(d *domain) {
	done := d.gpSeq.Load()
	for cpu, dc := range d.cpus {
		dc.mu.Lock()
		keep := dc.waiting[:0]
		var ready []*callback
		for _, cb := range dc.waiting {
			if cb.target <= done {
				ready = append(ready, cb)
			} else {
				keep = append(keep, cb)
			}
		}
		for i := len(keep); i < len(dc.waiting); i++ {
			dc.waiting[i] = nil
		}
		dc.waiting = keep

		if len(ready) == 0 {
			dc.mu.Unlock()
			continue
		}
		if dc.rcv == nil {
			dc.ready = append(dc.ready, ready...)
			dc.mu.Unlock()
			continue
		}
		dc.overflow = append(dc.overflow, ready...)
		dc.mu.Unlock()
		e.offload(d, cpu)
	}
}
