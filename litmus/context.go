// ════════════════════════════════════════════════════════════════════════════════════════════════
// NOCB RCU Litmus Scenario
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Scenario context, options and lifecycle state
//
// Description:
//   A ScenarioContext owns everything one litmus run touches: the CPU
//   topology, the scheduling adapter, the RCU engine, the shared cells and
//   the worker handles. Nothing is process-global, so runs can repeat in
//   one process.
//
// Lifecycle:
//   Init → TopologyReady → EngineReady → WorkersSpawned → ReaderRunning →
//   UpdaterJoined → Asserted → Done
//   Run drives the whole sequence once. Close stops and joins the
//   background workers; Run leaves them running.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package litmus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"rculitmus/constants"
	"rculitmus/rcu"
	"rculitmus/sched"
	"rculitmus/topology"
)

// State is the scenario's position in its lifecycle.
type State uint32

const (
	StateInit State = iota
	StateTopologyReady
	StateEngineReady
	StateWorkersSpawned
	StateReaderRunning
	StateUpdaterJoined
	StateAsserted
	StateDone
)

var stateNames = [...]string{
	StateInit:           "init",
	StateTopologyReady:  "topology-ready",
	StateEngineReady:    "engine-ready",
	StateWorkersSpawned: "workers-spawned",
	StateReaderRunning:  "reader-running",
	StateUpdaterJoined:  "updater-joined",
	StateAsserted:       "asserted",
	StateDone:           "done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint32(s))
}

// Shared holds the litmus cells. x and y are written only by the updater;
// r_x and r_y only by the reader. All access is atomic and lock-free.
type Shared struct {
	X, Y   atomic.Int32
	Rx, Ry atomic.Int32
}

// Options configures one scenario.
type Options struct {
	Variant Variant
	Engine  rcu.Kind
	Faults  rcu.Fault

	// EnableBH starts the auxiliary grace-period domain and its coordinator.
	EnableBH bool

	Nocb         topology.NocbSpec
	LeaderStride int

	// Settle bounds each reader settle checkpoint.
	Settle time.Duration

	// PinHost pins actor OS threads to host cores.
	PinHost bool

	// Possible lists the CPUs marked possible and online. Nil means all.
	Possible []int
}

// DefaultOptions returns the baseline scenario on the tree engine with
// CPU 0 offloaded.
func DefaultOptions() Options {
	return Options{
		Variant:      Baseline,
		Engine:       rcu.KindTree,
		Nocb:         topology.NocbSpec{Zero: true},
		LeaderStride: constants.MinLeaderStride,
		Settle:       constants.SettleWindow,
	}
}

// ScenarioContext is one litmus run.
type ScenarioContext struct {
	opts    Options
	topo    *topology.Table
	adapter *sched.Adapter
	engine  rcu.Engine
	shared  Shared
	state   atomic.Uint32
	ran     atomic.Bool

	gate     chan struct{} // closed once the reader has read x
	gateOnce sync.Once
	done     chan struct{} // closed when the updater body returns

	readerTrace   []string
	readerFlushed int
	updaterTrace  []string

	mu      sync.Mutex
	workers []*sched.Worker
	closed  bool
}

// New builds a scenario. Nothing runs until Run.
func New(opts Options) (*ScenarioContext, error) {
	if opts.Settle <= 0 {
		opts.Settle = constants.SettleWindow
	}
	topo := topology.New(constants.NumCPUs)
	adapter := sched.NewAdapter(topo, sched.WithHostPinning(opts.PinHost))
	engine, err := rcu.New(opts.Engine, adapter, opts.Faults)
	if err != nil {
		return nil, wrap(KindSetup, "engine", err)
	}
	return &ScenarioContext{
		opts:    opts,
		topo:    topo,
		adapter: adapter,
		engine:  engine,
		gate:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Options returns the options the scenario was built with.
func (s *ScenarioContext) Options() Options { return s.opts }

// Topology returns the scenario's CPU table.
func (s *ScenarioContext) Topology() *topology.Table { return s.topo }

// Adapter returns the scenario's scheduling adapter.
func (s *ScenarioContext) Adapter() *sched.Adapter { return s.adapter }

// Engine returns the scenario's RCU engine.
func (s *ScenarioContext) Engine() rcu.Engine { return s.engine }

// Shared returns the litmus cells.
func (s *ScenarioContext) Shared() *Shared { return &s.shared }

// State returns the current lifecycle state.
func (s *ScenarioContext) State() State { return State(s.state.Load()) }

func (s *ScenarioContext) setState(st State) { s.state.Store(uint32(st)) }

// Workers returns the background worker handles started so far.
func (s *ScenarioContext) Workers() []*sched.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*sched.Worker(nil), s.workers...)
}

func (s *ScenarioContext) addWorker(w *sched.Worker) {
	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()
}

// Close stops every background worker and waits for them to exit.
// Idempotent.
func (s *ScenarioContext) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ws := s.workers
	s.mu.Unlock()

	for _, w := range ws {
		w.Stop()
	}
	for _, w := range ws {
		w.Wait()
	}
}
