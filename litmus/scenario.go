package litmus

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"rculitmus/constants"
	"rculitmus/debug"
	"rculitmus/rcu"
	"rculitmus/sched"
	"rculitmus/topology"
)

// Run executes the scenario once and returns what it observed. The error
// is nil, or an *Error: a forbidden outcome and the updater probe are
// KindOrdering, and the Result is still returned for them. Background
// workers keep running; call Close.
func (s *ScenarioContext) Run(ctx context.Context) (*Result, error) {
	if s.ran.Swap(true) {
		return nil, wrap(KindSetup, "run", ErrAlreadyRun)
	}
	start := time.Now()

	if err := s.prepareTopology(); err != nil {
		return nil, err
	}
	s.setState(StateTopologyReady)

	if err := s.initEngine(); err != nil {
		return nil, err
	}
	s.setState(StateEngineReady)

	if err := s.spawnWorkers(); err != nil {
		return nil, err
	}
	s.setState(StateWorkersSpawned)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(s.updater)

	s.setState(StateReaderRunning)
	readerErr := s.reader(gctx)
	updaterErr := g.Wait()
	s.setState(StateUpdaterJoined)

	if readerErr != nil {
		return nil, readerErr
	}

	rx, ry := s.shared.Rx.Load(), s.shared.Ry.Load()
	outcome := Classify(rx, ry)
	res := &Result{
		Variant:      s.opts.Variant,
		Engine:       s.engine.Name(),
		Faults:       s.opts.Faults,
		Rx:           rx,
		Ry:           ry,
		Outcome:      outcome,
		ReaderTrace:  s.readerTrace,
		UpdaterTrace: s.updaterTrace,
		Fingerprint:  fingerprint(s.readerTrace, s.updaterTrace, outcome),
		Duration:     time.Since(start),
		Stats:        s.engine.Stats(),
	}

	err := Check(rx, ry)
	s.setState(StateAsserted)
	if err == nil {
		err = updaterErr
	}
	s.setState(StateDone)

	debug.DropMessage("LITMUS", s.opts.Variant.String()+" on "+res.Engine+
		" faults="+s.opts.Faults.String()+" outcome=("+outcome.String()+") in "+res.Duration.String())
	return res, err
}

// ============================================================================
// SETUP
// ============================================================================

// actorCPUs are the CPUs the scenario binds threads to.
var actorCPUs = []int{constants.CPU0, constants.CPU1}

func (s *ScenarioContext) prepareTopology() error {
	cpus := s.opts.Possible
	if cpus == nil {
		cpus = make([]int, s.topo.Len())
		for i := range cpus {
			cpus[i] = i
		}
	}
	for _, c := range cpus {
		if err := s.topo.MarkPossible(c); err != nil {
			return wrap(KindSetup, "mark possible", err)
		}
		if err := s.topo.MarkOnline(c); err != nil {
			return wrap(KindSetup, "mark online", err)
		}
	}
	if err := s.engine.ConfigureNocb(s.opts.Nocb); err != nil {
		return wrap(KindSetup, "configure nocb", err)
	}
	if err := s.engine.SetLeaderStride(s.opts.LeaderStride); err != nil {
		return wrap(KindSetup, "leader stride", err)
	}
	s.topo.Freeze()

	// Fail before any worker starts rather than inside a bind loop.
	for _, c := range actorCPUs {
		if !s.topo.Possible(c) {
			return wrap(KindSetup, "preflight", topology.ErrUnknownCPU)
		}
		if owner := s.topo.BoundBy(c); owner != "" {
			return wrap(KindSetup, "preflight", topology.ErrAlreadyBound)
		}
	}
	return nil
}

func (s *ScenarioContext) initEngine() error {
	if err := s.engine.Init(rcu.DomainSched); err != nil {
		return wrap(KindSetup, "init "+rcu.DomainSched.String(), err)
	}
	if s.opts.EnableBH {
		if err := s.engine.Init(rcu.DomainBH); err != nil {
			return wrap(KindSetup, "init "+rcu.DomainBH.String(), err)
		}
	}
	if err := s.engine.InitTickless(); err != nil {
		return wrap(KindSetup, "init tickless", err)
	}
	for _, c := range s.topo.OnlineCPUs() {
		if err := s.adapter.ForceIdle(c); err != nil {
			return wrap(KindSetup, "initial idle cpu "+strconv.Itoa(c), err)
		}
	}
	return nil
}

func (s *ScenarioContext) spawnWorkers() error {
	w, err := s.engine.SpawnGracePeriodWorker(rcu.DomainSched)
	if err != nil {
		return wrap(KindResource, "spawn grace-period worker", err)
	}
	s.addWorker(w)

	if s.opts.EnableBH {
		w, err := s.engine.SpawnGracePeriodWorker(rcu.DomainBH)
		if err != nil {
			return wrap(KindResource, "spawn bh grace-period worker", err)
		}
		s.addWorker(w)
	}

	for _, c := range s.topo.NocbCPUs() {
		w, err := s.engine.SpawnNocbWorker(c)
		if err != nil {
			return wrap(KindResource, "spawn nocb worker cpu "+strconv.Itoa(c), err)
		}
		s.addWorker(w)
	}
	return nil
}

// ============================================================================
// ACTORS
// ============================================================================

func (s *ScenarioContext) openGate() { s.gateOnce.Do(func() { close(s.gate) }) }

// reader runs on the calling goroutine as CPU 1.
func (s *ScenarioContext) reader(ctx context.Context) error {
	defer s.openGate()

	th, err := s.adapter.Bind(constants.CPU1, "reader")
	if err != nil {
		return wrap(KindSetup, "bind reader", err)
	}
	defer th.Release()

	s.engine.ReadLock(th)
	s.traceReader("lock")
	s.shared.Rx.Store(s.shared.X.Load())
	s.traceReader("read-x")
	s.openGate()

	s.settle(ctx)
	s.checkpoint(th, ReaderIRQ)
	s.checkpoint(th, ReaderIdlePair)
	s.checkpoint(th, ReaderReschedPair)
	s.settle(ctx)

	s.shared.Ry.Store(s.shared.Y.Load())
	s.traceReader("read-y")
	s.engine.ReadUnlock(th)
	s.traceReader("unlock")
	s.flushReader()

	s.checkpoint(th, ReaderTrailingPair)
	s.flushReader()
	return nil
}

// updater runs as CPU 0, sharing it with the grace-period coordinator.
func (s *ScenarioContext) updater() error {
	defer close(s.done)

	th, err := s.adapter.Bind(constants.CPU0, "updater")
	if err != nil {
		s.openGate()
		return wrap(KindSetup, "bind updater", err)
	}
	defer th.Release()

	th.Block(func() { <-s.gate })

	s.shared.X.Store(1)
	s.traceUpdater("write-x")
	if err := s.engine.Synchronize(th); err != nil {
		return wrap(KindResource, "synchronize", err)
	}
	s.traceUpdater("synchronize")

	if s.opts.Variant.Fires(UpdaterProbe) {
		s.traceUpdater(UpdaterProbe.String())
		return &Error{Kind: KindOrdering, Op: "updater", Err: ErrProbe}
	}

	s.shared.Y.Store(1)
	s.traceUpdater("write-y")
	return nil
}

// settle holds the reader in place until the updater finishes or the
// settle window passes.
func (s *ScenarioContext) settle(ctx context.Context) {
	t := time.NewTimer(s.opts.Settle)
	defer t.Stop()
	select {
	case <-s.done:
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *ScenarioContext) checkpoint(th *sched.Thread, c Checkpoint) {
	if !s.opts.Variant.Fires(c) {
		return
	}
	switch c {
	case ReaderIRQ:
		th.Interrupt()
	case ReaderIdlePair:
		th.IdleEnter()
		th.IdleExit()
	case ReaderReschedPair, ReaderTrailingPair:
		th.Yield()
		th.Interrupt()
	}
	s.traceReader(c.String())
}

// traceReader only records; the reader must not log inside its critical
// section, so flushReader emits the events once it has unlocked.
func (s *ScenarioContext) traceReader(ev string) {
	s.readerTrace = append(s.readerTrace, ev)
}

// flushReader logs the reader events recorded since the last flush.
func (s *ScenarioContext) flushReader() {
	for _, ev := range s.readerTrace[s.readerFlushed:] {
		debug.DropTrace("READER", ev)
	}
	s.readerFlushed = len(s.readerTrace)
}

func (s *ScenarioContext) traceUpdater(ev string) {
	s.updaterTrace = append(s.updaterTrace, ev)
	debug.DropTrace("UPDATER", ev)
}
