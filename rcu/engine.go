// Package rcu is the RCU engine boundary the litmus scenario drives.
//
// Engine is the capability set the scenario consumes: setup, read-side
// marking, the blocking grace-period wait and the background worker entry
// points. Tree is a faithful grace-period engine with callback offload;
// Fake satisfies the same contract with minimal bookkeeping for fast
// harness tests. Both implement sched.Hooks so the scheduling adapter can
// report idle, context-switch and interrupt transitions to them.
package rcu

import (
	"errors"
	"fmt"
	"strings"

	"rculitmus/sched"
	"rculitmus/topology"
)

// Domain selects a grace-period domain.
type Domain uint8

const (
	// DomainSched is the default domain Synchronize waits on.
	DomainSched Domain = iota
	// DomainBH is the auxiliary domain, enabled only on request.
	DomainBH

	numDomains
)

func (d Domain) String() string {
	switch d {
	case DomainSched:
		return "sched"
	case DomainBH:
		return "bh"
	}
	return fmt.Sprintf("domain(%d)", uint8(d))
}

var (
	ErrAlreadyInitialized = errors.New("rcu: domain already initialized")
	ErrNotInitialized     = errors.New("rcu: domain not initialized")
	ErrInitOrder          = errors.New("rcu: initialization out of order")
	ErrBadStride          = errors.New("rcu: leader stride out of range")
	ErrNotNocb            = errors.New("rcu: cpu does not offload callbacks")
	ErrNoWorker           = errors.New("rcu: grace-period worker not running")
	ErrStopped            = errors.New("rcu: grace-period worker stopped")
	ErrUnknownDomain      = errors.New("rcu: unknown domain")

	// ErrSyncInReader is returned by Synchronize called inside a reader,
	// which would wait for itself.
	ErrSyncInReader = errors.New("rcu: synchronize inside read-side critical section")
)

// Engine is the RCU engine contract.
type Engine interface {
	sched.Hooks

	// Name identifies the implementation ("tree" or "fake").
	Name() string

	// Init initializes a grace-period domain. Each domain once.
	Init(d Domain) error
	// InitTickless finishes setup for offloaded CPUs. Requires DomainSched.
	InitTickless() error
	// ConfigureNocb selects the offloaded CPUs. Must precede Init.
	ConfigureNocb(spec topology.NocbSpec) error
	// SetLeaderStride groups offloaded CPUs under leaders n apart.
	// n <= 0 selects the integer square root of the CPU count.
	SetLeaderStride(n int) error

	// ReadLock enters a read-side critical section on t's CPU. Nestable.
	ReadLock(t *sched.Thread)
	// ReadUnlock exits one level of read-side critical section.
	ReadUnlock(t *sched.Thread)
	// Synchronize blocks t until every read-side critical section that
	// was active when it was called has ended.
	Synchronize(t *sched.Thread) error

	// SpawnGracePeriodWorker starts d's coordinator on CPU 0.
	SpawnGracePeriodWorker(d Domain) (*sched.Worker, error)
	// SpawnNocbWorker starts the offload worker for cpu, bound to cpu.
	SpawnNocbWorker(cpu int) (*sched.Worker, error)

	// Stats returns engine counters.
	Stats() Stats
}

// Stats are engine counters, for logging and tests.
type Stats struct {
	GracePeriods       uint64
	QSReports          uint64
	CallbacksQueued    uint64
	CallbacksInvoked   uint64
	CallbacksOffloaded uint64
	LeaderStride       int
	StrideComputed     bool
}

// ============================================================================
// FAULT INJECTION
// ============================================================================

// Fault is a set of deliberate accounting regressions. Each one makes the
// engine report a quiescent state it must not report, so the matching
// failure-injection variant can show the violation.
type Fault uint8

const (
	// FaultIdleInReader lets idle-enter count as quiescent inside a reader.
	FaultIdleInReader Fault = 1 << iota
	// FaultYieldInReader lets a voluntary context switch report inside a reader.
	FaultYieldInReader
	// FaultIRQInReader lets an interrupt report inside a reader.
	FaultIRQInReader

	FaultNone Fault = 0
)

var faultNames = []struct {
	f    Fault
	name string
}{
	{FaultIdleInReader, "idle"},
	{FaultYieldInReader, "yield"},
	{FaultIRQInReader, "irq"},
}

// Has reports whether all of g are set in f.
func (f Fault) Has(g Fault) bool { return f&g == g && g != 0 }

func (f Fault) String() string {
	if f == FaultNone {
		return "none"
	}
	var parts []string
	for _, fn := range faultNames {
		if f.Has(fn.f) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseFaults parses a comma-separated fault list; "" and "none" are empty.
func ParseFaults(s string) (Fault, error) {
	var f Fault
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "none" {
			continue
		}
		found := false
		for _, fn := range faultNames {
			if fn.name == part {
				f |= fn.f
				found = true
				break
			}
		}
		if !found {
			return FaultNone, fmt.Errorf("rcu: unknown fault %q", part)
		}
	}
	return f, nil
}

// ============================================================================
// CONSTRUCTION
// ============================================================================

// Kind names an engine implementation.
type Kind string

const (
	KindTree Kind = "tree"
	KindFake Kind = "fake"
)

// New builds the engine named by kind over adapter and installs it as the
// adapter's hooks. Faults only apply to the tree engine.
func New(kind Kind, adapter *sched.Adapter, faults Fault) (Engine, error) {
	switch kind {
	case KindTree, "":
		return NewTree(adapter, faults), nil
	case KindFake:
		if faults != FaultNone {
			return nil, fmt.Errorf("rcu: fake engine has no accounting to fault (%s)", faults)
		}
		return NewFake(adapter), nil
	}
	return nil, fmt.Errorf("rcu: unknown engine %q", kind)
}

// gpSnap returns the grace-period sequence value whose completion
// guarantees a full grace period after s. The low bit of the sequence
// marks a grace period in flight.
func gpSnap(s uint64) uint64 {
	return (s + 3) &^ 1
}

// isqrt is the integer square root used for the default leader stride.
func isqrt(n int) int {
	if n <= 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}
