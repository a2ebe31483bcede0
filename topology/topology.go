// ════════════════════════════════════════════════════════════════════════════════════════════════
// Logical CPU Topology
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Possible / online / NOCB masks and per-CPU thread bindings
//
// Description:
//   Bookkeeping for the logical CPUs a litmus scenario runs on. All mask
//   mutation happens during setup; Freeze seals the masks before any
//   worker starts, after which only bindings change.
//
// Invariants:
//   - online ⊆ possible
//   - nocb ⊆ online
//   - at most one Binding holds a CPU at a time (suspended ones do not)
// ════════════════════════════════════════════════════════════════════════════════════════════════

package topology

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
)

var (
	// ErrTopologyFrozen is returned for mask mutation after Freeze.
	ErrTopologyFrozen = errors.New("topology: frozen")

	// ErrUnknownCPU is returned for ids out of range or never marked possible.
	ErrUnknownCPU = errors.New("topology: unknown cpu")

	// ErrAlreadyBound is returned when another live binding holds the CPU.
	ErrAlreadyBound = errors.New("topology: cpu already bound")
)

// LogicalCPU is one entry of the topology table.
type LogicalCPU struct {
	ID       int
	Possible bool
	Online   bool
	Nocb     bool
}

// Table tracks the logical CPUs of one scenario.
//
// Masks are written only before Freeze and read without locking
// afterwards; bindings are guarded by mu.
type Table struct {
	cpus   []LogicalCPU
	frozen bool

	mu       sync.Mutex
	bindings []*Binding
}

// New returns a table for n logical CPUs, none possible yet.
func New(n int) *Table {
	t := &Table{cpus: make([]LogicalCPU, n), bindings: make([]*Binding, n)}
	for i := range t.cpus {
		t.cpus[i].ID = i
	}
	return t
}

// Len returns the number of CPU slots.
func (t *Table) Len() int { return len(t.cpus) }

func (t *Table) check(cpu int) error {
	if cpu < 0 || cpu >= len(t.cpus) {
		return fmt.Errorf("%w: %d", ErrUnknownCPU, cpu)
	}
	return nil
}

// ============================================================================
// SETUP MUTATION
// ============================================================================

// MarkPossible marks cpu possible. Idempotent.
func (t *Table) MarkPossible(cpu int) error {
	if err := t.check(cpu); err != nil {
		return err
	}
	if t.frozen {
		return fmt.Errorf("%w: mark possible %d", ErrTopologyFrozen, cpu)
	}
	t.cpus[cpu].Possible = true
	return nil
}

// MarkOnline marks cpu online, and possible if it was not already.
// Idempotent.
func (t *Table) MarkOnline(cpu int) error {
	if err := t.check(cpu); err != nil {
		return err
	}
	if t.frozen {
		return fmt.Errorf("%w: mark online %d", ErrTopologyFrozen, cpu)
	}
	t.cpus[cpu].Possible = true
	t.cpus[cpu].Online = true
	return nil
}

// EnableNocb replaces the NOCB set. CPUs named in the list that are not
// online are ignored, matching the kernel which only offloads online CPUs.
func (t *Table) EnableNocb(spec NocbSpec) error {
	if t.frozen {
		return fmt.Errorf("%w: enable nocb", ErrTopologyFrozen)
	}
	want, err := spec.Resolve(len(t.cpus))
	if err != nil {
		return err
	}
	for i := range t.cpus {
		t.cpus[i].Nocb = want[i] && t.cpus[i].Online
	}
	return nil
}

// Freeze seals the masks. Idempotent.
func (t *Table) Freeze() { t.frozen = true }

// ============================================================================
// QUERIES
// ============================================================================

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool { return t.frozen }

// CPU returns a copy of the entry for cpu; out-of-range ids yield the zero
// entry with ID set to cpu.
func (t *Table) CPU(cpu int) LogicalCPU {
	if t.check(cpu) != nil {
		return LogicalCPU{ID: cpu}
	}
	return t.cpus[cpu]
}

// Possible reports whether cpu is possible.
func (t *Table) Possible(cpu int) bool { return t.CPU(cpu).Possible }

// Online reports whether cpu is online.
func (t *Table) Online(cpu int) bool { return t.CPU(cpu).Online }

// Nocb reports whether cpu offloads its callbacks.
func (t *Table) Nocb(cpu int) bool { return t.CPU(cpu).Nocb }

// OnlineCPUs lists online CPU ids in ascending order.
func (t *Table) OnlineCPUs() []int {
	var ids []int
	for _, c := range t.cpus {
		if c.Online {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// NocbCPUs lists NOCB CPU ids in ascending order.
func (t *Table) NocbCPUs() []int {
	var ids []int
	for _, c := range t.cpus {
		if c.Nocb {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// ============================================================================
// BINDINGS
// ============================================================================

// Binding records that a host goroutine currently represents a CPU.
type Binding struct {
	t         *Table
	cpu       int
	owner     string
	locked    bool
	released  bool
	suspended bool
}

// CPU returns the bound CPU id.
func (b *Binding) CPU() int { return b.cpu }

// Owner returns the label given at bind time.
func (b *Binding) Owner() string { return b.owner }

// Bind claims cpu for the calling goroutine and locks it to its OS thread.
// It never blocks: a held CPU fails with ErrAlreadyBound.
func (t *Table) Bind(cpu int, owner string) (*Binding, error) {
	b, err := t.claim(cpu, owner)
	if err != nil {
		return nil, err
	}
	runtime.LockOSThread()
	b.locked = true
	return b, nil
}

// claim registers a binding without touching the OS thread lock. Used for
// setup transitions performed on behalf of a CPU from the driver thread.
func (t *Table) claim(cpu int, owner string) (*Binding, error) {
	if err := t.check(cpu); err != nil {
		return nil, err
	}
	if !t.cpus[cpu].Possible {
		return nil, fmt.Errorf("%w: %d not possible", ErrUnknownCPU, cpu)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if cur := t.bindings[cpu]; cur != nil {
		return nil, fmt.Errorf("%w: %d held by %s", ErrAlreadyBound, cpu, cur.owner)
	}
	b := &Binding{t: t, cpu: cpu, owner: owner}
	t.bindings[cpu] = b
	return b, nil
}

// Claim is Bind without the OS thread lock, for short setup transitions
// the driver performs on behalf of a CPU it does not run as.
func (t *Table) Claim(cpu int, owner string) (*Binding, error) {
	return t.claim(cpu, owner)
}

// Suspend gives the CPU up without ending the binding: the goroutine keeps
// its OS thread lock and may Resume later. Used around blocking waits so
// other threads sharing the CPU can run.
func (b *Binding) Suspend() {
	t := b.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if !b.released && !b.suspended && t.bindings[b.cpu] == b {
		t.bindings[b.cpu] = nil
		b.suspended = true
	}
}

// Resume reclaims the CPU after Suspend. It fails with ErrAlreadyBound
// while another binding holds the CPU, and never blocks.
func (b *Binding) Resume() error {
	t := b.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if b.released || !b.suspended {
		return nil
	}
	if cur := t.bindings[b.cpu]; cur != nil {
		return fmt.Errorf("%w: %d held by %s", ErrAlreadyBound, b.cpu, cur.owner)
	}
	t.bindings[b.cpu] = b
	b.suspended = false
	return nil
}

// Suspended reports whether the binding currently gives its CPU up.
func (b *Binding) Suspended() bool {
	b.t.mu.Lock()
	defer b.t.mu.Unlock()
	return b.suspended
}

// Release frees the binding. Must be called from the goroutine that bound
// it. Idempotent.
func (b *Binding) Release() {
	t := b.t
	t.mu.Lock()
	if b.released {
		t.mu.Unlock()
		return
	}
	b.released = true
	if t.bindings[b.cpu] == b {
		t.bindings[b.cpu] = nil
	}
	t.mu.Unlock()

	if b.locked {
		runtime.UnlockOSThread()
	}
}

// BoundBy returns the owner label of the live binding on cpu, or "".
func (t *Table) BoundBy(cpu int) string {
	if t.check(cpu) != nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if b := t.bindings[cpu]; b != nil {
		return b.owner
	}
	return ""
}
