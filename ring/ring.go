// ============================================================================
// LOCK-FREE SPSC RING BUFFER
// ============================================================================
//
// Single-producer/single-consumer queue carrying ready RCU callbacks from
// the grace-period coordinator (producer) to one CPU's NOCB offload worker
// (consumer).
//
// Architecture overview:
//   - Separated head/tail cursors on isolated cache lines
//   - Sequence-based slot availability signaling
//   - Power-of-2 sizing with bit masking
//
// Safety model:
//   - SPSC discipline required: one producer, one consumer
//   - Push returns false when full; the producer keeps the item and retries
//   - Pop hands the value out and clears the slot so it can be collected

package ring

import (
	"sync/atomic"
)

// ============================================================================
// CORE DATA STRUCTURES
// ============================================================================

// slot is one ring entry.
//
// Sequence semantics:
//   - Producer: sets seq = position + 1 when val is ready
//   - Consumer: expects seq = position + 1 for available data
//   - Reset: consumer sets seq = position + ring_size for reuse
type slot[T any] struct {
	val T
	seq atomic.Uint64
}

// Ring is a cache-line padded SPSC ring of T.
type Ring[T any] struct {
	_    [64]byte
	head uint64 // consumer cursor

	_    [56]byte
	tail uint64 // producer cursor

	_ [56]byte

	mask uint64
	step uint64
	buf  []slot[T]
}

// ============================================================================
// CONSTRUCTOR
// ============================================================================

// New creates a ring of the given capacity.
//
// Panics if size is not a positive power of two.
func New[T any](size int) *Ring[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic("ring: size must be >0 and power of two")
	}

	r := &Ring[T]{
		mask: uint64(size - 1),
		step: uint64(size),
		buf:  make([]slot[T], size),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return int(r.step) }

// ============================================================================
// PRODUCER OPERATIONS
// ============================================================================

// Push enqueues v. It returns false when the ring is full.
// Producer side only.
func (r *Ring[T]) Push(v T) bool {
	t := r.tail
	s := &r.buf[t&r.mask]

	if s.seq.Load() != t {
		return false
	}
	s.val = v
	s.seq.Store(t + 1)
	r.tail = t + 1
	return true
}

// ============================================================================
// CONSUMER OPERATIONS
// ============================================================================

// Pop dequeues the oldest value. ok is false when the ring is empty.
// Consumer side only.
func (r *Ring[T]) Pop() (v T, ok bool) {
	h := r.head
	s := &r.buf[h&r.mask]

	if s.seq.Load() != h+1 {
		return v, false
	}
	v = s.val
	var zero T
	s.val = zero
	s.seq.Store(h + r.step)
	r.head = h + 1
	return v, true
}

// Drain pops until empty, calling fn for each value in FIFO order, and
// returns how many were handled. Consumer side only.
func (r *Ring[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := r.Pop()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}
