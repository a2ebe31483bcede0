// ============================================================================
// SPSC RING BUFFER CORRECTNESS VALIDATION SUITE
// ============================================================================
//
// Test categories:
//   - Constructor validation: power-of-2 sizing and initialization
//   - Basic operations: Push/Pop semantics and FIFO order
//   - Capacity management: full/empty handling
//   - Wraparound: cursor arithmetic across many cycles
//   - Concurrency: one producer and one consumer goroutine

package ring

import (
	"fmt"
	"sync"
	"testing"
)

// ============================================================================
// CONSTRUCTOR VALIDATION
// ============================================================================

func TestNewValidSizes(t *testing.T) {
	for _, size := range []int{1, 2, 4, 64, 1024} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			r := New[int](size)
			if r.Cap() != size {
				t.Errorf("Cap() = %d, want %d", r.Cap(), size)
			}
			if r.mask != uint64(size-1) {
				t.Errorf("mask = %d, want %d", r.mask, size-1)
			}
			for i := 0; i < size; i++ {
				if got := r.buf[i].seq.Load(); got != uint64(i) {
					t.Errorf("buf[%d].seq = %d, want %d", i, got, i)
				}
			}
		})
	}
}

func TestNewPanicsOnInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1, 3, 6, 100} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Errorf("New(%d) did not panic", size)
				}
			}()
			New[int](size)
		})
	}
}

// ============================================================================
// BASIC OPERATIONS
// ============================================================================

func TestPushPopFIFO(t *testing.T) {
	r := New[string](4)
	for _, s := range []string{"a", "b", "c"} {
		if !r.Push(s) {
			t.Fatalf("Push(%q) failed", s)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, ok := r.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = %q,%v want %q", got, ok, want)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Error("Pop() on empty ring succeeded")
	}
}

func TestPushFull(t *testing.T) {
	r := New[int](2)
	if !r.Push(1) || !r.Push(2) {
		t.Fatal("Push into non-full ring failed")
	}
	if r.Push(3) {
		t.Fatal("Push into full ring succeeded")
	}
	if v, _ := r.Pop(); v != 1 {
		t.Fatalf("Pop() = %d, want 1", v)
	}
	if !r.Push(3) {
		t.Fatal("Push after Pop failed")
	}
}

func TestPopClearsSlot(t *testing.T) {
	r := New[*int](1)
	v := 7
	r.Push(&v)
	r.Pop()
	if r.buf[0].val != nil {
		t.Error("slot still references popped value")
	}
}

func TestWraparound(t *testing.T) {
	r := New[int](4)
	next := 0
	for i := 0; i < 1000; i++ {
		if !r.Push(i) {
			t.Fatalf("Push(%d) failed", i)
		}
		if i%3 == 2 {
			r.Drain(func(v int) {
				if v != next {
					t.Fatalf("Drain got %d, want %d", v, next)
				}
				next++
			})
		}
	}
}

func TestDrainCount(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}
	sum := 0
	if n := r.Drain(func(v int) { sum += v }); n != 5 {
		t.Errorf("Drain() = %d, want 5", n)
	}
	if sum != 10 {
		t.Errorf("sum = %d, want 10", sum)
	}
}

// ============================================================================
// CONCURRENCY
// ============================================================================

func TestSPSCConcurrent(t *testing.T) {
	const total = 100000
	r := New[int](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; {
			if r.Push(i) {
				i++
			}
		}
	}()

	for want := 0; want < total; {
		v, ok := r.Pop()
		if !ok {
			continue
		}
		if v != want {
			t.Fatalf("Pop() = %d, want %d", v, want)
		}
		want++
	}
	wg.Wait()
}
