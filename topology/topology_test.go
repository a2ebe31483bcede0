// ════════════════════════════════════════════════════════════════════════════════════════════════
// 🧪 TEST SUITE: LOGICAL CPU TOPOLOGY
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Covers mask idempotence, freeze semantics, NOCB resolution, cpulist
// parsing and the binding rules (unknown CPU, double binding, release).
// ════════════════════════════════════════════════════════════════════════════════════════════════

package topology

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func readyTable(t *testing.T, n int) *Table {
	t.Helper()
	tab := New(n)
	for i := 0; i < n; i++ {
		require.NoError(t, tab.MarkPossible(i))
		require.NoError(t, tab.MarkOnline(i))
	}
	return tab
}

// ============================================================================
// MASKS
// ============================================================================

func TestMarkIdempotent(t *testing.T) {
	tab := New(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, tab.MarkPossible(1))
		require.NoError(t, tab.MarkOnline(1))
	}
	require.True(t, tab.Possible(1))
	require.True(t, tab.Online(1))
	require.False(t, tab.Possible(0))
	require.Equal(t, []int{1}, tab.OnlineCPUs())
}

func TestMarkOnlineImpliesPossible(t *testing.T) {
	tab := New(2)
	require.NoError(t, tab.MarkOnline(0))
	if !tab.Possible(0) {
		t.Fatal("online CPU not possible")
	}
}

func TestMarkOutOfRange(t *testing.T) {
	tab := New(2)
	require.ErrorIs(t, tab.MarkPossible(2), ErrUnknownCPU)
	require.ErrorIs(t, tab.MarkOnline(-1), ErrUnknownCPU)
}

func TestFrozenRejectsMutation(t *testing.T) {
	tab := readyTable(t, 2)
	tab.Freeze()
	tab.Freeze()

	require.True(t, tab.Frozen())
	require.ErrorIs(t, tab.MarkPossible(0), ErrTopologyFrozen)
	require.ErrorIs(t, tab.MarkOnline(1), ErrTopologyFrozen)
	require.ErrorIs(t, tab.EnableNocb(NocbSpec{Zero: true}), ErrTopologyFrozen)

	// Queries stay available.
	require.Equal(t, []int{0, 1}, tab.OnlineCPUs())
}

func TestQueriesNeverFail(t *testing.T) {
	tab := New(2)
	if tab.Possible(9) || tab.Online(-3) || tab.Nocb(5) {
		t.Error("out-of-range query reported true")
	}
	if got := tab.CPU(7); got.ID != 7 || got.Possible {
		t.Errorf("CPU(7) = %+v", got)
	}
	if tab.BoundBy(42) != "" {
		t.Error("BoundBy out of range returned an owner")
	}
}

// ============================================================================
// NOCB
// ============================================================================

func TestEnableNocb(t *testing.T) {
	cases := []struct {
		name string
		spec NocbSpec
		want []int
	}{
		{"empty", NocbSpec{}, nil},
		{"zero", NocbSpec{Zero: true}, []int{0}},
		{"list", NocbSpec{List: "1"}, []int{1}},
		{"range", NocbSpec{List: "0-1"}, []int{0, 1}},
		{"all", NocbSpec{List: "all"}, []int{0, 1}},
		{"zero plus", NocbSpec{List: "1", Zero: true}, []int{0, 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tab := readyTable(t, 2)
			require.NoError(t, tab.EnableNocb(tc.spec))
			require.Equal(t, tc.want, tab.NocbCPUs())
		})
	}
}

func TestEnableNocbSkipsOffline(t *testing.T) {
	tab := New(2)
	require.NoError(t, tab.MarkPossible(0))
	require.NoError(t, tab.MarkPossible(1))
	require.NoError(t, tab.MarkOnline(0))
	require.NoError(t, tab.EnableNocb(NocbSpec{List: "all"}))
	require.Equal(t, []int{0}, tab.NocbCPUs())
}

func TestParseCPUList(t *testing.T) {
	got, err := ParseCPUList(" 2, 0-1 ,1 ", 4)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, got)

	for _, bad := range []string{"x", "1-", "3-1", "-1", "0-9"} {
		if _, err := ParseCPUList(bad, 4); err == nil {
			t.Errorf("ParseCPUList(%q) succeeded", bad)
		}
	}
	_, err = ParseCPUList("7", 4)
	require.ErrorIs(t, err, ErrUnknownCPU)
}

func TestNocbSpecRoundTrip(t *testing.T) {
	for _, in := range []string{"", "zero", "zero+1", "0-1", "all"} {
		s, err := ParseNocbSpec(in)
		require.NoError(t, err, in)
		require.Equal(t, in, s.String())
	}
	_, err := ParseNocbSpec("zero+oops")
	require.Error(t, err)
}

// ============================================================================
// BINDINGS
// ============================================================================

func TestBindUnknownCPU(t *testing.T) {
	tab := New(2)
	require.NoError(t, tab.MarkPossible(0))

	_, err := tab.Bind(1, "reader")
	require.ErrorIs(t, err, ErrUnknownCPU)

	_, err = tab.Bind(5, "reader")
	require.ErrorIs(t, err, ErrUnknownCPU)
}

func TestBindAlreadyBound(t *testing.T) {
	tab := readyTable(t, 2)

	b, err := tab.Bind(0, "updater")
	require.NoError(t, err)
	require.Equal(t, "updater", tab.BoundBy(0))

	_, err = tab.Claim(0, "gp")
	require.ErrorIs(t, err, ErrAlreadyBound)

	b.Release()
	b.Release()
	require.Equal(t, "", tab.BoundBy(0))

	c, err := tab.Claim(0, "gp")
	require.NoError(t, err)
	require.Equal(t, 0, c.CPU())
	require.Equal(t, "gp", c.Owner())
	c.Release()
}

func TestSuspendResume(t *testing.T) {
	tab := readyTable(t, 2)

	b, err := tab.Bind(0, "updater")
	require.NoError(t, err)
	defer b.Release()

	b.Suspend()
	require.True(t, b.Suspended())
	require.Equal(t, "", tab.BoundBy(0))

	gp, err := tab.Claim(0, "gp")
	require.NoError(t, err)
	require.ErrorIs(t, b.Resume(), ErrAlreadyBound)
	require.True(t, b.Suspended())

	gp.Release()
	require.NoError(t, b.Resume())
	require.False(t, b.Suspended())
	require.Equal(t, "updater", tab.BoundBy(0))

	// Resume on a held binding is a no-op.
	require.NoError(t, b.Resume())
}

func TestBindExclusiveUnderContention(t *testing.T) {
	tab := readyTable(t, 2)

	const contenders = 8
	var (
		wg       sync.WaitGroup
		attempts atomic.Int32
		winners  atomic.Int32
	)
	start := make(chan struct{})
	hold := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			b, err := tab.Bind(1, "contender")
			attempts.Add(1)
			if err != nil {
				if !errors.Is(err, ErrAlreadyBound) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			winners.Add(1)
			<-hold
			b.Release()
		}()
	}
	close(start)
	for attempts.Load() < contenders {
		runtime.Gosched()
	}
	close(hold)
	wg.Wait()
	if n := winners.Load(); n != 1 {
		t.Errorf("winners = %d, want 1", n)
	}
}
