package topology

import (
	"fmt"
	"strconv"
	"strings"
)

// NocbSpec selects the CPUs whose callbacks are offloaded.
//
// List uses the kernel cpulist syntax ("0", "0-1", "0,1", "all", or "" for
// none). Zero additionally forces CPU 0, as CONFIG_RCU_NOCB_CPU_ZERO does.
type NocbSpec struct {
	List string `json:"list"`
	Zero bool   `json:"zero"`
}

// Resolve expands s into a membership slice of length n.
func (s NocbSpec) Resolve(n int) ([]bool, error) {
	ids, err := ParseCPUList(s.List, n)
	if err != nil {
		return nil, err
	}
	want := make([]bool, n)
	for _, id := range ids {
		want[id] = true
	}
	if s.Zero && n > 0 {
		want[0] = true
	}
	return want, nil
}

// String renders s in the form accepted on the command line.
func (s NocbSpec) String() string {
	if s.Zero {
		if s.List == "" {
			return "zero"
		}
		return "zero+" + s.List
	}
	return s.List
}

// ParseNocbSpec parses the command-line form produced by String.
func ParseNocbSpec(v string) (NocbSpec, error) {
	var s NocbSpec
	switch {
	case v == "zero":
		s.Zero = true
	case strings.HasPrefix(v, "zero+"):
		s.Zero = true
		s.List = strings.TrimPrefix(v, "zero+")
	default:
		s.List = v
	}
	if s.List == "all" {
		return s, nil
	}
	// Range checks against the real CPU count happen in Resolve.
	if _, err := ParseCPUList(s.List, 1<<16); err != nil {
		return NocbSpec{}, err
	}
	return s, nil
}

// ParseCPUList parses a cpulist for a machine of n CPUs. The result is
// sorted and free of duplicates.
func ParseCPUList(list string, n int) ([]int, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return nil, nil
	}
	seen := make(map[int]bool)
	if list == "all" {
		for i := 0; i < n; i++ {
			seen[i] = true
		}
		return sortedKeys(seen, n), nil
	}

	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("topology: bad cpulist %q: %w", list, err)
		}
		b := a
		if isRange {
			if b, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("topology: bad cpulist %q: %w", list, err)
			}
		}
		if a < 0 || b < a {
			return nil, fmt.Errorf("topology: bad cpulist range %q", part)
		}
		if b >= n {
			return nil, fmt.Errorf("%w: %d in cpulist %q", ErrUnknownCPU, b, list)
		}
		for i := a; i <= b; i++ {
			seen[i] = true
		}
	}
	return sortedKeys(seen, n), nil
}

func sortedKeys(seen map[int]bool, n int) []int {
	ids := make([]int, 0, len(seen))
	for i := 0; i < n && len(ids) < len(seen); i++ {
		if seen[i] {
			ids = append(ids, i)
		}
	}
	return ids
}
