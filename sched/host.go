package sched

import (
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"

	"rculitmus/debug"
)

var hostCPUs = sync.OnceValue(func() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		debug.DropError("host cpu count unavailable, using runtime.NumCPU", err)
		return runtime.NumCPU()
	}
	return n
})

// HostCPUs returns the number of logical CPUs on the host.
func HostCPUs() int { return hostCPUs() }

// HostCore maps a logical CPU onto a host core. Logical CPUs wrap around
// when the host has fewer cores than the scenario models.
func HostCore(logical int) int {
	n := HostCPUs()
	if n <= 0 {
		return 0
	}
	return logical % n
}
