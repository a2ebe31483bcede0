//go:build linux && !tinygo

// setaffinity_linux.go - Linux host CPU affinity via sched_setaffinity(2)
//
// Errors are reported to the caller, which logs and carries on unpinned:
// in containers or cgroup-restricted hosts the call may fail with EINVAL
// or EPERM, and the litmus scenario stays meaningful without host pinning.

package sched

import "golang.org/x/sys/unix"

// setAffinity pins the current OS thread to host core cpu.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
