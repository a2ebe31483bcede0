//go:build !linux || tinygo

// setaffinity_stub.go - CPU affinity no-op for platforms without
// sched_setaffinity(2). Logical CPU identity is unaffected; only host
// placement is skipped.

package sched

func setAffinity(cpu int) error { return nil }
