//go:build !amd64 || noasm

// relax_stub.go - Fallback no-op for cpuRelax on non-x86 systems
//
// Keeps arm64, RISC-V and WASM builds compiling; spin loops still call
// runtime.Gosched once their budget is exhausted.

package sched

func cpuRelax() {}
