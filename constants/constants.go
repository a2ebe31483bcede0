// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: constants.go - Litmus topology, engine and worker tunables
//
// Purpose:
//   - Fixes the two-CPU topology the NOCB litmus scenario runs on.
//   - Sizes the callback rings and the worker spin/relax budgets.
//   - Provides the default timings the scenario and engine start from.
//
// Notes:
//   - Runtime overrides live in package config; these are the defaults.
//
// ⚠️ No runtime logic here - all values must be compile-time resolvable
// ─────────────────────────────────────────────────────────────────────────────

package constants

import "time"

// ───────────────────────────── Topology ──────────────────────────────

const (
	// NumCPUs is the number of logical CPUs the harness models.
	NumCPUs = 2

	// CPU0 hosts the updater, the grace-period coordinator and, by
	// default, the NOCB offload worker.
	CPU0 = 0

	// CPU1 hosts the reader.
	CPU1 = 1

	// MinLeaderStride is the smallest valid NOCB leader stride. Using it
	// skips the integer square root the engine would otherwise compute.
	MinLeaderStride = 1
)

// ───────────────────────────── Callback rings ──────────────────────────────

const (
	// CallbackRingSize is the per-CPU capacity of the ready-callback ring
	// between the grace-period coordinator and the NOCB worker.
	// Must be a power of two.
	CallbackRingSize = 64
)

// ───────────────────────────── Worker pacing ──────────────────────────────

const (
	// SpinBudget is the number of empty polls a worker or CPU waiter
	// performs before relaxing the host core.
	SpinBudget = 224

	// HotWindow keeps a worker polling without sleeping after activity.
	HotWindow = 2 * time.Millisecond

	// FQSInterval bounds how long the coordinator sleeps between
	// quiescent-state scans while a grace period is in flight.
	FQSInterval = 200 * time.Microsecond

	// IdlePark bounds how long an idle worker parks before rechecking
	// its stop flag.
	IdlePark = 5 * time.Millisecond
)

// ───────────────────────────── Scenario ──────────────────────────────

const (
	// SettleWindow is how long the reader lets the updater and the
	// coordinator make progress at each settle checkpoint.
	SettleWindow = 20 * time.Millisecond

	// DefaultRuns is the number of scenario repetitions per invocation.
	DefaultRuns = 1
)
