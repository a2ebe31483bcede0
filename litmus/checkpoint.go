package litmus

import (
	"fmt"
	"strings"
)

// Checkpoint names a preemption-injection point in the reader or updater
// body.
type Checkpoint uint8

const (
	// ReaderIRQ is the interrupt inside the critical section, after x is read.
	ReaderIRQ Checkpoint = iota
	// ReaderIdlePair is an idle-enter/idle-exit pair inside the critical section.
	ReaderIdlePair
	// ReaderReschedPair is a voluntary yield plus an interrupt inside the
	// critical section.
	ReaderReschedPair
	// ReaderTrailingPair is the yield plus interrupt after the critical section.
	ReaderTrailingPair
	// UpdaterProbe fails the updater right after its grace-period wait.
	UpdaterProbe

	numCheckpoints
)

var checkpointNames = [numCheckpoints]string{
	ReaderIRQ:          "reader-irq",
	ReaderIdlePair:     "reader-idle-pair",
	ReaderReschedPair:  "reader-resched-pair",
	ReaderTrailingPair: "reader-trailing-pair",
	UpdaterProbe:       "updater-probe",
}

func (c Checkpoint) String() string {
	if c < numCheckpoints {
		return checkpointNames[c]
	}
	return fmt.Sprintf("checkpoint(%d)", uint8(c))
}

// Variant selects which checkpoints fire.
type Variant uint8

const (
	// Baseline fires the interrupt and the trailing pair.
	Baseline Variant = iota
	// MidIdle adds an idle pair inside the critical section and drops the
	// trailing pair.
	MidIdle
	// MidResched adds a yield plus interrupt inside the critical section and
	// drops the trailing pair.
	MidResched
	// NoTrailing drops the trailing pair.
	NoTrailing
	// AssertProbe is Baseline plus the updater probe, which always fails.
	AssertProbe

	numVariants
)

var variantNames = [numVariants]string{
	Baseline:    "baseline",
	MidIdle:     "mid-idle",
	MidResched:  "mid-resched",
	NoTrailing:  "no-trailing",
	AssertProbe: "assert-probe",
}

func (v Variant) String() string {
	if v < numVariants {
		return variantNames[v]
	}
	return fmt.Sprintf("variant(%d)", uint8(v))
}

// Variants lists every variant in declaration order.
func Variants() []Variant {
	out := make([]Variant, numVariants)
	for i := range out {
		out[i] = Variant(i)
	}
	return out
}

// ParseVariant maps a name produced by String back to its Variant.
func ParseVariant(s string) (Variant, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range variantNames {
		if n == s {
			return Variant(i), nil
		}
	}
	return Baseline, fmt.Errorf("litmus: unknown variant %q (want one of %s)",
		s, strings.Join(variantNames[:], ", "))
}

// Fires reports whether checkpoint c runs under v.
func (v Variant) Fires(c Checkpoint) bool {
	switch c {
	case ReaderIRQ:
		return true
	case ReaderIdlePair:
		return v == MidIdle
	case ReaderReschedPair:
		return v == MidResched
	case ReaderTrailingPair:
		return v == Baseline || v == AssertProbe
	case UpdaterProbe:
		return v == AssertProbe
	}
	return false
}
