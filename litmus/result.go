package litmus

import (
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"

	"rculitmus/rcu"
)

// Outcome is the observed (r_x, r_y) pair.
type Outcome uint8

const (
	Outcome00 Outcome = iota
	Outcome10
	Outcome11
	// OutcomeForbidden is (0,1), the single outcome RCU rules out.
	OutcomeForbidden
)

func (o Outcome) String() string {
	switch o {
	case Outcome00:
		return "0,0"
	case Outcome10:
		return "1,0"
	case Outcome11:
		return "1,1"
	case OutcomeForbidden:
		return "0,1"
	}
	return fmt.Sprintf("outcome(%d)", uint8(o))
}

// Classify maps observations to an Outcome. Any non-zero value counts as 1.
func Classify(rx, ry int32) Outcome {
	switch {
	case rx == 0 && ry != 0:
		return OutcomeForbidden
	case rx == 0:
		return Outcome00
	case ry == 0:
		return Outcome10
	}
	return Outcome11
}

// Check evaluates the invariant ¬(r_x == 0 ∧ r_y == 1).
func Check(rx, ry int32) error {
	if Classify(rx, ry) == OutcomeForbidden {
		return &Error{
			Kind: KindOrdering,
			Op:   "assert",
			Err:  fmt.Errorf("%w (r_x=%d r_y=%d)", ErrOrderingViolation, rx, ry),
		}
	}
	return nil
}

// Result is what one scenario run observed.
type Result struct {
	Variant      Variant
	Engine       string
	Faults       rcu.Fault
	Rx, Ry       int32
	Outcome      Outcome
	ReaderTrace  []string
	UpdaterTrace []string
	Fingerprint  string
	Duration     time.Duration
	Stats        rcu.Stats
}

// fingerprint hashes what the run did, excluding timing: the two traces
// and the outcome. Two runs that interleaved the same way share it.
func fingerprint(reader, updater []string, o Outcome) string {
	h := sha3.New256()
	for _, ev := range reader {
		h.Write([]byte("r:" + ev + "\n"))
	}
	for _, ev := range updater {
		h.Write([]byte("u:" + ev + "\n"))
	}
	h.Write([]byte("o:" + o.String() + "\n"))
	return hex.EncodeToString(h.Sum(nil))
}
