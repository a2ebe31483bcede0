package litmus

import (
	"errors"
	"fmt"

	"rculitmus/rcu"
	"rculitmus/topology"
)

// Kind classifies scenario failures. Every kind is fatal.
type Kind uint8

const (
	// KindSetup is topology or engine misuse: unknown CPU, double binding,
	// mutation after freeze, out-of-order initialization.
	KindSetup Kind = iota + 1
	// KindOrdering is the forbidden outcome, or the updater probe.
	KindOrdering
	// KindResource is a worker or thread that could not start or be joined.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindOrdering:
		return "ordering"
	case KindResource:
		return "resource"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

var (
	// ErrOrderingViolation is wrapped by the error for r_x == 0 && r_y == 1.
	ErrOrderingViolation = errors.New("litmus: forbidden outcome r_x=0 r_y=1")

	// ErrProbe is wrapped by the error the updater probe variant raises.
	ErrProbe = errors.New("litmus: updater probe fired")

	// ErrAlreadyRun is returned by a second Run on the same context.
	ErrAlreadyRun = errors.New("litmus: scenario already run")
)

// Error is a classified scenario failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return "litmus: " + e.Kind.String() + " error in " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// IsFatal reports whether err is a classified scenario failure.
func IsFatal(err error) bool {
	var le *Error
	return errors.As(err, &le)
}

// KindOf returns err's kind, or 0 when err is not a scenario failure.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return 0
}

var setupErrors = []error{
	topology.ErrUnknownCPU,
	topology.ErrAlreadyBound,
	topology.ErrTopologyFrozen,
	rcu.ErrAlreadyInitialized,
	rcu.ErrNotInitialized,
	rcu.ErrInitOrder,
	rcu.ErrBadStride,
	rcu.ErrNotNocb,
	rcu.ErrUnknownDomain,
	rcu.ErrSyncInReader,
	ErrAlreadyRun,
}

// wrap classifies err under op. Topology and engine misuse is always a
// setup error whatever kind the caller suggests.
func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) {
		return err
	}
	for _, s := range setupErrors {
		if errors.Is(err, s) {
			kind = KindSetup
			break
		}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
