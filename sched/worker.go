// ════════════════════════════════════════════════════════════════════════════════════════════════
// ⚡ CPU-PINNED BACKGROUND WORKERS
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Component: Long-lived engine workers (grace-period coordinator, NOCB offload)
//
// Description:
//   Each worker is a goroutine locked to an OS thread, bound to one logical
//   CPU through the adapter, and driven by a control.Switch. The body owns
//   its loop and polls the switch; Stop requests termination and Wait
//   joins.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package sched

import (
	"runtime"

	"rculitmus/constants"
	"rculitmus/control"
	"rculitmus/debug"
)

// Body is a worker's main loop. It must return once sw.Stopping() is true.
type Body func(t *Thread, sw *control.Switch)

// Worker is the handle of a spawned worker.
type Worker struct {
	name string
	cpu  int
	sw   *control.Switch
	done chan struct{}
	err  error
}

// Spawn starts body on a new goroutine bound to cpu. It returns once the
// binding has been established, or with the binding error.
func (a *Adapter) Spawn(cpu int, name string, body Body) (*Worker, error) {
	w := &Worker{
		name: name,
		cpu:  cpu,
		sw:   control.NewSwitch(constants.HotWindow),
		done: make(chan struct{}),
	}
	bound := make(chan error, 1)

	go func() {
		defer close(w.done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		t, err := a.Bind(cpu, name)
		if err != nil {
			w.err = err
			bound <- err
			return
		}
		bound <- nil
		defer t.Release()

		body(t, w.sw)
		debug.DropTrace("WORKER", name+" exited")
	}()

	if err := <-bound; err != nil {
		return nil, err
	}
	return w, nil
}

// Name returns the worker label.
func (w *Worker) Name() string { return w.name }

// CPU returns the logical CPU the worker is bound to.
func (w *Worker) CPU() int { return w.cpu }

// Switch returns the worker's control switch, for producers that need to
// signal activity.
func (w *Worker) Switch() *control.Switch { return w.sw }

// Stop requests termination. Idempotent and non-blocking.
func (w *Worker) Stop() { w.sw.Shutdown() }

// Done is closed when the worker has exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker has exited.
func (w *Worker) Wait() { <-w.done }

// Err returns the error that ended the worker, if any. Valid after Done.
func (w *Worker) Err() error { return w.err }
