package corealarm

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDispatcherStarted is returned by [Dispatcher.Start] if the
	// dispatcher was already started.
	ErrDispatcherStarted = errors.New(`corealarm: dispatcher already started`)

	// ErrDispatcherClosed is returned by [Dispatcher.Start] if the
	// dispatcher was already closed.
	ErrDispatcherClosed = errors.New(`corealarm: dispatcher closed`)
)

type (
	// Dispatcher is a timer-interrupt dispatch layer: an [InterruptTimer]
	// implementation backed by one goroutine per core, each holding a host
	// timer armed at that core's most recently programmed deadline. When a
	// deadline passes, the core's goroutine invokes
	// [Registry.CheckAlarms] with a fresh [Context] for that core.
	//
	// Construct with [NewDispatcher], pass to [WithInterruptTimer], then
	// call [Dispatcher.Start] with the registry. Deadlines programmed
	// before Start are retained and honored once started.
	Dispatcher struct {
		registry *Registry
		arm      []chan time.Time // per core; buffered, latest wins
		done     chan struct{}
		wg       sync.WaitGroup
		started  atomic.Bool
		closed   atomic.Bool
	}
)

// NewDispatcher creates a dispatcher for the given number of cores, which
// must match the registry it will be started with. A panic will occur if
// cores is not positive.
func NewDispatcher(cores int) *Dispatcher {
	if cores <= 0 {
		panic(fmt.Errorf(`corealarm: invalid core count: %d`, cores))
	}
	x := &Dispatcher{
		arm:  make([]chan time.Time, cores),
		done: make(chan struct{}),
	}
	for i := range x.arm {
		x.arm[i] = make(chan time.Time, 1)
	}
	return x
}

// SetInterruptTimer implements [InterruptTimer]. It never blocks: only the
// most recently programmed deadline per core is retained, which is exactly
// the emulated device's contract. A panic will occur if core is out of
// range.
func (x *Dispatcher) SetInterruptTimer(core int, at time.Time) {
	ch := x.arm[core]
	for {
		select {
		case ch <- at:
			return
		default:
			// drop the stale pending deadline
			select {
			case <-ch:
			default:
			}
		}
	}
}

// Start launches the per-core dispatch goroutines against the given
// registry. The registry's core count must match the dispatcher's.
func (x *Dispatcher) Start(registry *Registry) error {
	if registry == nil {
		panic(fmt.Errorf(`corealarm: dispatcher start: nil registry`))
	}
	if registry.Cores() != len(x.arm) {
		panic(fmt.Errorf(`corealarm: dispatcher start: core count mismatch: %d != %d`, registry.Cores(), len(x.arm)))
	}
	if x.closed.Load() {
		return ErrDispatcherClosed
	}
	if !x.started.CompareAndSwap(false, true) {
		return ErrDispatcherStarted
	}

	x.registry = registry
	x.wg.Add(len(x.arm))
	for core := range x.arm {
		go x.run(core)
	}
	return nil
}

// Close stops all dispatch goroutines and waits for them to exit. It is safe
// to call multiple times, and safe to call without Start.
func (x *Dispatcher) Close() error {
	if x.closed.CompareAndSwap(false, true) {
		close(x.done)
	}
	x.wg.Wait()
	return nil
}

// run is the per-core dispatch loop.
func (x *Dispatcher) run(core int) {
	defer x.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	for {
		select {
		case <-x.done:
			return

		case at := <-x.arm[core]:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if !at.Equal(Never) {
				timer.Reset(max(time.Until(at), 0))
			}

		case <-timer.C:
			x.registry.CheckAlarms(core, &Context{Core: core})
		}
	}
}
