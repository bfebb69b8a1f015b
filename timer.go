package corealarm

import (
	"math"
	"time"
)

// Never is the sentinel deadline meaning a core's interrupt timer should not
// fire. It is passed to [InterruptTimer.SetInterruptTimer] when a core has no
// pending alarm deadline.
var Never = time.Unix(0, math.MaxInt64)

type (
	// InterruptTimer models the per-core interrupt-timer device: it accepts
	// an absolute host time at which to raise a timer interrupt for a
	// specific core, or [Never] to disarm.
	//
	// SetInterruptTimer may be called with the Registry's alarm lock held,
	// so implementations must not block and must not call back into the
	// Registry. [Dispatcher] satisfies both.
	InterruptTimer interface {
		SetInterruptTimer(core int, at time.Time)
	}

	// InterruptTimerFunc adapts a function to the [InterruptTimer]
	// interface.
	InterruptTimerFunc func(core int, at time.Time)

	// nopInterruptTimer is the default InterruptTimer, for configurations
	// where CheckAlarms is driven externally (e.g. a core-interleaved
	// emulation loop) rather than by programmed deadlines.
	nopInterruptTimer struct{}
)

// SetInterruptTimer calls x.
func (x InterruptTimerFunc) SetInterruptTimer(core int, at time.Time) {
	x(core, at)
}

func (nopInterruptTimer) SetInterruptTimer(core int, at time.Time) {}
