package corealarm

import (
	"sync"
)

type (
	// Scheduler models the emulated thread scheduler, an external
	// collaborator of the alarm subsystem. It owns the scheduler lock,
	// which governs thread run/sleep state system-wide, and the sleep and
	// wake-all primitives for alarm wait queues.
	//
	// Lock ordering: whenever both the scheduler lock and the Registry's
	// alarm lock are held, the scheduler lock is acquired first and
	// released last. The Registry enforces this; implementations only need
	// a non-reentrant mutual exclusion.
	Scheduler interface {
		// Lock acquires the scheduler lock.
		Lock()

		// Unlock releases the scheduler lock.
		Unlock()

		// SleepNoLock parks the calling thread on q. Called with both the
		// scheduler lock and the alarm lock held; this makes the sleep
		// placement visible before the thread yields. The returned channel
		// is the reschedule point: it is closed on wakeup, and must only be
		// received from after both locks have been released.
		SleepNoLock(q *ThreadQueue) <-chan struct{}

		// WakeAllNoLock wakes every thread parked on q. Called with the
		// alarm lock held; the trigger path additionally holds the
		// scheduler lock, but the cancellation path does not.
		WakeAllNoLock(q *ThreadQueue)
	}

	// mutexScheduler is the default Scheduler, suitable for standalone use
	// of the subsystem: the scheduler lock is a plain mutex, and guest
	// threads are goroutines parked on per-wait-queue channels.
	mutexScheduler struct {
		mu sync.Mutex
	}
)

// NewScheduler returns the default [Scheduler] implementation, for use when
// the subsystem is not embedded in a larger emulated kernel.
func NewScheduler() Scheduler {
	return new(mutexScheduler)
}

func (x *mutexScheduler) Lock()   { x.mu.Lock() }
func (x *mutexScheduler) Unlock() { x.mu.Unlock() }

func (x *mutexScheduler) SleepNoLock(q *ThreadQueue) <-chan struct{} {
	return q.Park()
}

func (x *mutexScheduler) WakeAllNoLock(q *ThreadQueue) {
	q.WakeAll()
}
