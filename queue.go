package corealarm

import (
	"golang.org/x/exp/slices"
)

type (
	// alarmQueue is one core's container of currently armed alarms. Entries
	// are insertion-ordered, not time-ordered: the check loop scans the
	// whole queue anyway, so arming stays O(1) at the cost of an O(n) scan,
	// which is acceptable at realistic alarm counts.
	//
	// Guarded by the owning Registry's global alarm lock.
	alarmQueue struct {
		alarms []*Alarm
		tag    uint32
	}

	// ThreadQueue is the wait queue owned by each [Alarm], on which guest
	// threads blocked in [Registry.WaitAlarm] are parked.
	//
	// Methods must only be called while holding the owning Registry's alarm
	// lock; [Scheduler] implementations receive that guarantee from the
	// Registry.
	ThreadQueue struct {
		parent  *Alarm
		waiters []chan struct{}
	}
)

func newAlarmQueue() *alarmQueue {
	return &alarmQueue{tag: tagAlarmQueue}
}

// append links the alarm at the tail of the queue, recording the weak
// back-reference used for later remove-by-identity.
func (x *alarmQueue) append(alarm *Alarm) {
	alarm.queue = x
	x.alarms = append(x.alarms, alarm)
}

// erase unlinks the alarm by identity, clearing its back-reference. Erasing
// an alarm that is not linked into this queue only clears the back-reference.
func (x *alarmQueue) erase(alarm *Alarm) {
	if i := slices.Index(x.alarms, alarm); i >= 0 {
		x.alarms = slices.Delete(x.alarms, i, i+1)
	}
	alarm.queue = nil
}

// Park registers the calling thread on the wait queue, returning the channel
// that will be closed on wakeup. The caller must not receive from it until
// after releasing both the alarm and scheduler locks.
func (x *ThreadQueue) Park() <-chan struct{} {
	ch := make(chan struct{})
	x.waiters = append(x.waiters, ch)
	return ch
}

// WakeAll wakes every thread parked on the queue, leaving it empty.
func (x *ThreadQueue) WakeAll() {
	for _, ch := range x.waiters {
		close(ch)
	}
	x.waiters = nil
}

// Len returns the number of parked threads.
func (x *ThreadQueue) Len() int { return len(x.waiters) }

// Alarm returns the alarm that owns this wait queue.
func (x *ThreadQueue) Alarm() *Alarm { return x.parent }
