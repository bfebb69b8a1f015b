package corealarm

import (
	"fmt"
)

const (
	// tagAlarm is stamped on every Alarm by CreateAlarmEx, and validated
	// defensively where the original kernel asserts it. Unrelated to the
	// guest-assigned group tag.
	tagAlarm uint32 = 0x614c524d // 'aLRM'

	// tagAlarmQueue is stamped on every per-core queue at initialisation.
	tagAlarmQueue uint32 = 0x614c6d51 // 'aLmQ'
)

type (
	// Callback is a guest-supplied function invoked when an alarm triggers.
	//
	// Callbacks run with the alarm lock released, and may therefore arm,
	// cancel, wait on, or query alarms (including the triggering alarm).
	// They run with the scheduler lock held, however, so a callback must not
	// call [Registry.WaitAlarm].
	Callback func(alarm *Alarm, context *Context)

	// Context models the guest execution context that was active when a
	// timer interrupt was dispatched. It is passed through
	// [Registry.CheckAlarms] to every triggered alarm's callback, and
	// recorded on the alarm itself.
	Context struct {
		// Core is the execution core the interrupt was delivered to.
		Core int
	}

	// alarmState is the tri-state of the alarm state machine. Cancelled is
	// distinguishable from None only by having passed through cancellation;
	// WaitAlarm uses the distinction to report failure vs a natural fire.
	alarmState uint32

	// Alarm is one schedulable guest timer. The zero value is not usable;
	// storage is caller-allocated and must be initialised via [CreateAlarm]
	// or [CreateAlarmEx] before any other use.
	//
	// All mutable fields are guarded by the owning [Registry]'s global alarm
	// lock. An alarm may be armed, cancelled, and re-armed arbitrarily many
	// times; the caller is responsible for ensuring an alarm is not queued
	// before discarding it.
	Alarm struct {
		userData any
		callback Callback
		context  *Context
		queue    *alarmQueue // non-nil iff state == stateSet
		name     string
		waiters  ThreadQueue
		nextFire Time // absolute guest time of next trigger, 0 = inactive
		period   Time // guest-time interval, 0 = one-shot
		tag      uint32
		alarmTag uint32 // guest-assigned group tag, for bulk cancellation
		state    alarmState
	}
)

const (
	stateNone alarmState = iota
	stateSet
	stateCancelled
)

// String returns the lower-case state name, as used in [Snapshot] output.
func (x alarmState) String() string {
	switch x {
	case stateNone:
		return `none`
	case stateSet:
		return `set`
	case stateCancelled:
		return `cancelled`
	default:
		return fmt.Sprintf(`invalid(%d)`, uint32(x))
	}
}

// CreateAlarm initialises caller-allocated alarm storage, equivalent to
// [CreateAlarmEx] with an empty name.
func CreateAlarm(alarm *Alarm) {
	CreateAlarmEx(alarm, ``)
}

// CreateAlarmEx initialises caller-allocated alarm storage, zeroing every
// field, stamping the type tag, and initialising the alarm's wait queue. The
// name is diagnostic only, surfaced via logging and [Registry.Snapshot].
//
// A panic will occur if alarm is nil. Re-initialising an alarm that is still
// queued is a caller error, and is not detected.
func CreateAlarmEx(alarm *Alarm, name string) {
	if alarm == nil {
		panic(fmt.Errorf(`corealarm: create alarm: nil alarm`))
	}
	*alarm = Alarm{
		tag:  tagAlarm,
		name: name,
	}
	alarm.waiters.parent = alarm
}

// Name returns the diagnostic name the alarm was created with.
func (x *Alarm) Name() string { return x.name }
