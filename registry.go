package corealarm

import (
	"fmt"
	"sync"

	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"
)

// DefaultCores is the number of execution cores of the emulated system, and
// therefore the number of per-core alarm queues, unless overridden via
// [WithCores].
const DefaultCores = 3

type (
	// Registry is the alarm subsystem: one insertion-ordered queue of armed
	// alarms per core, a single global lock guarding all alarm and queue
	// state, and the guest-facing operations. Exactly one instance exists
	// per emulated OS instance, constructed once via [NewRegistry] and held
	// for the process lifetime.
	//
	// The global lock is deliberate: all alarm mutation across every core
	// is linearized by it, and guest software may depend on the resulting
	// cross-alarm atomicity. Do not introduce per-alarm locking.
	Registry struct {
		clock  Clock
		sched  Scheduler
		timer  InterruptTimer
		coreID func() int
		logger *logiface.Logger[logiface.Event]
		queues []*alarmQueue
		lock   sync.Mutex // the global alarm lock; nests inside sched
	}

	// registryOptions holds configuration for Registry creation.
	registryOptions struct {
		clock  Clock
		sched  Scheduler
		timer  InterruptTimer
		coreID func() int
		logger *logiface.Logger[logiface.Event]
		cores  int
	}

	// Option configures a Registry instance.
	Option interface {
		applyRegistry(*registryOptions) error
	}

	// optionImpl implements Option.
	optionImpl struct {
		applyRegistryFunc func(*registryOptions) error
	}
)

func (x *optionImpl) applyRegistry(opts *registryOptions) error {
	return x.applyRegistryFunc(opts)
}

// WithCores sets the number of execution cores, which is also the number of
// per-core alarm queues. Defaults to [DefaultCores].
func WithCores(cores int) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if cores <= 0 {
			return fmt.Errorf(`corealarm: invalid core count: %d`, cores)
		}
		opts.cores = cores
		return nil
	}}
}

// WithClock sets the guest [Clock]. Defaults to a [TickClock] at
// [DefaultTickRate], anchored at construction time.
func WithClock(clock Clock) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if clock == nil {
			return fmt.Errorf(`corealarm: nil clock`)
		}
		opts.clock = clock
		return nil
	}}
}

// WithScheduler sets the thread [Scheduler] collaborator. Defaults to
// [NewScheduler].
func WithScheduler(sched Scheduler) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if sched == nil {
			return fmt.Errorf(`corealarm: nil scheduler`)
		}
		opts.sched = sched
		return nil
	}}
}

// WithInterruptTimer sets the per-core [InterruptTimer] collaborator.
// Defaults to a no-op, for configurations where [Registry.CheckAlarms] is
// driven externally.
func WithInterruptTimer(timer InterruptTimer) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if timer == nil {
			return fmt.Errorf(`corealarm: nil interrupt timer`)
		}
		opts.timer = timer
		return nil
	}}
}

// WithCoreID sets the provider of the ambient "current core", used by the
// arming operations to select the queue an alarm is linked into. The default
// always reports core 0; embedders with per-core execution contexts should
// supply the real mapping.
func WithCoreID(coreID func() int) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if coreID == nil {
			return fmt.Errorf(`corealarm: nil core id provider`)
		}
		opts.coreID = coreID
		return nil
	}}
}

// WithLogger sets the structured logger. The logger may be nil (the
// default), which disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.logger = logger
		return nil
	}}
}

// NewRegistry creates the alarm subsystem state, allocating one alarm queue
// per core. See [Option] and the With* functions for configuration.
func NewRegistry(opts ...Option) (*Registry, error) {
	cfg := &registryOptions{
		cores: DefaultCores,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRegistry(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.clock == nil {
		cfg.clock = NewTickClock(DefaultTickRate)
	}
	if cfg.sched == nil {
		cfg.sched = NewScheduler()
	}
	if cfg.timer == nil {
		cfg.timer = nopInterruptTimer{}
	}
	if cfg.coreID == nil {
		cfg.coreID = func() int { return 0 }
	}

	x := &Registry{
		clock:  cfg.clock,
		sched:  cfg.sched,
		timer:  cfg.timer,
		coreID: cfg.coreID,
		logger: cfg.logger,
		queues: make([]*alarmQueue, cfg.cores),
	}
	for i := range x.queues {
		x.queues[i] = newAlarmQueue()
	}
	return x, nil
}

// Clock returns the guest clock, e.g. for computing absolute deadlines to
// pass to [Registry.SetPeriodicAlarm].
func (x *Registry) Clock() Clock { return x.clock }

// Cores returns the number of execution cores (and per-core alarm queues).
func (x *Registry) Cores() int { return len(x.queues) }

// SetAlarm arms a one-shot alarm to fire at the current guest time plus
// relative, invoking callback (which may be nil) when it triggers. Equivalent
// to SetPeriodicAlarm(alarm, Now()+relative, 0, callback). Always succeeds.
func (x *Registry) SetAlarm(alarm *Alarm, relative Time, callback Callback) bool {
	return x.SetPeriodicAlarm(alarm, x.clock.Now()+relative, 0, callback)
}

// SetPeriodicAlarm arms an alarm to first fire at the absolute guest time
// start, then every interval ticks thereafter. An interval of 0 makes the
// alarm one-shot. Always succeeds, and always returns true.
//
// If the alarm was already armed, it is first unlinked from its current
// queue, which may belong to a different core; it is then appended to the
// current core's queue. The current core's interrupt timer is reprogrammed to
// this alarm's deadline unconditionally, NOT to the minimum deadline across
// the queue; an earlier pending deadline is pushed back until the next check
// recomputes the true minimum. The original kernel behaves this way, and the
// behavior is preserved deliberately.
func (x *Registry) SetPeriodicAlarm(alarm *Alarm, start, interval Time, callback Callback) bool {
	x.lock.Lock()
	defer x.lock.Unlock()

	alarm.nextFire = start
	alarm.callback = callback
	alarm.period = interval
	alarm.context = nil
	alarm.state = stateSet

	if alarm.queue != nil {
		alarm.queue.erase(alarm)
	}

	core := x.coreID()
	x.queues[core].append(alarm)

	x.logger.Debug().
		Str(`alarm`, alarm.name).
		Int(`core`, core).
		Int64(`nextFire`, int64(alarm.nextFire)).
		Int64(`period`, int64(alarm.period)).
		Log(`alarm set`)

	x.timer.SetInterruptTimer(core, x.clock.ToHost(alarm.nextFire))
	return true
}

// cancelAlarmNoLock transitions a Set alarm to Cancelled, clearing its
// timing, unlinking it, and waking all waiters. Reports false, with no side
// effect, for an alarm in any other state. Alarm lock held.
func (x *Registry) cancelAlarmNoLock(alarm *Alarm) bool {
	if alarm.state != stateSet {
		return false
	}

	alarm.state = stateCancelled
	alarm.nextFire = 0
	alarm.period = 0

	if alarm.queue != nil {
		alarm.queue.erase(alarm)
	}

	x.sched.WakeAllNoLock(&alarm.waiters)
	return true
}

// CancelAlarm cancels the alarm if it is currently armed, waking every
// thread blocked on it with a cancelled outcome. Reports false, with no
// observable side effect, if the alarm is not armed.
//
// Cancellation does not reprogram any interrupt timer: a core whose only
// pending alarm was cancelled takes one redundant, harmless interrupt at the
// stale deadline before its next check computes [Never].
func (x *Registry) CancelAlarm(alarm *Alarm) bool {
	x.lock.Lock()
	defer x.lock.Unlock()

	ok := x.cancelAlarmNoLock(alarm)

	x.logger.Debug().
		Str(`alarm`, alarm.name).
		Bool(`cancelled`, ok).
		Log(`alarm cancel`)

	return ok
}

// CancelAlarms cancels every armed alarm, on every core's queue, whose group
// tag matches alarmTag. See [Registry.SetAlarmTag].
func (x *Registry) CancelAlarms(alarmTag uint32) {
	x.lock.Lock()
	defer x.lock.Unlock()

	var cancelled int
	for _, queue := range x.queues {
		// cancellation unlinks, so iterate over a stable view
		for _, alarm := range slices.Clone(queue.alarms) {
			if alarm.alarmTag == alarmTag && x.cancelAlarmNoLock(alarm) {
				cancelled++
			}
		}
	}

	x.logger.Debug().
		Uint64(`tag`, uint64(alarmTag)).
		Int(`cancelled`, cancelled).
		Log(`alarms cancelled by tag`)
}

// SetAlarmTag assigns the alarm's group tag, used by [Registry.CancelAlarms]
// for bulk cancellation. The default tag is 0.
func (x *Registry) SetAlarmTag(alarm *Alarm, alarmTag uint32) {
	x.lock.Lock()
	defer x.lock.Unlock()
	alarm.alarmTag = alarmTag
}

// SetAlarmUserData attaches an opaque guest value to the alarm.
func (x *Registry) SetAlarmUserData(alarm *Alarm, data any) {
	x.lock.Lock()
	defer x.lock.Unlock()
	alarm.userData = data
}

// GetAlarmUserData returns the value set by [Registry.SetAlarmUserData].
func (x *Registry) GetAlarmUserData(alarm *Alarm) any {
	x.lock.Lock()
	defer x.lock.Unlock()
	return alarm.userData
}

// WaitAlarm blocks the calling thread until the alarm either fires or is
// cancelled. Reports false immediately, without blocking, if the alarm is
// not currently armed; otherwise reports true unless the alarm was
// cancelled. A wake that leaves the alarm armed (a periodic re-fire, or a
// spurious wake) reports true.
//
// A panic will occur if alarm is nil or was not initialised via
// [CreateAlarm] or [CreateAlarmEx]; that is a programming error, not a
// recoverable condition.
func (x *Registry) WaitAlarm(alarm *Alarm) bool {
	if alarm == nil {
		panic(fmt.Errorf(`corealarm: wait alarm: nil alarm`))
	}
	if alarm.tag != tagAlarm {
		panic(fmt.Errorf(`corealarm: wait alarm: invalid alarm tag: %#x`, alarm.tag))
	}

	x.sched.Lock()
	x.lock.Lock()

	if alarm.state != stateSet {
		x.lock.Unlock()
		x.sched.Unlock()
		return false
	}

	// Sleep placement happens under both locks, so it is visible to the
	// scheduler before this thread yields; the actual block comes after
	// both locks are released.
	wake := x.sched.SleepNoLock(&alarm.waiters)

	x.lock.Unlock()
	x.sched.Unlock()

	// reschedule point
	<-wake

	x.lock.Lock()
	result := alarm.state != stateCancelled
	x.lock.Unlock()
	return result
}

// triggerAlarmNoLock fires an alarm whose deadline has passed. Periodic
// alarms are pushed forward one period and stay queued; one-shot alarms are
// deactivated and unlinked. Waiters are woken unconditionally, so threads
// blocked on a periodic alarm are re-woken on every period.
//
// Called with both the scheduler lock and the alarm lock held. The alarm
// lock is released around the callback: callbacks are guest-controlled and
// may re-enter the subsystem, which would deadlock the non-reentrant lock.
func (x *Registry) triggerAlarmNoLock(alarm *Alarm, context *Context) {
	alarm.context = context

	if alarm.period != 0 {
		alarm.nextFire = x.clock.Now() + alarm.period
		alarm.state = stateSet
	} else {
		alarm.nextFire = 0
		alarm.state = stateNone
		alarm.queue.erase(alarm)
	}

	if alarm.callback != nil {
		x.lock.Unlock()
		alarm.callback(alarm, context)
		x.lock.Lock()
	}

	x.sched.WakeAllNoLock(&alarm.waiters)
}

// CheckAlarms scans the given core's queue once, triggering every due alarm,
// then reprograms that core's interrupt timer to the minimum remaining
// deadline (or [Never] if none). This is the only point that computes a true
// minimum across the queue; arming does not.
//
// It is invoked by the timer-interrupt dispatch path with the execution
// context active on that core, and is not guest-callable. A panic will occur
// if core is out of range.
func (x *Registry) CheckAlarms(core int, context *Context) {
	if core < 0 || core >= len(x.queues) {
		panic(fmt.Errorf(`corealarm: check alarms: invalid core: %d`, core))
	}

	queue := x.queues[core]
	now := x.clock.Now()
	next := Never
	var triggered int

	x.sched.Lock()
	x.lock.Lock()

	// Scan a stable view of the queue: triggering unlinks one-shot entries,
	// and reentrant callbacks may unlink, move, or re-arm arbitrary entries,
	// so the live slice can shift under an index scan. Each entry is
	// re-validated under the lock before triggering, since a callback earlier
	// in the scan may have cancelled or re-armed it since the snapshot.
	for _, alarm := range slices.Clone(queue.alarms) {
		if alarm.state != stateSet || alarm.queue != queue || alarm.nextFire > now {
			continue
		}
		x.triggerAlarmNoLock(alarm, context)
		triggered++
	}

	// The minimum comes from the live queue, so it reflects everything the
	// callbacks did, including entries armed mid-scan.
	for _, alarm := range queue.alarms {
		if alarm.state == stateSet && alarm.nextFire != 0 {
			if fire := x.clock.ToHost(alarm.nextFire); fire.Before(next) {
				next = fire
			}
		}
	}

	x.lock.Unlock()
	x.sched.Unlock()

	if b := x.logger.Debug(); b.Enabled() {
		b.Int(`core`, core).
			Int(`triggered`, triggered).
			Int64(`now`, int64(now)).
			Bool(`armed`, !next.Equal(Never)).
			Log(`alarms checked`)
	}

	x.timer.SetInterruptTimer(core, next)
}
