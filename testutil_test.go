package corealarm

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testClockOrigin is the host time manualClock maps guest tick 0 to.
var testClockOrigin = time.Unix(1_000_000, 0)

type (
	// manualClock is a Clock advanced explicitly by tests, mapping one
	// guest tick to one host millisecond from testClockOrigin.
	manualClock struct {
		mu  sync.Mutex
		now Time
	}

	// recordTimer is an InterruptTimer recording every programmed deadline.
	recordTimer struct {
		mu    sync.Mutex
		calls []timerCall
	}

	timerCall struct {
		at   time.Time
		core int
	}

	// testEnv bundles a Registry with manual collaborators.
	testEnv struct {
		reg   *Registry
		clock *manualClock
		timer *recordTimer
		core  atomic.Int64 // ambient current core
	}
)

func (x *manualClock) Now() Time {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.now
}

func (x *manualClock) ToHost(t Time) time.Time {
	return testClockOrigin.Add(time.Duration(t) * time.Millisecond)
}

func (x *manualClock) Set(t Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.now = t
}

func (x *recordTimer) SetInterruptTimer(core int, at time.Time) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, timerCall{core: core, at: at})
}

// last returns the most recently programmed deadline for core.
func (x *recordTimer) last(core int) (time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := len(x.calls) - 1; i >= 0; i-- {
		if x.calls[i].core == core {
			return x.calls[i].at, true
		}
	}
	return time.Time{}, false
}

func (x *recordTimer) count() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.calls)
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		clock: new(manualClock),
		timer: new(recordTimer),
	}
	reg, err := NewRegistry(append([]Option{
		WithClock(env.clock),
		WithInterruptTimer(env.timer),
		WithCoreID(func() int { return int(env.core.Load()) }),
	}, opts...)...)
	if err != nil {
		t.Fatalf(`NewRegistry failed: %v`, err)
	}
	env.reg = reg
	return env
}

// state reads the alarm's state under the alarm lock.
func (x *testEnv) state(alarm *Alarm) alarmState {
	x.reg.lock.Lock()
	defer x.reg.lock.Unlock()
	return alarm.state
}

// queuedOn returns the core whose queue the alarm is linked into, or -1.
func (x *testEnv) queuedOn(alarm *Alarm) int {
	x.reg.lock.Lock()
	defer x.reg.lock.Unlock()
	for core, queue := range x.reg.queues {
		for _, entry := range queue.alarms {
			if entry == alarm {
				return core
			}
		}
	}
	return -1
}

// occurrences counts the alarm's queue memberships across all cores.
func (x *testEnv) occurrences(alarm *Alarm) int {
	x.reg.lock.Lock()
	defer x.reg.lock.Unlock()
	var n int
	for _, queue := range x.reg.queues {
		for _, entry := range queue.alarms {
			if entry == alarm {
				n++
			}
		}
	}
	return n
}

// waiters reads the alarm's parked thread count under the alarm lock.
func (x *testEnv) waiters(alarm *Alarm) int {
	x.reg.lock.Lock()
	defer x.reg.lock.Unlock()
	return alarm.waiters.Len()
}

// assertInvariants checks "queued iff Set" and back-reference consistency.
func (x *testEnv) assertInvariants(t *testing.T, alarms ...*Alarm) {
	t.Helper()
	for _, alarm := range alarms {
		queued := x.queuedOn(alarm) >= 0
		set := x.state(alarm) == stateSet
		if queued != set {
			t.Errorf(`alarm %q: queued=%v but set=%v`, alarm.name, queued, set)
		}
		x.reg.lock.Lock()
		if (alarm.queue != nil) != queued {
			t.Errorf(`alarm %q: queue back-reference inconsistent`, alarm.name)
		}
		x.reg.lock.Unlock()
		if n := x.occurrences(alarm); n > 1 {
			t.Errorf(`alarm %q: %d queue memberships`, alarm.name, n)
		}
	}
}
