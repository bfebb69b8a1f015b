package corealarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDispatchedRegistry wires a single-core Registry to a running
// Dispatcher, using the real clock.
func newDispatchedRegistry(t *testing.T) (*Registry, *TickClock) {
	t.Helper()
	dispatcher := NewDispatcher(1)
	reg, err := NewRegistry(
		WithCores(1),
		WithInterruptTimer(dispatcher),
	)
	require.NoError(t, err)
	require.NoError(t, dispatcher.Start(reg))
	t.Cleanup(func() { _ = dispatcher.Close() })
	return reg, reg.Clock().(*TickClock)
}

func TestDispatcher_oneShotFires(t *testing.T) {
	reg, clock := newDispatchedRegistry(t)

	fired := make(chan *Context, 1)
	var alarm Alarm
	CreateAlarmEx(&alarm, `dispatched`)
	reg.SetAlarm(&alarm, clock.Ticks(10*time.Millisecond), func(_ *Alarm, ctx *Context) {
		fired <- ctx
	})

	select {
	case ctx := <-fired:
		assert.Equal(t, 0, ctx.Core)
	case <-time.After(5 * time.Second):
		t.Fatal(`alarm did not fire`)
	}

	require.Eventually(t, func() bool {
		reg.lock.Lock()
		defer reg.lock.Unlock()
		return alarm.state == stateNone && alarm.queue == nil
	}, time.Second, time.Millisecond, `one-shot must deactivate after firing`)
}

func TestDispatcher_periodicFiresUntilCancelled(t *testing.T) {
	reg, clock := newDispatchedRegistry(t)

	fired := make(chan struct{}, 16)
	var alarm Alarm
	CreateAlarmEx(&alarm, `periodic`)
	period := clock.Ticks(5 * time.Millisecond)
	reg.SetPeriodicAlarm(&alarm, clock.Now()+period, period, func(*Alarm, *Context) {
		select {
		case fired <- struct{}{}:
		default:
		}
	})

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatalf(`periodic alarm stalled after %d fires`, i)
		}
	}

	require.True(t, reg.CancelAlarm(&alarm))

	// the dispatcher may deliver one already-armed interrupt at the stale
	// deadline; after that the check computes Never and firing stops
	time.Sleep(50 * time.Millisecond)
	for len(fired) > 0 {
		<-fired
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fired, `cancelled periodic alarm must stop firing`)
}

func TestDispatcher_wakesWaiter(t *testing.T) {
	reg, clock := newDispatchedRegistry(t)

	var alarm Alarm
	CreateAlarmEx(&alarm, `waited`)
	reg.SetAlarm(&alarm, clock.Ticks(10*time.Millisecond), nil)

	done := make(chan bool, 1)
	go func() { done <- reg.WaitAlarm(&alarm) }()

	select {
	case result := <-done:
		assert.True(t, result, `natural fire must report success`)
	case <-time.After(5 * time.Second):
		t.Fatal(`waiter was not woken`)
	}
}

func TestDispatcher_lifecycle(t *testing.T) {
	dispatcher := NewDispatcher(1)
	reg, err := NewRegistry(WithCores(1), WithInterruptTimer(dispatcher))
	require.NoError(t, err)

	require.NoError(t, dispatcher.Start(reg))
	assert.ErrorIs(t, dispatcher.Start(reg), ErrDispatcherStarted)

	require.NoError(t, dispatcher.Close())
	require.NoError(t, dispatcher.Close(), `close must be idempotent`)

	assert.ErrorIs(t, dispatcher.Start(reg), ErrDispatcherClosed)
}

func TestDispatcher_closeWithoutStart(t *testing.T) {
	assert.NoError(t, NewDispatcher(2).Close())
}

func TestNewDispatcher_invalidCoresPanics(t *testing.T) {
	assert.Panics(t, func() { NewDispatcher(0) })
}

func TestDispatcher_startValidation(t *testing.T) {
	assert.Panics(t, func() { NewDispatcher(1).Start(nil) })

	reg, err := NewRegistry(WithCores(2))
	require.NoError(t, err)
	assert.Panics(t, func() { NewDispatcher(1).Start(reg) },
		`core count mismatch is a configuration error`)
}

func TestDispatcher_coalescesDeadlines(t *testing.T) {
	dispatcher := NewDispatcher(1)

	// not started: repeated programming must never block
	for i := 0; i < 100; i++ {
		dispatcher.SetInterruptTimer(0, time.Now().Add(time.Duration(i)*time.Millisecond))
	}
	dispatcher.SetInterruptTimer(0, Never)

	require.NoError(t, dispatcher.Close())
}
