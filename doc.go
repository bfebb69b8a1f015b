// Package corealarm implements the software-timer ("alarm") subsystem of a
// high-level emulation of a multi-core console kernel.
//
// Guest programs schedule one-shot or periodic callbacks against a guest
// clock, optionally block a thread until an alarm fires, and cancel alarms
// individually or in bulk by group tag. The subsystem reproduces the original
// kernel's concurrency and ordering contract: a single global lock serializes
// all alarm state across every core, the scheduler lock is always acquired
// before (and released after) the alarm lock, and guest callbacks are invoked
// with the alarm lock released, since they may re-enter the subsystem.
//
// # Structure
//
//   - [Registry] owns one insertion-ordered queue of armed alarms per core,
//     and implements the guest-facing operations ([Registry.SetAlarm],
//     [Registry.SetPeriodicAlarm], [Registry.CancelAlarm],
//     [Registry.CancelAlarms], [Registry.WaitAlarm], and the accessors).
//   - [Registry.CheckAlarms] is the per-core check-and-reprogram routine,
//     driven by the timer-interrupt dispatch path rather than guest code.
//   - [Dispatcher] is such a dispatch path: it implements [InterruptTimer]
//     with one goroutine per core, invoking CheckAlarms whenever a core's
//     programmed deadline passes.
//   - [Clock], [Scheduler], and [InterruptTimer] model the subsystem's
//     external collaborators, with defaults suitable for standalone use.
//
// # Alarm lifecycle
//
// Alarms are caller-allocated and initialised once via [CreateAlarm] or
// [CreateAlarmEx]. An armed alarm is always linked into exactly one core's
// queue (the core that armed it); re-arming moves it, and a one-shot alarm is
// unlinked when it triggers, never when it is armed. Cancellation leaves the
// alarm in a distinct terminal state so that [Registry.WaitAlarm] can report
// cancellation separately from a natural fire.
//
// WARNING: Arming an alarm reprograms the arming core's interrupt timer to
// that alarm's deadline unconditionally, without computing the minimum across
// the core's queue. The original kernel behaves this way, and guest software
// may depend on it; see the Registry documentation for details.
package corealarm
