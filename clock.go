package corealarm

import (
	"fmt"
	"time"
)

// DefaultTickRate is the guest timebase frequency in ticks per second,
// matching the emulated console's timer clock (bus clock divided by four).
const DefaultTickRate int64 = 62_156_250

type (
	// Time is an absolute guest time, in timebase ticks. The zero value
	// means "inactive" where used as an alarm deadline. Durations (alarm
	// periods, relative deadlines) are also expressed as tick counts.
	Time int64

	// Clock converts between guest time and host monotonic time. It is an
	// external collaborator of the alarm subsystem: the Registry never
	// inspects host time directly.
	Clock interface {
		// Now returns the current guest time.
		Now() Time

		// ToHost converts an absolute guest time to the host time at which
		// it will (or did) occur.
		ToHost(t Time) time.Time
	}

	// TickClock is the default [Clock]: guest tick zero is anchored at a
	// fixed host time, and ticks advance at a fixed rate against the host
	// monotonic clock.
	TickClock struct {
		origin time.Time
		rate   int64
	}
)

// NewTickClock creates a [TickClock] anchoring guest tick zero at the current
// host time, advancing at rate ticks per second. A panic will occur if rate
// is not positive. [DefaultTickRate] is the conventional choice.
func NewTickClock(rate int64) *TickClock {
	if rate <= 0 {
		panic(fmt.Errorf(`corealarm: invalid tick rate: %d`, rate))
	}
	return &TickClock{
		origin: time.Now(),
		rate:   rate,
	}
}

// Now returns the guest time corresponding to the current host time.
func (x *TickClock) Now() Time {
	ns := time.Since(x.origin).Nanoseconds()
	// split to avoid overflow at nanosecond precision
	return Time(ns/int64(time.Second)*x.rate + ns%int64(time.Second)*x.rate/int64(time.Second))
}

// ToHost converts an absolute guest time to host time.
func (x *TickClock) ToHost(t Time) time.Time {
	secs := int64(t) / x.rate
	rem := int64(t) % x.rate
	return x.origin.Add(time.Duration(secs)*time.Second + time.Duration(rem*int64(time.Second)/x.rate))
}

// Ticks converts a host duration to the equivalent number of guest ticks,
// e.g. for use as a relative deadline with [Registry.SetAlarm].
func (x *TickClock) Ticks(d time.Duration) Time {
	ns := d.Nanoseconds()
	return Time(ns/int64(time.Second)*x.rate + ns%int64(time.Second)*x.rate/int64(time.Second))
}
