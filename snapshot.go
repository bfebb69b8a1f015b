package corealarm

import (
	"io"

	"github.com/sugawarayuuta/sonnet"
)

type (
	// Snapshot is a consistent point-in-time view of every core's alarm
	// queue, for diagnostics. See [Registry.Snapshot].
	Snapshot struct {
		Cores []CoreSnapshot `json:"cores"`
	}

	// CoreSnapshot is one core's queue contents, in queue (insertion)
	// order.
	CoreSnapshot struct {
		Alarms []AlarmSnapshot `json:"alarms"`
		Core   int             `json:"core"`
	}

	// AlarmSnapshot is the diagnostic view of a single queued alarm.
	AlarmSnapshot struct {
		Name     string `json:"name,omitempty"`
		State    string `json:"state"`
		NextFire int64  `json:"nextFire"`
		Period   int64  `json:"period"`
		Tag      uint32 `json:"tag"`
		Waiters  int    `json:"waiters"`
	}
)

// Snapshot captures every core's queue under the alarm lock, so the result
// is a single linearization point with respect to all alarm operations.
func (x *Registry) Snapshot() *Snapshot {
	x.lock.Lock()
	defer x.lock.Unlock()

	s := &Snapshot{Cores: make([]CoreSnapshot, len(x.queues))}
	for core, queue := range x.queues {
		cs := CoreSnapshot{Core: core}
		for _, alarm := range queue.alarms {
			cs.Alarms = append(cs.Alarms, AlarmSnapshot{
				Name:     alarm.name,
				State:    alarm.state.String(),
				NextFire: int64(alarm.nextFire),
				Period:   int64(alarm.period),
				Tag:      alarm.alarmTag,
				Waiters:  alarm.waiters.Len(),
			})
		}
		s.Cores[core] = cs
	}
	return s
}

// JSON encodes the snapshot as JSON.
func (x *Snapshot) JSON() ([]byte, error) {
	return sonnet.Marshal(x)
}

// WriteTo encodes the snapshot as JSON to w, implementing [io.WriterTo].
func (x *Snapshot) WriteTo(w io.Writer) (int64, error) {
	b, err := x.JSON()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}
