package refresh

import (
	"sync"
	"time"
)

// Timer is a cancellable pending callback
type Timer interface {
	Stop() bool
}

// Timers schedules callbacks. Tests swap in a manual clock.
type Timers interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemTimers struct{}

func (systemTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemTimers schedules on the runtime clock
var SystemTimers Timers = systemTimers{}

// Watchdog fires onTick every interval unless rescheduled in between.
// It guarantees a fallback refresh when the push channel goes quiet.
type Watchdog struct {
	onTick   func()
	interval time.Duration
	timers   Timers

	mutex      sync.Mutex
	timer      Timer
	generation uint64
	stopped    bool
}

// NewWatchdog creates and arms a watchdog. A nil timers uses SystemTimers.
func NewWatchdog(onTick func(), interval time.Duration, timers Timers) *Watchdog {
	if timers == nil {
		timers = SystemTimers
	}
	w := &Watchdog{
		onTick:   onTick,
		interval: interval,
		timers:   timers,
	}
	w.Reschedule()
	return w
}

// Reschedule cancels the pending tick and re-arms a full interval from now
func (w *Watchdog) Reschedule() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.stopped {
		return
	}
	w.arm()
}

// arm must be called with the mutex held
func (w *Watchdog) arm() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.generation++
	gen := w.generation
	w.timer = w.timers.AfterFunc(w.interval, func() { w.fire(gen) })
}

func (w *Watchdog) fire(gen uint64) {
	w.mutex.Lock()
	// A timer that lost the race with Reschedule or Stop is ignored
	if w.stopped || gen != w.generation {
		w.mutex.Unlock()
		return
	}
	w.timer = nil
	w.mutex.Unlock()

	w.onTick()

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if !w.stopped && gen == w.generation {
		w.arm()
	}
}

// Stop cancels the watchdog permanently
func (w *Watchdog) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.stopped = true
	w.generation++
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
