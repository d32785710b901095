package runtime

import (
	"sync"
	"time"
)

// watchdog fires onExpire once if Reset has not been called within the idle
// window. It is the sole authority for idle-triggered termination: expiry
// pre-empts whatever operation is in flight, since a blocked poll with no
// work is indistinguishable from true idleness.
type watchdog struct {
	idle    time.Duration
	timer   *time.Timer
	done    chan struct{}
	stopped sync.Once
}

func newWatchdog(idle time.Duration, onExpire func()) *watchdog {
	w := &watchdog{
		idle:  idle,
		timer: time.NewTimer(idle),
		done:  make(chan struct{}),
	}
	go func() {
		select {
		case <-w.timer.C:
			onExpire()
		case <-w.done:
		}
	}()
	return w
}

// Reset re-arms the full idle window.
func (w *watchdog) Reset() {
	w.timer.Reset(w.idle)
}

// Stop disarms the watchdog. After Stop, onExpire never fires.
func (w *watchdog) Stop() {
	w.stopped.Do(func() {
		w.timer.Stop()
		close(w.done)
	})
}
