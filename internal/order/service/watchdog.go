package service

import (
	"sync"
	"time"
)

// Watchdog arms one deadline timer per pending order. The timer runs
// independently of message delivery and must be cancelled the moment the
// order reaches a terminal state, so a stale timeout can never fire after a
// successful confirmation.
type Watchdog struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	timeout time.Duration
	expire  func(orderID string)
	stopped bool
}

func NewWatchdog(timeout time.Duration, expire func(orderID string)) *Watchdog {
	return &Watchdog{
		timers:  make(map[string]*time.Timer),
		timeout: timeout,
		expire:  expire,
	}
}

func (w *Watchdog) Arm(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	if t, ok := w.timers[orderID]; ok {
		t.Stop()
	}

	w.timers[orderID] = time.AfterFunc(w.timeout, func() {
		w.mu.Lock()
		delete(w.timers, orderID)
		stopped := w.stopped
		w.mu.Unlock()

		if !stopped {
			w.expire(orderID)
		}
	})
}

func (w *Watchdog) Cancel(orderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[orderID]; ok {
		t.Stop()
		delete(w.timers, orderID)
	}
}

// Stop cancels every timer. Used on shutdown so no callback fires into a
// torn-down service.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopped = true
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}
