package client

import (
	"sync"
	"time"
)

// repeater is a scoped periodic-tick resource: Start schedules tick at a
// fixed interval until Stop. Stop is idempotent and safe to call from any
// exit path; both the keepalive and the status rotation run on one of
// these, and every transition out of a pending turn stops both.
type repeater struct {
	mu   sync.Mutex
	stop chan struct{}
}

// Start begins ticking. A running repeater is stopped first, so Start never
// leaks a previous schedule.
func (r *repeater) Start(interval time.Duration, tick func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		close(r.stop)
	}
	stop := make(chan struct{})
	r.stop = stop

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				tick()
			}
		}
	}()
}

// Stop cancels the schedule. Safe to call when already stopped.
func (r *repeater) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// Running reports whether a schedule is active.
func (r *repeater) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}
