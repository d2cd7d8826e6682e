package flow

import (
	"errors"
	"strconv"
	"sync"
	"time"
)

// ErrNilCallback is returned when ScheduleAfter is given no function.
var ErrNilCallback = errors.New("timer: nil callback")

// SimpleTimer runs callbacks on time.AfterFunc and remembers the pending ones so they
// can be cancelled by id. It expires interruption tracking entries.
type SimpleTimer struct {
	mu      sync.Mutex
	seq     uint64
	pending map[string]*time.Timer
}

var _ Timer = (*SimpleTimer)(nil)

// NewSimpleTimer creates an idle SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{pending: make(map[string]*time.Timer)}
}

// ScheduleAfter runs fn once delay has passed. Negative delays run immediately.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", ErrNilCallback
	}
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	id := "expiry_" + strconv.FormatUint(t.seq, 10)
	// The entry exists before the callback can observe it, even with zero delay.
	t.pending[id] = time.AfterFunc(delay, func() {
		if t.take(id) {
			fn()
		}
	})
	return id, nil
}

// take removes id and reports whether it was still pending.
func (t *SimpleTimer) take(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	delete(t.pending, id)
	return ok
}

// Cancel stops a pending callback. Unknown or already fired ids are ignored.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tm, ok := t.pending[id]; ok {
		tm.Stop()
		delete(t.pending, id)
	}
	return nil
}

// Stop cancels every pending callback.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, tm := range t.pending {
		tm.Stop()
		delete(t.pending, id)
	}
}

// Pending reports how many callbacks have not fired or been cancelled.
func (t *SimpleTimer) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
