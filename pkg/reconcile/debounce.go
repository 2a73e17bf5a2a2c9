package reconcile

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid edits (notes typing) into one trailing call.
// It must be canceled when its item is deleted or the view switches lists,
// so a stale flush can never fire against a gone record.
type Debouncer struct {
	delay time.Duration

	mu    sync.Mutex
	timer *time.Timer
	fn    func()
}

func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Trigger schedules fn after the delay, replacing any earlier scheduled call.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.fn = fn
	d.timer = time.AfterFunc(d.delay, func() {
		if fn := d.take(); fn != nil {
			fn()
		}
	})
}

// Flush runs the scheduled call now instead of waiting out the delay.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	stopped := d.timer != nil && d.timer.Stop()
	d.mu.Unlock()
	if stopped {
		if fn := d.take(); fn != nil {
			fn()
		}
	}
}

// Cancel drops any scheduled call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.fn = nil
}

func (d *Debouncer) take() func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn := d.fn
	d.fn = nil
	d.timer = nil
	return fn
}
