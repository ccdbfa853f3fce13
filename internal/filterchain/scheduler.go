package filterchain

import (
	"sync"
	"time"
)

// Debouncer coalesces triggers arriving within delay of each other into one
// flush carrying every distinct key, in first-trigger order.
type Debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	timer   *time.Timer
	pending []string
	seen    map[string]struct{}
	flush   func(keys []string)
	running int
	stopped bool
}

// NewDebouncer creates a debouncer calling flush from its own goroutine.
func NewDebouncer(delay time.Duration, flush func(keys []string)) *Debouncer {
	return &Debouncer{
		delay: delay,
		seen:  make(map[string]struct{}),
		flush: flush,
	}
}

// Trigger adds keys to the pending batch and restarts the quiet period.
func (d *Debouncer) Trigger(keys ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(keys) == 0 {
		return
	}
	for _, k := range keys {
		if _, ok := d.seen[k]; ok {
			continue
		}
		d.seen[k] = struct{}{}
		d.pending = append(d.pending, k)
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := d.pending
	d.pending = nil
	d.seen = make(map[string]struct{})
	d.timer = nil
	d.running++
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running--
		d.mu.Unlock()
	}()
	d.flush(batch)
}

// Busy reports whether keys wait for a flush or a flush is running.
func (d *Debouncer) Busy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending) > 0 || d.running > 0
}

// Stop drops the pending batch; later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
}
