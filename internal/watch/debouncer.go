package watch

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultWindow is the quiet period used when none is configured.
const DefaultWindow = 100 * time.Millisecond

// Debouncer runs an action once a burst of triggers has been quiet for the
// window. Every Trigger restarts the window.
type Debouncer struct {
	window time.Duration
	action func()
	clock  clockwork.Clock

	mu      sync.Mutex
	timer   clockwork.Timer
	seq     uint64
	stopped bool
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithClock replaces the real clock, for tests.
func WithClock(c clockwork.Clock) DebouncerOption {
	return func(d *Debouncer) {
		if c != nil {
			d.clock = c
		}
	}
}

// NewDebouncer returns a debouncer for action. A non-positive window means
// DefaultWindow.
func NewDebouncer(window time.Duration, action func(), opts ...DebouncerOption) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	d := &Debouncer{window: window, action: action, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Window returns the configured quiet period.
func (d *Debouncer) Window() time.Duration { return d.window }

// Trigger (re)starts the quiet window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.timer = d.clock.AfterFunc(d.window, func() { d.fire(seq) })
}

// fire runs the action unless a later Trigger or Stop superseded seq.
func (d *Debouncer) fire(seq uint64) {
	d.mu.Lock()
	if d.stopped || seq != d.seq {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.action()
}

// Pending reports whether a run is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending run; later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
