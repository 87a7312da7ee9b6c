package watch

import (
	"sync"
	"time"
)

// debouncer collapses a burst of touch calls into a single fire on c,
// emitted once the window elapses with no further touches.
type debouncer struct {
	window time.Duration
	c      chan struct{}

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		c:      make(chan struct{}, 1),
	}
}

// touch records an event, (re)arming the quiet-window timer.
func (d *debouncer) touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() {
		select {
		case d.c <- struct{}{}:
		default:
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
