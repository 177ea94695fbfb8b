package engine

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"roomsync/internal/model"
)

// DefaultDebounceWindow is the coalescing window for snapshot bursts.
const DefaultDebounceWindow = 120 * time.Millisecond

// Coalescer debounces bursts of normalized snapshots into single
// deliveries. The consumer runs at most once per window, on the trailing
// edge, with the freshest pending room. Dispose cancels any pending
// delivery and all future scheduling.
type Coalescer struct {
	window  time.Duration
	clock   clock.Clock
	deliver func(*model.Room)

	mu       sync.Mutex
	timer    *clock.Timer
	pending  *model.Room
	disposed bool
}

// NewCoalescer creates a coalescer delivering to the given consumer.
func NewCoalescer(window time.Duration, clk clock.Clock, deliver func(*model.Room)) *Coalescer {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	return &Coalescer{
		window:  window,
		clock:   clk,
		deliver: deliver,
	}
}

// Schedule records room as the freshest pending state and arms the
// delivery timer if no window is already open.
func (c *Coalescer) Schedule(room *model.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.pending = room
	if c.timer == nil {
		c.timer = c.clock.AfterFunc(c.window, c.fire)
	}
}

// Dispose cancels the pending delivery and stops future scheduling.
func (c *Coalescer) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disposed = true
	c.pending = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	room := c.pending
	c.pending = nil
	c.timer = nil
	disposed := c.disposed
	c.mu.Unlock()

	if disposed || room == nil {
		return
	}
	c.deliver(room)
}
