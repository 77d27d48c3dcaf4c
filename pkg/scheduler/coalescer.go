// Package scheduler coalesces bursts of updates (camera drags, size changes, box moves) into at
// most one delivery per key per window.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultWindow = 20 * time.Millisecond

type pending struct {
	fn    func()
	timer clockwork.Timer
}

// Coalescer runs the latest function scheduled for a key once the window that started with the
// first schedule of the burst has elapsed.
type Coalescer struct {
	clock  clockwork.Clock
	window time.Duration

	mutex   sync.Mutex
	pending map[string]*pending
	stopped bool
}

func NewCoalescer(clock clockwork.Clock, window time.Duration) *Coalescer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Coalescer{
		clock:   clock,
		window:  window,
		pending: make(map[string]*pending),
	}
}

// Schedule replaces the pending function for key, arming the window timer on the first call of a
// burst. It is a no-op once the coalescer is stopped.
func (c *Coalescer) Schedule(key string, fn func()) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.stopped {
		return
	}
	if p, ok := c.pending[key]; ok {
		p.fn = fn
		return
	}
	p := &pending{fn: fn}
	c.pending[key] = p
	p.timer = c.clock.AfterFunc(c.window, func() { c.fire(key, p) })
}

func (c *Coalescer) fire(key string, p *pending) {
	c.mutex.Lock()
	if c.pending[key] != p {
		c.mutex.Unlock()
		return
	}
	delete(c.pending, key)
	fn := p.fn
	c.mutex.Unlock()
	fn()
}

// Flush runs the pending function for key immediately, if any.
func (c *Coalescer) Flush(key string) {
	c.mutex.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
		p.timer.Stop()
	}
	c.mutex.Unlock()
	if ok {
		p.fn()
	}
}

// Cancel drops the pending function for key.
func (c *Coalescer) Cancel(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if p, ok := c.pending[key]; ok {
		p.timer.Stop()
		delete(c.pending, key)
	}
}

// Pending reports whether key has a scheduled function.
func (c *Coalescer) Pending(key string) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.pending[key]
	return ok
}

// Stop cancels everything pending and rejects later schedules.
func (c *Coalescer) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stopped = true
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
}
