// Package queue provides a gated FIFO of deferred commands. Commands
// pushed before the gate opens are held in order; opening the gate drains
// them and makes every later push execute immediately. The ad server
// client uses this for calls issued before its services are enabled.
package queue

import "sync"

// Commands is a gated command queue. The zero value is closed and ready
// to use.
type Commands struct {
	mu      sync.Mutex
	open    bool
	pending []func()
}

// New creates a closed queue.
func New() *Commands {
	return &Commands{}
}

// Push runs fn immediately if the gate is open, otherwise enqueues it.
func (c *Commands) Push(fn func()) {
	c.mu.Lock()
	if !c.open {
		c.pending = append(c.pending, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Open drains pending commands in FIFO order and switches the queue to
// immediate execution. Opening an open queue is a no-op.
func (c *Commands) Open() {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

// Pending reports how many commands are waiting on the gate.
func (c *Commands) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
