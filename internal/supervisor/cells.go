package supervisor

import (
	"sync"
	"sync/atomic"
)

// PIDCell holds the identity of the running child. Only the supervisor writes
// it; the coordinator reads it to deliver signals.
type PIDCell struct {
	mu    sync.RWMutex
	pid   int
	valid bool
}

// Set records pid as the current child.
func (c *PIDCell) Set(pid int) {
	c.mu.Lock()
	c.pid = pid
	c.valid = true
	c.mu.Unlock()
}

// Get returns the current child pid, or false if there is none.
func (c *PIDCell) Get() (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pid, c.valid
}

// Invalidate clears the cell once the child has been reaped.
func (c *PIDCell) Invalidate() {
	c.mu.Lock()
	c.pid = 0
	c.valid = false
	c.mu.Unlock()
}

// ShutdownFlag records shutdown intent. It goes false->true once and is never
// reset.
type ShutdownFlag struct {
	set atomic.Bool
}

// Set raises the flag. It returns true only for the call that raised it.
func (f *ShutdownFlag) Set() bool {
	return f.set.CompareAndSwap(false, true)
}

// IsSet reports whether shutdown has been requested.
func (f *ShutdownFlag) IsSet() bool {
	return f.set.Load()
}
