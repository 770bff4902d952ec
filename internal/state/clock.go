package state

import (
	"sync"

	"github.com/google/uuid"
)

// NewSiteID returns a fresh identity for one participant's replica.
func NewSiteID() string {
	return uuid.NewString()
}

// Clock is a Lamport clock. Every local operation ticks it and every
// remote operation pushes it forward, so an element inserted after another
// always carries a larger stamp than its reference.
type Clock struct {
	counter uint64
	mu      sync.Mutex
}

// Tick increments the clock and returns the new value
func (c *Clock) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter
}

// Update moves the clock forward to a received timestamp
func (c *Clock) Update(timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timestamp > c.counter {
		c.counter = timestamp
	}
}

// Now returns the current value without ticking.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}
