package flow

import "sync/atomic"

// PulseCounter is the one value shared between the flow sensor's edge source
// and the control loop. Pulse may be called from any goroutine.
type PulseCounter struct {
	pending atomic.Uint64
	total   atomic.Uint64
}

// Pulse records one sensor edge.
func (c *PulseCounter) Pulse() { c.Add(1) }

func (c *PulseCounter) Add(n uint64) {
	c.pending.Add(n)
	c.total.Add(n)
}

// Take returns the pulses since the previous Take and resets the count.
func (c *PulseCounter) Take() uint64 { return c.pending.Swap(0) }

// Total is monotonic and never reset.
func (c *PulseCounter) Total() uint64 { return c.total.Load() }
