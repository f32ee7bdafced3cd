package class

import (
	"sync"

	"github.com/xenocore/nucleus/thread"
)

// rtWeight places RT above TP and Weak; Sporadic embeds RT and so
// shares this weight.
const rtWeight = 100

// RT implements the FIFO/RR real-time class (spec §4.D "RT (FIFO/RR)").
// Priorities are strictly honored; threads at the same priority run
// FIFO; a thread with the RRB state bit set is subject to round-robin
// rotation via Rotate.
type RT struct {
	mu sync.Mutex
	rq runqueue
}

func NewRT() *RT { return &RT{} }

func (c *RT) Name() string { return "rt" }
func (c *RT) Weight() int  { return rtWeight }

func (c *RT) Enqueue(th *thread.Thread) {
	th.Class = c
	c.mu.Lock()
	c.rq.enqueue(th)
	c.mu.Unlock()
}

func (c *RT) Dequeue(th *thread.Thread) {
	c.mu.Lock()
	c.rq.dequeue(th)
	c.mu.Unlock()
}

func (c *RT) Requeue(th *thread.Thread) {
	c.mu.Lock()
	c.rq.requeue(th)
	c.mu.Unlock()
}

func (c *RT) Pick() *thread.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rq.pick()
}

// Rotate implements sched.Rotator: move th to the tail of its priority
// band, the round-robin timer's expiry action.
func (c *RT) Rotate(th *thread.Thread) {
	c.mu.Lock()
	c.rq.rotate(th)
	c.mu.Unlock()
}

// TrackPrio implements sched.PriorityTracker: RT has no class-private
// notion of priority beyond thread.Thread.Priority(), so applying or
// reverting a boost is just a requeue into the (possibly new) band.
func (c *RT) TrackPrio(th *thread.Thread, boosted bool) {
	c.mu.Lock()
	c.rq.requeue(th)
	c.mu.Unlock()
}
