package class

import (
	"sync"

	"github.com/xenocore/nucleus/thread"
)

// Idle is the lowest-weight class: it always returns the CPU's root
// thread, guaranteeing CPU.Pick never returns nil once Idle is
// installed (spec §4.D: "the highest-weight class is the idle class
// (weight 0, returns the root thread)" — misnamed "highest" in the
// prose since weight 0 is actually the floor everything else scans
// above; Idle is always consulted last).
//
// Idle also carries the root thread's RPI (root priority inheritance)
// stack: rpiEntry records, one per relaxed-but-boosted thread, that
// keep the root thread's own effective priority raised to the highest
// contributor for as long as any of them remain relaxed (spec §3's
// push_rpi/pop_rpi/peek_rpi/suspend_rpi/resume_rpi capability set).
type Idle struct {
	mu   sync.Mutex
	root *thread.Thread
	rpi  []*rpiEntry
}

type rpiEntry struct {
	th        *thread.Thread
	priority  int32
	suspended bool
}

// NewIdle wraps root, the thread marked with the Root state bit that
// this CPU runs when nothing else is runnable.
func NewIdle(root *thread.Thread) *Idle {
	root.SetState(thread.Root)
	return &Idle{root: root}
}

func (c *Idle) Name() string         { return "idle" }
func (c *Idle) Weight() int          { return 0 }
func (c *Idle) Pick() *thread.Thread { return c.root }

// Enqueue/Dequeue/Requeue are no-ops: the root thread is never on any
// runqueue, it is simply always available.
func (c *Idle) Enqueue(*thread.Thread) {}
func (c *Idle) Dequeue(*thread.Thread) {}
func (c *Idle) Requeue(*thread.Thread) {}

// PushRPI records th's current priority as a contribution to the root
// thread's effective priority and recomputes it. A thread already on
// the stack has its recorded priority refreshed rather than
// duplicated.
func (c *Idle) PushRPI(th *thread.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.rpi {
		if e.th == th {
			e.priority = th.Priority()
			c.recomputeLocked()
			return
		}
	}
	c.rpi = append(c.rpi, &rpiEntry{th: th, priority: th.Priority()})
	c.recomputeLocked()
}

// PopRPI removes th's contribution. A no-op if th was never pushed.
func (c *Idle) PopRPI(th *thread.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.rpi {
		if e.th == th {
			c.rpi = append(c.rpi[:i], c.rpi[i+1:]...)
			c.recomputeLocked()
			return
		}
	}
}

// PeekRPI returns the root thread's current effective priority.
func (c *Idle) PeekRPI() int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.Priority()
}

// SuspendRPI excludes th's entry from the max computation without
// discarding it.
func (c *Idle) SuspendRPI(th *thread.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.rpi {
		if e.th == th {
			e.suspended = true
			c.recomputeLocked()
			return
		}
	}
}

// ResumeRPI reinstates an entry suspended by SuspendRPI.
func (c *Idle) ResumeRPI(th *thread.Thread) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.rpi {
		if e.th == th {
			e.suspended = false
			c.recomputeLocked()
			return
		}
	}
}

func (c *Idle) recomputeLocked() {
	max := c.root.BasePriority
	for _, e := range c.rpi {
		if !e.suspended && e.priority > max {
			max = e.priority
		}
	}
	c.root.SetPriority(max)
}
