package sched

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xenocore/nucleus/coreerr"
	"github.com/xenocore/nucleus/pipeline"
	"github.com/xenocore/nucleus/thread"
)

// CPU is one CPU's independent scheduler: an ordered list of installed
// classes, the currently running thread, and the escalation machinery
// that lets a root-stage caller ask the head stage to re-enter Pick.
// Grounded on eventloop.Loop's run()/tick() drain-then-dispatch main
// loop, generalized from "drain task queues, then poll" to "scan
// classes by descending weight, then run the winner".
type CPU struct {
	id int

	mu      sync.Mutex
	classes []Class // sorted descending by Weight() at InstallClass time

	running *thread.Thread
	resched atomic.Bool

	pipe    *pipeline.Pipeline
	escVirq int
	hasEsc  bool

	rrTick *RoundRobinTimer
}

// RoundRobinTimer is the minimal contract CPU holds for a per-CPU
// round-robin timer, an interface so that sched depends only on pipeline
// and thread. Nothing in this module implements it or sets CPU.rrTick;
// RT's Rotate is the rotation step, and no timer invokes it.
type RoundRobinTimer interface {
	Arm(sliceID uint64)
	Disarm()
}

// NewCPU creates an empty per-CPU scheduler. pipe may be nil if this CPU
// never needs to escalate (e.g. in unit tests that only exercise Pick).
func NewCPU(id int, pipe *pipeline.Pipeline) *CPU {
	return &CPU{id: id, pipe: pipe}
}

// InstallClass adds c to this CPU's scan order, re-sorting by descending
// Weight(). Installing the same class twice is a caller error
// (coreerr.Invalid).
func (c *CPU) InstallClass(cls Class) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.classes {
		if existing == cls {
			return coreerr.Wrap(coreerr.Invalid, "class already installed", nil)
		}
	}
	c.classes = append(c.classes, cls)
	sort.SliceStable(c.classes, func(i, j int) bool {
		return c.classes[i].Weight() > c.classes[j].Weight()
	})
	return nil
}

// Pick scans installed classes in descending weight order and returns
// the first non-nil result (spec §4.D: "the pick procedure consults
// classes in descending weight order and returns the first non-null
// result"). The idle class, installed with Weight() == 0, always returns
// something, so Pick never returns nil once Idle is installed; without
// it, Pick returns nil when no installed class offers a thread.
//
// If the running thread holds the scheduler lock (thread.Lock), it is
// never preempted by a same- or lower-priority thread on this CPU (spec
// §4.D): the scan result is discarded in favor of the running thread
// unless it beats the running thread's priority outright.
func (c *CPU) Pick() *thread.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cls := range c.classes {
		th := cls.Pick()
		if th == nil {
			continue
		}
		if running := c.running; running != nil && th != running &&
			running.TestState(thread.Lock) && th.Priority() <= running.Priority() {
			return running
		}
		return th
	}
	return nil
}

// Running returns the thread currently marked as running on this CPU.
func (c *CPU) Running() *thread.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetRunning records th as the CPU's current thread, clearing its
// predecessor's Ready bit is the caller's responsibility (CPU does not
// own runqueue membership, the classes do).
func (c *CPU) SetRunning(th *thread.Thread) {
	c.mu.Lock()
	c.running = th
	c.mu.Unlock()
}

// InHeadStage distinguishes the two Resched call sites: true when the
// caller is already running in the head (real-time) domain, false when
// it is on the root (host) domain and must escalate instead.
type InHeadStage bool

// Resched requests a reschedule. If the caller is on the head stage, the
// switch is expected to happen synchronously on return to the caller's
// exit path (the caller is responsible for calling Pick again and
// switching); if the caller is on the root stage, Resched instead
// triggers the escalation virq so the head stage re-enters the
// scheduler on its own.
func (c *CPU) Resched(stage InHeadStage) error {
	c.resched.Store(true)
	if bool(stage) {
		return nil
	}
	if c.pipe == nil {
		return coreerr.Wrap(coreerr.NotSupported, "no pipeline to escalate through", nil)
	}
	c.mu.Lock()
	if !c.hasEsc {
		virq, err := c.pipe.AllocEscalationVirq()
		if err != nil {
			c.mu.Unlock()
			return err
		}
		c.escVirq = virq
		c.hasEsc = true
	}
	virq := c.escVirq
	c.mu.Unlock()
	return c.pipe.TriggerIRQ(virq)
}

// NeedResched reports and clears whether Resched was called since the
// last NeedResched.
func (c *CPU) NeedResched() bool {
	return c.resched.Swap(false)
}

// Lock marks th's scheduler lock held, incrementing its recursion
// depth. A locked thread is never preempted by a same- or lower-
// priority thread on its CPU (CPU.Pick enforces this by honoring
// th.TestState(thread.Lock)).
func (c *CPU) Lock(th *thread.Thread) {
	if th.LockDepth.Inc() {
		th.SetState(thread.Lock)
	}
}

// Unlock decrements th's scheduler-lock recursion depth, clearing the
// Lock state bit only once it reaches zero.
func (c *CPU) Unlock(th *thread.Thread) {
	if th.LockDepth.Dec() {
		th.ClearState(thread.Lock)
	}
}
