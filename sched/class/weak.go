package class

import (
	"sync"

	"github.com/xenocore/nucleus/thread"
)

// weakWeight sits below RT: a Weak thread only runs when no RT (or
// Sporadic, which wraps RT) thread is runnable.
const weakWeight = 50

// Weak implements the class for threads that run only when no RT
// thread is runnable (spec §4.D "Weak"). Its distinguishing rule lives
// in Release, not here: every synch release by a Weak thread reverts it
// unconditionally to base priority, with no accumulated
// boost surviving the release — see DESIGN.md's Open Question decision
// for how this interacts with a thread that is simultaneously a
// Sporadic-class thread.
type Weak struct {
	mu sync.Mutex
	rq runqueue
}

func NewWeak() *Weak { return &Weak{} }

func (c *Weak) Name() string { return "weak" }
func (c *Weak) Weight() int  { return weakWeight }

func (c *Weak) Enqueue(th *thread.Thread) {
	th.Class = c
	th.SetState(thread.Weak)
	c.mu.Lock()
	c.rq.enqueue(th)
	c.mu.Unlock()
}

func (c *Weak) Dequeue(th *thread.Thread) {
	c.mu.Lock()
	c.rq.dequeue(th)
	c.mu.Unlock()
}

func (c *Weak) Requeue(th *thread.Thread) {
	c.mu.Lock()
	c.rq.requeue(th)
	c.mu.Unlock()
}

func (c *Weak) Pick() *thread.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rq.pick()
}

// ReleaseRevert implements the unconditional revert-to-base-priority
// rule described above. rtsync.Synch.Release does not call it: it
// performs the same revert inline when th.TestState(thread.Weak),
// instead of the normal claimq-max recomputation.
func ReleaseRevert(th *thread.Thread) {
	th.SetPriority(th.BasePriority)
	th.ClearState(thread.Boost)
}
