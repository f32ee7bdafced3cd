package class

import (
	"sync"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/xenocore/nucleus/coreerr"
	"github.com/xenocore/nucleus/thread"
	"github.com/xenocore/nucleus/timer"
)

// Params configures one sporadic thread's budget/replenishment
// parameters (spec §4.D "Sporadic (POSIX SS)").
type Params struct {
	LowPrio    int32 // -1 means suspend (Held) instead of demoting
	NormalPrio int32
	InitBudget time.Duration
	ReplPeriod time.Duration
	MaxRepl    int
}

type sporadicState struct {
	params    Params
	budget    time.Duration
	dropTimer *timer.Timer
	limiter   *catrate.Limiter
	demoted   bool
}

// Sporadic implements the POSIX sporadic server class by wrapping RT's
// runqueue (spec: "sporadic (wraps RT)") and layering budget/
// replenishment accounting on top via an AperiodicMaster-compatible
// TimeBase. Outstanding replenishments are bounded per thread by a
// catrate.Limiter keyed on the thread itself, directly reusing
// catrate's sliding-window admission (window = ReplPeriod, limit =
// MaxRepl) as the "ring of at most max_repl outstanding" bound spec §4.D
// calls for, instead of hand-rolling a fixed-size ring.
type Sporadic struct {
	*RT
	mu    sync.Mutex
	base  timer.TimeBase
	state map[*thread.Thread]*sporadicState
}

// NewSporadic creates the class. base provides the time source the
// budget drop and replenishment timers are armed against.
func NewSporadic(base timer.TimeBase) *Sporadic {
	return &Sporadic{RT: NewRT(), base: base, state: make(map[*thread.Thread]*sporadicState)}
}

func (c *Sporadic) Name() string { return "sporadic" }

// Admit enrolls th in the sporadic class with the given params: budget
// starts at InitBudget, current priority is set to NormalPrio, and a
// drop timer is armed for budget ticks from now.
func (c *Sporadic) Admit(th *thread.Thread, params Params) error {
	if params.InitBudget <= 0 || params.ReplPeriod <= 0 || params.MaxRepl <= 0 {
		return coreerr.Wrap(coreerr.Invalid, "invalid sporadic params", nil)
	}
	limiter := catrate.NewLimiter(map[time.Duration]int{params.ReplPeriod: params.MaxRepl})

	c.mu.Lock()
	st := &sporadicState{params: params, budget: params.InitBudget, limiter: limiter}
	c.state[th] = st
	c.mu.Unlock()

	th.SetPriority(params.NormalPrio)
	c.RT.Enqueue(th)
	c.armDrop(th, st)
	return nil
}

// Dismiss removes th from the sporadic class's bookkeeping and the
// underlying RT runqueue.
func (c *Sporadic) Dismiss(th *thread.Thread) {
	c.mu.Lock()
	st, ok := c.state[th]
	delete(c.state, th)
	c.mu.Unlock()
	if ok && st.dropTimer != nil {
		c.base.Stop(st.dropTimer)
	}
	c.RT.Dequeue(th)
}

func (c *Sporadic) armDrop(th *thread.Thread, st *sporadicState) {
	dt := &timer.Timer{Handler: func(*timer.Timer) { c.onDrop(th) }}
	st.dropTimer = dt
	_ = c.base.Start(dt, c.base.Now().Add(st.budget), 0)
}

// onDrop runs when a thread's budget is exhausted: it demotes to
// LowPrio, or suspends with Held if LowPrio == -1, then schedules a
// replenishment subject to the per-thread outstanding bound.
func (c *Sporadic) onDrop(th *thread.Thread) {
	c.mu.Lock()
	st, ok := c.state[th]
	c.mu.Unlock()
	if !ok {
		return
	}

	consumed := st.budget
	st.budget = 0

	if st.params.LowPrio < 0 {
		th.SetState(thread.Held)
		st.demoted = true
	} else {
		th.SetPriority(st.params.LowPrio)
		c.RT.Requeue(th)
		st.demoted = true
	}

	if _, allowed := st.limiter.Allow(th); !allowed {
		// Outstanding replenishment bound hit for this thread: no
		// replenishment is scheduled, the consumed budget is not
		// re-credited, and th stays demoted (or held).
		return
	}

	resumeAt := c.base.Now().Add(st.params.ReplPeriod)
	rt := &timer.Timer{Handler: func(*timer.Timer) { c.onReplenish(th, consumed) }}
	_ = c.base.Start(rt, resumeAt, 0)
}

// onReplenish re-credits budget (capped at InitBudget) and, if the
// thread is currently held or demoted, re-promotes it to NormalPrio and
// re-arms the drop timer.
func (c *Sporadic) onReplenish(th *thread.Thread, amount time.Duration) {
	c.mu.Lock()
	st, ok := c.state[th]
	c.mu.Unlock()
	if !ok {
		return
	}

	st.budget += amount
	if st.budget > st.params.InitBudget {
		st.budget = st.params.InitBudget
	}

	if st.demoted {
		st.demoted = false
		th.ClearState(thread.Held)
		th.SetPriority(st.params.NormalPrio)
		c.RT.Requeue(th)
		c.armDrop(th, st)
	}
}

// Budget returns th's currently remaining budget, for tests and
// diagnostics.
func (c *Sporadic) Budget(th *thread.Thread) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.state[th]; ok {
		return st.budget
	}
	return 0
}
