// Package rtsync implements the sleep-queue core: wait objects (Synch)
// with priority-ordered waiters, priority-inheritance bookkeeping, and
// the blocking primitives the scheduler and personalities build mutexes,
// condvars, and semaphores out of.
package rtsync

import (
	"sync"
	"time"

	"github.com/xenocore/nucleus/coreerr"
	"github.com/xenocore/nucleus/rtsync/fastlock"
	"github.com/xenocore/nucleus/sched"
	"github.com/xenocore/nucleus/thread"
)

// Flags configure a Synch's ordering and ownership tracking.
type Flags uint32

const (
	// Prio orders waiters by weighted current priority; without it,
	// waiters are FIFO.
	Prio Flags = 1 << iota
	// Owner makes the synch track a current owner and participate in
	// priority inheritance.
	Owner
	// NoPip explicitly disables inheritance even when Owner is set.
	NoPip
)

// Reason explains why SleepOn returned, the typed SuspendReason sum type
// called for in place of the original's info-bit soup.
type Reason int

const (
	// WokenNormally means an explicit wakeup (WakeupOne/WakeupThis) or
	// a Release handoff.
	WokenNormally Reason = iota
	// TimedOut means the timeout elapsed before a wakeup.
	TimedOut
	// Removed means the synch was destroyed while the caller waited.
	Removed
	// Broken means the caller was forcibly awoken (flush with a break
	// reason, or an external cancel).
	Broken
)

// depthBounder lets callers pass thread.Registry.Len without this
// package importing anything beyond *thread.Thread for the PIP walk's
// loop guard; a nil bounder falls back to defaultMaxBoostDepth.
type depthBounder interface{ Len() int }

const defaultMaxBoostDepth = 4096

var globalDepthBound depthBounder

// SetDepthBound installs the global thread registry used to bound the
// PIP boost-chain walk. Passing nil restores the default constant bound.
func SetDepthBound(b depthBounder) { globalDepthBound = b }

func maxBoostDepth() int {
	if globalDepthBound != nil {
		return globalDepthBound.Len()
	}
	return defaultMaxBoostDepth
}

type waiter struct {
	th   *thread.Thread
	wake chan Reason
}

// Synch is a named sleeping queue, optionally tracking an owner for
// priority inheritance (spec §3 "Wait object (synch)", §4.C).
type Synch struct {
	mu      sync.Mutex
	flags   Flags
	waiters []*waiter
	owner   *thread.Thread
	dead    bool

	// fast is the optional user-space fast-lock word paired with this
	// synch at construction (spec §3: "a pointer to an optional fast-lock
	// word"). When set, Acquire/Release try the lock-free CAS path in
	// fastlock before falling back to the slow, waiter-queue path.
	fast *fastlock.Word
}

// claims is the package-level owner -> claiming-synchs ledger. It exists
// so *thread.Thread never needs a field of type *Synch (which would
// create an import cycle, since thread must not depend on rtsync); a
// synch is present in claims[owner] iff it currently has at least one
// waiter, matching spec §3's claimq invariant exactly, just indexed the
// other way around.
var (
	claimsMu sync.Mutex
	claims   = map[*thread.Thread]map[*Synch]struct{}{}
)

// New creates and initializes a Synch with no fast-lock word (spec's
// init(synch, flags, fastlock?) with fastlock omitted).
func New(flags Flags) *Synch {
	return &Synch{flags: flags}
}

// NewWithFastlock is New, additionally pairing the synch with fast: an
// Owner synch backing a user-space mutex wants its Acquire/Release to
// try fast's lock-free CAS path first (spec §4.G), trapping into the
// slow waiter-queue path here only on contention.
func NewWithFastlock(flags Flags, fast *fastlock.Word) *Synch {
	return &Synch{flags: flags, fast: fast}
}

// Fastlock returns the synch's paired fast-lock word, or nil if it has
// none.
func (s *Synch) Fastlock() *fastlock.Word { return s.fast }

// Destroy flushes every waiter with Removed, drops the owner and marks
// the synch dead; a later SleepOn returns Removed, and a later Acquire
// that reaches the slow path returns coreerr.Removed. Acquire's fast-lock
// path does not check for a dead synch, and Release returns coreerr.Perm
// since the synch no longer has an owner.
func (s *Synch) Destroy() {
	s.mu.Lock()
	s.dead = true
	waiters := s.waiters
	s.waiters = nil
	owner := s.owner
	s.owner = nil
	s.mu.Unlock()

	s.dropClaim(owner)
	if owner != nil {
		recomputeOwnerPriority(owner)
	}

	for _, w := range waiters {
		w.wake <- Removed
	}
}

func (s *Synch) insertLocked(w *waiter) {
	if s.flags&Prio == 0 {
		s.waiters = append(s.waiters, w)
		return
	}
	p := w.th.Priority()
	i := 0
	for i < len(s.waiters) && s.waiters[i].th.Priority() >= p {
		i++
	}
	s.waiters = append(s.waiters, nil)
	copy(s.waiters[i+1:], s.waiters[i:])
	s.waiters[i] = w
}

// dequeueFromClass removes th from its scheduling class's runqueue, the
// (C)-calls-back-into-(D) half of spec §2's blocking data flow; threads
// that were never installed into a class (most unit-test fixtures) have
// a nil or non-sched.Class th.Class and this is a silent no-op for them.
func dequeueFromClass(th *thread.Thread) {
	if cls, ok := th.Class.(sched.Class); ok {
		cls.Dequeue(th)
	}
}

// enqueueToClass is dequeueFromClass's inverse, called once th is ready
// to run again regardless of why SleepOn returned.
func enqueueToClass(th *thread.Thread) {
	if cls, ok := th.Class.(sched.Class); ok {
		cls.Enqueue(th)
	}
}

// SleepOn suspends the calling goroutine on behalf of th until woken,
// flushed, destroyed, or timeout elapses (timeout <= 0 means wait
// forever). It performs the owner boost described in spec §4.C before
// blocking, and removes/restores th from its scheduling class's
// runqueue around the block so Pick never returns a thread that is
// actually Pend/Delay-blocked on a synch.
func (s *Synch) SleepOn(th *thread.Thread, timeout time.Duration) Reason {
	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return Removed
	}
	w := &waiter{th: th, wake: make(chan Reason, 1)}
	s.insertLocked(w)
	th.SetState(thread.Pend)
	th.Wchan = s
	owner := s.owner
	s.mu.Unlock()

	dequeueFromClass(th)

	if owner != nil && s.flags&Owner != 0 && s.flags&NoPip == 0 {
		s.boost(owner)
	}

	if timeout <= 0 {
		reason := <-w.wake
		th.Wchan = nil
		th.ClearState(thread.Pend)
		enqueueToClass(th)
		return reason
	}

	select {
	case reason := <-w.wake:
		th.Wchan = nil
		th.ClearState(thread.Pend)
		enqueueToClass(th)
		return reason
	case <-time.After(timeout):
		s.removeWaiter(w)
		th.Wchan = nil
		th.ClearState(thread.Pend | thread.Delay)
		th.SetInfo(thread.InfoTimeout)
		enqueueToClass(th)
		return TimedOut
	}
}

func (s *Synch) removeWaiter(w *waiter) {
	s.mu.Lock()
	for i, q := range s.waiters {
		if q == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	owner := s.owner
	stillClaimed := len(s.waiters) > 0
	s.mu.Unlock()
	if !stillClaimed {
		s.dropClaim(owner)
	}
	if owner != nil {
		recomputeOwnerPriority(owner)
	}
}

// WakeupOne wakes the highest-priority (or oldest, for FIFO synchs)
// waiter and returns its thread, or nil if there were none.
func (s *Synch) WakeupOne() *thread.Thread {
	s.mu.Lock()
	if len(s.waiters) == 0 {
		s.mu.Unlock()
		return nil
	}
	w := s.waiters[0]
	s.waiters = s.waiters[1:]
	owner := s.owner
	stillClaimed := len(s.waiters) > 0
	s.mu.Unlock()

	if !stillClaimed {
		s.dropClaim(owner)
	}
	if owner != nil {
		recomputeOwnerPriority(owner)
	}
	w.th.SetInfo(thread.InfoWaken)
	w.wake <- WokenNormally
	return w.th
}

// WakeupThis wakes th specifically, wherever it sits in the queue.
func (s *Synch) WakeupThis(th *thread.Thread) bool {
	s.mu.Lock()
	for i, w := range s.waiters {
		if w.th == th {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			owner := s.owner
			stillClaimed := len(s.waiters) > 0
			s.mu.Unlock()
			if !stillClaimed {
				s.dropClaim(owner)
			}
			if owner != nil {
				recomputeOwnerPriority(owner)
			}
			w.th.SetInfo(thread.InfoWaken)
			w.wake <- WokenNormally
			return true
		}
	}
	s.mu.Unlock()
	return false
}

// Flush wakes every waiter with the given reason (typically Removed or
// Broken).
func (s *Synch) Flush(reason Reason) {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	owner := s.owner
	s.mu.Unlock()

	s.dropClaim(owner)
	if owner != nil {
		recomputeOwnerPriority(owner)
	}

	for _, w := range waiters {
		if reason == Broken {
			w.th.SetInfo(thread.InfoBreak)
		}
		w.wake <- reason
	}
}

// RequeueSleeper repositions th within the wait queue after an external
// priority change, preserving Prio ordering.
func (s *Synch) RequeueSleeper(th *thread.Thread) {
	s.mu.Lock()
	var found *waiter
	for i, w := range s.waiters {
		if w.th == th {
			found = w
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			break
		}
	}
	if found != nil {
		s.insertLocked(found)
	}
	owner := s.owner
	s.mu.Unlock()
	if owner != nil {
		recomputeOwnerPriority(owner)
	}
}

// PeekClaimQ returns the highest claim priority among synchs owned by
// th, or th's base priority if it owns none with waiters.
func PeekClaimQ(th *thread.Thread) int32 {
	claimsMu.Lock()
	owned := claims[th]
	claimsMu.Unlock()

	best := th.BasePriority
	for s := range owned {
		s.mu.Lock()
		if len(s.waiters) > 0 {
			if p := s.waiters[0].th.Priority(); p > best {
				best = p
			}
		}
		s.mu.Unlock()
	}
	return best
}

// Acquire is the mutex acquire built on SleepOn/ownership transfer: if
// the synch has a paired fast-lock word, the lock-free CAS path is
// tried first (spec §4.G); otherwise, and on fast-path contention, it
// falls back to the slow path, where a free synch is claimed immediately
// and a held one blocks the caller as a PIP-contending waiter.
func (s *Synch) Acquire(th *thread.Thread, timeout time.Duration) error {
	if s.fast != nil && fastlock.TryAcquire(s.fast, uint32(th.Handle)) {
		s.mu.Lock()
		s.owner = th
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return coreerr.Wrap(coreerr.Removed, "synch destroyed", nil)
	}
	if s.owner == nil {
		s.owner = th
		s.mu.Unlock()
		if s.fast != nil {
			fastlock.ForceAcquire(s.fast, uint32(th.Handle))
		}
		return nil
	}
	s.mu.Unlock()

	if s.fast != nil {
		fastlock.MarkContended(s.fast)
	}

	reason := s.SleepOn(th, timeout)
	switch reason {
	case WokenNormally:
		s.mu.Lock()
		s.owner = th
		s.mu.Unlock()
		return nil
	case TimedOut:
		return coreerr.Wrap(coreerr.Timeout, "acquire timed out", nil)
	case Removed:
		return coreerr.Wrap(coreerr.Removed, "synch destroyed while waiting", nil)
	default:
		return coreerr.Wrap(coreerr.Interrupted, "acquire interrupted", nil)
	}
}

// Release hands ownership to the new head waiter (if any) and
// recomputes the outgoing owner's priority as the max of its base
// priority and whatever claims remain.
func (s *Synch) Release(th *thread.Thread) error {
	s.mu.Lock()
	if s.owner != th {
		s.mu.Unlock()
		return coreerr.Wrap(coreerr.Perm, "release by non-owner", nil)
	}
	var next *waiter
	if len(s.waiters) > 0 {
		next = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	if next != nil {
		s.owner = next.th
	} else {
		s.owner = nil
	}
	stillClaimed := len(s.waiters) > 0
	s.mu.Unlock()

	if s.fast != nil {
		if next != nil {
			fastlock.ForceAcquire(s.fast, uint32(next.th.Handle))
		} else {
			fastlock.ForceRelease(s.fast)
		}
	}

	s.dropClaim(th)
	if stillClaimed && next != nil {
		s.addClaim(next.th)
	}

	if th.TestState(thread.Weak) {
		th.SetPriority(th.BasePriority)
		th.ClearState(thread.Boost)
	} else {
		recomputeOwnerPriority(th)
	}

	if next != nil {
		next.th.SetInfo(thread.InfoWaken)
		next.wake <- WokenNormally
	}
	return nil
}

// boost walks the owner chain, registering this synch in the owner's
// claim set and recomputing priorities up the chain, bounded so a
// corrupted ownership graph cannot loop forever.
func (s *Synch) boost(owner *thread.Thread) {
	s.addClaim(owner)
	recomputeOwnerPriority(owner)
}

func (s *Synch) addClaim(owner *thread.Thread) {
	claimsMu.Lock()
	m, ok := claims[owner]
	if !ok {
		m = make(map[*Synch]struct{})
		claims[owner] = m
	}
	m[s] = struct{}{}
	claimsMu.Unlock()
}

func (s *Synch) dropClaim(owner *thread.Thread) {
	if owner == nil {
		return
	}
	claimsMu.Lock()
	if m, ok := claims[owner]; ok {
		delete(m, s)
		if len(m) == 0 {
			delete(claims, owner)
		}
	}
	claimsMu.Unlock()
}

// recomputeOwnerPriority sets owner's priority to the max of its base
// priority and every claimq entry's head priority, re-buckets it in its
// scheduling class's runqueue so the boost is visible to Pick (spec §8
// invariant 1: the runqueue stays ordered by weighted priority), then
// propagates the change through owner's own wchan if it is itself
// pending, for up to maxBoostDepth() hops.
func recomputeOwnerPriority(owner *thread.Thread) {
	cur := owner
	for depth := 0; cur != nil && depth < maxBoostDepth(); depth++ {
		best := PeekClaimQ(cur)
		if best == cur.Priority() {
			return
		}
		cur.SetPriority(best)
		if best > cur.BasePriority {
			cur.SetState(thread.Boost)
		} else {
			cur.ClearState(thread.Boost)
		}
		if tracker, ok := cur.Class.(sched.PriorityTracker); ok {
			tracker.TrackPrio(cur, cur.TestState(thread.Boost))
		}

		next, ok := cur.Wchan.(*Synch)
		if !ok || next == nil || next.owner == nil {
			return
		}
		cur = next.owner
	}
}
