// Package thread implements the core's unit of scheduling: Thread, its
// state/info bitmasks, and the architectural context-switch trait. Every
// other package (sched, rtsync, shadow) operates on *Thread values; this
// package itself depends on none of them, so ownership bookkeeping that
// would otherwise need a *rtsync.Synch field here (the claim-queue) is
// kept in rtsync as a side table keyed by *Thread instead — see the
// rtsync section of DESIGN.md.
package thread

import (
	"sync"
	"sync/atomic"
)

// State bits, non-exclusive except where noted. BlockMask is the set of
// bits that make a thread non-runnable.
const (
	Suspend uint32 = 1 << iota
	Pend
	Delay
	Ready
	Dormant
	Zombie
	Started
	Mapped
	Relax
	Migrate
	Held
	Boost
	Lock
	RRB
	FPU
	Root
	Weak
	User
)

// BlockMask is the set of state bits that make a thread non-runnable. A
// thread is runnable iff State&BlockMask == 0.
const BlockMask = Suspend | Pend | Delay | Dormant | Relax | Migrate | Held

// Info bits: transient, cleared on acknowledgment.
const (
	InfoTimeout uint32 = 1 << iota
	InfoRMID
	InfoBreak
	InfoKicked
	InfoWaken
	InfoRobbed
	InfoAffSet
	InfoCanceled
	InfoSWRep
)

// ArchContext is the architectural register-image trait (§9's design
// notes: "ArchContext interface" rather than inline asm). softContext is
// the only implementation this repository ships, since there is no real
// CPU register file to save in a Go process — see softcontext.go.
type ArchContext interface {
	Init(entry func())
	Switch(to ArchContext)
	SaveFPU()
	RestoreFPU()
}

// Thread is the unique unit of scheduling (spec §3 "Thread").
type Thread struct {
	Handle uint64
	Name   string

	BasePriority int32
	priority     atomic.Int32 // current, possibly boosted
	ClassWeight  int32

	mu    sync.Mutex
	state uint32
	info  uint32

	Class     any // sched.Class, untyped here to avoid an import cycle
	BaseClass any

	CPU      int
	Affinity uint64

	ResourceTimer   any // *timer.Timer
	PeriodicTimer   any
	RoundRobinTimer any

	RuntimePrimary   int64 // nanoseconds spent in the real-time domain
	RuntimeSecondary int64 // nanoseconds spent relaxed

	Arch  ArchContext
	Wchan any // the wait object (*rtsync.Synch) this thread is pending on
	Wwake any // the wait object it was last resumed from

	LockDepth LockDepth

	Private any // per-personality private data; corectx stores the attached personality here
}

// New creates a Dormant thread with the given name and base priority.
func New(name string, basePriority int32, arch ArchContext) *Thread {
	t := &Thread{
		Name:         name,
		BasePriority: basePriority,
		Arch:         arch,
	}
	t.priority.Store(basePriority)
	t.state = Dormant
	return t
}

// Priority returns the thread's current (possibly PIP-boosted) priority.
func (t *Thread) Priority() int32 { return t.priority.Load() }

// SetPriority sets the current priority, e.g. from a PIP boost/unboost or
// an explicit reparent. It does not touch BasePriority.
func (t *Thread) SetPriority(p int32) { t.priority.Store(p) }

// WeightedPriority combines current priority with the owning class's
// weight, the quantity scheduling decisions actually compare.
func (t *Thread) WeightedPriority() int64 {
	return int64(t.priority.Load()) + int64(t.ClassWeight)<<32
}

// State returns the current state bitmask.
func (t *Thread) State() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState ORs bits into the state mask.
func (t *Thread) SetState(bits uint32) {
	t.mu.Lock()
	t.state |= bits
	t.mu.Unlock()
}

// ClearState ANDs bits out of the state mask.
func (t *Thread) ClearState(bits uint32) {
	t.mu.Lock()
	t.state &^= bits
	t.mu.Unlock()
}

// TestState reports whether every bit in mask is set.
func (t *Thread) TestState(mask uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state&mask == mask
}

// Runnable reports whether no block-set bit is set.
func (t *Thread) Runnable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state&BlockMask == 0
}

// Info returns the current info bitmask.
func (t *Thread) Info() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.info
}

// SetInfo ORs bits into the info mask.
func (t *Thread) SetInfo(bits uint32) {
	t.mu.Lock()
	t.info |= bits
	t.mu.Unlock()
}

// ClearInfo clears every info bit, the "cleared on acknowledgment"
// behavior from spec §3, and returns the bits that were set.
func (t *Thread) ClearInfo() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.info
	t.info = 0
	return old
}

// LockDepth tracks XNLOCK's recursion count. A non-zero depth keeps the
// Lock state bit set; Unlock decrements and only clears the bit at zero.
type LockDepth struct {
	mu    sync.Mutex
	depth int
}

// Inc increments the recursion depth and reports whether the scheduler
// lock just transitioned from unheld to held.
func (l *LockDepth) Inc() (becameHeld bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depth++
	return l.depth == 1
}

// Dec decrements the recursion depth and reports whether the scheduler
// lock just transitioned from held to unheld.
func (l *LockDepth) Dec() (becameUnheld bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.depth == 0 {
		return false
	}
	l.depth--
	return l.depth == 0
}
