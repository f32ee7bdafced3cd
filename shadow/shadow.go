// Package shadow implements the bi-mode shadow-thread mechanism: a
// real-time thread's relax (primary → secondary) and harden (secondary
// → primary) transitions, mode-switch accounting, and the involuntary-
// relax trace (spec §4.F).
package shadow

import (
	"sync"
	"time"

	"github.com/xenocore/nucleus/coreerr"
	"github.com/xenocore/nucleus/rtsync"
	"github.com/xenocore/nucleus/thread"
)

// HostTask stands in for the real host OS task a shadow thread mirrors.
// There is no host OS to mirror into here, so the one implementation this
// repository ships (goroutineHostTask, in host_task.go) runs a plain
// goroutine under a context.Context instead of a real user-space thread.
type HostTask interface {
	// Killed reports whether the host task has exited out from under the
	// shadow (spec: "hardening a thread whose host task has been killed
	// is fatal to the shadow").
	Killed() bool
}

// RootComposer is the subset of sched.RPIComposer Shadow needs: pushing
// and popping a relaxed thread's boost onto the root thread's effective
// priority (spec §3's push_rpi/pop_rpi). Declared locally so shadow does
// not need to import sched for one narrow capability.
type RootComposer interface {
	PushRPI(th *thread.Thread)
	PopRPI(th *thread.Thread)
}

// Shadow pairs a real-time thread with its host task, 1:1 (spec §4.F).
type Shadow struct {
	mu    sync.Mutex
	th    *thread.Thread
	host  HostTask
	boost int32 // priority snapshot preserved across a relax, spec: "the boost remains attached to the thread object"

	modeSwitches uint64
	lastSwitch   time.Time

	tracer *RelaxTracer
	root   RootComposer // optional, bound via BindRoot
	pushed bool         // true while s.th's boost is parked on root's RPI stack
}

// New pairs th with host. th starts hardened (primary mode): the RELAX
// bit is clear.
func New(th *thread.Thread, host HostTask, tracer *RelaxTracer) *Shadow {
	return &Shadow{th: th, host: host, lastSwitch: time.Now(), tracer: tracer}
}

// BindRoot wires root as this shadow's RPI composer (typically the CPU's
// Idle class): from the next Relax onward, a boosted thread's priority
// is pushed onto the root thread's effective priority for the duration
// of the relax, and popped again at Harden.
func (s *Shadow) BindRoot(root RootComposer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = root
}

// Thread returns the paired real-time thread.
func (s *Shadow) Thread() *thread.Thread { return s.th }

// ModeSwitches returns the transition counter from spec §4.F's mode-
// switch accounting.
func (s *Shadow) ModeSwitches() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeSwitches
}

// accountLocked attributes the elapsed time since the last transition to
// whichever mode the thread was just in, and bumps modeSwitches. Must be
// called with s.mu held.
func (s *Shadow) accountLocked(now time.Time, wasPrimary bool) {
	elapsed := now.Sub(s.lastSwitch)
	if elapsed < 0 {
		elapsed = 0
	}
	if wasPrimary {
		s.th.RuntimePrimary += int64(elapsed)
	} else {
		s.th.RuntimeSecondary += int64(elapsed)
	}
	s.lastSwitch = now
	s.modeSwitches++
}

// Relax transitions the thread from primary to secondary mode (spec
// "Relax"): it sets RELAX, preserves any PIP-boosted priority on the
// thread object so harden can re-apply it, and returns an error only if
// the thread was already relaxed. spot identifies the user-space return
// address that triggered the relax, for the involuntary-relax trace;
// pass "" for a voluntary relax (e.g. an explicit yield-to-host call),
// which is never traced.
func (s *Shadow) Relax(now time.Time, spot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.th.TestState(thread.Relax) {
		return coreerr.Wrap(coreerr.Invalid, "shadow already relaxed", nil)
	}
	s.boost = s.th.Priority()
	s.th.SetState(thread.Relax)
	if s.root != nil && s.th.TestState(thread.Boost) {
		s.root.PushRPI(s.th)
		s.pushed = true
	}
	s.accountLocked(now, true)
	if spot != "" && s.tracer != nil {
		s.tracer.Record(spot)
	}
	return nil
}

// Harden transitions the thread from secondary back to primary mode
// (spec "Harden"): it clears RELAX and restores the higher of the
// priority snapshot taken at the matching Relax and whatever the
// thread's live claim queue says now, since a contender can still boost
// a relaxed thread's owner chain while it is secondary (the relaxed
// reading in DESIGN.md's Open Question decisions: relax suspends
// execution, not boost propagation). Taking the max instead of either
// value outright means a boost already applied before relax survives
// even if nothing reclaimed it while relaxed, and a boost that arrived
// during relax is not clobbered by the older snapshot. Hardening a
// shadow whose host task was killed marks the thread ZOMBIE instead, per
// spec's fatal case, and returns an error.
func (s *Shadow) Harden(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.th.TestState(thread.Relax) {
		return coreerr.Wrap(coreerr.Invalid, "shadow not relaxed", nil)
	}
	if s.host.Killed() {
		s.th.SetState(thread.Zombie)
		return coreerr.Wrap(coreerr.Perm, "host task killed before harden", nil)
	}
	s.th.ClearState(thread.Relax)
	if live := rtsync.PeekClaimQ(s.th); live > s.boost {
		s.boost = live
	}
	s.th.SetPriority(s.boost)
	if s.pushed {
		s.root.PopRPI(s.th)
		s.pushed = false
	}
	s.accountLocked(now, false)
	return nil
}
