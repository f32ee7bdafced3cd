// Package sched implements the per-CPU scheduler core: the descending-
// weight class scan, context-switch request/perform split between head
// and root stage, and the scheduler lock. The scheduling classes
// themselves (RT, Sporadic, TP, Weak, Idle) live in the sched/class
// subpackage and satisfy the Class interface defined here. Round-robin
// rotation exists only as RT's Rotate step, with no timer driving it,
// and migration of threads between CPUs is not implemented.
package sched

import "github.com/xenocore/nucleus/thread"

// Class is the abstract scheduling-class capability set (spec §3
// "Scheduling class"). Pick/Enqueue/Dequeue/Requeue are mandatory;
// Tick, Rotate, TrackPrio and the RPI operations are optional and probed
// for via the Ticker/Rotator/PriorityTracker/RPIComposer interfaces
// below (there are no Declare, Forget or Migrate hooks), the same
// "small mandatory core, optional capability
// interfaces" shape sched.Class's own consumer (CPU.Pick) uses to scan
// classes without type-switching on a concrete type.
type Class interface {
	// Name identifies the class for diagnostics.
	Name() string
	// Weight orders classes in CPU.Pick's descending scan; 0 is
	// reserved for Idle.
	Weight() int
	// Enqueue adds th to this class's runqueue.
	Enqueue(th *thread.Thread)
	// Dequeue removes th from this class's runqueue.
	Dequeue(th *thread.Thread)
	// Requeue repositions th, e.g. after an external priority change.
	Requeue(th *thread.Thread)
	// Pick returns the highest-priority runnable thread in this class,
	// or nil if the class has nothing to offer right now.
	Pick() *thread.Thread
}

// Ticker is implemented by classes that need a periodic callback (e.g.
// Sporadic's budget accounting).
type Ticker interface {
	Tick()
}

// Rotator is implemented by classes that support round-robin rotation.
type Rotator interface {
	Rotate(th *thread.Thread)
}

// PriorityTracker is implemented by classes that participate in
// priority inheritance: TrackPrio applies or reverts a PIP boost to the
// class's notion of th's effective priority.
type PriorityTracker interface {
	TrackPrio(th *thread.Thread, boosted bool)
}

// RPIComposer is the optional "RPI" (root priority inheritance)
// capability spec §3 lists alongside trackprio: push_rpi/pop_rpi/
// peek_rpi/suspend_rpi/resume_rpi. It is implemented by the idle/root
// class so a PIP boost carried by a thread that relaxes into secondary
// mode still raises the root thread's effective priority to match for
// as long as the boosted thread stays relaxed (spec §4.F's bi-mode
// invariant: a relaxed thread's boost must remain visible to the
// scheduler even though the boosted thread itself is not on any
// runqueue while relaxed).
type RPIComposer interface {
	// PushRPI records th (boosted, about to relax) as contributing its
	// current priority to the root thread's effective priority.
	PushRPI(th *thread.Thread)
	// PopRPI removes th's contribution, e.g. on harden.
	PopRPI(th *thread.Thread)
	// PeekRPI returns the root thread's current effective priority: the
	// max of its base priority and every active, non-suspended entry.
	PeekRPI() int32
	// SuspendRPI temporarily excludes th's entry from PeekRPI's max
	// without discarding it, e.g. while th itself is SUSPEND-blocked.
	SuspendRPI(th *thread.Thread)
	// ResumeRPI reinstates an entry suspended by SuspendRPI.
	ResumeRPI(th *thread.Thread)
}
