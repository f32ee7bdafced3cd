// Package timer implements the core's two time bases: an aperiodic,
// TSC-style master queue (AperiodicMaster) and an optional periodic jiffy
// wheel layered on top of it (PeriodicSlave). Both satisfy TimeBase, the
// interface the scheduler and sleep-queue core program timers through.
package timer

import (
	"errors"
	"time"
)

// ErrExpired is returned by Start when the requested absolute date has
// already passed.
var ErrExpired = errors.New("timer: expiry date has already passed")

// Status bits, one per timer.Timer, mirroring the aperiodic/periodic and
// dequeued/killed flags the original keeps per xntimer_t.
const (
	StatusDequeued uint32 = 1 << iota
	StatusKilled
	StatusPeriodic
)

// Handler is invoked when a Timer fires. It runs on the goroutine of the
// AperiodicMaster's time.AfterFunc callback (a PeriodicSlave's timers run
// from its cascade timer's handler), not on a CPU's scheduler loop.
// Handlers due in one firing run in sequence, but separate firings are
// not serialized, so handlers can run concurrently.
type Handler func(t *Timer)

// Timer is one schedulable deadline: an absolute expiry, an optional
// repeat interval, a handler, and the CPU it is queued on.
type Timer struct {
	Expiry   time.Time
	Interval time.Duration // zero for a one-shot timer
	Handler  Handler
	CPU      int
	Status   uint32

	heapIndex int // maintained by container/heap; meaningful only while queued
	base      TimeBase
}

// Dequeued reports whether the timer has been taken off its queue
// (stopped, or fired without re-arming). A Timer that was never started
// reports false.
func (t *Timer) Dequeued() bool { return t.Status&StatusDequeued != 0 }

// Periodic reports whether the timer re-arms itself on fire.
func (t *Timer) Periodic() bool { return t.Status&StatusPeriodic != 0 }
