package corectx

import (
	"time"

	"github.com/xenocore/nucleus/coreerr"
	"github.com/xenocore/nucleus/rtsync"
	"github.com/xenocore/nucleus/thread"
)

// HostSyscalls is the host-task-facing API the core exposes to whatever
// personality mirrors a host thread into it (spec §6): the core's own
// primitives, wrapped so a personality never needs to reach into thread/
// sched/rtsync directly. *Core implements this directly.
type HostSyscalls interface {
	CreateThread(name string, basePriority int32, arch thread.ArchContext) *thread.Thread
	StartThread(th *thread.Thread)
	DeleteThread(th *thread.Thread)
	Sleep(s *rtsync.Synch, th *thread.Thread, timeout time.Duration) rtsync.Reason
	SetSched(th *thread.Thread, priority int32)
	SynchAcquire(s *rtsync.Synch, th *thread.Thread, timeout time.Duration) error
	SynchRelease(s *rtsync.Synch, th *thread.Thread) error
}

var _ HostSyscalls = (*Core)(nil)

// CreateThread registers a new thread in the core's global set and
// returns it, dormant (spec §3: a new thread starts Dormant).
func (c *Core) CreateThread(name string, basePriority int32, arch thread.ArchContext) *thread.Thread {
	th := thread.New(name, basePriority, arch)
	th.Handle = c.nextHandle.Add(1)
	c.Threads.Add(th)
	return th
}

// StartThread starts th (spec §4.E: Init/Start).
func (c *Core) StartThread(th *thread.Thread) { thread.Start(th) }

// DeleteThread removes th from the global registry and, if it has a
// primary personality attached, invokes its Delete hook (spec §6).
func (c *Core) DeleteThread(th *thread.Thread) {
	if p, ok := th.Private.(Personality); ok {
		p.Delete(th)
	}
	c.Threads.Remove(th)
}

// Sleep pends th on s until woken, timed out, or s is destroyed.
func (c *Core) Sleep(s *rtsync.Synch, th *thread.Thread, timeout time.Duration) rtsync.Reason {
	return s.SleepOn(th, timeout)
}

// SetSched reparents th's current priority, e.g. from a personality's
// set-scheduling-parameters call.
func (c *Core) SetSched(th *thread.Thread, priority int32) { th.SetPriority(priority) }

// SynchAcquire acquires s on behalf of th, applying PIP if s was created
// with the Owner flag and without NoPip.
func (c *Core) SynchAcquire(s *rtsync.Synch, th *thread.Thread, timeout time.Duration) error {
	return s.Acquire(th, timeout)
}

// SynchRelease releases s, handing ownership to the next waiter if any.
func (c *Core) SynchRelease(s *rtsync.Synch, th *thread.Thread) error {
	return s.Release(th)
}

// Syscall is one entry of a Personality's syscall table (spec §6:
// "systab is []corectx.Syscall{Handler, ModeFlags}").
type Syscall struct {
	Handler   func(th *thread.Thread, args ...any) (any, error)
	ModeFlags uint32
}

// muxid identifies a registered personality's syscall table, returned
// by RegisterInterface and used to demultiplex incoming syscalls.
type muxid int

// Personality is the contract an out-of-scope personality (POSIX,
// VxWorks, uITRON, VRTX) implements to plug into the core (spec §6).
type Personality interface {
	Name() string
	Magic() uint32
	Systab() []Syscall
	// Delete is the per-personality thread-death hook, called when a
	// thread attached to this personality is reaped.
	Delete(th *thread.Thread)
}

type registeredPersonality struct {
	id   muxid
	impl Personality
}

// RegisterInterface enrolls p, returning the muxid syscalls against it
// are demultiplexed through.
func (c *Core) RegisterInterface(p Personality) muxid {
	c.personalitiesMu.Lock()
	defer c.personalitiesMu.Unlock()
	id := muxid(len(c.personalities))
	c.personalities = append(c.personalities, &registeredPersonality{id: id, impl: p})
	return id
}

// AttachPrimary attaches p as th's primary personality. Exactly one
// personality may be primary-attached per host task (spec §6); a second
// call for the same thread returns coreerr.Busy.
func (c *Core) AttachPrimary(th *thread.Thread, p Personality) error {
	c.personalitiesMu.Lock()
	defer c.personalitiesMu.Unlock()
	if th.Private != nil {
		return coreerr.Wrap(coreerr.Busy, "thread already has a primary personality attached", nil)
	}
	th.Private = p
	return nil
}
