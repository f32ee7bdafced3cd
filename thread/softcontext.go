package thread

import "sync/atomic"

// softContext is the portable ArchContext: there is no CPU register file
// to save, so a context switch releases the incoming goroutine through a
// buffered channel, the same channel-based release eventloop.Loop uses
// for its fast-mode wakeup (fastWakeupCh) instead of a real interrupt.
// The outgoing goroutine is not parked.
type softContext struct {
	resume   chan struct{}
	entry    func()
	started  atomic.Bool
	fpuDirty atomic.Bool
}

// NewSoftContext creates the portable ArchContext for a thread whose
// body is entry. entry is only invoked the first time the context is
// switched to.
func NewSoftContext(entry func()) ArchContext {
	return &softContext{resume: make(chan struct{}, 1), entry: entry}
}

func (c *softContext) Init(entry func()) {
	c.entry = entry
}

// Switch releases to and returns without parking the caller. The first
// switch to a context starts its entry on a new goroutine that waits on
// the context's resume channel; every switch then signals that channel
// following doWakeup's "buffered-channel, drop if already pending"
// idiom, so a release that races ahead of the wait is not lost.
func (c *softContext) Switch(to ArchContext) {
	target, ok := to.(*softContext)
	if !ok || target == nil {
		return
	}
	if target.started.CompareAndSwap(false, true) {
		go func() {
			<-target.resume
			if target.entry != nil {
				target.entry()
			}
		}()
	}
	select {
	case target.resume <- struct{}{}:
	default:
	}
}

// SaveFPU/RestoreFPU only set and clear softContext's fpuDirty flag:
// there is no register state to save, and they do not consult the
// thread's FPU bit. Nothing in this module calls them.
func (c *softContext) SaveFPU()    { c.fpuDirty.Store(true) }
func (c *softContext) RestoreFPU() { c.fpuDirty.Store(false) }
