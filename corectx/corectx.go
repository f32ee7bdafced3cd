// Package corectx provides Core, the single aggregate context object
// that replaces the original's scattered global mutable state (spec §9:
// "a Core struct passed by reference" design note), and Boot, the
// construction entry point analogous to eventloop.New(Loop, error).
package corectx

import (
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/xenocore/nucleus/coreconfig"
	"github.com/xenocore/nucleus/coreerr"
	"github.com/xenocore/nucleus/corelog"
	"github.com/xenocore/nucleus/pipeline"
	"github.com/xenocore/nucleus/rtsync"
	"github.com/xenocore/nucleus/sched"
	"github.com/xenocore/nucleus/thread"
	"github.com/xenocore/nucleus/timer"
)

// Core is the single context object every core subsystem is reached
// through: the interrupt pipeline, one sched.CPU per detected CPU, the
// aperiodic time base, the global thread registry, and the nklock
// (spec §5's single lock, modeled as a sync.Mutex combined with stalling
// the head stage around the critical section instead of disabling real
// IRQs).
type Core struct {
	Pipeline *pipeline.Pipeline
	CPUs     []*sched.CPU
	Clock    *timer.AperiodicMaster
	Threads  *thread.Registry
	Log      *corelog.Logger

	lock sync.Mutex

	nextHandle atomic.Uint64

	personalitiesMu sync.Mutex
	personalities   []*registeredPersonality
}

// Boot constructs a Core: detects CPU topology via automaxprocs (undone
// immediately, since this repository only wants the detected count, not
// GOMAXPROCS mutated for the whole process unless the caller already
// wants that), builds one pipeline per process and one sched.CPU per
// detected CPU, and wires a single aperiodic master (owned by CPU 0)
// that serves as the Clock for all of them.
func Boot(backend pipeline.Backend, opts ...coreconfig.Option) (*Core, error) {
	cfg, err := coreconfig.Resolve(opts)
	if err != nil {
		return nil, err
	}

	n := cfg.CPUs()
	if n <= 0 {
		undo, err := maxprocs.Set()
		if err != nil {
			return nil, coreerr.Wrap(coreerr.NotSupported, "automaxprocs detection failed", err)
		}
		n = runtime.GOMAXPROCS(0)
		undo()
	}
	if n <= 0 {
		n = 1
	}

	pipe, err := pipeline.New(backend)
	if err != nil {
		return nil, err
	}

	for i := 0; i < cfg.EscalationVirqs(); i++ {
		if _, err := pipe.AllocEscalationVirq(); err != nil {
			return nil, err
		}
	}

	registry := thread.NewRegistry()
	rtsync.SetDepthBound(registry)
	c := &Core{
		Pipeline: pipe,
		Threads:  registry,
		Log:      corelog.New(nil, corelog.ParseLevel(cfg.LogLevel())).Named("core"),
	}

	c.CPUs = make([]*sched.CPU, n)
	for i := range c.CPUs {
		c.CPUs[i] = sched.NewCPU(i, pipe)
	}

	ipi := make(chan func(), 64)
	c.Clock = timer.NewAperiodicMaster(0, ipi)
	go func() {
		for fn := range ipi {
			fn()
		}
	}()

	return c, nil
}

// WithLock runs fn with the nklock held and the head stage stalled,
// the software stand-in for "disable head-stage IRQs, grab the spinlock"
// (spec §5, §9).
func (c *Core) WithLock(fn func()) {
	wasStalled := c.Pipeline.StallHead()
	c.lock.Lock()
	fn()
	c.lock.Unlock()
	if !wasStalled {
		c.Pipeline.UnstallHead()
	}
}
