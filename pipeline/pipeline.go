// Package pipeline models the two-stage interrupt pipeline the core
// depends on (spec §4.A, §6): a head stage for the real-time domain and a
// root stage for the host. Each stage has a stall bit; an incoming virq
// is offered to the head stage first, and reaches the root stage unless
// the head handler returns true ("handled"). A head stage that is stalled
// or has no handler passes the virq on.
//
// The core never talks to real hardware interrupt controllers (there is
// no host kernel here to cohabit with); Pipeline instead multiplexes
// software-triggered virqs through a Backend, the way eventloop's
// FastPoller multiplexes I/O readiness through epoll. The escalation virq
// (the one virq the host domain uses to re-enter the real-time scheduler)
// is allocated the same way any other virq is.
package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/xenocore/nucleus/coreerr"
)

// Stage identifies one of the two pipeline stages.
type Stage int

const (
	// Head is the real-time domain's stage: it sees every virq first.
	Head Stage = iota
	// Root is the host domain's stage: it only sees virqs the head
	// stage propagated.
	Root
)

func (s Stage) String() string {
	if s == Head {
		return "head"
	}
	return "root"
}

// Handler processes a virq on one stage. Returning true ("handled")
// suppresses propagation to the next stage; returning false ("passed")
// hands the virq to the Root stage at once if Root is unstalled. A virq
// passed while Root is stalled is dropped; it is not held for delivery
// on the next unstall.
type Handler func(virq int) (handled bool)

// stallBits is a cache-line padded pair of stall flags — one per
// Stage — grounded on eventloop.FastState's cache-line-padded atomic
// state word.
type stallBits struct { // betteralign:ignore
	_    [64]byte //nolint:unused
	word atomic.Uint32
	_    [60]byte //nolint:unused
}

const (
	headStallBit uint32 = 1 << 0
	rootStallBit uint32 = 1 << 1
)

func (s *stallBits) stalled(stage Stage) bool {
	bit := headStallBit
	if stage == Root {
		bit = rootStallBit
	}
	return s.word.Load()&bit != 0
}

func (s *stallBits) stall(stage Stage) (wasStalled bool) {
	bit := headStallBit
	if stage == Root {
		bit = rootStallBit
	}
	for {
		old := s.word.Load()
		if old&bit != 0 {
			return true
		}
		if s.word.CompareAndSwap(old, old|bit) {
			return false
		}
	}
}

func (s *stallBits) unstall(stage Stage) {
	bit := headStallBit
	if stage == Root {
		bit = rootStallBit
	}
	for {
		old := s.word.Load()
		if old&bit == 0 {
			return
		}
		if s.word.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// IRQStats accumulates per-virq counters, the software stand-in for the
// original's /proc latency instrumentation (ksrc/arch/i386/hal.c).
type IRQStats struct {
	Trips       uint64
	Propagated  uint64
	Suppressed  uint64
}

// Pipeline is the two-stage interrupt dispatcher; corectx.Boot builds one
// per process and every sched.CPU shares it.
type Pipeline struct {
	mu       sync.Mutex
	backend  Backend
	stalls   stallBits
	handlers map[int]stageHandlers
	nextVirq int
	escVirq  int
	hasEsc   bool
	stats    map[int]*IRQStats
}

type stageHandlers struct {
	head Handler
	root Handler
}

// New creates a Pipeline driven by the given Backend. backend may be nil,
// in which case New returns coreerr.NoDevice (spec §4.A: "Fails with
// ENODEV if the pipeline is not present").
func New(backend Backend) (*Pipeline, error) {
	if backend == nil {
		return nil, coreerr.Wrap(coreerr.NoDevice, "no interrupt pipeline backend", nil)
	}
	p := &Pipeline{
		backend:  backend,
		handlers: make(map[int]stageHandlers),
		stats:    make(map[int]*IRQStats),
		nextVirq: 1,
	}
	return p, nil
}

// AllocVirq allocates a new virtual IRQ number and registers dispatch for
// it on the backend.
func (p *Pipeline) AllocVirq() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	virq := p.nextVirq
	p.nextVirq++
	p.handlers[virq] = stageHandlers{}
	p.stats[virq] = &IRQStats{}
	if err := p.backend.Register(virq, p.dispatch); err != nil {
		delete(p.handlers, virq)
		delete(p.stats, virq)
		return 0, err
	}
	return virq, nil
}

// FreeVirq releases a previously allocated virq.
func (p *Pipeline) FreeVirq(virq int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.handlers[virq]; !ok {
		return coreerr.Wrap(coreerr.NotFound, "unknown virq", nil)
	}
	delete(p.handlers, virq)
	delete(p.stats, virq)
	return p.backend.Unregister(virq)
}

// VirtualizeIRQ installs a handler for virq on the given stage.
func (p *Pipeline) VirtualizeIRQ(virq int, stage Stage, h Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	sh, ok := p.handlers[virq]
	if !ok {
		return coreerr.Wrap(coreerr.NotFound, "unknown virq", nil)
	}
	if stage == Head {
		sh.head = h
	} else {
		sh.root = h
	}
	p.handlers[virq] = sh
	return nil
}

// TriggerIRQ asks the backend to deliver virq asynchronously. This is how
// the scheduler escalates from the root stage back into the head stage,
// and how software-simulated hardware events enter the pipeline.
func (p *Pipeline) TriggerIRQ(virq int) error {
	return p.backend.Trigger(virq)
}

// PropagateIRQ delivers virq to its root-stage handler immediately, from
// within a head-stage Handler or from anywhere else. It does nothing if
// no root handler is installed or the root stage is stalled (the virq is
// then dropped, not deferred to the next unstall).
func (p *Pipeline) PropagateIRQ(virq int) {
	p.mu.Lock()
	sh, ok := p.handlers[virq]
	p.mu.Unlock()
	if !ok || sh.root == nil {
		return
	}
	if !p.stalls.stalled(Root) {
		sh.root(virq)
	}
}

// dispatch runs on a backend callback: head stage first, then root stage
// if the head stage propagated (or had no handler) and the root stage is
// unstalled.
func (p *Pipeline) dispatch(virq int) {
	p.mu.Lock()
	sh := p.handlers[virq]
	stat := p.stats[virq]
	p.mu.Unlock()
	if stat != nil {
		stat.Trips++
	}

	handled := false
	if sh.head != nil && !p.stalls.stalled(Head) {
		handled = sh.head(virq)
	}
	if handled {
		if stat != nil {
			stat.Suppressed++
		}
		return
	}
	if sh.root != nil && !p.stalls.stalled(Root) {
		if stat != nil {
			stat.Propagated++
		}
		sh.root(virq)
	}
}

// StallHead / UnstallHead / StallRoot / UnstallRoot form "hw-irq-off"
// style critical sections (spec §4.A). StallHead returns whether the
// stage was already stalled, matching the save/restore discipline nklock
// uses (corectx.Core.lock).
func (p *Pipeline) StallHead() bool    { return p.stalls.stall(Head) }
func (p *Pipeline) UnstallHead()       { p.stalls.unstall(Head) }
func (p *Pipeline) StallRoot() bool    { return p.stalls.stall(Root) }
func (p *Pipeline) UnstallRoot()       { p.stalls.unstall(Root) }
func (p *Pipeline) HeadStalled() bool  { return p.stalls.stalled(Head) }
func (p *Pipeline) RootStalled() bool  { return p.stalls.stalled(Root) }

// AllocEscalationVirq allocates the one virq the host domain uses to poke
// the real-time scheduler. Fails with coreerr.NotSupported if it cannot
// be allocated (spec §4.A: "fails with ENOSYS").
func (p *Pipeline) AllocEscalationVirq() (int, error) {
	p.mu.Lock()
	if p.hasEsc {
		virq := p.escVirq
		p.mu.Unlock()
		return virq, nil
	}
	p.mu.Unlock()

	virq, err := p.AllocVirq()
	if err != nil {
		return 0, coreerr.Wrap(coreerr.NotSupported, "escalation virq unavailable", err)
	}
	p.mu.Lock()
	p.escVirq = virq
	p.hasEsc = true
	p.mu.Unlock()
	return virq, nil
}

// Stats returns a snapshot of per-virq counters.
func (p *Pipeline) Stats() map[int]IRQStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int]IRQStats, len(p.stats))
	for virq, s := range p.stats {
		out[virq] = *s
	}
	return out
}

// Close releases the backend.
func (p *Pipeline) Close() error {
	return p.backend.Close()
}
