package timer

import (
	"sync"
	"time"
)

// WheelSize is the number of hash buckets in a PeriodicSlave's wheel,
// matching the original's XNTIMER_WHEELSIZE.
const WheelSize = 512

// Tick is the jiffy period: how often the Keeper CPU's cascading
// aperiodic timer fires to advance the wheel by one slot.
const Tick = time.Millisecond

// PeriodicSlave layers a jiffy-driven hash-bucket wheel on top of an
// AperiodicMaster: one CPU (the Keeper) owns a single cascading timer on
// master that fires every Tick, advances jiffies by one, and runs every
// timer in the slot jiffies now occupies. Every other timer start just
// computes a slot and appends to that bucket's insertion-ordered slice,
// which is what gives same-expiry timers FIFO order and an interval
// timer's re-enqueue a well-defined position relative to timers already
// in the new slot.
type PeriodicSlave struct {
	mu      sync.Mutex
	master  *AperiodicMaster
	jiffies uint64
	slots   [WheelSize][]*Timer
	cascade *Timer
	keeper  bool
}

// NewPeriodicSlave builds a wheel driven by master. isKeeper marks the
// one CPU responsible for actually advancing jiffies; every other CPU's
// PeriodicSlave shares jiffies via SetJiffies and only manages its own
// wheel slots.
func NewPeriodicSlave(master *AperiodicMaster, isKeeper bool) *PeriodicSlave {
	s := &PeriodicSlave{master: master, keeper: isKeeper}
	if isKeeper {
		s.cascade = &Timer{}
		s.cascade.Handler = func(*Timer) { s.tick() }
		_ = master.Start(s.cascade, time.Now().Add(Tick), Tick)
	}
	return s
}

// Jiffies returns the wheel's current tick count.
func (s *PeriodicSlave) Jiffies() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jiffies
}

// SetJiffies lets a non-Keeper CPU's wheel stay synchronized with the
// Keeper's, the software analogue of every CPU reading the same shared
// jiffies counter the original keeps.
func (s *PeriodicSlave) SetJiffies(j uint64) {
	s.mu.Lock()
	s.jiffies = j
	s.mu.Unlock()
}

// Start queues t into the wheel slot corresponding to expiry. Unlike
// AperiodicMaster.Start, the wheel never reprograms hardware directly:
// it only ever waits for the Keeper's next tick.
func (s *PeriodicSlave) Start(t *Timer, expiry time.Time, interval time.Duration) error {
	if expiry.Before(s.master.Now()) {
		return ErrExpired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t)
	t.Expiry = expiry
	t.Interval = interval
	t.Status &^= StatusDequeued
	if interval > 0 {
		t.Status |= StatusPeriodic
	}
	idx := s.slotLocked(expiry)
	s.slots[idx] = append(s.slots[idx], t)
	return nil
}

func (s *PeriodicSlave) slotLocked(expiry time.Time) int {
	delta := expiry.Sub(s.master.Now())
	ticks := int64(delta / Tick)
	if ticks < 1 {
		ticks = 1
	}
	return int((s.jiffies + uint64(ticks)) % WheelSize)
}

// Stop removes t from its wheel slot if present.
func (s *PeriodicSlave) Stop(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t)
}

func (s *PeriodicSlave) removeLocked(t *Timer) {
	if t.Dequeued() {
		return
	}
	for i := range s.slots {
		bucket := s.slots[i]
		for j, q := range bucket {
			if q == t {
				s.slots[i] = append(bucket[:j], bucket[j+1:]...)
				t.Status |= StatusDequeued
				return
			}
		}
	}
}

func (s *PeriodicSlave) Now() time.Time { return s.master.Now() }

// tick advances jiffies by one and runs every timer whose slot the new
// jiffy count now occupies, in insertion order.
func (s *PeriodicSlave) tick() {
	s.mu.Lock()
	s.jiffies++
	idx := int(s.jiffies % WheelSize)
	due := s.slots[idx]
	s.slots[idx] = nil
	now := s.master.Now()
	var fire []*Timer
	var requeue []*Timer
	for _, t := range due {
		if t.Expiry.After(now) {
			requeue = append(requeue, t)
			continue
		}
		fire = append(fire, t)
	}
	for _, t := range requeue {
		i := s.slotLocked(t.Expiry)
		s.slots[i] = append(s.slots[i], t)
	}
	for _, t := range fire {
		if t.Periodic() && t.Status&StatusKilled == 0 {
			t.Expiry = t.Expiry.Add(t.Interval)
			for !t.Expiry.After(now) {
				t.Expiry = t.Expiry.Add(t.Interval)
			}
			i := s.slotLocked(t.Expiry)
			s.slots[i] = append(s.slots[i], t)
		} else {
			t.Status |= StatusDequeued
		}
	}
	s.mu.Unlock()

	for _, t := range fire {
		if t.Handler != nil {
			t.Handler(t)
		}
	}
}
