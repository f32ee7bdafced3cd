package timer

import (
	"container/heap"
	"sync"
	"time"
)

// timerQueue is a min-heap of *Timer ordered by absolute expiry, directly
// grounded on eventloop.timerHeap: same Len/Less/Swap/Push/Pop shape,
// generalized from a value-typed task queue to pointer-typed Timer so a
// queued Timer can be found and removed again by Stop.
type timerQueue []*Timer

func (q timerQueue) Len() int            { return len(q) }
func (q timerQueue) Less(i, j int) bool  { return q[i].Expiry.Before(q[j].Expiry) }
func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].heapIndex = i
	q[j].heapIndex = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIndex = -1
	*q = old[:n-1]
	return t
}

// AperiodicMaster is one CPU's TSC-style time base: a single min-heap of
// pending deadlines and one underlying time.Timer reprogrammed to the
// head of the queue, the software stand-in for a one-shot hardware timer
// register. When ipi is non-nil, every Start and Stop is forwarded over
// it, the channel analogue of eventloop's doWakeup dual wakeup (here there is no fd-mode
// fallback: every CPU's scheduler loop is a goroutine, so the channel
// send is always the right mechanism).
type AperiodicMaster struct {
	mu    sync.Mutex
	cpu   int
	queue timerQueue
	hw    *time.Timer
	armed time.Time // zero when hw is not running

	// calibration, recorded once at boot by Calibrate.
	latency time.Duration

	ipi chan func()
}

// NewAperiodicMaster creates the time base for the given CPU id. ipi is
// the owning scheduler loop's request channel: when it is non-nil, every
// Start and Stop, from whichever goroutine, is forwarded through it
// instead of touching the heap directly, and Start returns before the
// forwarded insertion has run. A nil ipi runs them inline.
func NewAperiodicMaster(cpu int, ipi chan func()) *AperiodicMaster {
	return &AperiodicMaster{cpu: cpu, queue: make(timerQueue, 0), ipi: ipi}
}

// Calibrate records a one-time correction for the fixed overhead between
// a deadline firing and the handler actually running, the same role
// xnarch_calibrate_sched plays at boot. It does not change Start/Stop
// semantics; callers that care read Latency() and subtract it themselves
// when computing a deadline.
func (m *AperiodicMaster) Calibrate(sample func() time.Duration) {
	m.mu.Lock()
	m.latency = sample()
	m.mu.Unlock()
}

// Latency returns the last value recorded by Calibrate.
func (m *AperiodicMaster) Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency
}

// sendTimerIPI forwards fn to run under the master's own lock, from
// whichever goroutine owns this CPU's scheduler loop. In this software
// model that is just a buffered channel send; a nil ipi channel means
// the caller is already running on the owning loop, so fn runs inline.
func (m *AperiodicMaster) sendTimerIPI(fn func()) {
	if m.ipi == nil {
		fn()
		return
	}
	m.ipi <- fn
}

func (m *AperiodicMaster) Now() time.Time { return time.Now() }

// Start arms or re-arms t. A Timer already queued is moved (dequeued,
// then re-inserted) rather than double-queued.
func (m *AperiodicMaster) Start(t *Timer, expiry time.Time, interval time.Duration) error {
	if expiry.Before(time.Now()) {
		return ErrExpired
	}
	m.sendTimerIPI(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeLocked(t)
		t.Expiry = expiry
		t.Interval = interval
		t.Status &^= StatusDequeued
		if interval > 0 {
			t.Status |= StatusPeriodic
		} else {
			t.Status &^= StatusPeriodic
		}
		t.base = m
		heap.Push(&m.queue, t)
		m.reprogramLocked()
	})
	return nil
}

// Stop dequeues t if queued; a no-op otherwise.
func (m *AperiodicMaster) Stop(t *Timer) {
	m.sendTimerIPI(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.removeLocked(t)
		m.reprogramLocked()
	})
}

func (m *AperiodicMaster) removeLocked(t *Timer) {
	if t.heapIndex < 0 || t.heapIndex >= len(m.queue) || m.queue[t.heapIndex] != t {
		return
	}
	heap.Remove(&m.queue, t.heapIndex)
	t.Status |= StatusDequeued
}

// reprogramLocked idempotently reprograms the underlying time.Timer to
// the new queue head, matching program()'s role in the original: a
// reprogram is skipped if the head has not changed.
func (m *AperiodicMaster) reprogramLocked() {
	if len(m.queue) == 0 {
		if m.hw != nil {
			m.hw.Stop()
		}
		m.armed = time.Time{}
		return
	}
	head := m.queue[0]
	if m.armed.Equal(head.Expiry) {
		return
	}
	if m.hw != nil {
		m.hw.Stop()
	}
	m.armed = head.Expiry
	delay := time.Until(head.Expiry)
	if delay < 0 {
		delay = 0
	}
	m.hw = time.AfterFunc(delay, m.fire)
}

// fire pops and runs every timer whose deadline has passed, then
// re-arms periodic timers and reprograms for the new head.
func (m *AperiodicMaster) fire() {
	m.mu.Lock()
	now := time.Now()
	var due []*Timer
	for len(m.queue) > 0 && !m.queue[0].Expiry.After(now) {
		t := heap.Pop(&m.queue).(*Timer)
		due = append(due, t)
	}
	for _, t := range due {
		if t.Periodic() && t.Status&StatusKilled == 0 {
			t.Expiry = t.Expiry.Add(t.Interval)
			for !t.Expiry.After(now) {
				t.Expiry = t.Expiry.Add(t.Interval)
			}
			heap.Push(&m.queue, t)
		} else {
			t.Status |= StatusDequeued
		}
	}
	m.armed = time.Time{}
	m.reprogramLocked()
	m.mu.Unlock()

	for _, t := range due {
		if t.Handler != nil {
			t.Handler(t)
		}
	}
}

// Pending reports how many timers are currently queued.
func (m *AperiodicMaster) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
