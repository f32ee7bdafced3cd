package class

import (
	"sort"
	"sync"
	"time"

	"github.com/xenocore/nucleus/coreerr"
	"github.com/xenocore/nucleus/thread"
)

// tpWeight sits between RT and Weak: a TP thread only runs during its
// partition's active window, but when active it is not starved by Weak
// threads.
const tpWeight = 75

// GapPartition marks a window during which no TP thread runs.
const GapPartition = -1

// Window is one entry in a TP schedule: partition Partition is eligible
// to run for Duration starting Offset into the schedule's period.
type Window struct {
	Offset    time.Duration
	Duration  time.Duration
	Partition int
}

// TP implements the time-partitioned class (spec §4.D "TP (Time-
// partitioned)"). Each CPU owns one schedule of strictly contiguous
// windows recurring every period; only the partition whose window is
// currently active is eligible to be picked.
type TP struct {
	mu        sync.Mutex
	windows   []Window
	period    time.Duration
	epoch     time.Time
	now       func() time.Time
	partition map[int]*runqueue
}

// NewTP creates an empty TP class. now lets tests inject a fake clock;
// pass time.Now in production.
func NewTP(now func() time.Time) *TP {
	return &TP{now: now, partition: make(map[int]*runqueue), epoch: now()}
}

func (c *TP) Name() string { return "tp" }
func (c *TP) Weight() int  { return tpWeight }

// SetConfig installs a new schedule, validating that windows are
// strictly contiguous: sorted by Offset, each window's Offset equals
// the end of the previous one, and the durations sum to exactly the
// schedule's period. A gap or overlap returns coreerr.Invalid, matching
// spec's "non-contiguous input yields EINVAL".
func (c *TP) SetConfig(windows []Window, period time.Duration) error {
	if len(windows) == 0 || period <= 0 {
		return coreerr.Wrap(coreerr.Invalid, "empty schedule or non-positive period", nil)
	}
	sorted := append([]Window(nil), windows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	var cursor time.Duration
	for _, w := range sorted {
		if w.Duration <= 0 {
			return coreerr.Wrap(coreerr.Invalid, "non-positive window duration", nil)
		}
		if w.Offset != cursor {
			return coreerr.Wrap(coreerr.Invalid, "gap or overlap in TP schedule", nil)
		}
		cursor += w.Duration
	}
	if cursor != period {
		return coreerr.Wrap(coreerr.Invalid, "windows do not sum to period", nil)
	}

	c.mu.Lock()
	c.windows = sorted
	c.period = period
	c.epoch = c.now()
	c.mu.Unlock()
	return nil
}

// activePartitionLocked returns the partition id active right now, or
// GapPartition if none (including when no schedule is installed).
func (c *TP) activePartitionLocked() int {
	if len(c.windows) == 0 || c.period <= 0 {
		return GapPartition
	}
	elapsed := c.now().Sub(c.epoch) % c.period
	if elapsed < 0 {
		elapsed += c.period
	}
	for _, w := range c.windows {
		if elapsed >= w.Offset && elapsed < w.Offset+w.Duration {
			return w.Partition
		}
	}
	return GapPartition
}

func (c *TP) queueFor(partition int) *runqueue {
	rq, ok := c.partition[partition]
	if !ok {
		rq = &runqueue{}
		c.partition[partition] = rq
	}
	return rq
}

// Bind assigns th to partition, without touching its runnability.
func (c *TP) Bind(th *thread.Thread, partition int) {
	th.Class = c
	c.mu.Lock()
	c.queueFor(partition).enqueue(th)
	c.mu.Unlock()
}

func (c *TP) Enqueue(th *thread.Thread) {
	// TP threads are enqueued into their bound partition via Bind;
	// Enqueue without a known partition is a no-op, since there is no
	// partition to file them under.
}

func (c *TP) Dequeue(th *thread.Thread) {
	c.mu.Lock()
	for _, rq := range c.partition {
		rq.dequeue(th)
	}
	c.mu.Unlock()
}

func (c *TP) Requeue(th *thread.Thread) {
	c.mu.Lock()
	for _, rq := range c.partition {
	bands:
		for _, b := range rq.bands {
			for _, t := range b.threads {
				if t == th {
					rq.requeue(th)
					break bands
				}
			}
		}
	}
	c.mu.Unlock()
}

func (c *TP) Pick() *thread.Thread {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.activePartitionLocked()
	if active == GapPartition {
		return nil
	}
	rq, ok := c.partition[active]
	if !ok {
		return nil
	}
	return rq.pick()
}
