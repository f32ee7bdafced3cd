// Package class implements the five scheduling classes the core ships:
// RT (FIFO/RR), Sporadic (POSIX SS budget/replenishment), TP
// (time-partitioned), Weak, and Idle.
package class

import "github.com/xenocore/nucleus/thread"

// runqueue is a priority-indexed ready queue with FIFO tie-break within
// a priority level (spec §3 "Scheduler (per-CPU)"), shared by RT,
// Sporadic, and Weak since all three want the identical ordering
// discipline and differ only in weight and admission rules.
type runqueue struct {
	bands []band
}

type band struct {
	priority int32
	threads  []*thread.Thread
}

func (q *runqueue) enqueue(th *thread.Thread) {
	p := th.Priority()
	for i := range q.bands {
		if q.bands[i].priority == p {
			q.bands[i].threads = append(q.bands[i].threads, th)
			return
		}
		if q.bands[i].priority < p {
			q.bands = append(q.bands, band{})
			copy(q.bands[i+1:], q.bands[i:])
			q.bands[i] = band{priority: p, threads: []*thread.Thread{th}}
			return
		}
	}
	q.bands = append(q.bands, band{priority: p, threads: []*thread.Thread{th}})
}

func (q *runqueue) dequeue(th *thread.Thread) {
	for bi := range q.bands {
		for ti, t := range q.bands[bi].threads {
			if t == th {
				q.bands[bi].threads = append(q.bands[bi].threads[:ti], q.bands[bi].threads[ti+1:]...)
				if len(q.bands[bi].threads) == 0 {
					q.bands = append(q.bands[:bi], q.bands[bi+1:]...)
				}
				return
			}
		}
	}
}

// requeue removes and re-inserts th, used after an external priority
// change moves it to a different band.
func (q *runqueue) requeue(th *thread.Thread) {
	q.dequeue(th)
	q.enqueue(th)
}

// pick returns the head of the highest-priority non-empty band without
// removing it; the scheduler dequeues explicitly once it actually
// switches to the thread.
func (q *runqueue) pick() *thread.Thread {
	if len(q.bands) == 0 {
		return nil
	}
	return q.bands[0].threads[0]
}

// rotate moves th to the tail of its own priority band (round-robin).
func (q *runqueue) rotate(th *thread.Thread) {
	for bi := range q.bands {
		for ti, t := range q.bands[bi].threads {
			if t == th {
				band := q.bands[bi].threads
				band = append(band[:ti], band[ti+1:]...)
				q.bands[bi].threads = append(band, th)
				return
			}
		}
	}
}

func (q *runqueue) empty() bool { return len(q.bands) == 0 }
