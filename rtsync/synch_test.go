package rtsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xenocore/nucleus/rtsync/fastlock"
	"github.com/xenocore/nucleus/sched/class"
	"github.com/xenocore/nucleus/thread"
)

func newThread(name string, prio int32) *thread.Thread {
	return thread.New(name, prio, nil)
}

func TestAcquireRelease_Uncontended(t *testing.T) {
	s := New(Owner)
	low := newThread("low", 10)

	require.NoError(t, s.Acquire(low, 0))
	require.NoError(t, s.Release(low))
}

func TestFastlock_UncontendedAcquireReleaseTakesCASPath(t *testing.T) {
	word := &fastlock.Word{}
	s := NewWithFastlock(Owner, word)
	require.Equal(t, word, s.Fastlock())

	low := newThread("low", 10)
	low.Handle = 1

	require.NoError(t, s.Acquire(low, 0))
	handle, contended := fastlock.Owner(word)
	require.Equal(t, uint32(1), handle)
	require.False(t, contended)

	require.NoError(t, s.Release(low))
	handle, contended = fastlock.Owner(word)
	require.Equal(t, fastlock.NoHandle, handle)
	require.False(t, contended)
}

func TestFastlock_ContendedAcquireMarksWordAndHandsOffOnRelease(t *testing.T) {
	word := &fastlock.Word{}
	s := NewWithFastlock(Owner|Prio, word)

	low := newThread("low", 10)
	low.Handle = 1
	high := newThread("high", 50)
	high.Handle = 2

	require.NoError(t, s.Acquire(low, 0))

	acquired := make(chan struct{})
	go func() {
		require.NoError(t, s.Acquire(high, 0))
		close(acquired)
	}()
	time.Sleep(20 * time.Millisecond)

	_, contended := fastlock.Owner(word)
	require.True(t, contended)

	require.NoError(t, s.Release(low))
	<-acquired

	handle, contended := fastlock.Owner(word)
	require.Equal(t, uint32(2), handle)
	require.False(t, contended)
}

func TestWakeupOne_FIFO(t *testing.T) {
	s := New(0)
	a, b := newThread("a", 10), newThread("b", 10)

	var order []string
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		s.SleepOn(a, 0)
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		wg.Done()
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		s.SleepOn(b, 0)
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		wg.Done()
	}()
	time.Sleep(20 * time.Millisecond)

	require.NotNil(t, s.WakeupOne())
	require.NotNil(t, s.WakeupOne())
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b"}, order)
}

func TestWakeupOne_PriorityOrder(t *testing.T) {
	s := New(Prio)
	low, high := newThread("low", 10), newThread("high", 50)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { s.SleepOn(low, 0); wg.Done() }()
	time.Sleep(10 * time.Millisecond)
	go func() { s.SleepOn(high, 0); wg.Done() }()
	time.Sleep(10 * time.Millisecond)

	first := s.WakeupOne()
	require.Equal(t, high, first)
	second := s.WakeupOne()
	require.Equal(t, low, second)
	wg.Wait()
}

// TestPIPBoostChain is scenario S1: a three-thread ownership chain (low
// owns s1, mid owns s2 and blocks on s1, high blocks on s2) must boost
// low all the way up to high's priority.
func TestPIPBoostChain(t *testing.T) {
	low := newThread("low", 10)
	mid := newThread("mid", 20)
	high := newThread("high", 30)

	s1 := New(Owner | Prio)
	s2 := New(Owner | Prio)

	require.NoError(t, s1.Acquire(low, 0))
	require.NoError(t, s2.Acquire(mid, 0))

	midAcquired := make(chan struct{})
	go func() {
		require.NoError(t, s1.Acquire(mid, 0))
		close(midAcquired)
	}()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, int32(20), low.Priority())
	require.True(t, low.TestState(thread.Boost))

	highBlocked := make(chan struct{})
	go func() {
		close(highBlocked)
		_ = s2.Acquire(high, 0) // never returns: mid never releases s2
	}()
	<-highBlocked
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, int32(30), mid.Priority())
	require.Equal(t, int32(30), low.Priority())

	require.NoError(t, s1.Release(low))

	select {
	case <-midAcquired:
	case <-time.After(time.Second):
		t.Fatal("mid never acquired s1 after low released it")
	}

	require.Equal(t, int32(10), low.BasePriority)
	require.Equal(t, int32(10), low.Priority())
}

// TestPIPBoost_RebucketsOwnerInItsRunqueue proves a PIP-boosted thread
// does not stay parked in its stale pre-boost priority band: the owner
// must actually move to the front of a real RT runqueue, not just report
// a boosted Priority().
func TestPIPBoost_RebucketsOwnerInItsRunqueue(t *testing.T) {
	rt := class.NewRT()
	low := newThread("low", 10)
	filler := newThread("filler", 20)
	low.Class = rt
	filler.Class = rt

	rt.Enqueue(low)
	rt.Enqueue(filler)
	require.Equal(t, filler, rt.Pick()) // filler (20) outranks low (10) pre-boost

	s := New(Owner | Prio)
	require.NoError(t, s.Acquire(low, 0))

	contender := newThread("contender", 90)
	boosted := make(chan struct{})
	go func() {
		require.NoError(t, s.Acquire(contender, 0))
		close(boosted)
	}()
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, int32(90), low.Priority())
	require.Equal(t, low, rt.Pick())

	require.NoError(t, s.Release(low))
	<-boosted
}

// TestSynchDestroy_WithWaiters is scenario S5: destroying a synch while
// threads are blocked on it must wake every waiter with Removed rather
// than leaving them parked forever.
func TestSynchDestroy_WithWaiters(t *testing.T) {
	s := New(Owner | Prio)
	owner := newThread("owner", 10)
	require.NoError(t, s.Acquire(owner, 0))

	waiter := newThread("waiter", 20)
	reasonCh := make(chan Reason, 1)
	go func() {
		reasonCh <- s.SleepOn(waiter, 0)
	}()
	time.Sleep(20 * time.Millisecond)

	s.Destroy()

	select {
	case r := <-reasonCh:
		require.Equal(t, Removed, r)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken by Destroy")
	}
}

func TestFlush_WakesEveryWaiterWithReason(t *testing.T) {
	s := New(0)
	a, b := newThread("a", 10), newThread("b", 10)

	resA := make(chan Reason, 1)
	resB := make(chan Reason, 1)
	go func() { resA <- s.SleepOn(a, 0) }()
	go func() { resB <- s.SleepOn(b, 0) }()
	time.Sleep(20 * time.Millisecond)

	s.Flush(Broken)

	require.Equal(t, Broken, <-resA)
	require.Equal(t, Broken, <-resB)
	require.True(t, a.Info()&thread.InfoBreak != 0)
}

func TestSleepOn_Timeout(t *testing.T) {
	s := New(0)
	th := newThread("t", 10)

	start := time.Now()
	reason := s.SleepOn(th, 30*time.Millisecond)
	require.Equal(t, TimedOut, reason)
	require.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	require.True(t, th.Info()&thread.InfoTimeout != 0)
}
