package shadow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xenocore/nucleus/rtsync"
	"github.com/xenocore/nucleus/thread"
)

type fakeHostTask struct{ killed bool }

func (f *fakeHostTask) Killed() bool { return f.killed }

func newShadowThread(prio int32) *thread.Thread {
	return thread.New("shadow0", prio, thread.NewSoftContext(func() {}))
}

func TestShadow_RelaxHarden_RoundTrip(t *testing.T) {
	th := newShadowThread(50)
	s := New(th, &fakeHostTask{}, nil)

	now := time.Unix(0, 0)
	require.NoError(t, s.Relax(now, "syscall@0x1000"))
	require.True(t, th.TestState(thread.Relax))

	now = now.Add(time.Millisecond)
	require.NoError(t, s.Harden(now))
	require.False(t, th.TestState(thread.Relax))
	require.Equal(t, uint64(2), s.ModeSwitches())
}

func TestShadow_Relax_RejectsDoubleRelax(t *testing.T) {
	th := newShadowThread(50)
	s := New(th, &fakeHostTask{}, nil)
	require.NoError(t, s.Relax(time.Unix(0, 0), ""))
	require.Error(t, s.Relax(time.Unix(0, 0), ""))
}

func TestShadow_Harden_RejectsWithoutRelax(t *testing.T) {
	th := newShadowThread(50)
	s := New(th, &fakeHostTask{}, nil)
	require.Error(t, s.Harden(time.Unix(0, 0)))
}

func TestShadow_Harden_FailsAndZombifiesWhenHostKilled(t *testing.T) {
	th := newShadowThread(50)
	host := &fakeHostTask{}
	s := New(th, host, nil)

	require.NoError(t, s.Relax(time.Unix(0, 0), ""))
	host.killed = true
	require.Error(t, s.Harden(time.Unix(0, time.Millisecond.Nanoseconds())))
	require.True(t, th.TestState(thread.Zombie))
}

func TestShadow_PreservesBoostAcrossRelax(t *testing.T) {
	th := newShadowThread(10)
	th.SetPriority(90) // simulate an in-flight PIP boost
	s := New(th, &fakeHostTask{}, nil)

	now := time.Unix(0, 0)
	require.NoError(t, s.Relax(now, ""))
	th.SetPriority(th.BasePriority) // the scheduler drops it to base while relaxed
	require.NoError(t, s.Harden(now.Add(time.Millisecond)))

	require.Equal(t, int32(90), th.Priority())
}

// TestShadow_Harden_PicksUpBoostAppliedDuringRelax reproduces a
// contender boosting the relaxed thread's owner chain after Relax but
// before Harden: Harden must not clobber that live boost with the
// stale, lower snapshot taken at Relax time.
func TestShadow_Harden_PicksUpBoostAppliedDuringRelax(t *testing.T) {
	th := newShadowThread(10)
	s := New(th, &fakeHostTask{}, nil)

	syn := rtsync.New(rtsync.Owner | rtsync.Prio)
	require.NoError(t, syn.Acquire(th, 0))

	require.NoError(t, s.Relax(time.Unix(0, 0), ""))

	contender := thread.New("contender", 90, thread.NewSoftContext(func() {}))
	boosted := make(chan struct{})
	go func() {
		require.NoError(t, syn.Acquire(contender, 0))
		close(boosted)
	}()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(90), th.Priority())

	require.NoError(t, s.Harden(time.Unix(0, int64(time.Millisecond))))
	require.Equal(t, int32(90), th.Priority())

	require.NoError(t, syn.Release(th))
	<-boosted
}

type fakeRootComposer struct {
	pushed []*thread.Thread
	popped []*thread.Thread
}

func (f *fakeRootComposer) PushRPI(th *thread.Thread) { f.pushed = append(f.pushed, th) }
func (f *fakeRootComposer) PopRPI(th *thread.Thread)  { f.popped = append(f.popped, th) }

// TestShadow_BindRoot_PushesOnRelaxAndPopsOnHardenWhenBoosted reproduces
// relaxing a thread that is carrying a PIP boost at the moment it
// relaxes: the boost must be pushed onto the bound root composer so the
// root thread's effective priority reflects it for the duration of the
// relax, and popped again once hardened.
func TestShadow_BindRoot_PushesOnRelaxAndPopsOnHardenWhenBoosted(t *testing.T) {
	th := newShadowThread(10)
	th.SetPriority(90)
	th.SetState(thread.Boost)
	s := New(th, &fakeHostTask{}, nil)

	root := &fakeRootComposer{}
	s.BindRoot(root)

	require.NoError(t, s.Relax(time.Unix(0, 0), ""))
	require.Equal(t, []*thread.Thread{th}, root.pushed)
	require.Empty(t, root.popped)

	require.NoError(t, s.Harden(time.Unix(0, int64(time.Millisecond))))
	require.Equal(t, []*thread.Thread{th}, root.popped)
}

// TestShadow_BindRoot_SkipsPushWhenNotBoosted proves an unboosted relax
// never touches the root composer, since there is nothing to propagate.
func TestShadow_BindRoot_SkipsPushWhenNotBoosted(t *testing.T) {
	th := newShadowThread(10)
	s := New(th, &fakeHostTask{}, nil)

	root := &fakeRootComposer{}
	s.BindRoot(root)

	require.NoError(t, s.Relax(time.Unix(0, 0), ""))
	require.Empty(t, root.pushed)

	require.NoError(t, s.Harden(time.Unix(0, int64(time.Millisecond))))
	require.Empty(t, root.popped)
}

// TestShadow_ScenarioS4_ModeBounce reproduces the spec's scenario S4: a
// relax-inducing host call at t=0, harden at t=1ms, 9ms in primary, relax
// again at t=10ms, harden again at t=11ms. Expected: ModeSwitches == 4,
// 9ms primary / 2ms secondary (1ms from each relax-to-harden gap).
func TestShadow_ScenarioS4_ModeBounce(t *testing.T) {
	th := newShadowThread(50)
	s := New(th, &fakeHostTask{}, nil)

	t0 := time.Unix(0, 0)
	require.NoError(t, s.Relax(t0, "host-call@0x2000"))        // prim -> sec
	t1 := t0.Add(time.Millisecond)
	require.NoError(t, s.Harden(t1))                            // sec -> prim
	t2 := t1.Add(9 * time.Millisecond)
	require.NoError(t, s.Relax(t2, "host-call@0x2000"))         // prim -> sec
	t3 := t2.Add(time.Millisecond)
	require.NoError(t, s.Harden(t3))                            // sec -> prim

	require.Equal(t, uint64(4), s.ModeSwitches())
	require.Equal(t, int64(9*time.Millisecond), th.RuntimePrimary)
	require.Equal(t, int64(2*time.Millisecond), th.RuntimeSecondary)
}
