package corectx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xenocore/nucleus/coreconfig"
	"github.com/xenocore/nucleus/pipeline"
	"github.com/xenocore/nucleus/rtsync"
	"github.com/xenocore/nucleus/thread"
)

func newTestCore(t *testing.T, opts ...coreconfig.Option) *Core {
	t.Helper()
	backend, err := pipeline.NewChanBackend()
	require.NoError(t, err)
	c, err := Boot(backend, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Pipeline.Close() })
	return c
}

func TestBoot_PinnedCPUCount(t *testing.T) {
	c := newTestCore(t, coreconfig.WithCPUs(3))
	require.Len(t, c.CPUs, 3)
}

func TestBoot_AutoDetectsAtLeastOneCPU(t *testing.T) {
	c := newTestCore(t)
	require.GreaterOrEqual(t, len(c.CPUs), 1)
}

func TestCreateStartDeleteThread_RegistryRoundTrip(t *testing.T) {
	c := newTestCore(t)
	th := c.CreateThread("t0", 10, thread.NewSoftContext(func() {}))
	require.True(t, th.TestState(thread.Dormant))

	_, ok := c.Threads.Lookup(th.Handle)
	require.True(t, ok)

	c.StartThread(th)
	require.True(t, th.TestState(thread.Ready))
	require.False(t, th.TestState(thread.Dormant))

	c.DeleteThread(th)
	_, ok = c.Threads.Lookup(th.Handle)
	require.False(t, ok)
}

func TestCreateThread_AssignsDistinctHandles(t *testing.T) {
	c := newTestCore(t)
	a := c.CreateThread("a", 1, thread.NewSoftContext(func() {}))
	b := c.CreateThread("b", 1, thread.NewSoftContext(func() {}))
	require.NotEqual(t, a.Handle, b.Handle)
}

func TestWithLock_StallsHeadOnlyIfNotAlreadyStalled(t *testing.T) {
	c := newTestCore(t)
	require.False(t, c.Pipeline.HeadStalled())
	ran := false
	c.WithLock(func() { ran = true })
	require.True(t, ran)
	require.False(t, c.Pipeline.HeadStalled())
}

func TestAttachPrimary_RejectsSecondAttach(t *testing.T) {
	c := newTestCore(t)
	th := c.CreateThread("t0", 10, thread.NewSoftContext(func() {}))
	p1 := &fakePersonality{name: "posix"}
	p2 := &fakePersonality{name: "vxworks"}

	require.NoError(t, c.AttachPrimary(th, p1))
	require.Error(t, c.AttachPrimary(th, p2))
}

func TestDeleteThread_InvokesPersonalityDeleteHook(t *testing.T) {
	c := newTestCore(t)
	th := c.CreateThread("t0", 10, thread.NewSoftContext(func() {}))
	p := &fakePersonality{name: "posix"}
	require.NoError(t, c.AttachPrimary(th, p))

	c.DeleteThread(th)
	require.True(t, p.deleted)
}

type fakePersonality struct {
	name    string
	deleted bool
}

func (p *fakePersonality) Name() string     { return p.name }
func (p *fakePersonality) Magic() uint32    { return 0xdead }
func (p *fakePersonality) Systab() []Syscall { return nil }
func (p *fakePersonality) Delete(*thread.Thread) { p.deleted = true }

func TestRegisterInterface_ReturnsDistinctMuxids(t *testing.T) {
	c := newTestCore(t)
	id1 := c.RegisterInterface(&fakePersonality{name: "posix"})
	id2 := c.RegisterInterface(&fakePersonality{name: "vxworks"})
	require.NotEqual(t, id1, id2)
}

func TestSleep_TimesOut(t *testing.T) {
	c := newTestCore(t)
	th := c.CreateThread("t0", 10, thread.NewSoftContext(func() {}))

	s := rtsync.New(0)
	reason := c.Sleep(s, th, time.Millisecond)
	require.Equal(t, rtsync.TimedOut, reason)
}
