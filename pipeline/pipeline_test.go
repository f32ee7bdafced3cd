package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xenocore/nucleus/coreerr"
)

// newTestPipeline builds a Pipeline on the portable channel backend so the
// test suite runs identically on every GOOS.
func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	backend, err := NewChanBackend()
	require.NoError(t, err)
	p, err := New(backend)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNew_NilBackend(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, coreerr.NoDevice))
}

func TestAllocFreeVirq(t *testing.T) {
	p := newTestPipeline(t)

	virq, err := p.AllocVirq()
	require.NoError(t, err)
	require.Equal(t, 1, virq)

	virq2, err := p.AllocVirq()
	require.NoError(t, err)
	require.Equal(t, 2, virq2)

	require.NoError(t, p.FreeVirq(virq))
	require.Error(t, p.FreeVirq(virq))
}

func TestDispatch_HeadHandles_SuppressesRoot(t *testing.T) {
	p := newTestPipeline(t)
	virq, err := p.AllocVirq()
	require.NoError(t, err)

	var mu sync.Mutex
	rootCalled := false

	require.NoError(t, p.VirtualizeIRQ(virq, Head, func(int) bool {
		return true // handled, should suppress root
	}))
	require.NoError(t, p.VirtualizeIRQ(virq, Root, func(int) bool {
		mu.Lock()
		rootCalled = true
		mu.Unlock()
		return true
	}))

	p.dispatch(virq)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, rootCalled)

	stats := p.Stats()[virq]
	require.Equal(t, uint64(1), stats.Trips)
	require.Equal(t, uint64(1), stats.Suppressed)
	require.Equal(t, uint64(0), stats.Propagated)
}

func TestDispatch_HeadPasses_PropagatesToRoot(t *testing.T) {
	p := newTestPipeline(t)
	virq, err := p.AllocVirq()
	require.NoError(t, err)

	rootCalled := make(chan struct{}, 1)
	require.NoError(t, p.VirtualizeIRQ(virq, Head, func(int) bool {
		return false
	}))
	require.NoError(t, p.VirtualizeIRQ(virq, Root, func(int) bool {
		rootCalled <- struct{}{}
		return true
	}))

	p.dispatch(virq)

	select {
	case <-rootCalled:
	default:
		t.Fatal("root handler was not invoked")
	}

	stats := p.Stats()[virq]
	require.Equal(t, uint64(1), stats.Propagated)
}

func TestStallHead_SuppressesDispatch(t *testing.T) {
	p := newTestPipeline(t)
	virq, err := p.AllocVirq()
	require.NoError(t, err)

	called := false
	require.NoError(t, p.VirtualizeIRQ(virq, Head, func(int) bool {
		called = true
		return true
	}))

	wasStalled := p.StallHead()
	require.False(t, wasStalled)
	require.True(t, p.HeadStalled())

	p.dispatch(virq)
	require.False(t, called)

	p.UnstallHead()
	require.False(t, p.HeadStalled())

	p.dispatch(virq)
	require.True(t, called)
}

func TestStallRoot_BlocksPropagateIRQ(t *testing.T) {
	p := newTestPipeline(t)
	virq, err := p.AllocVirq()
	require.NoError(t, err)

	called := false
	require.NoError(t, p.VirtualizeIRQ(virq, Root, func(int) bool {
		called = true
		return true
	}))

	p.StallRoot()
	p.PropagateIRQ(virq)
	require.False(t, called)

	p.UnstallRoot()
	p.PropagateIRQ(virq)
	require.True(t, called)
}

func TestAllocEscalationVirq_Idempotent(t *testing.T) {
	p := newTestPipeline(t)

	v1, err := p.AllocEscalationVirq()
	require.NoError(t, err)

	v2, err := p.AllocEscalationVirq()
	require.NoError(t, err)

	require.Equal(t, v1, v2)
}

func TestTriggerIRQ_DispatchesThroughBackend(t *testing.T) {
	p := newTestPipeline(t)
	virq, err := p.AllocVirq()
	require.NoError(t, err)

	done := make(chan struct{})
	require.NoError(t, p.VirtualizeIRQ(virq, Head, func(int) bool {
		close(done)
		return true
	}))

	require.NoError(t, p.TriggerIRQ(virq))
	<-done
}
