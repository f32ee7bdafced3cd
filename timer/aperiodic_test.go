package timer

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAperiodicMaster_StartFiresHandler(t *testing.T) {
	m := NewAperiodicMaster(0, nil)
	fired := make(chan struct{})
	tm := &Timer{Handler: func(*Timer) { close(fired) }}

	require.NoError(t, m.Start(tm, time.Now().Add(10*time.Millisecond), 0))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	require.True(t, tm.Dequeued())
}

func TestAperiodicMaster_StartExpired(t *testing.T) {
	m := NewAperiodicMaster(0, nil)
	tm := &Timer{}
	err := m.Start(tm, time.Now().Add(-time.Second), 0)
	require.ErrorIs(t, err, ErrExpired)
}

func TestAperiodicMaster_StopBeforeFire(t *testing.T) {
	m := NewAperiodicMaster(0, nil)
	fired := false
	tm := &Timer{Handler: func(*Timer) { fired = true }}

	require.NoError(t, m.Start(tm, time.Now().Add(50*time.Millisecond), 0))
	m.Stop(tm)
	require.True(t, tm.Dequeued())

	time.Sleep(100 * time.Millisecond)
	require.False(t, fired)
}

func TestAperiodicMaster_RestartMovesTimer(t *testing.T) {
	m := NewAperiodicMaster(0, nil)
	tm := &Timer{}
	require.NoError(t, m.Start(tm, time.Now().Add(time.Hour), 0))
	require.Equal(t, 1, m.Pending())

	require.NoError(t, m.Start(tm, time.Now().Add(2*time.Hour), 0))
	require.Equal(t, 1, m.Pending())
}

func TestAperiodicMaster_PeriodicReArms(t *testing.T) {
	m := NewAperiodicMaster(0, nil)
	var mu sync.Mutex
	count := 0
	tm := &Timer{}
	tm.Handler = func(t *Timer) {
		mu.Lock()
		count++
		c := count
		mu.Unlock()
		if c >= 3 {
			m.Stop(t)
		}
	}
	require.NoError(t, m.Start(tm, time.Now().Add(5*time.Millisecond), 5*time.Millisecond))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 3
	}, time.Second, time.Millisecond)
}

// TestAperiodicMaster_Storm is scenario S6: 1000 jittered one-shot timers
// must fire in non-decreasing expiry order and leave the queue empty.
func TestAperiodicMaster_Storm(t *testing.T) {
	m := NewAperiodicMaster(0, nil)
	const n = 1000

	var mu sync.Mutex
	var fireOrder []time.Time
	var wg sync.WaitGroup
	wg.Add(n)

	base := time.Now().Add(20 * time.Millisecond)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < n; i++ {
		jitter := time.Duration(rng.Intn(200)) * time.Millisecond
		expiry := base.Add(jitter)
		tm := &Timer{}
		tm.Handler = func(t *Timer) {
			mu.Lock()
			fireOrder = append(fireOrder, t.Expiry)
			mu.Unlock()
			wg.Done()
		}
		require.NoError(t, m.Start(tm, expiry, 0))
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fireOrder, n)
	for i := 1; i < len(fireOrder); i++ {
		require.False(t, fireOrder[i].Before(fireOrder[i-1]), "fire order went backwards at index %d", i)
	}
	require.Equal(t, 0, m.Pending())
}
