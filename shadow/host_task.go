package shadow

import (
	"context"
	"sync/atomic"
)

// goroutineHostTask is the only HostTask this repository ships: there is
// no real host OS to mirror a shadow thread into, so the mirrored task is
// modeled as a plain goroutine running under a context.Context, cancelled
// to model the host task exiting.
type goroutineHostTask struct {
	cancel context.CancelFunc
	done   chan struct{}
	killed atomic.Bool
}

// NewGoroutineHostTask starts fn in a new goroutine under a derived
// context, returning the HostTask handle Shadow pairs with a thread.
func NewGoroutineHostTask(ctx context.Context, fn func(ctx context.Context)) HostTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &goroutineHostTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		fn(ctx)
	}()
	return t
}

// Kill marks the host task as killed, the trigger for Shadow.Harden's
// fatal case.
func (t *goroutineHostTask) Kill() {
	t.killed.Store(true)
	t.cancel()
}

func (t *goroutineHostTask) Killed() bool { return t.killed.Load() }
