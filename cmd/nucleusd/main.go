// Command nucleusd is the reference host process for the core library:
// it boots a Core, installs the Idle, RT, Sporadic and Weak scheduling
// classes on CPU 0 (TP is not installed), and
// runs a couple of illustrative real-time workloads end to end, in the
// spirit of eventloop's examples/* programs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xenocore/nucleus/coreconfig"
	"github.com/xenocore/nucleus/corectx"
	"github.com/xenocore/nucleus/pipeline"
	"github.com/xenocore/nucleus/rtsync"
	"github.com/xenocore/nucleus/sched"
	"github.com/xenocore/nucleus/sched/class"
	"github.com/xenocore/nucleus/shadow"
	"github.com/xenocore/nucleus/thread"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backend, err := pipeline.NewChanBackend()
	if err != nil {
		panic(err)
	}

	core, err := corectx.Boot(backend,
		coreconfig.WithCPUs(1),
		coreconfig.WithLogLevel("info"),
	)
	if err != nil {
		panic(err)
	}
	defer core.Pipeline.Close()

	cpu := core.CPUs[0]
	idle := class.NewIdle(core.CreateThread("root", -1, thread.NewSoftContext(func() {})))
	rt := class.NewRT()
	sporadic := class.NewSporadic(core.Clock)
	weak := class.NewWeak()

	for _, c := range []sched.Class{idle, rt, sporadic, weak} {
		if err := cpu.InstallClass(c); err != nil {
			panic(err)
		}
	}

	runPIPBoostDemo(core, cpu, rt)
	runSporadicDemo(core, sporadic)
	runShadowDemo(core, cpu, rt, idle)

	<-ctx.Done()
	core.Log.Info().Msg("nucleusd shutting down")
}

// runPIPBoostDemo demonstrates the PIP boost chain a low-priority thread
// holding a shared synch gets from a higher-priority waiter (scenario S1
// in miniature): a worker thread holds a lock, a higher-priority thread
// blocks on it, and the owner's priority visibly rises for the duration.
func runPIPBoostDemo(core *corectx.Core, cpu *sched.CPU, rt *class.RT) {
	log := core.Log.Named("pip-demo")

	lock := rtsync.New(rtsync.Prio | rtsync.Owner)
	low := core.CreateThread("low", 10, thread.NewSoftContext(func() {}))
	high := core.CreateThread("high", 90, thread.NewSoftContext(func() {}))

	core.StartThread(low)
	core.StartThread(high)
	rt.Enqueue(low)
	rt.Enqueue(high)
	cpu.SetRunning(low)

	if err := lock.Acquire(low, 0); err != nil {
		log.Err(err).Msg("low failed to acquire lock")
		return
	}
	log.Info().Int("priority", int(low.Priority())).Msg("low holds the lock")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := lock.Acquire(high, time.Second); err != nil {
			log.Err(err).Msg("high failed to acquire lock")
			return
		}
		log.Info().Msg("high acquired the lock after boost chain resolved")
		_ = lock.Release(high)
	}()

	time.Sleep(10 * time.Millisecond)
	log.Info().Int("boosted_priority", int(low.Priority())).Msg("low was boosted by high's wait")

	if err := lock.Release(low); err != nil {
		log.Err(err).Msg("low failed to release lock")
	}
	<-done
}

// runSporadicDemo admits a CPU-bound thread into the sporadic class and
// logs its priority and budget at admission (scenario S2 in miniature,
// run against the real aperiodic clock instead of a fake one); the later
// budget drop and replenishment happen on that clock without being
// logged.
func runSporadicDemo(core *corectx.Core, sp *class.Sporadic) {
	log := core.Log.Named("sporadic-demo")
	worker := core.CreateThread("cpu-bound", 0, thread.NewSoftContext(func() {}))
	core.StartThread(worker)

	params := class.Params{
		LowPrio:    10,
		NormalPrio: 50,
		InitBudget: 10 * time.Millisecond,
		ReplPeriod: 100 * time.Millisecond,
		MaxRepl:    4,
	}
	if err := sp.Admit(worker, params); err != nil {
		log.Err(err).Msg("failed to admit sporadic thread")
		return
	}
	log.Info().Int("priority", int(worker.Priority())).Dur("budget", sp.Budget(worker)).Msg("sporadic thread admitted")
}

// runShadowDemo demonstrates a primary/secondary mode bounce end to end
// (scenario S4 in miniature, run against the wall clock): a thread
// running primary on cpu makes a host call, relaxes into the secondary
// domain, is dequeued from rt so cpu.Pick() hands the CPU to something
// else while the host call runs, then hardens and is re-enqueued once
// the call completes. It also binds idle as the shadow's RPI composer,
// so a boost the thread is carrying at the moment it relaxes keeps
// pulling the CPU's root priority up for the duration of the host call.
func runShadowDemo(core *corectx.Core, cpu *sched.CPU, rt *class.RT, idle *class.Idle) {
	log := core.Log.Named("shadow-demo")

	lock := rtsync.New(rtsync.Prio | rtsync.Owner)
	th := core.CreateThread("shadow-worker", 40, thread.NewSoftContext(func() {}))
	contender := core.CreateThread("shadow-contender", 90, thread.NewSoftContext(func() {}))
	core.StartThread(th)
	core.StartThread(contender)
	rt.Enqueue(th)
	cpu.SetRunning(th)

	if err := lock.Acquire(th, 0); err != nil {
		log.Err(err).Msg("shadow-worker failed to acquire lock")
		return
	}
	boosted := make(chan struct{})
	go func() {
		defer close(boosted)
		if err := lock.Acquire(contender, time.Second); err != nil {
			log.Err(err).Msg("contender failed to acquire lock")
			return
		}
		_ = lock.Release(contender)
	}()
	time.Sleep(10 * time.Millisecond)
	log.Info().Int("boosted_priority", int(th.Priority())).Msg("shadow-worker boosted before relaxing")

	tracer := shadow.NewRelaxTracer(core.Log, time.Second, 5)
	hostDone := make(chan struct{})
	host := shadow.NewGoroutineHostTask(context.Background(), func(ctx context.Context) {
		time.Sleep(5 * time.Millisecond) // stand-in for a blocking host-side call
		close(hostDone)
	})
	sh := shadow.New(th, host, tracer)
	sh.BindRoot(idle)

	if err := sh.Relax(time.Now(), "host-call@0xdeadbeef"); err != nil {
		log.Err(err).Msg("relax failed")
		return
	}
	rt.Dequeue(th)
	log.Info().Int("root_priority", int(idle.PeekRPI())).Msg("shadow relaxed: boost carried onto root via RPI")

	if next := cpu.Pick(); next != nil {
		log.Info().Str("next", next.Name).Msg("cpu picked a replacement while the shadow is relaxed")
	}

	if err := lock.Release(th); err != nil {
		log.Err(err).Msg("shadow-worker failed to release lock")
	}
	<-boosted
	<-hostDone
	if err := sh.Harden(time.Now()); err != nil {
		log.Err(err).Msg("harden failed")
		return
	}
	rt.Enqueue(th)
	cpu.SetRunning(th)
	log.Info().Uint64("mode_switches", sh.ModeSwitches()).Int("root_priority", int(idle.PeekRPI())).Msg("shadow hardened back to primary, RPI popped")
}
