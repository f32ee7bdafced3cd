package thread

// Init installs a freshly-created Thread's entry point as a new soft
// context, leaving it Dormant and not Ready — clearing Dormant and
// setting Ready is Start's job, since
// spec §4.E keeps "created" and "runnable" as distinct steps so a caller
// can set priority/affinity/class in between.
func Init(t *Thread, entry func()) {
	t.Arch = NewSoftContext(entry)
}

// Start marks t Started and Ready, clearing Dormant. The caller is
// responsible for enqueueing t on a scheduler class afterward.
func Start(t *Thread) {
	t.SetState(Started | Ready)
	t.ClearState(Dormant)
}

// Suspend sets the Suspend state bit, blocking t regardless of any other
// wait condition, until Resume clears it.
func Suspend(t *Thread) {
	t.SetState(Suspend)
}

// Resume clears the Suspend state bit.
func Resume(t *Thread) {
	t.ClearState(Suspend)
}

// Cancel marks t Zombie and sets the Canceled info bit; it is the
// caller's responsibility to remove t from any runqueue or wait object
// afterward (thread has no back-pointer to either, by design).
func Cancel(t *Thread) {
	t.SetInfo(InfoCanceled)
	t.SetState(Zombie)
}

// Join blocks the calling goroutine until notify delivers a value or is
// closed; it never inspects t, so whoever terminates t signals notify.
// Nothing in this module calls it; the real scheduler never would, since
// real threads never block a goroutine waiting on another thread's
// termination.
func Join(t *Thread, notify <-chan struct{}) {
	<-notify
}
