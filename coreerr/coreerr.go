// Package coreerr provides the core's error vocabulary.
//
// Every exported core entry point returns an error by value, never a
// panic, for any condition a caller can reasonably expect and recover
// from (see spec §7). The sentinel values below classify those
// conditions; wrap them with fmt.Errorf("%w: ...", coreerr.Invalid) or
// compare with errors.Is. Unrecoverable invariant violations use Panic
// or Panicf instead, which panic with a *Fatal: those are bugs, not
// errors.
package coreerr

import (
	"errors"
	"fmt"
)

// Sentinel error classes, one per spec §7 bullet.
var (
	// Invalid covers bad priorities, bad class parameters, an
	// ill-formed TP schedule, or a handle of the wrong type.
	Invalid = errors.New("coreerr: invalid parameter")

	// Range covers values outside an accepted range (distinct from
	// Invalid so callers can tell ERANGE from EINVAL apart via errors.Is).
	Range = errors.New("coreerr: value out of range")

	// Perm covers calling a head-stage primitive from the wrong stage,
	// or operating on a thread from the wrong CPU when a CPU-local
	// invariant requires it.
	Perm = errors.New("coreerr: operation not permitted in this context")

	// NotFound covers a stale handle or an already-destroyed resource.
	NotFound = errors.New("coreerr: resource not found")

	// Busy covers destroying a still-owned synch, or reconfiguring a
	// running TP schedule.
	Busy = errors.New("coreerr: resource busy")

	// NoMemory covers allocation failure for a TCB, class-private data,
	// a fast-lock word, or a wheel slot.
	NoMemory = errors.New("coreerr: out of memory")

	// Timeout is returned to a blocking caller whose deadline elapsed.
	Timeout = errors.New("coreerr: timed out")

	// Interrupted is returned to a blocking caller that was explicitly
	// unblocked (e.g. rel_wai) or cancelled.
	Interrupted = errors.New("coreerr: interrupted")

	// Removed is returned to a blocking caller whose wait object was
	// destroyed out from underneath it.
	Removed = errors.New("coreerr: wait object removed")

	// NoDevice is returned when the interrupt pipeline is not present.
	NoDevice = errors.New("coreerr: device not present")

	// NotSupported is returned when a required capability (e.g. the
	// escalation virq) could not be allocated.
	NotSupported = errors.New("coreerr: operation not supported")
)

// wrapped pairs a sentinel class with a caller-supplied detail message
// and, optionally, an underlying cause. It implements Unwrap so
// errors.Is/As see through to both the class and the cause.
type wrapped struct {
	class   error
	message string
	cause   error
}

func (e *wrapped) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.class, e.message, e.cause)
	}
	if e.message != "" {
		return fmt.Sprintf("%s: %s", e.class, e.message)
	}
	return e.class.Error()
}

func (e *wrapped) Unwrap() []error {
	if e.cause != nil {
		return []error{e.class, e.cause}
	}
	return []error{e.class}
}

// Wrap builds an error belonging to class, carrying message and
// optionally cause, such that errors.Is(err, class) and
// errors.Is(err, cause) both hold.
func Wrap(class error, message string, cause error) error {
	return &wrapped{class: class, message: message, cause: cause}
}

// Is reports whether err belongs to any of the given classes.
func Is(err error, classes ...error) bool {
	for _, c := range classes {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}

// Fatal represents a detected corruption of a core invariant: a
// runqueue inconsistency, a claim-queue cycle, or an impossible
// state-bit combination. These are bugs, not recoverable conditions, so
// Panic and Panicf raise a *Fatal carrying the diagnostic as the panic
// value; neither logs it.
type Fatal struct {
	Diagnostic string
}

func (f *Fatal) Error() string { return "coreerr: fatal invariant violation: " + f.Diagnostic }

// Panic raises a Fatal with the given diagnostic.
func Panic(diagnostic string) {
	panic(&Fatal{Diagnostic: diagnostic})
}

// Panicf is Panic with fmt.Sprintf-style formatting.
func Panicf(format string, args ...any) {
	panic(&Fatal{Diagnostic: fmt.Sprintf(format, args...)})
}
