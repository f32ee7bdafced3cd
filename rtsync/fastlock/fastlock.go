// Package fastlock implements the user-space fast-path lock word (spec
// §4.G "Fastsync"): an uncontended acquire/release is a single CAS,
// grounded on eventloop.Loop's fastPathEnabled/isLoopThread idiom of
// trying a lock-free path first and only falling back to the slow,
// mutex-guarded path (here: a trap into rtsync.Synch) on contention.
package fastlock

import (
	"sync/atomic"

	"github.com/xenocore/nucleus/coreerr"
)

// NoHandle is the value a free Word holds.
const NoHandle uint32 = 0

// Contended is a reserved bit OR'd into the owner handle to mark that a
// contender is waiting and the owner must take the slow release path.
const Contended uint32 = 1 << 31

// Word is the fast-lock word: either NoHandle, a bare owner handle, or
// an owner handle with Contended set.
type Word struct {
	v atomic.Uint32
}

// TryAcquire attempts the uncontended CAS path: free -> held by handle.
// It returns false if the word was already held (by anyone), in which
// case the caller must trap into the slow path (rtsync.Synch.Acquire).
func TryAcquire(w *Word, handle uint32) bool {
	return w.v.CompareAndSwap(NoHandle, handle)
}

// MarkContended sets the Contended bit on an already-held word, done by
// a contender right before it traps into the slow path, so the owner's
// Release knows to take the slow path too instead of a bare CAS back to
// NoHandle.
func MarkContended(w *Word) {
	for {
		old := w.v.Load()
		if old == NoHandle {
			return
		}
		if old&Contended != 0 {
			return
		}
		if w.v.CompareAndSwap(old, old|Contended) {
			return
		}
	}
}

// Release attempts the uncontended CAS path: held by handle, not
// contended -> free. It returns false (and leaves the word untouched)
// if the word is contended, in which case the caller must release
// through rtsync.Synch.Release instead so the next waiter is handed
// ownership directly.
//
// Release never trusts the word blindly: it verifies the current owner
// handle matches the caller (spec §4.C, "Fast path") and returns an
// error rather than silently no-op'ing or freeing someone else's lock.
func Release(w *Word, handle uint32) (releasedFast bool, err error) {
	old := w.v.Load()
	owner := old &^ Contended
	if owner != handle {
		return false, coreerr.Wrap(coreerr.Perm, "fastlock release by non-owner", nil)
	}
	if old&Contended != 0 {
		return false, nil
	}
	return w.v.CompareAndSwap(old, NoHandle), nil
}

// Owner returns the current owner handle (zero if free) and whether the
// word is marked contended.
func Owner(w *Word) (handle uint32, contended bool) {
	v := w.v.Load()
	return v &^ Contended, v&Contended != 0
}

// ForceAcquire unconditionally sets the word to handle with Contended
// cleared, used by the slow path once it has resolved ownership through
// rtsync.Synch (e.g. after a Release hands off to a new owner).
func ForceAcquire(w *Word, handle uint32) {
	w.v.Store(handle)
}

// ForceRelease unconditionally clears the word, used by the slow path
// when a synch's owner releases with no waiters left.
func ForceRelease(w *Word) {
	w.v.Store(NoHandle)
}
