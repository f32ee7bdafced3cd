//go:build linux

package pipeline

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// maxVirqs bounds direct-array indexing the same way
// eventloop/poller_linux.go bounds maxFDs — avoids a map lookup on the
// dispatch hot path.
const maxVirqs = 4096

type virqInfo struct {
	cb     func(int)
	fd     int
	active bool
}

// EpollBackend delivers virqs through an eventfd-per-virq registered with
// epoll, directly grounded on eventloop.FastPoller: direct-index array
// instead of a map for the per-virq side, an RWMutex guarding it, and a
// single epoll instance multiplexing every registered descriptor.
type EpollBackend struct { // betteralign:ignore
	_       [64]byte //nolint:unused
	epfd    int32
	_       [60]byte //nolint:unused
	version atomic.Uint64

	mu      sync.RWMutex
	virqs   [maxVirqs]virqInfo
	fdToVid map[int]int // eventfd -> virq, for dispatch
	closed  atomic.Bool

	eventBuf [256]unix.EpollEvent
}

// NewEpollBackend creates and initializes an epoll instance.
func NewEpollBackend() (*EpollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollBackend{epfd: int32(epfd), fdToVid: make(map[int]int)}, nil
}

func (b *EpollBackend) Register(virq int, cb func(int)) error {
	if b.closed.Load() {
		return ErrBackendClosed
	}
	if virq < 0 || virq >= maxVirqs {
		return ErrVirqOutOfRange
	}

	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.virqs[virq] = virqInfo{cb: cb, fd: efd, active: true}
	b.fdToVid[efd] = virq
	b.version.Add(1)
	b.mu.Unlock()

	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(int(b.epfd), unix.EPOLL_CTL_ADD, efd, ev); err != nil {
		b.mu.Lock()
		b.virqs[virq] = virqInfo{}
		delete(b.fdToVid, efd)
		b.mu.Unlock()
		_ = unix.Close(efd)
		return err
	}
	return nil
}

func (b *EpollBackend) Unregister(virq int) error {
	if virq < 0 || virq >= maxVirqs {
		return ErrVirqOutOfRange
	}
	b.mu.Lock()
	info := b.virqs[virq]
	if !info.active {
		b.mu.Unlock()
		return ErrVirqNotRegistered
	}
	delete(b.fdToVid, info.fd)
	b.virqs[virq] = virqInfo{}
	b.version.Add(1)
	b.mu.Unlock()

	_ = unix.EpollCtl(int(b.epfd), unix.EPOLL_CTL_DEL, info.fd, nil)
	return unix.Close(info.fd)
}

func (b *EpollBackend) Trigger(virq int) error {
	if virq < 0 || virq >= maxVirqs {
		return ErrVirqOutOfRange
	}
	b.mu.RLock()
	info := b.virqs[virq]
	b.mu.RUnlock()
	if !info.active {
		return ErrVirqNotRegistered
	}
	var one uint64 = 1
	buf := (*[8]byte)(unsafe.Pointer(&one))[:]
	_, err := unix.Write(info.fd, buf)
	return err
}

// Poll blocks for up to timeoutMs milliseconds, dispatching any virqs
// that fired, the way eventloop.Loop.poll() calls FastPoller.PollIO. The
// caller drives it; Pipeline itself never calls Poll.
func (b *EpollBackend) Poll(timeoutMs int) (int, error) {
	if b.closed.Load() {
		return 0, ErrBackendClosed
	}
	v := b.version.Load()
	n, err := unix.EpollWait(int(b.epfd), b.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if b.version.Load() != v {
		return 0, nil
	}
	for i := 0; i < n; i++ {
		fd := int(b.eventBuf[i].Fd)
		var drainBuf [8]byte
		_, _ = unix.Read(fd, drainBuf[:])

		b.mu.RLock()
		virq, ok := b.fdToVid[fd]
		var info virqInfo
		if ok {
			info = b.virqs[virq]
		}
		b.mu.RUnlock()

		if ok && info.active && info.cb != nil {
			info.cb(virq)
		}
	}
	return n, nil
}

func (b *EpollBackend) Close() error {
	b.closed.Store(true)
	b.mu.Lock()
	for fd := range b.fdToVid {
		_ = unix.Close(fd)
	}
	b.fdToVid = nil
	b.mu.Unlock()
	return unix.Close(int(b.epfd))
}
