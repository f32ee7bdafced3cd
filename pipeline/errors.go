package pipeline

import "errors"

// Backend-level sentinel errors, mirroring eventloop/poller_linux.go's
// ErrFDOutOfRange / ErrFDAlreadyRegistered / ErrFDNotRegistered /
// ErrPollerClosed, generalized from fds to virqs.
var (
	ErrBackendClosed     = errors.New("pipeline: backend closed")
	ErrVirqOutOfRange    = errors.New("pipeline: virq out of range")
	ErrVirqNotRegistered = errors.New("pipeline: virq not registered")
)
