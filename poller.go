package aio

import (
	"errors"
	"time"
)

// ErrUnsupportedPlatform is returned when the current platform has no
// readiness poller backend. Loops that never call [Read] or [Write] (i.e.
// that only use timers and in-process events) never observe this error.
var ErrUnsupportedPlatform = errors.New("aio: readiness poller not supported on this platform")

const (
	pollerRead  uint32 = 1 << 0
	pollerWrite uint32 = 1 << 1
)

// readyEvent reports that fd became ready for the directions set in events
// (a combination of pollerRead and pollerWrite).
type readyEvent struct {
	fd     int
	events uint32
}

// poller is the readiness-poller backend a [Loop] drives. Add registers
// (or re-registers, replacing any previous mask) interest in fd for
// exactly the directions set in mask; a mask of zero is invalid and should
// be expressed as Remove instead. Wait blocks for up to timeout (or
// indefinitely if timeout is negative, or returns immediately if zero)
// and reports the fds that became ready, each merged into at most one
// entry, up to maxEvents entries per call.
type poller interface {
	Add(fd int, mask uint32) error
	Remove(fd int) error
	Wait(timeout time.Duration, maxEvents int) ([]readyEvent, error)
	Close() error
}
