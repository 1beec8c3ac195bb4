//go:build !linux

package aio

import "time"

// stubPoller is the [poller] backend for platforms without a supported
// readiness mechanism. Its methods are unreachable in practice, since
// newPoller fails before a Loop ever gets a value to call them on.
type stubPoller struct{}

func newPoller() (poller, error) {
	return nil, ErrUnsupportedPlatform
}

func (stubPoller) Add(fd int, mask uint32) error { return ErrUnsupportedPlatform }
func (stubPoller) Remove(fd int) error           { return ErrUnsupportedPlatform }
func (stubPoller) Wait(timeout time.Duration, maxEvents int) ([]readyEvent, error) {
	return nil, ErrUnsupportedPlatform
}
func (stubPoller) Close() error { return ErrUnsupportedPlatform }

func osRead(fd int, buf []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func osWrite(fd int, buf []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}
