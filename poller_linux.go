//go:build linux

package aio

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is a [poller] backend built on Linux epoll, grounded in the
// reactor pattern of epoll_reactor.go but using golang.org/x/sys/unix in
// place of the deprecated syscall package. epoll's default level-triggered
// mode (no EPOLLET) is used deliberately: a fd that is already ready when
// registered is reported on the very next Wait, which is what keeps a
// registration that races with data already sitting in the kernel buffer
// from being lost.
type epollPoller struct {
	fd int
}

func newPoller() (poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func (p *epollPoller) toEvents(mask uint32) uint32 {
	var ev uint32
	if mask&pollerRead != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&pollerWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epollPoller) Add(fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: p.toEvents(mask), Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	return nil
}

func (p *epollPoller) Remove(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Wait(timeout time.Duration, maxEvents int) ([]readyEvent, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	raw := make([]unix.EpollEvent, maxEvents)

	n, err := unix.EpollWait(p.fd, raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	out := make([]readyEvent, 0, n)
	for _, e := range raw[:n] {
		var mask uint32
		if e.Events&unix.EPOLLIN != 0 {
			mask |= pollerRead
		}
		if e.Events&unix.EPOLLOUT != 0 {
			mask |= pollerWrite
		}
		if e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			mask |= pollerRead | pollerWrite
		}
		out = append(out, readyEvent{fd: int(e.Fd), events: mask})
	}
	return out, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}

func osRead(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

func osWrite(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}
