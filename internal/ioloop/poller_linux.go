//go:build linux

package ioloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the linux Poller backend, built on golang.org/x/sys/unix's
// epoll wrappers the way SoftIron/sibench splits its syscall-level code per
// platform (unix_linux.go / unix_darwin.go).
type epollPoller struct {
	fd int
}

func newPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{fd: fd}, nil
}

func toEpollEvents(e Events) uint32 {
	var out uint32 = unix.EPOLLERR | unix.EPOLLHUP
	if e.Has(EventRead) {
		out |= unix.EPOLLIN
	}
	if e.Has(EventWrite) {
		out |= unix.EPOLLOUT
	}
	return out
}

func fromEpollEvents(e uint32) Events {
	var out Events
	if e&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if e&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if e&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		out |= EventError
	}
	return out
}

func (p *epollPoller) Register(fd int, events Events) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)})
}

func (p *epollPoller) Modify(fd int, events Events) error {
	return unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Events: toEpollEvents(events), Fd: int32(fd)})
}

func (p *epollPoller) Unregister(fd int) error {
	err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (p *epollPoller) Poll(timeout time.Duration) ([]Event, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	raw := make([]unix.EpollEvent, 64)
	for {
		n, err := unix.EpollWait(p.fd, raw, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		out := make([]Event, n)
		for i := 0; i < n; i++ {
			out[i] = Event{Fd: int(raw[i].Fd), Events: fromEpollEvents(raw[i].Events)}
		}
		return out, nil
	}
}

func (p *epollPoller) Close() error {
	return unix.Close(p.fd)
}
