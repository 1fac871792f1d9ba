//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package ioloop

import (
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// selectPoller is the portable fallback Poller backend for unix-like
// platforms with neither epoll nor kqueue. This library never registers
// more than one fd per server connection plus one self-pipe, so select's
// FD_SETSIZE ceiling and O(n) scan are not a real constraint here (spec.md
// §5's connection cool-down already bounds reconnect storms; this is not a
// high-fan-in server).
type selectPoller struct {
	fds map[int]Events
}

func newPoller() (Poller, error) {
	return &selectPoller{fds: make(map[int]Events)}, nil
}

func (p *selectPoller) Register(fd int, events Events) error {
	p.fds[fd] = events
	return nil
}

func (p *selectPoller) Modify(fd int, events Events) error {
	p.fds[fd] = events
	return nil
}

func (p *selectPoller) Unregister(fd int) error {
	delete(p.fds, fd)
	return nil
}

// fdSetBytes views an *unix.FdSet as a raw byte bitmap, which is how the
// underlying FD_SET/FD_ISSET ABI addresses it regardless of the struct's
// native word width on a given platform.
func fdSetBytes(set *unix.FdSet) *[128]byte {
	return (*[128]byte)(unsafe.Pointer(set))
}

func fdSet(set *unix.FdSet, fd int) {
	fdSetBytes(set)[fd/8] |= 1 << uint(fd%8)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return fdSetBytes(set)[fd/8]&(1<<uint(fd%8)) != 0
}

func (p *selectPoller) Poll(timeout time.Duration) ([]Event, error) {
	var rset, wset, eset unix.FdSet
	maxFd := 0

	for fd, ev := range p.fds {
		if ev.Has(EventRead) {
			fdSet(&rset, fd)
		}
		if ev.Has(EventWrite) {
			fdSet(&wset, fd)
		}
		fdSet(&eset, fd)
		if fd > maxFd {
			maxFd = fd
		}
	}

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	for {
		_, err := unix.Select(maxFd+1, &rset, &wset, &eset, tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		var out []Event
		for fd, ev := range p.fds {
			var got Events
			if ev.Has(EventRead) && fdIsSet(&rset, fd) {
				got |= EventRead
			}
			if ev.Has(EventWrite) && fdIsSet(&wset, fd) {
				got |= EventWrite
			}
			if fdIsSet(&eset, fd) {
				got |= EventError
			}
			if got != 0 {
				out = append(out, Event{Fd: fd, Events: got})
			}
		}
		return out, nil
	}
}

func (p *selectPoller) Close() error { return nil }
