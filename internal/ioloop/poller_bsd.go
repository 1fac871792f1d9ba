//go:build darwin || freebsd || netbsd || openbsd

package ioloop

import (
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller is the BSD-family Poller backend (darwin, freebsd, netbsd,
// openbsd). Unlike epoll's single flags field, kqueue tracks read and
// write readiness as separate filters, so Register/Modify diff against
// what's already registered and only add/remove what changed.
type kqueuePoller struct {
	fd         int
	registered map[int]Events
}

func newPoller() (Poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &kqueuePoller{fd: fd, registered: make(map[int]Events)}, nil
}

func (p *kqueuePoller) apply(fd int, want Events) error {
	have := p.registered[fd]
	var changes []unix.Kevent_t

	if want.Has(EventRead) && !have.Has(EventRead) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else if !want.Has(EventRead) && have.Has(EventRead) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if want.Has(EventWrite) && !have.Has(EventWrite) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE})
	} else if !want.Has(EventWrite) && have.Has(EventWrite) {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}

	if len(changes) > 0 {
		if _, err := unix.Kevent(p.fd, changes, nil, nil); err != nil {
			return err
		}
	}

	if want == 0 {
		delete(p.registered, fd)
	} else {
		p.registered[fd] = want
	}
	return nil
}

func (p *kqueuePoller) Register(fd int, events Events) error { return p.apply(fd, events) }
func (p *kqueuePoller) Modify(fd int, events Events) error   { return p.apply(fd, events) }
func (p *kqueuePoller) Unregister(fd int) error              { return p.apply(fd, 0) }

func (p *kqueuePoller) Poll(timeout time.Duration) ([]Event, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	raw := make([]unix.Kevent_t, 64)
	for {
		n, err := unix.Kevent(p.fd, nil, raw, ts)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, err
		}

		merged := make(map[int]Events, n)
		for i := 0; i < n; i++ {
			fd := int(raw[i].Ident)
			var ev Events
			switch raw[i].Filter {
			case unix.EVFILT_READ:
				ev = EventRead
			case unix.EVFILT_WRITE:
				ev = EventWrite
			}
			if raw[i].Flags&(unix.EV_EOF|unix.EV_ERROR) != 0 {
				ev |= EventError
			}
			merged[fd] |= ev
		}

		out := make([]Event, 0, len(merged))
		for fd, ev := range merged {
			out = append(out, Event{Fd: fd, Events: ev})
		}
		return out, nil
	}
}

func (p *kqueuePoller) Close() error { return unix.Close(p.fd) }
