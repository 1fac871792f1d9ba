package ioloop

import (
	"sync"
	"time"

	"github.com/jasonmoo/cog/internal/logging"
)

// ErrorHandler observes a connection that just failed so the owning façade
// can decide whether to retry, drop the server, or surface the failure to
// a caller blocked on a synchronous request (spec.md §4.9).
type ErrorHandler func(c *Conn, err error)

// Manager is the central multiplexer of spec.md §4.4: one Poller, one
// self-pipe, and a set of registered Conns, each polled for readability
// (unless write_only) and for writability (whenever output is queued).
type Manager struct {
	mu    sync.Mutex
	poll  Poller
	wake  *notifyConn
	conns map[int]*Conn // fd -> Conn, excludes the self-pipe

	onError  ErrorHandler
	onRePrep func()
	log      logging.Sink
}

// NewManager constructs a Manager with its own Poller (backend chosen per
// build tag) and self-pipe notification endpoint.
func NewManager(log logging.Sink) (*Manager, error) {
	if log == nil {
		log = logging.NewNoop()
	}
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	wake, err := newNotifyConn()
	if err != nil {
		p.Close()
		return nil, err
	}
	m := &Manager{poll: p, wake: wake, conns: make(map[int]*Conn), log: log}
	if err := p.Register(wake.readFd, EventRead); err != nil {
		p.Close()
		wake.Close()
		return nil, err
	}
	return m, nil
}

// SetServerErrorHandler installs the callback invoked whenever a
// registered connection's I/O fails.
func (m *Manager) SetServerErrorHandler(fn ErrorHandler) {
	m.mu.Lock()
	m.onError = fn
	m.mu.Unlock()
}

// SetRePrepareHandler installs the callback driven by a WakeRePrepare
// wake-up (a worker pool slot freed up; spec.md §4.7's external trigger
// to re-enter the grab/sleep cycle).
func (m *Manager) SetRePrepareHandler(fn func()) {
	m.mu.Lock()
	m.onRePrep = fn
	m.mu.Unlock()
}

// AddConnection registers c for polling. c must already be connected.
func (m *Manager) AddConnection(c *Conn) error {
	fd, err := c.Fileno()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.conns[fd] = c
	m.mu.Unlock()
	return m.poll.Register(fd, m.wantedEvents(c))
}

// RemoveConnection unregisters c from polling; it does not close c.
func (m *Manager) RemoveConnection(c *Conn) error {
	fd, err := c.Fileno()
	if err != nil {
		return nil
	}
	m.mu.Lock()
	delete(m.conns, fd)
	m.mu.Unlock()
	return m.poll.Unregister(fd)
}

// Connections returns a snapshot of every registered connection.
func (m *Manager) Connections() []*Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c)
	}
	return out
}

func (m *Manager) wantedEvents(c *Conn) Events {
	ev := Events(0)
	if c.Readable() {
		ev |= EventRead
	}
	if c.Writable() {
		ev |= EventWrite
	}
	return ev
}

// Notify wakes the poll loop from another goroutine (spec.md §4.3/§5's
// self-pipe). Safe to call concurrently with Poll.
func (m *Manager) Notify(b byte) error { return m.wake.Send(b) }

// Poll runs one iteration of spec.md §4.4's central loop: re-arm interest
// for every connection, block in the Poller up to timeout, then service
// whichever fds came back ready. before and after are invoked at the start
// and end of the iteration; a false return from either asks Poll to report
// the loop should stop (the worker's drain-then-exit condition of spec.md
// §4.10).
func (m *Manager) Poll(before, after func() bool, timeout time.Duration) bool {
	if before != nil && !before() {
		return false
	}

	m.mu.Lock()
	for fd, c := range m.conns {
		_ = m.poll.Modify(fd, m.wantedEvents(c))
	}
	m.mu.Unlock()

	events, err := m.poll.Poll(timeout)
	if err != nil {
		m.log.Errorf("poll: %v", err)
		return after == nil || after()
	}

	for _, ev := range events {
		if ev.Fd == m.wake.readFd {
			m.handleWake()
			continue
		}
		m.service(ev)
	}

	if after != nil {
		return after()
	}
	return true
}

func (m *Manager) handleWake() {
	_ = m.wake.HandleRead(func(b byte) {
		switch b {
		case WakeRePrepare:
			m.mu.Lock()
			fn := m.onRePrep
			m.mu.Unlock()
			if fn != nil {
				fn()
			}
		case WakeGeneric, WakeTerminate:
			// no state change needed; the caller observes Poll's return
			// value or its own shutdown flag.
		}
	})
}

func (m *Manager) service(ev Event) {
	m.mu.Lock()
	c, ok := m.conns[ev.Fd]
	m.mu.Unlock()
	if !ok {
		return
	}

	if ev.Events.Has(EventError) {
		m.handleError(c, nil)
		return
	}

	if ev.Events.Has(EventWrite) {
		if err := c.SendCommandsToBuffer(); err != nil {
			m.handleError(c, err)
			return
		}
		if _, err := c.SendDataToSocket(); err != nil {
			m.handleError(c, err)
			return
		}
	}

	if ev.Events.Has(EventRead) {
		if err := c.ReadDataFromSocket(0); err != nil {
			m.handleError(c, err)
			return
		}
		if _, err := c.ReadCommandsFromBuffer(); err != nil {
			m.handleError(c, err)
			return
		}
		if h := c.Handler(); h != nil {
			if err := h.FetchCommands(c); err != nil {
				m.handleError(c, err)
				return
			}
		}
	}
}

// handleError runs the connection's OnIOError hook, drops it from the poll
// set (while its fd is still valid), closes it, then reports to the
// installed ErrorHandler -- in that order, so the façade's retry logic sees
// a connection that's already torn down.
func (m *Manager) handleError(c *Conn, err error) {
	if h := c.Handler(); h != nil {
		h.OnIOError(c)
	}
	_ = m.RemoveConnection(c)
	_ = c.Close()

	m.mu.Lock()
	onErr := m.onError
	m.mu.Unlock()
	if onErr != nil {
		onErr(c, err)
	}
}

// Close tears down the Poller and self-pipe. Registered Conns are not
// closed; callers close those explicitly.
func (m *Manager) Close() error {
	_ = m.wake.Close()
	return m.poll.Close()
}
