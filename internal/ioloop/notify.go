package ioloop

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// Wake bytes the self-pipe carries (spec.md §5's "wake semantics"). A
// worker callback running off the main goroutine writes one of these to
// interrupt Manager.Poll.
const (
	// WakeGeneric unblocks the loop with no further action.
	WakeGeneric byte = 'w'
	// WakeRePrepare asks the manager to call Prepare on every
	// non-internal connection's worker handler (spec.md §4.7's prepare()).
	WakeRePrepare byte = 's'
	// WakeTerminate asks the worker's poll loop to exit on its next
	// after_poll check.
	WakeTerminate byte = 'z'
)

// notifyConn is the self-pipe notification endpoint of spec.md §4.3: an
// internal, readable "connection" that is not a network socket but
// implements enough of the same duck-typed interface (Fileno, Readable,
// Writable, Close) to sit in the Manager's poll set.
type notifyConn struct {
	mu      sync.Mutex
	readFd  int
	writeFd int
	closed  bool
}

func newNotifyConn() (*notifyConn, error) {
	r, w, err := makePipe()
	if err != nil {
		return nil, err
	}
	return &notifyConn{readFd: r, writeFd: w}, nil
}

func (n *notifyConn) Fileno() (int, error) { return n.readFd, nil }
func (n *notifyConn) Connected() bool      { return true }
func (n *notifyConn) Internal() bool       { return true }
func (n *notifyConn) Readable() bool       { return true }
func (n *notifyConn) Writable() bool       { return false }

// Send posts a single wake byte. A full pipe (EAGAIN) is swallowed: the
// wake is idempotent, since one pending byte already suffices to wake the
// reader (spec.md §4.3, §5).
func (n *notifyConn) Send(b byte) error {
	n.mu.Lock()
	closed := n.closed
	fd := n.writeFd
	n.mu.Unlock()
	if closed {
		return nil
	}

	_, err := unix.Write(fd, []byte{b})
	if errors.Is(err, unix.EAGAIN) {
		return nil
	}
	return err
}

// HandleRead drains every wake byte currently pending and dispatches each
// to onWake, in arrival order.
func (n *notifyConn) HandleRead(onWake func(b byte)) error {
	buf := make([]byte, 64)
	for {
		nr, err := unix.Read(n.readFd, buf)
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		if err != nil {
			return err
		}
		if nr == 0 {
			return nil
		}
		for _, b := range buf[:nr] {
			onWake(b)
		}
		if nr < len(buf) {
			return nil
		}
	}
}

// Close closes both pipe ends. Idempotent.
func (n *notifyConn) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true

	err1 := unix.Close(n.readFd)
	err2 := unix.Close(n.writeFd)
	if err1 != nil {
		return err1
	}
	return err2
}
