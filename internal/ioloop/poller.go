// Package ioloop implements the connection multiplexer of spec.md §4.4: a
// poll loop that drives many server sockets with backpressure and failure
// isolation, the reconnectable Conn wrapper of §4.2, the self-pipe wake
// endpoint of §4.3, and the per-connection command-handler state machines
// of §4.5-4.8.
package ioloop

import "time"

// Events is the readiness bitset the Poller reports, implemented via
// whichever of epoll/kqueue/select the platform offers (spec.md §4.4).
type Events uint8

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
)

// Has reports whether e contains every bit set in f.
func (e Events) Has(f Events) bool { return e&f == f }

// Event is one readiness notification returned by Poll.
type Event struct {
	Fd     int
	Events Events
}

// Poller is the pluggable multiplexing backend spec.md §4.4 describes.
// Register/Unregister are called when a connection is added to or removed
// from the Manager; Modify is called once per Poll iteration with each
// connection's current readiness bits -- the Manager does not try to track
// incremental diffs itself.
type Poller interface {
	Register(fd int, events Events) error
	Modify(fd int, events Events) error
	Unregister(fd int) error

	// Poll blocks until at least one registered fd is ready or timeout
	// elapses. timeout<0 blocks with no deadline; timeout==0 polls once
	// without blocking; timeout>0 bounds the wait.
	Poll(timeout time.Duration) ([]Event, error)

	Close() error
}

// newPoller is implemented once per platform file (poller_linux.go,
// poller_bsd.go, poller_generic.go) behind a build tag.
