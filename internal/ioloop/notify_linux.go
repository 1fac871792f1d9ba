//go:build linux

package ioloop

import "golang.org/x/sys/unix"

// makePipe creates a non-blocking pipe pair for the self-pipe notification
// endpoint (spec.md §4.3). pipe2 sets O_NONBLOCK atomically at creation so
// there's never a window where a blocking read/write could stall the poll
// loop.
func makePipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}
