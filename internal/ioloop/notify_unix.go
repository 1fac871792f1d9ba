//go:build !linux

package ioloop

import "golang.org/x/sys/unix"

// makePipe is the portable fallback for platforms without pipe2: create a
// blocking pipe then flip both ends non-blocking, matching the design
// note's "portable fallback" for the self-pipe endpoint.
func makePipe() (r, w int, err error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return 0, 0, err
	}
	if err := unix.SetNonblock(fds[1], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}
