// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build unix

package fence

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// newPipe returns the read end (the fence) and the write end (the signaler)
// of a close-on-exec pipe.
func newPipe() (r, w int, err error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	if err := unix.SetNonblock(p[0], true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return -1, -1, err
	}
	return p[0], p[1], nil
}

func dupFD(fd int) (int, error) {
	nfd, err := unix.Dup(fd)
	if err != nil {
		return -1, err
	}
	unix.CloseOnExec(nfd)
	return nfd, nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

// signalFD writes a token and closes the write end so that every reader
// sees POLLIN and POLLHUP from then on.
func signalFD(fd int) error {
	if fd < 0 {
		return nil
	}
	_, werr := unix.Write(fd, []byte{1})
	cerr := unix.Close(fd)
	return errors.Join(werr, cerr)
}

// pollFD reports whether fd became readable within timeout.
func pollFD(fd int, timeout time.Duration) (bool, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		ms := -1
		switch {
		case timeout == 0:
			ms = 0
		case timeout > 0:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				ms = 0
			} else {
				ms = int((remaining + time.Millisecond - 1) / time.Millisecond)
			}
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return false, unix.EBADF
		}
		return fds[0].Revents&(unix.POLLIN|unix.POLLHUP) != 0, nil
	}
}
