// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package fence

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Wait when the fence did not signal in time.
	ErrTimeout = errors.New("fence: wait timed out")

	// ErrClosed is returned when operating on a fence that was already closed
	// or released.
	ErrClosed = errors.New("fence: fence is closed")
)

// Fence is an owned handle to a fence file descriptor.
//
// The zero-cost "no fence" value is a nil *Fence: Wait returns immediately,
// Close is a no-op and FD reports -1.
//
// A Fence is not safe for concurrent use. Duplicate it with Dup when more
// than one goroutine needs to wait.
type Fence struct {
	fd int
}

// FromFD adopts fd as a fence. Ownership of fd moves to the returned Fence.
// A negative fd yields the nil (already signaled) fence.
func FromFD(fd int) *Fence {
	if fd < 0 {
		return nil
	}
	return &Fence{fd: fd}
}

// FD returns the underlying descriptor without transferring ownership,
// or -1 for the nil fence.
func (f *Fence) FD() int {
	if f == nil {
		return -1
	}
	return f.fd
}

// Valid reports whether f refers to an open descriptor.
func (f *Fence) Valid() bool {
	return f != nil && f.fd >= 0
}

// Dup returns a new Fence referring to the same signal. The caller owns the
// duplicate and must close it. Duplicating the nil fence returns nil.
func (f *Fence) Dup() (*Fence, error) {
	if f == nil {
		return nil, nil
	}
	if f.fd < 0 {
		return nil, ErrClosed
	}
	fd, err := dupFD(f.fd)
	if err != nil {
		return nil, fmt.Errorf("fence: dup %d: %w", f.fd, err)
	}
	return &Fence{fd: fd}, nil
}

// Wait blocks until the fence signals or timeout elapses. A negative timeout
// waits forever. The nil fence is always signaled.
func (f *Fence) Wait(timeout time.Duration) error {
	if f == nil {
		return nil
	}
	if f.fd < 0 {
		return ErrClosed
	}
	ok, err := pollFD(f.fd, timeout)
	if err != nil {
		return fmt.Errorf("fence: wait %d: %w", f.fd, err)
	}
	if !ok {
		return ErrTimeout
	}
	return nil
}

// Signaled reports whether the fence has signaled, without blocking.
func (f *Fence) Signaled() bool {
	return f.Wait(0) == nil
}

// Close releases the descriptor. Closing the nil fence or an already closed
// fence is a no-op.
func (f *Fence) Close() error {
	if f == nil || f.fd < 0 {
		return nil
	}
	fd := f.fd
	f.fd = -1
	if err := closeFD(fd); err != nil {
		return fmt.Errorf("fence: close %d: %w", fd, err)
	}
	return nil
}

// Release gives up ownership of the descriptor and returns it. The Fence is
// closed afterwards from its own point of view; the caller must close the
// returned descriptor.
func (f *Fence) Release() int {
	if f == nil {
		return -1
	}
	fd := f.fd
	f.fd = -1
	return fd
}

// String implements fmt.Stringer.
func (f *Fence) String() string {
	if f == nil {
		return "fence(none)"
	}
	if f.fd < 0 {
		return "fence(closed)"
	}
	return fmt.Sprintf("fence(%d)", f.fd)
}

// Signaler signals the Fence it was created with. Signal may be called from
// any goroutine; only the first call has an effect.
type Signaler struct {
	once sync.Once
	fd   int
	err  error
}

// New creates an unsignaled fence and the Signaler that completes it.
func New() (*Fence, *Signaler, error) {
	r, w, err := newPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("fence: create: %w", err)
	}
	return &Fence{fd: r}, &Signaler{fd: w}, nil
}

// NewSignaled returns a fence that has already signaled.
func NewSignaled() (*Fence, error) {
	f, s, err := New()
	if err != nil {
		return nil, err
	}
	if err := s.Signal(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// Signal completes the fence. Every descriptor duplicated from it observes
// the signal.
func (s *Signaler) Signal() error {
	s.once.Do(func() {
		s.err = signalFD(s.fd)
		s.fd = -1
	})
	return s.err
}
