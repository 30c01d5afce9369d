// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gogpu/bufmap"
	"github.com/gogpu/bufmap/internal/mem"
)

// Store errors.
var (
	// ErrBadHandle is returned for unknown handles and for handles that are
	// known but not retained.
	ErrBadHandle = errors.New("store: bad handle")

	// ErrBadValue is returned for invalid arguments.
	ErrBadValue = errors.New("store: bad value")

	// ErrNotLocked is returned when unlocking a buffer that is not locked.
	ErrNotLocked = fmt.Errorf("%w: buffer is not locked", ErrBadValue)

	// ErrLocked is returned when locking a buffer that is already locked.
	ErrLocked = fmt.Errorf("%w: buffer is already locked", ErrBadValue)

	// ErrUnsupported is returned for formats or layouts the store cannot serve.
	ErrUnsupported = errors.New("store: unsupported")

	// ErrNoResources is returned when memory cannot be allocated.
	ErrNoResources = errors.New("store: no resources")
)

// State is the CPU mapping state of a buffer.
type State int

const (
	// StateUnlocked means the buffer is not mapped for CPU access.
	StateUnlocked State = iota
	// StateLocked means the buffer is mapped for CPU access.
	StateLocked
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "Unlocked"
	case StateLocked:
		return "Locked"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Descriptor describes a buffer.
type Descriptor struct {
	Width, Height uint32
	LayerCount    uint32
	Format        bufmap.PixelFormat
	ProducerUsage uint64
	ConsumerUsage uint64
}

// Info is the metadata of a retained buffer.
type Info struct {
	Descriptor

	// Stride is the row stride in pixels.
	Stride uint32

	// BackingStore identifies the memory shared by a buffer and its aliases.
	BackingStore uint64
}

// allocation is memory shared by a buffer and its aliases.
type allocation struct {
	id      uuid.UUID
	region  *mem.Region
	handles int
}

type buffer struct {
	desc    Descriptor
	alloc   *allocation
	layout  layout
	retains int
	state   State
}

// Store is a table of buffers indexed by handle. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	next    bufmap.Handle
	buffers map[bufmap.Handle]*buffer
}

// New creates an empty store.
func New() *Store {
	return &Store{buffers: make(map[bufmap.Handle]*buffer)}
}

// Import allocates memory for a buffer described by d and returns its
// handle. The buffer starts out unregistered: Retain it before use.
func (s *Store) Import(d Descriptor) (bufmap.Handle, error) {
	if d.LayerCount == 0 {
		d.LayerCount = 1
	}
	l, err := layoutFor(d)
	if err != nil {
		return bufmap.NoHandle, fmt.Errorf("%w: format %v", err, d.Format)
	}
	region, err := mem.Alloc(l.size * int(d.LayerCount))
	if err != nil {
		return bufmap.NoHandle, fmt.Errorf("%w: %w", ErrNoResources, err)
	}
	a := &allocation{id: uuid.New(), region: region, handles: 1}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(&buffer{desc: d, alloc: a, layout: l}), nil
}

// Alias returns a new handle for the memory of h, as a duplicated handle
// received from another process would be. The alias has its own
// registration and lock state.
func (s *Store) Alias(h bufmap.Handle) (bufmap.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[h]
	if !ok {
		return bufmap.NoHandle, ErrBadHandle
	}
	b.alloc.handles++
	return s.add(&buffer{desc: b.desc, alloc: b.alloc, layout: b.layout}), nil
}

func (s *Store) add(b *buffer) bufmap.Handle {
	s.next++
	s.buffers[s.next] = b
	return s.next
}

// Free forgets h and frees the memory once no alias refers to it.
func (s *Store) Free(h bufmap.Handle) error {
	s.mu.Lock()
	b, ok := s.buffers[h]
	last := false
	if ok {
		delete(s.buffers, h)
		b.alloc.handles--
		last = b.alloc.handles == 0
	}
	s.mu.Unlock()

	if !ok {
		return ErrBadHandle
	}
	if last {
		return b.alloc.region.Free()
	}
	return nil
}

// Close frees every buffer in the store.
func (s *Store) Close() error {
	s.mu.Lock()
	handles := make([]bufmap.Handle, 0, len(s.buffers))
	for h := range s.buffers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := s.Free(h); err != nil && !errors.Is(err, ErrBadHandle) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Retain registers one local reference to h.
func (s *Store) Retain(h bufmap.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buffers[h]
	if !ok {
		return ErrBadHandle
	}
	b.retains++
	return nil
}

// Release drops one local reference to h.
func (s *Store) Release(h bufmap.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.retained(h)
	if err != nil {
		return err
	}
	b.retains--
	return nil
}

// Retained reports the number of local references to h.
func (s *Store) Retained(h bufmap.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buffers[h]; ok {
		return b.retains
	}
	return 0
}

// retained returns the buffer of h if it is registered. Callers hold s.mu.
func (s *Store) retained(h bufmap.Handle) (*buffer, error) {
	b, ok := s.buffers[h]
	if !ok || b.retains == 0 {
		return nil, ErrBadHandle
	}
	return b, nil
}

// Info returns the metadata of a retained buffer.
func (s *Store) Info(h bufmap.Handle) (Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.retained(h)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Descriptor:   b.desc,
		Stride:       uint32(b.layout.stride),
		BackingStore: binary.BigEndian.Uint64(b.alloc.id[:8]),
	}, nil
}

// State returns the mapping state of a retained buffer.
func (s *Store) State(h bufmap.Handle) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.retained(h)
	if err != nil {
		return StateUnlocked, err
	}
	return b.state, nil
}

// NumPlanes returns the number of flex planes of a retained buffer.
func (s *Store) NumPlanes(h bufmap.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.retained(h)
	if err != nil {
		return 0, err
	}
	if b.layout.flex == bufmap.FlexFormatInvalid {
		return 0, ErrUnsupported
	}
	return len(b.layout.planes), nil
}

// Lock maps a retained buffer and returns its whole memory.
//
// The usage passed here is added to the usage reported by Info.
func (s *Store) Lock(h bufmap.Handle, producer, consumer uint64, r bufmap.Rect) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.lockable(h, r)
	if err != nil {
		return nil, err
	}
	b.lock(producer, consumer)
	return b.alloc.region.Bytes(), nil
}

// LockFlex maps a retained buffer and describes it as flex planes starting
// at the region's top-left pixel.
func (s *Store) LockFlex(h bufmap.Handle, producer, consumer uint64, r bufmap.Rect) (bufmap.FlexLayout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.lockable(h, r)
	if err != nil {
		return bufmap.FlexLayout{}, err
	}
	if b.layout.flex == bufmap.FlexFormatInvalid {
		return bufmap.FlexLayout{}, ErrUnsupported
	}
	b.lock(producer, consumer)
	return bufmap.FlexLayout{
		Format: b.layout.flex,
		Planes: b.layout.flexPlanes(b.alloc.region.Bytes(), r),
	}, nil
}

// Unlock ends the CPU mapping of a retained buffer.
func (s *Store) Unlock(h bufmap.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.retained(h)
	if err != nil {
		return err
	}
	if b.state != StateLocked {
		return ErrNotLocked
	}
	b.state = StateUnlocked
	return nil
}

// Bytes returns the memory of a retained buffer regardless of its lock
// state. Backends use it to mirror contents elsewhere.
func (s *Store) Bytes(h bufmap.Handle) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.retained(h)
	if err != nil {
		return nil, err
	}
	return b.alloc.region.Bytes(), nil
}

// lockable checks that h can be locked over r. Callers hold s.mu.
func (s *Store) lockable(h bufmap.Handle, r bufmap.Rect) (*buffer, error) {
	b, err := s.retained(h)
	if err != nil {
		return nil, err
	}
	if b.state == StateLocked {
		return nil, ErrLocked
	}
	if !r.Valid() || r.Left < 0 || r.Top < 0 ||
		int64(r.Left)+int64(r.Width) > int64(b.desc.Width) ||
		int64(r.Top)+int64(r.Height) > int64(b.desc.Height) {
		return nil, fmt.Errorf("%w: region %v outside %dx%d buffer", ErrBadValue, r, b.desc.Width, b.desc.Height)
	}
	return b, nil
}

func (b *buffer) lock(producer, consumer uint64) {
	b.state = StateLocked
	b.desc.ProducerUsage |= producer
	b.desc.ConsumerUsage |= consumer
}
