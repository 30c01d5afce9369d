// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package mem provides page-backed CPU memory for the reference backends.
package mem

import (
	"errors"
	"fmt"
)

// ErrInvalidSize is returned for negative allocation sizes.
var ErrInvalidSize = errors.New("mem: invalid size")

// Region is a block of CPU memory that stays at a fixed address until Free.
type Region struct {
	data   []byte
	mapped bool
}

// Alloc returns a zeroed region of size bytes. A zero size yields an empty,
// non-nil region.
func Alloc(size int) (*Region, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	if size == 0 {
		return &Region{data: []byte{}}, nil
	}
	data, mapped, err := alloc(size)
	if err != nil {
		return nil, fmt.Errorf("mem: alloc %d bytes: %w", size, err)
	}
	return &Region{data: data, mapped: mapped}, nil
}

// Bytes returns the memory of the region. It is nil after Free.
func (r *Region) Bytes() []byte {
	return r.data
}

// Len returns the size of the region in bytes.
func (r *Region) Len() int {
	return len(r.data)
}

// Free releases the region. Freeing twice is a no-op.
func (r *Region) Free() error {
	if r.data == nil {
		return nil
	}
	data, mapped := r.data, r.mapped
	r.data, r.mapped = nil, false
	if !mapped {
		return nil
	}
	if err := free(data); err != nil {
		return fmt.Errorf("mem: free: %w", err)
	}
	return nil
}
