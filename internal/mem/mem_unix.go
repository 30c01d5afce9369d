// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build unix

package mem

import "golang.org/x/sys/unix"

func alloc(size int) ([]byte, bool, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func free(data []byte) error {
	return unix.Munmap(data)
}
