// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package mem

func alloc(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func free([]byte) error {
	return nil
}
