// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

//go:build !unix

package fence

import (
	"errors"
	"time"
)

func newPipe() (r, w int, err error)          { return -1, -1, errors.ErrUnsupported }
func dupFD(int) (int, error)                  { return -1, errors.ErrUnsupported }
func closeFD(int) error                       { return nil }
func signalFD(int) error                      { return nil }
func pollFD(int, time.Duration) (bool, error) { return false, errors.ErrUnsupported }
