// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package fence provides file-descriptor backed synchronization fences.
//
// A Fence marks a point of completion for asynchronous GPU or display work.
// Fences are owned values: whoever holds a *Fence is responsible for closing
// it exactly once. Functions that accept a fence document whether they consume
// it. A nil *Fence means "no fence" and behaves as an already signaled fence,
// so callers never need a separate "no fence" sentinel.
//
// Fences are created in pairs with a Signaler:
//
//	f, s, err := fence.New()
//	if err != nil {
//	    return err
//	}
//	go func() {
//	    flush()
//	    s.Signal()
//	}()
//	err = f.Wait(-1) // blocks until Signal
//	f.Close()
//
// Duplicated fences (Dup) observe the same signal and are closed
// independently.
package fence
