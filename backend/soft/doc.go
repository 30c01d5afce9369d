// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package soft provides a modern-generation bufmap backend that keeps buffers
// in anonymous memory.
//
// The backend registers itself on import:
//
//	import _ "github.com/gogpu/bufmap/backend/soft"
//
// Buffers are created with Allocate and handed to other code by handle, the
// way a compositor hands buffers to clients. A handle must be registered with
// BufferMapper.RegisterBuffer before it is locked.
//
// When a GPU device is attached with WithDeviceProvider, Unlock returns a
// release fence that signals once the device has been polled, so CPU writes
// are ordered before the next GPU submission. Without a device Unlock
// completes immediately and returns no fence.
package soft
