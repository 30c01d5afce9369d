// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package wgpu provides a modern-generation bufmap backend that mirrors
// buffers into GPU memory through the gogpu/wgpu hardware abstraction layer.
//
// Every registered buffer gets a GPU-side copy shared by all handles to the
// same memory, filled with the buffer contents when it is created. GPU work
// reaches the copy through Mapper.GPUBuffer and reports writes with
// Mapper.MarkGPUWritten; the next lock for CPU read copies them back through
// a staging buffer. Unlocking after a CPU write uploads the memory again. The
// release fence returned by Unlock signals once the queue has completed the
// upload submission, so a consumer waiting on it sees the new contents.
//
// The backend needs a device and does not register itself. Pass it to
// bufmap.New explicitly:
//
//	m, err := bufmap.New(bufmap.WithMapper(wgpu.Name, wgpu.Loader(device, queue)))
package wgpu
