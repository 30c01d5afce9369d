// Package bufmap maps graphics buffers for CPU access on hosts whose buffer
// mapping service comes in one of two incompatible generations.
//
// # Overview
//
// A BufferMapper probes once, at construction, which backend generation is
// usable: the modern Mapper or the legacy Device. Every call is routed to that
// backend and its native error is translated to one shared Status. Callers
// never see which generation is active unless they ask UsesModernBackend.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/bufmap"
//	    _ "github.com/gogpu/bufmap/backend/soft" // registers the software mapper
//	)
//
//	m, err := bufmap.New()
//	if err != nil {
//	    log.Fatal(err) // no backend at all
//	}
//	if err := m.RegisterBuffer(h); err != nil {
//	    return err
//	}
//	defer m.UnregisterBuffer(h)
//
//	view, err := m.LockYCbCr(h, bufmap.UsageSWReadOften, bufmap.R(0, 0, w, ht))
//	if err != nil {
//	    return err
//	}
//	defer m.Unlock(h)
//
// # Fences
//
// Asynchronous variants take and return *fence.Fence values. A fence passed
// in is consumed exactly once by the call; a fence returned belongs to the
// caller. Lock and Unlock are the blocking forms: Lock uses no acquire fence
// and Unlock waits for the release fence without a timeout. Callers that need
// bounded waits use LockAsync/UnlockAsync and fence.Fence.Wait.
//
// # YCbCr
//
// When a backend cannot lock YCbCr buffers natively, the buffer is locked
// through its flexible multi-plane layout and ResolveYCbCr reconstructs the
// three-plane view. Malformed layouts are never accepted: the buffer is
// unlocked and StatusUnsupported is returned.
//
// # Backends
//
//   - backend/soft: software modern backend over CPU memory
//   - backend/wgpu: modern backend mirroring buffers into gogpu/wgpu HAL buffers
//   - backend/legacy: legacy backend, plain or adapter flavor
package bufmap
