package bufmap

import (
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/gogpu/bufmap/fence"
)

// BufferMapper maps graphics buffers for CPU access through whichever backend
// generation is available on the host.
//
// The backend is chosen once by New and never changes. BufferMapper keeps no
// per-handle state, so it is safe for concurrent use as long as the backend
// is. Pairing every successful lock with exactly one unlock is the caller's
// responsibility.
type BufferMapper struct {
	name   string
	mapper Mapper
	device Device

	closed  atomic.Bool
	cleanup runtime.Cleanup
}

// New probes the available backends and returns a BufferMapper bound to the
// first usable one. Modern backends are preferred over legacy ones.
//
// New returns an error wrapping ErrNoBackend when no backend can be
// constructed; there is no partially usable BufferMapper.
func New(opts ...Option) (*BufferMapper, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	sel, err := probe(&o)
	if err != nil {
		return nil, err
	}

	m := &BufferMapper{name: sel.name, mapper: sel.mapper, device: sel.device}
	b := m.backend()
	trackBackend(b)
	m.cleanup = runtime.AddCleanup(m, releaseBackend, b)
	return m, nil
}

// UsesModernBackend reports whether the modern backend generation is active.
func (m *BufferMapper) UsesModernBackend() bool {
	return m.mapper != nil
}

// BackendName returns the name the active backend was registered under.
func (m *BufferMapper) BackendName() string {
	return m.name
}

// Close detaches the BufferMapper from logger updates. When no other open
// BufferMapper shares the backend, Close also closes it if it implements
// io.Closer. The BufferMapper must not be used afterwards; further calls to
// Close do nothing.
func (m *BufferMapper) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.cleanup.Stop()

	b := m.backend()
	if !untrackBackend(b) {
		return nil
	}
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *BufferMapper) backend() any {
	if m.mapper != nil {
		return m.mapper
	}
	return m.device
}

// modern converts a modern backend result into an error and logs failures.
func (m *BufferMapper) modern(op string, h Handle, e MapperError) error {
	err := newError(op, h, TranslateMapperError(e))
	if err != nil {
		Logger().Warn("bufmap: "+op+" failed", "handle", h, "error", e)
	}
	return err
}

// legacy converts a legacy backend result into an error and logs failures.
func (m *BufferMapper) legacy(op string, h Handle, e DeviceError) error {
	err := newError(op, h, TranslateDeviceError(e))
	if err != nil {
		Logger().Warn("bufmap: "+op+" failed", "handle", h, "error", e)
	}
	return err
}

// RegisterBuffer tells the backend that h, usually received from another
// process, is now used by this process. Reference counting is up to the
// backend.
func (m *BufferMapper) RegisterBuffer(h Handle) error {
	const op = "registerBuffer"
	if m.mapper != nil {
		return m.modern(op, h, m.mapper.Retain(h))
	}

	e := m.device.Retain(h)
	if e == DeviceErrorBadHandle && m.device.HasCapability(CapabilityOnAdapter) {
		Logger().Error("bufmap: registerBuffer by handle is not supported on an adapter device",
			"handle", h)
	}
	return m.legacy(op, h, e)
}

// UnregisterBuffer releases the reference taken by RegisterBuffer.
func (m *BufferMapper) UnregisterBuffer(h Handle) error {
	const op = "unregisterBuffer"
	if m.mapper != nil {
		return m.modern(op, h, m.mapper.Release(h))
	}
	return m.legacy(op, h, m.device.Release(h))
}

// Dimensions returns the width and height of the buffer in pixels.
func (m *BufferMapper) Dimensions(h Handle) (width, height uint32, err error) {
	if m.mapper != nil {
		width, height = m.mapper.Dimensions(h)
		return width, height, nil
	}
	width, height, e := m.device.Dimensions(h)
	return width, height, m.legacy("getDimensions", h, e)
}

// Format returns the pixel format of the buffer.
func (m *BufferMapper) Format(h Handle) (PixelFormat, error) {
	if m.mapper != nil {
		return m.mapper.Format(h), nil
	}
	f, e := m.device.Format(h)
	return f, m.legacy("getFormat", h, e)
}

// LayerCount returns the number of image layers of the buffer.
func (m *BufferMapper) LayerCount(h Handle) (uint32, error) {
	if m.mapper != nil {
		return m.mapper.LayerCount(h), nil
	}
	n, e := m.device.LayerCount(h)
	return n, m.legacy("getLayerCount", h, e)
}

// ProducerUsage returns the producer usage the buffer was allocated with.
func (m *BufferMapper) ProducerUsage(h Handle) (uint64, error) {
	if m.mapper != nil {
		return m.mapper.ProducerUsage(h), nil
	}
	u, e := m.device.ProducerUsage(h)
	return uint64(u), m.legacy("getProducerUsage", h, e)
}

// ConsumerUsage returns the consumer usage the buffer was allocated with.
func (m *BufferMapper) ConsumerUsage(h Handle) (uint64, error) {
	if m.mapper != nil {
		return m.mapper.ConsumerUsage(h), nil
	}
	u, e := m.device.ConsumerUsage(h)
	return uint64(u), m.legacy("getConsumerUsage", h, e)
}

// BackingStore returns an identifier of the memory behind the buffer.
// Buffers sharing memory report the same value.
func (m *BufferMapper) BackingStore(h Handle) (uint64, error) {
	if m.mapper != nil {
		return m.mapper.BackingStore(h), nil
	}
	s, e := m.device.BackingStore(h)
	return s, m.legacy("getBackingStore", h, e)
}

// Stride returns the row stride of the buffer in pixels.
func (m *BufferMapper) Stride(h Handle) (uint32, error) {
	if m.mapper != nil {
		return m.mapper.Stride(h), nil
	}
	s, e := m.device.Stride(h)
	return s, m.legacy("getStride", h, e)
}

// Lock maps the buffer for CPU access with usage as both producer and
// consumer usage. It is LockAsync with an already signaled acquire fence.
func (m *BufferMapper) Lock(h Handle, usage Usage, bounds Rect) ([]byte, error) {
	return m.LockAsync(h, uint64(usage), uint64(usage), bounds, nil)
}

// LockAsync maps the buffer for CPU access within bounds and returns the
// mapping of the whole buffer.
//
// The backend does not expose the contents before acquire signals. LockAsync
// itself never waits on acquire; the backend may, so a call can block until
// the fence signals. LockAsync consumes acquire whatever the outcome.
func (m *BufferMapper) LockAsync(h Handle, producer, consumer uint64, bounds Rect, acquire *fence.Fence) ([]byte, error) {
	const op = "lock"
	if err := m.checkBounds(op, h, bounds, acquire); err != nil {
		return nil, err
	}

	if m.mapper != nil {
		data, e := m.mapper.Lock(h, producer, consumer, bounds, acquire)
		if err := m.modern(op, h, e); err != nil {
			return nil, err
		}
		return data, nil
	}

	data, e := m.device.Lock(h, ProducerUsage(producer), ConsumerUsage(consumer), bounds, acquire)
	if err := m.legacy(op, h, e); err != nil {
		return nil, err
	}
	return data, nil
}

// LockYCbCr maps a YCbCr buffer and returns its three-plane view. It is
// LockAsyncYCbCr with an already signaled acquire fence.
func (m *BufferMapper) LockYCbCr(h Handle, usage Usage, bounds Rect) (YCbCr, error) {
	return m.LockAsyncYCbCr(h, usage, bounds, nil)
}

// LockAsyncYCbCr maps a YCbCr buffer and returns its three-plane view.
//
// Backends without a native YCbCr lock are locked through their flexible
// layout API and the plane list is validated with ResolveYCbCr. When the
// layout is rejected the buffer is unlocked again before the
// StatusUnsupported error is returned. LockAsyncYCbCr consumes acquire
// whatever the outcome.
func (m *BufferMapper) LockAsyncYCbCr(h Handle, usage Usage, bounds Rect, acquire *fence.Fence) (YCbCr, error) {
	const op = "lockYCbCr"
	if err := m.checkBounds(op, h, bounds, acquire); err != nil {
		return YCbCr{}, err
	}

	var layout FlexLayout
	if m.mapper != nil {
		var e MapperError
		layout, e = m.mapper.LockFlex(h, uint64(usage), uint64(usage), bounds, acquire)
		if err := m.modern(op, h, e); err != nil {
			return YCbCr{}, err
		}
	} else {
		producer, consumer := ProducerUsage(usage), ConsumerUsage(usage)
		if m.device.HasCapability(CapabilityOnAdapter) {
			ycbcr, e := m.device.LockYCbCr(h, producer, consumer, bounds, acquire)
			if err := m.legacy(op, h, e); err != nil {
				return YCbCr{}, err
			}
			return ycbcr, nil
		}

		n, e := m.device.NumFlexPlanes(h)
		if e != DeviceErrorNone {
			_ = acquire.Close()
			return YCbCr{}, m.legacy("getNumFlexPlanes", h, e)
		}
		if n < 3 {
			_ = acquire.Close()
			lerr := &LayoutError{Reason: fmt.Sprintf("not enough planes for YCbCr (%d found)", n)}
			Logger().Debug("bufmap: rejected flex layout", "handle", h, "reason", lerr.Reason)
			return YCbCr{}, &Error{Op: op, Handle: h, Status: StatusUnsupported, Err: lerr}
		}

		layout.Planes = make([]FlexPlane, n)
		e = m.device.LockFlex(h, producer, consumer, bounds, &layout, acquire)
		if err := m.legacy("lockFlex", h, e); err != nil {
			return YCbCr{}, err
		}
	}

	ycbcr, err := ResolveYCbCr(layout)
	if err != nil {
		Logger().Debug("bufmap: rejected flex layout", "handle", h, "err", err)
		if uerr := m.Unlock(h); uerr != nil {
			Logger().Warn("bufmap: unlock after rejected layout failed", "handle", h, "err", uerr)
		}
		return YCbCr{}, &Error{Op: op, Handle: h, Status: StatusUnsupported, Err: err}
	}
	return ycbcr, nil
}

// Unlock ends CPU access and blocks until the backend has finished with the
// buffer. It is UnlockAsync followed by an unbounded wait on the release
// fence.
func (m *BufferMapper) Unlock(h Handle) error {
	release, err := m.UnlockAsync(h)
	if err != nil {
		return err
	}
	werr := release.Wait(-1)
	cerr := release.Close()
	if err := errors.Join(werr, cerr); err != nil {
		Logger().Warn("bufmap: waiting for release fence failed", "handle", h, "err", err)
		return &Error{Op: "unlock", Handle: h, Status: StatusOther, Err: err}
	}
	return nil
}

// UnlockAsync ends CPU access without waiting. The returned fence signals
// once the backend has finished with the buffer; the caller owns it and must
// close it. A nil fence means the unlock has already completed.
func (m *BufferMapper) UnlockAsync(h Handle) (*fence.Fence, error) {
	const op = "unlock"
	if m.mapper != nil {
		release, e := m.mapper.Unlock(h)
		if err := m.modern(op, h, e); err != nil {
			_ = release.Close()
			return nil, err
		}
		return release, nil
	}

	release, e := m.device.Unlock(h)
	if err := m.legacy(op, h, e); err != nil {
		_ = release.Close()
		return nil, err
	}
	return release, nil
}

// checkBounds rejects regions with a negative size before reaching the
// backend. The acquire fence is consumed on rejection.
func (m *BufferMapper) checkBounds(op string, h Handle, bounds Rect, acquire *fence.Fence) error {
	if bounds.Valid() {
		return nil
	}
	_ = acquire.Close()
	Logger().Warn("bufmap: "+op+" rejected region", "handle", h, "region", bounds)
	return &Error{Op: op, Handle: h, Status: StatusOther, Err: fmt.Errorf("invalid region %v", bounds)}
}
