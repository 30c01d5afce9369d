// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package legacy

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/bufmap"
	"github.com/gogpu/bufmap/fence"
	"github.com/gogpu/bufmap/internal/store"
)

// Name is the name the backend registers under.
const Name = "legacy"

// Priority is the registry priority of the backend.
const Priority = 0

func init() {
	bufmap.RegisterDevice(Name, Priority, func() (bufmap.Device, error) {
		return New(WithStore(shared())), nil
	})
}

var shared = sync.OnceValue(store.New)

// Default returns a Device over the store shared with the registered backend.
func Default() *Device {
	return New(WithStore(shared()))
}

// Option configures a Device.
type Option func(*Device)

// WithStore makes the Device serve buffers from s instead of a private store.
// The Device does not free s on Close.
func WithStore(s *store.Store) Option {
	return func(d *Device) {
		if s != nil {
			d.store = s
			d.ownsStore = false
		}
	}
}

// WithAdapter enables the adapter mode.
func WithAdapter() Option {
	return func(d *Device) {
		d.adapter = true
	}
}

// WithReleaseFences makes Unlock return a signaled release fence instead of
// none, as devices reporting bufmap.CapabilityReleaseFence do.
func WithReleaseFences() Option {
	return func(d *Device) {
		d.releaseFences = true
	}
}

// Device is a bufmap.Device over anonymous memory. It is safe for concurrent
// use.
type Device struct {
	store         *store.Store
	ownsStore     bool
	adapter       bool
	releaseFences bool
	logger        atomic.Pointer[slog.Logger]
}

var _ bufmap.Device = (*Device)(nil)

// New creates a Device.
func New(opts ...Option) *Device {
	d := &Device{store: store.New(), ownsStore: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLogger sets the logger used by the Device.
func (d *Device) SetLogger(l *slog.Logger) {
	d.logger.Store(l)
}

func (d *Device) log() *slog.Logger {
	if l := d.logger.Load(); l != nil {
		return l
	}
	return bufmap.Logger()
}

// Close frees the store if the Device created it.
func (d *Device) Close() error {
	if d.ownsStore {
		return d.store.Close()
	}
	return nil
}

// Allocate creates a buffer and returns its handle. In adapter mode the
// buffer is registered once here; otherwise it must be registered with
// BufferMapper.RegisterBuffer.
func (d *Device) Allocate(width, height uint32, format bufmap.PixelFormat, producer bufmap.ProducerUsage, consumer bufmap.ConsumerUsage) (bufmap.Handle, error) {
	h, err := d.store.Import(store.Descriptor{
		Width:         width,
		Height:        height,
		Format:        format,
		ProducerUsage: uint64(producer),
		ConsumerUsage: uint64(consumer),
	})
	if err != nil {
		return bufmap.NoHandle, fmt.Errorf("legacy: allocate %dx%d %v: %w", width, height, format, err)
	}
	if d.adapter {
		if err := d.store.Retain(h); err != nil {
			_ = d.store.Free(h)
			return bufmap.NoHandle, fmt.Errorf("legacy: allocate: %w", err)
		}
	}
	return h, nil
}

// Free destroys the handle.
func (d *Device) Free(h bufmap.Handle) error {
	if err := d.store.Free(h); err != nil {
		return fmt.Errorf("legacy: free %v: %w", h, err)
	}
	return nil
}

// HasCapability implements bufmap.Device.
func (d *Device) HasCapability(c bufmap.Capability) bool {
	switch c {
	case bufmap.CapabilityLayeredBuffers:
		return true
	case bufmap.CapabilityReleaseFence:
		return d.releaseFences
	case bufmap.CapabilityOnAdapter:
		return d.adapter
	default:
		return false
	}
}

// Retain implements bufmap.Device. In adapter mode handles cannot be
// registered by value and Retain always fails with BAD_HANDLE.
func (d *Device) Retain(h bufmap.Handle) bufmap.DeviceError {
	if d.adapter {
		return bufmap.DeviceErrorBadHandle
	}
	return deviceError(d.store.Retain(h))
}

// Release implements bufmap.Device.
func (d *Device) Release(h bufmap.Handle) bufmap.DeviceError {
	return deviceError(d.store.Release(h))
}

// Dimensions implements bufmap.Device.
func (d *Device) Dimensions(h bufmap.Handle) (width, height uint32, err bufmap.DeviceError) {
	info, e := d.store.Info(h)
	return info.Width, info.Height, deviceError(e)
}

// Format implements bufmap.Device.
func (d *Device) Format(h bufmap.Handle) (bufmap.PixelFormat, bufmap.DeviceError) {
	info, e := d.store.Info(h)
	return info.Format, deviceError(e)
}

// LayerCount implements bufmap.Device.
func (d *Device) LayerCount(h bufmap.Handle) (uint32, bufmap.DeviceError) {
	info, e := d.store.Info(h)
	return info.LayerCount, deviceError(e)
}

// ProducerUsage implements bufmap.Device.
func (d *Device) ProducerUsage(h bufmap.Handle) (bufmap.ProducerUsage, bufmap.DeviceError) {
	info, e := d.store.Info(h)
	return bufmap.ProducerUsage(info.ProducerUsage), deviceError(e)
}

// ConsumerUsage implements bufmap.Device.
func (d *Device) ConsumerUsage(h bufmap.Handle) (bufmap.ConsumerUsage, bufmap.DeviceError) {
	info, e := d.store.Info(h)
	return bufmap.ConsumerUsage(info.ConsumerUsage), deviceError(e)
}

// BackingStore implements bufmap.Device.
func (d *Device) BackingStore(h bufmap.Handle) (uint64, bufmap.DeviceError) {
	info, e := d.store.Info(h)
	return info.BackingStore, deviceError(e)
}

// Stride implements bufmap.Device.
func (d *Device) Stride(h bufmap.Handle) (uint32, bufmap.DeviceError) {
	info, e := d.store.Info(h)
	return info.Stride, deviceError(e)
}

// Lock implements bufmap.Device. It blocks until acquire signals.
func (d *Device) Lock(h bufmap.Handle, producer bufmap.ProducerUsage, consumer bufmap.ConsumerUsage, region bufmap.Rect, acquire *fence.Fence) ([]byte, bufmap.DeviceError) {
	if e := d.acquire(h, acquire); e != bufmap.DeviceErrorNone {
		return nil, e
	}
	data, err := d.store.Lock(h, uint64(producer), uint64(consumer), region)
	return data, deviceError(err)
}

// LockYCbCr implements bufmap.Device. Only the adapter mode supports it.
func (d *Device) LockYCbCr(h bufmap.Handle, producer bufmap.ProducerUsage, consumer bufmap.ConsumerUsage, region bufmap.Rect, acquire *fence.Fence) (bufmap.YCbCr, bufmap.DeviceError) {
	if !d.adapter {
		_ = acquire.Close()
		return bufmap.YCbCr{}, bufmap.DeviceErrorUnsupported
	}
	if e := d.acquire(h, acquire); e != bufmap.DeviceErrorNone {
		return bufmap.YCbCr{}, e
	}

	layout, err := d.store.LockFlex(h, uint64(producer), uint64(consumer), region)
	if err != nil {
		return bufmap.YCbCr{}, deviceError(err)
	}
	ycbcr, err := bufmap.ResolveYCbCr(layout)
	if err != nil {
		d.log().Debug("legacy: buffer has no YCbCr view", "handle", h, "err", err)
		if uerr := d.store.Unlock(h); uerr != nil {
			d.log().Warn("legacy: unlock failed", "handle", h, "err", uerr)
		}
		return bufmap.YCbCr{}, bufmap.DeviceErrorUnsupported
	}
	return ycbcr, bufmap.DeviceErrorNone
}

// NumFlexPlanes implements bufmap.Device. The adapter mode does not support
// it.
func (d *Device) NumFlexPlanes(h bufmap.Handle) (uint32, bufmap.DeviceError) {
	if d.adapter {
		return 0, bufmap.DeviceErrorUnsupported
	}
	n, err := d.store.NumPlanes(h)
	return uint32(n), deviceError(err)
}

// LockFlex implements bufmap.Device. layout.Planes must have room for
// NumFlexPlanes planes; it is truncated to the planes written. The adapter
// mode does not support it.
func (d *Device) LockFlex(h bufmap.Handle, producer bufmap.ProducerUsage, consumer bufmap.ConsumerUsage, region bufmap.Rect, layout *bufmap.FlexLayout, acquire *fence.Fence) bufmap.DeviceError {
	if d.adapter {
		_ = acquire.Close()
		return bufmap.DeviceErrorUnsupported
	}
	if layout == nil {
		_ = acquire.Close()
		return bufmap.DeviceErrorBadValue
	}
	if e := d.acquire(h, acquire); e != bufmap.DeviceErrorNone {
		return e
	}

	got, err := d.store.LockFlex(h, uint64(producer), uint64(consumer), region)
	if err != nil {
		return deviceError(err)
	}
	if len(layout.Planes) < len(got.Planes) {
		if uerr := d.store.Unlock(h); uerr != nil {
			d.log().Warn("legacy: unlock failed", "handle", h, "err", uerr)
		}
		return bufmap.DeviceErrorBadValue
	}
	layout.Format = got.Format
	layout.Planes = layout.Planes[:copy(layout.Planes, got.Planes)]
	return bufmap.DeviceErrorNone
}

// Unlock implements bufmap.Device.
func (d *Device) Unlock(h bufmap.Handle) (*fence.Fence, bufmap.DeviceError) {
	if err := d.store.Unlock(h); err != nil {
		return nil, deviceError(err)
	}
	if !d.releaseFences {
		return nil, bufmap.DeviceErrorNone
	}
	release, err := fence.NewSignaled()
	if err != nil {
		d.log().Warn("legacy: cannot create release fence", "handle", h, "err", err)
		return nil, bufmap.DeviceErrorNoResources
	}
	return release, bufmap.DeviceErrorNone
}

// acquire waits for and consumes the acquire fence.
func (d *Device) acquire(h bufmap.Handle, f *fence.Fence) bufmap.DeviceError {
	werr := f.Wait(-1)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		d.log().Warn("legacy: acquire fence failed", "handle", h, "err", err)
		return bufmap.DeviceErrorUndefined
	}
	return bufmap.DeviceErrorNone
}

// deviceError converts a store error into the legacy error vocabulary.
func deviceError(err error) bufmap.DeviceError {
	switch {
	case err == nil:
		return bufmap.DeviceErrorNone
	case errors.Is(err, store.ErrBadHandle):
		return bufmap.DeviceErrorBadHandle
	case errors.Is(err, store.ErrUnsupported):
		return bufmap.DeviceErrorUnsupported
	case errors.Is(err, store.ErrNoResources):
		return bufmap.DeviceErrorNoResources
	default:
		return bufmap.DeviceErrorBadValue
	}
}
