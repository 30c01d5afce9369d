// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package soft

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu"

	"github.com/gogpu/bufmap"
	"github.com/gogpu/bufmap/fence"
	"github.com/gogpu/bufmap/internal/store"
)

// Name is the name the backend registers under.
const Name = "soft"

// Priority is the registry priority of the backend.
const Priority = 10

func init() {
	bufmap.RegisterMapper(Name, Priority, func() (bufmap.Mapper, error) {
		return New(WithStore(shared())), nil
	})
}

// shared is the store used by registered mappers, so that buffers allocated
// through Default are visible to every BufferMapper created by bufmap.New.
var shared = sync.OnceValue(store.New)

// Default returns a Mapper over the store shared with the registered backend.
func Default() *Mapper {
	return New(WithStore(shared()))
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithStore makes the Mapper serve buffers from s instead of a private store.
// The Mapper does not free s on Close.
func WithStore(s *store.Store) Option {
	return func(m *Mapper) {
		if s != nil {
			m.store = s
			m.ownsStore = false
		}
	}
}

// WithDeviceProvider attaches a GPU device. Unlock then returns a release
// fence that signals after the device has finished its pending work.
// Devices other than *wgpu.Device are not polled.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(m *Mapper) {
		m.provider = p
	}
}

// poller is implemented by devices that can flush pending work.
type poller interface {
	Poll(wgpu.PollType) bool
}

var _ poller = (*wgpu.Device)(nil)

// Mapper is a bufmap.Mapper over anonymous memory. It is safe for concurrent
// use.
type Mapper struct {
	store     *store.Store
	ownsStore bool
	provider  gpucontext.DeviceProvider
	logger    atomic.Pointer[slog.Logger]
	pending   sync.WaitGroup
}

var _ bufmap.Mapper = (*Mapper)(nil)

// New creates a Mapper.
func New(opts ...Option) *Mapper {
	m := &Mapper{store: store.New(), ownsStore: true}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetLogger sets the logger used by the Mapper. bufmap.SetLogger calls it for
// every open BufferMapper.
func (m *Mapper) SetLogger(l *slog.Logger) {
	m.logger.Store(l)
}

func (m *Mapper) log() *slog.Logger {
	if l := m.logger.Load(); l != nil {
		return l
	}
	return bufmap.Logger()
}

// Allocate creates a buffer and returns its handle. The buffer is not
// registered: pass the handle to BufferMapper.RegisterBuffer before locking.
func (m *Mapper) Allocate(width, height uint32, format bufmap.PixelFormat, usage bufmap.Usage) (bufmap.Handle, error) {
	return m.AllocateLayers(width, height, 1, format, usage)
}

// AllocateLayers is Allocate for buffers with more than one layer.
func (m *Mapper) AllocateLayers(width, height, layers uint32, format bufmap.PixelFormat, usage bufmap.Usage) (bufmap.Handle, error) {
	h, err := m.store.Import(store.Descriptor{
		Width:         width,
		Height:        height,
		LayerCount:    layers,
		Format:        format,
		ProducerUsage: uint64(usage),
		ConsumerUsage: uint64(usage),
	})
	if err != nil {
		return bufmap.NoHandle, fmt.Errorf("soft: allocate %dx%d %v: %w", width, height, format, err)
	}
	m.log().Debug("soft: allocated buffer", "handle", h, "width", width, "height", height, "format", format)
	return h, nil
}

// Duplicate returns a second handle to the memory of h.
func (m *Mapper) Duplicate(h bufmap.Handle) (bufmap.Handle, error) {
	d, err := m.store.Alias(h)
	if err != nil {
		return bufmap.NoHandle, fmt.Errorf("soft: duplicate %v: %w", h, err)
	}
	return d, nil
}

// Free destroys the handle. The memory is freed with its last handle.
func (m *Mapper) Free(h bufmap.Handle) error {
	if err := m.store.Free(h); err != nil {
		return fmt.Errorf("soft: free %v: %w", h, err)
	}
	return nil
}

// Close waits for pending release fences and frees the store if the Mapper
// created it.
func (m *Mapper) Close() error {
	m.pending.Wait()
	if m.ownsStore {
		return m.store.Close()
	}
	return nil
}

// Retain implements bufmap.Mapper.
func (m *Mapper) Retain(h bufmap.Handle) bufmap.MapperError {
	return mapperError(m.store.Retain(h))
}

// Release implements bufmap.Mapper.
func (m *Mapper) Release(h bufmap.Handle) bufmap.MapperError {
	return mapperError(m.store.Release(h))
}

func (m *Mapper) info(h bufmap.Handle) store.Info {
	info, err := m.store.Info(h)
	if err != nil {
		m.log().Debug("soft: metadata of unregistered buffer", "handle", h, "err", err)
	}
	return info
}

// Dimensions implements bufmap.Mapper.
func (m *Mapper) Dimensions(h bufmap.Handle) (width, height uint32) {
	info := m.info(h)
	return info.Width, info.Height
}

// Format implements bufmap.Mapper.
func (m *Mapper) Format(h bufmap.Handle) bufmap.PixelFormat { return m.info(h).Format }

// LayerCount implements bufmap.Mapper.
func (m *Mapper) LayerCount(h bufmap.Handle) uint32 { return m.info(h).LayerCount }

// ProducerUsage implements bufmap.Mapper.
func (m *Mapper) ProducerUsage(h bufmap.Handle) uint64 { return m.info(h).ProducerUsage }

// ConsumerUsage implements bufmap.Mapper.
func (m *Mapper) ConsumerUsage(h bufmap.Handle) uint64 { return m.info(h).ConsumerUsage }

// BackingStore implements bufmap.Mapper.
func (m *Mapper) BackingStore(h bufmap.Handle) uint64 { return m.info(h).BackingStore }

// Stride implements bufmap.Mapper.
func (m *Mapper) Stride(h bufmap.Handle) uint32 { return m.info(h).Stride }

// Lock implements bufmap.Mapper. It blocks until acquire signals.
func (m *Mapper) Lock(h bufmap.Handle, producer, consumer uint64, region bufmap.Rect, acquire *fence.Fence) ([]byte, bufmap.MapperError) {
	if e := m.acquire(h, acquire); e != bufmap.MapperErrorNone {
		return nil, e
	}
	data, err := m.store.Lock(h, producer, consumer, region)
	if err != nil {
		return nil, mapperError(err)
	}
	return data, bufmap.MapperErrorNone
}

// LockFlex implements bufmap.Mapper.
func (m *Mapper) LockFlex(h bufmap.Handle, producer, consumer uint64, region bufmap.Rect, acquire *fence.Fence) (bufmap.FlexLayout, bufmap.MapperError) {
	if e := m.acquire(h, acquire); e != bufmap.MapperErrorNone {
		return bufmap.FlexLayout{}, e
	}
	layout, err := m.store.LockFlex(h, producer, consumer, region)
	if err != nil {
		return bufmap.FlexLayout{}, mapperError(err)
	}
	return layout, bufmap.MapperErrorNone
}

// Unlock implements bufmap.Mapper.
func (m *Mapper) Unlock(h bufmap.Handle) (*fence.Fence, bufmap.MapperError) {
	if err := m.store.Unlock(h); err != nil {
		return nil, mapperError(err)
	}
	if m.provider == nil {
		return nil, bufmap.MapperErrorNone
	}

	release, sig, err := fence.New()
	if err != nil {
		m.log().Warn("soft: cannot create release fence", "handle", h, "err", err)
		return nil, bufmap.MapperErrorNoResources
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		if p, ok := m.provider.Device().(poller); ok {
			p.Poll(wgpu.PollWait)
		} else {
			m.log().Debug("soft: device cannot be polled", "handle", h)
		}
		if err := sig.Signal(); err != nil {
			m.log().Warn("soft: signaling release fence failed", "handle", h, "err", err)
		}
	}()
	return release, bufmap.MapperErrorNone
}

// acquire waits for and consumes the acquire fence.
func (m *Mapper) acquire(h bufmap.Handle, f *fence.Fence) bufmap.MapperError {
	werr := f.Wait(-1)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		m.log().Warn("soft: acquire fence failed", "handle", h, "fence", f, "err", err)
		return bufmap.MapperErrorBadValue
	}
	return bufmap.MapperErrorNone
}

// mapperError converts a store error into the modern error vocabulary.
func mapperError(err error) bufmap.MapperError {
	switch {
	case err == nil:
		return bufmap.MapperErrorNone
	case errors.Is(err, store.ErrBadHandle):
		return bufmap.MapperErrorBadBuffer
	case errors.Is(err, store.ErrUnsupported):
		return bufmap.MapperErrorUnsupported
	case errors.Is(err, store.ErrNoResources):
		return bufmap.MapperErrorNoResources
	default:
		return bufmap.MapperErrorBadValue
	}
}
