// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/bufmap"
	"github.com/gogpu/bufmap/fence"
	"github.com/gogpu/bufmap/internal/store"
)

// Name is the conventional name of the backend.
const Name = "wgpu"

const (
	// submitTimeout bounds the wait for a submission to complete.
	submitTimeout = 5 * time.Second

	pollInterval = 100 * time.Microsecond
)

var (
	// ErrNoDevice is returned by New when no device or queue is given.
	ErrNoDevice = errors.New("wgpu: no device")

	// ErrNotRegistered is returned for buffers without a GPU copy.
	ErrNotRegistered = errors.New("wgpu: buffer not registered")
)

// mirror is the GPU copy of one backing store.
type mirror struct {
	buf  hal.Buffer
	size uint64
	refs int

	dirty      bool // CPU memory is newer
	gpuWritten bool // GPU copy is newer
}

// Mapper is a bufmap.Mapper that keeps a GPU copy of every registered buffer.
// It is safe for concurrent use.
type Mapper struct {
	store     *store.Store
	ownsStore bool
	device    hal.Device
	queue     hal.Queue
	logger    atomic.Pointer[slog.Logger]
	pending   sync.WaitGroup

	mu      sync.Mutex
	mirrors map[uint64]*mirror // by backing store
}

var _ bufmap.Mapper = (*Mapper)(nil)

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

// New creates a Mapper on device and queue. The caller keeps ownership of
// both and must destroy them after closing the Mapper.
func New(device hal.Device, queue hal.Queue, opts ...Option) (*Mapper, error) {
	if device == nil || queue == nil {
		return nil, ErrNoDevice
	}
	m := &Mapper{
		store:     store.New(),
		ownsStore: true,
		device:    device,
		queue:     queue,
		mirrors:   make(map[uint64]*mirror),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Loader returns a bufmap.MapperLoader that creates a Mapper on device and
// queue.
func Loader(device hal.Device, queue hal.Queue, opts ...Option) bufmap.MapperLoader {
	return func() (bufmap.Mapper, error) {
		return New(device, queue, opts...)
	}
}

// SetLogger sets the logger used by the Mapper.
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
	h, err := m.store.Import(store.Descriptor{
		Width:         width,
		Height:        height,
		Format:        format,
		ProducerUsage: uint64(usage),
		ConsumerUsage: uint64(usage),
	})
	if err != nil {
		return bufmap.NoHandle, fmt.Errorf("wgpu: allocate %dx%d %v: %w", width, height, format, err)
	}
	return h, nil
}

// Duplicate returns a second handle to the memory of h. Both handles share
// one GPU copy.
func (m *Mapper) Duplicate(h bufmap.Handle) (bufmap.Handle, error) {
	d, err := m.store.Alias(h)
	if err != nil {
		return bufmap.NoHandle, fmt.Errorf("wgpu: duplicate %v: %w", h, err)
	}
	return d, nil
}

// Free destroys the handle.
func (m *Mapper) Free(h bufmap.Handle) error {
	if err := m.store.Free(h); err != nil {
		return fmt.Errorf("wgpu: free %v: %w", h, err)
	}
	return nil
}

// Close waits for pending uploads, destroys the GPU copies and frees the
// store if the Mapper created it.
func (m *Mapper) Close() error {
	m.pending.Wait()

	m.mu.Lock()
	for id, mr := range m.mirrors {
		m.device.DestroyBuffer(mr.buf)
		delete(m.mirrors, id)
	}
	m.mu.Unlock()

	if m.ownsStore {
		return m.store.Close()
	}
	return nil
}

// Retain implements bufmap.Mapper. The first retain of a backing store
// creates its GPU copy and uploads the current contents.
func (m *Mapper) Retain(h bufmap.Handle) bufmap.MapperError {
	if err := m.store.Retain(h); err != nil {
		return mapperError(err)
	}
	info, _ := m.store.Info(h)
	data, _ := m.store.Bytes(h)

	m.mu.Lock()
	defer m.mu.Unlock()

	if mr, ok := m.mirrors[info.BackingStore]; ok {
		mr.refs++
		return bufmap.MapperErrorNone
	}

	size := alignSize(len(data))
	buf, err := m.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("bufmap_%v", h),
		Size:  size,
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		m.log().Warn("wgpu: create GPU copy failed", "handle", h, "size", size, "err", err)
		_ = m.store.Release(h)
		return bufmap.MapperErrorNoResources
	}
	mr := &mirror{buf: buf, size: size, refs: 1}
	if err := m.upload(mr, data); err != nil {
		m.log().Warn("wgpu: initial upload failed", "handle", h, "err", err)
		m.device.DestroyBuffer(buf)
		_ = m.store.Release(h)
		return bufmap.MapperErrorNoResources
	}
	m.mirrors[info.BackingStore] = mr
	m.log().Debug("wgpu: created GPU copy", "handle", h, "size", size)
	return bufmap.MapperErrorNone
}

// Release implements bufmap.Mapper. The last release of a backing store
// copies pending GPU writes back into memory and destroys the GPU copy.
func (m *Mapper) Release(h bufmap.Handle) bufmap.MapperError {
	info, err := m.store.Info(h)
	if err != nil {
		return mapperError(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mr := m.mirrors[info.BackingStore]
	if mr != nil && mr.refs == 1 && mr.gpuWritten {
		if data, err := m.store.Bytes(h); err == nil {
			if err := m.readback(mr, data); err != nil {
				m.log().Warn("wgpu: final readback failed", "handle", h, "err", err)
			}
		}
	}
	if err := m.store.Release(h); err != nil {
		return mapperError(err)
	}
	if mr != nil {
		mr.refs--
		if mr.refs == 0 {
			m.device.DestroyBuffer(mr.buf)
			delete(m.mirrors, info.BackingStore)
		}
	}
	return bufmap.MapperErrorNone
}

// GPUBuffer returns the GPU copy of a registered buffer. Work that writes it
// must be followed by MarkGPUWritten.
func (m *Mapper) GPUBuffer(h bufmap.Handle) (hal.Buffer, error) {
	mr := m.mirrorOf(h)
	if mr == nil {
		return nil, fmt.Errorf("wgpu: %v: %w", h, ErrNotRegistered)
	}
	return mr.buf, nil
}

// MarkGPUWritten records that the GPU copy of h has been written. The next
// lock that reads on the CPU copies it back into memory.
func (m *Mapper) MarkGPUWritten(h bufmap.Handle) error {
	mr := m.mirrorOf(h)
	if mr == nil {
		return fmt.Errorf("wgpu: %v: %w", h, ErrNotRegistered)
	}
	m.mu.Lock()
	mr.gpuWritten = true
	m.mu.Unlock()
	return nil
}

func (m *Mapper) info(h bufmap.Handle) store.Info {
	info, _ := m.store.Info(h)
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

// Lock implements bufmap.Mapper.
func (m *Mapper) Lock(h bufmap.Handle, producer, consumer uint64, region bufmap.Rect, acquire *fence.Fence) ([]byte, bufmap.MapperError) {
	if e := m.acquire(h, acquire); e != bufmap.MapperErrorNone {
		return nil, e
	}
	data, err := m.store.Lock(h, producer, consumer, region)
	if err != nil {
		return nil, mapperError(err)
	}
	if e := m.download(h, usageOf(producer, consumer), data); e != bufmap.MapperErrorNone {
		return nil, e
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
	data, _ := m.store.Bytes(h)
	if e := m.download(h, usageOf(producer, consumer), data); e != bufmap.MapperErrorNone {
		return bufmap.FlexLayout{}, e
	}
	return layout, bufmap.MapperErrorNone
}

// download copies GPU writes into data when the lock reads on the CPU and
// marks the GPU copy stale when it writes. On failure the buffer is unlocked.
func (m *Mapper) download(h bufmap.Handle, usage bufmap.Usage, data []byte) bufmap.MapperError {
	mr := m.mirrorOf(h)
	if mr == nil {
		return bufmap.MapperErrorNone
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if usage.CPUWrite() {
		mr.dirty = true
	}
	if !usage.CPURead() || !mr.gpuWritten {
		return bufmap.MapperErrorNone
	}
	if err := m.readback(mr, data); err != nil {
		m.log().Warn("wgpu: readback failed", "handle", h, "err", err)
		_ = m.store.Unlock(h)
		return bufmap.MapperErrorNoResources
	}
	mr.gpuWritten = false
	return bufmap.MapperErrorNone
}

// Unlock implements bufmap.Mapper. CPU writes are uploaded to the GPU copy
// and the returned release fence signals when the upload has completed.
// Without writes there is nothing to wait for and no fence is returned.
func (m *Mapper) Unlock(h bufmap.Handle) (*fence.Fence, bufmap.MapperError) {
	if err := m.store.Unlock(h); err != nil {
		return nil, mapperError(err)
	}
	mr := m.mirrorOf(h)
	if mr == nil {
		return nil, bufmap.MapperErrorNone
	}
	data, _ := m.store.Bytes(h)

	m.mu.Lock()
	if !mr.dirty {
		m.mu.Unlock()
		return nil, bufmap.MapperErrorNone
	}
	err := m.upload(mr, data)
	if err == nil {
		mr.dirty = false
		mr.gpuWritten = false
	}
	m.mu.Unlock()
	if err != nil {
		m.log().Warn("wgpu: upload failed", "handle", h, "err", err)
		return nil, bufmap.MapperErrorNoResources
	}

	// Pending writes are flushed by the next submission.
	idx, err := m.queue.Submit(nil)
	if err != nil {
		m.log().Warn("wgpu: submit failed", "handle", h, "err", err)
		return nil, bufmap.MapperErrorNoResources
	}

	release, sig, err := fence.New()
	if err != nil {
		// Without a release fence the caller cannot wait, so wait here.
		m.waitGPU(h, idx)
		return nil, bufmap.MapperErrorNone
	}
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.waitGPU(h, idx)
		if err := sig.Signal(); err != nil {
			m.log().Warn("wgpu: signaling release fence failed", "handle", h, "err", err)
		}
	}()
	return release, bufmap.MapperErrorNone
}

// upload writes data into the GPU copy. Callers hold m.mu.
func (m *Mapper) upload(mr *mirror, data []byte) error {
	buf := make([]byte, mr.size)
	copy(buf, data)
	return m.queue.WriteBuffer(mr.buf, 0, buf)
}

// readback copies the GPU copy through a staging buffer into data. Callers
// hold m.mu.
func (m *Mapper) readback(mr *mirror, data []byte) error {
	staging, err := m.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "bufmap_staging",
		Size:  mr.size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer m.device.DestroyBuffer(staging)

	encoder, err := m.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: "bufmap_readback"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	defer encoder.Destroy()
	if err := encoder.BeginEncoding("bufmap_readback"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	encoder.CopyBufferToBuffer(mr.buf, staging, []hal.BufferCopy{
		{SrcOffset: 0, DstOffset: 0, Size: mr.size},
	})
	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		return fmt.Errorf("end encoding: %w", err)
	}
	defer m.device.FreeCommandBuffer(cmdBuf)

	idx, err := m.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if err := m.waitSubmission(idx); err != nil {
		return err
	}

	mapping, err := m.device.MapBuffer(staging, 0, mr.size)
	if err != nil {
		return fmt.Errorf("map staging buffer: %w", err)
	}
	copy(data, unsafe.Slice((*byte)(mapping.Ptr), mr.size)) //nolint:gosec // mapping covers mr.size bytes
	if err := m.device.UnmapBuffer(staging); err != nil {
		return fmt.Errorf("unmap staging buffer: %w", err)
	}
	return nil
}

// waitSubmission blocks until the queue has completed submission idx.
func (m *Mapper) waitSubmission(idx uint64) error {
	deadline := time.Now().Add(submitTimeout)
	for m.queue.PollCompleted() < idx {
		if time.Now().After(deadline) {
			return fmt.Errorf("submission %d not completed after %v", idx, submitTimeout)
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// waitGPU waits for an upload submission and logs when it does not complete.
func (m *Mapper) waitGPU(h bufmap.Handle, idx uint64) {
	if err := m.waitSubmission(idx); err != nil {
		m.log().Warn("wgpu: waiting for upload failed", "handle", h, "err", err)
	}
}

func (m *Mapper) mirrorOf(h bufmap.Handle) *mirror {
	info, err := m.store.Info(h)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirrors[info.BackingStore]
}

// acquire waits for and consumes the acquire fence.
func (m *Mapper) acquire(h bufmap.Handle, f *fence.Fence) bufmap.MapperError {
	werr := f.Wait(-1)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		m.log().Warn("wgpu: acquire fence failed", "handle", h, "err", err)
		return bufmap.MapperErrorBadValue
	}
	return bufmap.MapperErrorNone
}

// usageOf returns the CPU access requested by a lock. The modern usage
// vocabulary keeps the CPU bits where Usage has them.
func usageOf(producer, consumer uint64) bufmap.Usage {
	return bufmap.Usage(uint32(producer|consumer)) & bufmap.UsageSWReadWriteMask
}

// alignSize rounds n up to the copy alignment of 4 bytes.
func alignSize(n int) uint64 {
	const copyAlignment = 4
	if n < copyAlignment {
		return copyAlignment
	}
	return uint64(n+copyAlignment-1) &^ (copyAlignment - 1)
}

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
