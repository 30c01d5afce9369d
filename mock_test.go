package bufmap

import (
	"log/slog"
	"sync"

	"github.com/gogpu/bufmap/fence"
)

// mockMapper is a scripted Mapper that records the calls it receives.
type mockMapper struct {
	mu    sync.Mutex
	calls []string

	retainErr  MapperError
	releaseErr MapperError
	lockErr    MapperError
	unlockErr  MapperError

	data    []byte
	layout  FlexLayout
	release func() *fence.Fence

	acquired []*fence.Fence
	logger   *slog.Logger
	closed   bool
}

func (m *mockMapper) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *mockMapper) called(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockMapper) consume(f *fence.Fence) {
	m.mu.Lock()
	m.acquired = append(m.acquired, f)
	m.mu.Unlock()
	_ = f.Close()
}

func (m *mockMapper) SetLogger(l *slog.Logger) { m.logger = l }

func (m *mockMapper) Close() error {
	m.closed = true
	return nil
}

func (m *mockMapper) Retain(Handle) MapperError  { m.record("Retain"); return m.retainErr }
func (m *mockMapper) Release(Handle) MapperError { m.record("Release"); return m.releaseErr }

func (m *mockMapper) Dimensions(Handle) (uint32, uint32) { return 64, 32 }
func (m *mockMapper) Format(Handle) PixelFormat          { return PixelFormatYCbCr420SP }
func (m *mockMapper) LayerCount(Handle) uint32           { return 1 }
func (m *mockMapper) ProducerUsage(Handle) uint64        { return 0x30 }
func (m *mockMapper) ConsumerUsage(Handle) uint64        { return 0x3 }
func (m *mockMapper) BackingStore(Handle) uint64         { return 0xabc }
func (m *mockMapper) Stride(Handle) uint32               { return 64 }

func (m *mockMapper) Lock(_ Handle, _, _ uint64, _ Rect, acquire *fence.Fence) ([]byte, MapperError) {
	m.record("Lock")
	m.consume(acquire)
	if m.lockErr != MapperErrorNone {
		return nil, m.lockErr
	}
	return m.data, MapperErrorNone
}

func (m *mockMapper) LockFlex(_ Handle, _, _ uint64, _ Rect, acquire *fence.Fence) (FlexLayout, MapperError) {
	m.record("LockFlex")
	m.consume(acquire)
	if m.lockErr != MapperErrorNone {
		return FlexLayout{}, m.lockErr
	}
	return m.layout, MapperErrorNone
}

func (m *mockMapper) Unlock(Handle) (*fence.Fence, MapperError) {
	m.record("Unlock")
	var f *fence.Fence
	if m.release != nil {
		f = m.release()
	}
	return f, m.unlockErr
}

// mockDevice is a scripted Device that records the calls it receives.
type mockDevice struct {
	mockMapper

	caps      map[Capability]bool
	deviceErr DeviceError
	planes    uint32
	planesErr DeviceError
	ycbcr     YCbCr
}

func (d *mockDevice) HasCapability(c Capability) bool { return d.caps[c] }

func (d *mockDevice) Retain(Handle) DeviceError  { d.record("Retain"); return d.deviceErr }
func (d *mockDevice) Release(Handle) DeviceError { d.record("Release"); return d.deviceErr }

func (d *mockDevice) Dimensions(Handle) (uint32, uint32, DeviceError) {
	return 64, 32, d.deviceErr
}
func (d *mockDevice) Format(Handle) (PixelFormat, DeviceError) {
	return PixelFormatYCbCr420SP, d.deviceErr
}
func (d *mockDevice) LayerCount(Handle) (uint32, DeviceError)           { return 1, d.deviceErr }
func (d *mockDevice) ProducerUsage(Handle) (ProducerUsage, DeviceError) { return 0x20, d.deviceErr }
func (d *mockDevice) ConsumerUsage(Handle) (ConsumerUsage, DeviceError) { return 0x2, d.deviceErr }
func (d *mockDevice) BackingStore(Handle) (uint64, DeviceError)         { return 0xdef, d.deviceErr }
func (d *mockDevice) Stride(Handle) (uint32, DeviceError)               { return 64, d.deviceErr }

func (d *mockDevice) Lock(_ Handle, _ ProducerUsage, _ ConsumerUsage, _ Rect, acquire *fence.Fence) ([]byte, DeviceError) {
	d.record("Lock")
	d.consume(acquire)
	return d.data, d.deviceErr
}

func (d *mockDevice) LockYCbCr(_ Handle, _ ProducerUsage, _ ConsumerUsage, _ Rect, acquire *fence.Fence) (YCbCr, DeviceError) {
	d.record("LockYCbCr")
	d.consume(acquire)
	return d.ycbcr, d.deviceErr
}

func (d *mockDevice) NumFlexPlanes(Handle) (uint32, DeviceError) {
	d.record("NumFlexPlanes")
	return d.planes, d.planesErr
}

func (d *mockDevice) LockFlex(_ Handle, _ ProducerUsage, _ ConsumerUsage, _ Rect, layout *FlexLayout, acquire *fence.Fence) DeviceError {
	d.record("LockFlex")
	d.consume(acquire)
	if d.deviceErr != DeviceErrorNone {
		return d.deviceErr
	}
	layout.Format = d.layout.Format
	layout.Planes = layout.Planes[:copy(layout.Planes, d.layout.Planes)]
	return DeviceErrorNone
}

func (d *mockDevice) Unlock(Handle) (*fence.Fence, DeviceError) {
	d.record("Unlock")
	var f *fence.Fence
	if d.release != nil {
		f = d.release()
	}
	return f, d.deviceErr
}

// newModern returns a BufferMapper bound to m without consulting the registry.
func newModern(m *mockMapper) *BufferMapper {
	return &BufferMapper{name: "mock", mapper: m}
}

// newLegacy returns a BufferMapper bound to d without consulting the registry.
func newLegacy(d *mockDevice) *BufferMapper {
	return &BufferMapper{name: "mock-legacy", device: d}
}

// nv12Layout returns a valid NV12 flex layout over a 64x32 buffer.
func nv12Layout() FlexLayout {
	mem := make([]byte, 64*32*3/2)
	c := 64 * 32
	return FlexLayout{
		Format: FlexFormatYCbCr,
		Planes: []FlexPlane{
			{TopLeft: mem[:c], Component: FlexComponentY, BitsPerComponent: 8, BitsUsed: 8, HIncrement: 1, VIncrement: 64, HSubsampling: 1, VSubsampling: 1},
			{TopLeft: mem[c:], Component: FlexComponentCb, BitsPerComponent: 8, BitsUsed: 8, HIncrement: 2, VIncrement: 64, HSubsampling: 2, VSubsampling: 2},
			{TopLeft: mem[c+1:], Component: FlexComponentCr, BitsPerComponent: 8, BitsUsed: 8, HIncrement: 2, VIncrement: 64, HSubsampling: 2, VSubsampling: 2},
		},
	}
}
