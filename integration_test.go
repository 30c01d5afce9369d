package bufmap_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/bufmap"
	"github.com/gogpu/bufmap/backend/legacy"
	"github.com/gogpu/bufmap/backend/soft"
	"github.com/gogpu/bufmap/fence"
)

func newSoft(t *testing.T) (*bufmap.BufferMapper, *soft.Mapper) {
	t.Helper()
	backend := soft.New()
	m, err := bufmap.New(
		bufmap.WithMapper(soft.Name, func() (bufmap.Mapper, error) { return backend, nil }),
		bufmap.WithoutRegistry(),
	)
	if err != nil {
		t.Fatalf("bufmap.New() = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, backend
}

func newLegacy(t *testing.T, opts ...legacy.Option) (*bufmap.BufferMapper, *legacy.Device) {
	t.Helper()
	backend := legacy.New(opts...)
	m, err := bufmap.New(
		bufmap.WithDevice(legacy.Name, func() (bufmap.Device, error) { return backend, nil }),
		bufmap.WithoutRegistry(),
	)
	if err != nil {
		t.Fatalf("bufmap.New() = %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, backend
}

func TestRegisteredBackends(t *testing.T) {
	m, err := bufmap.New()
	if err != nil {
		t.Fatalf("bufmap.New() = %v", err)
	}
	defer m.Close()
	if m.BackendName() != soft.Name || !m.UsesModernBackend() {
		t.Errorf("BackendName() = %q, want the soft backend", m.BackendName())
	}
}

func TestSoftRoundTrip(t *testing.T) {
	m, backend := newSoft(t)

	h, err := backend.Allocate(8, 4, bufmap.PixelFormatRGBA8888, bufmap.UsageSWReadOften|bufmap.UsageSWWriteOften)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Lock(h, bufmap.UsageSWWriteOften, bufmap.R(0, 0, 8, 4)); !errors.Is(err, bufmap.ErrBadHandle) {
		t.Fatalf("Lock() before RegisterBuffer = %v, want ErrBadHandle", err)
	}
	if err := m.RegisterBuffer(h); err != nil {
		t.Fatalf("RegisterBuffer() = %v", err)
	}
	defer m.UnregisterBuffer(h)

	data, err := m.Lock(h, bufmap.UsageSWWriteOften, bufmap.R(0, 0, 8, 4))
	if err != nil {
		t.Fatalf("Lock() = %v", err)
	}
	copy(data, "pixels")
	if err := m.Unlock(h); err != nil {
		t.Fatalf("Unlock() = %v", err)
	}

	data, err = m.Lock(h, bufmap.UsageSWReadOften, bufmap.R(0, 0, 1, 1))
	if err != nil {
		t.Fatalf("Lock() = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("pixels")) {
		t.Error("contents lost between locks")
	}
	if err := m.Unlock(h); err != nil {
		t.Fatalf("Unlock() = %v", err)
	}

	// A second unlock has no matching lock.
	if err := m.Unlock(h); bufmap.StatusOf(err) != bufmap.StatusOther {
		t.Errorf("double Unlock() = %v, want StatusOther", err)
	}
}

func TestSoftOutOfBoundsRegion(t *testing.T) {
	m, backend := newSoft(t)
	h, _ := backend.Allocate(4, 4, bufmap.PixelFormatRGBA8888, 0)
	if err := m.RegisterBuffer(h); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Lock(h, bufmap.UsageSWReadOften, bufmap.R(2, 2, 4, 4)); bufmap.StatusOf(err) != bufmap.StatusOther {
		t.Errorf("Lock() = %v, want StatusOther", err)
	}
}

func TestSoftLockYCbCr(t *testing.T) {
	m, backend := newSoft(t)

	tests := []struct {
		format bufmap.PixelFormat
		step   int
		want   bufmap.Status
	}{
		{bufmap.PixelFormatYCbCr420888, 1, bufmap.StatusOK},
		{bufmap.PixelFormatYV12, 1, bufmap.StatusOK},
		{bufmap.PixelFormatYCbCr420SP, 2, bufmap.StatusOK},
		{bufmap.PixelFormatYCrCb420SP, 2, bufmap.StatusOK},
		{bufmap.PixelFormatYCbCr422I, 0, bufmap.StatusUnsupported},
		{bufmap.PixelFormatY8, 0, bufmap.StatusUnsupported},
		{bufmap.PixelFormatRGBA8888, 0, bufmap.StatusUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			h, err := backend.Allocate(32, 32, tt.format, bufmap.UsageSWReadOften)
			if err != nil {
				t.Fatal(err)
			}
			defer backend.Free(h)
			if err := m.RegisterBuffer(h); err != nil {
				t.Fatal(err)
			}
			defer m.UnregisterBuffer(h)

			ycbcr, err := m.LockYCbCr(h, bufmap.UsageSWReadOften, bufmap.R(0, 0, 32, 32))
			if got := bufmap.StatusOf(err); got != tt.want {
				t.Fatalf("LockYCbCr() = %v, want %v", err, tt.want)
			}
			if err != nil {
				// The buffer must have been unlocked again.
				if _, err := m.Lock(h, bufmap.UsageSWReadOften, bufmap.R(0, 0, 1, 1)); err != nil {
					t.Fatalf("Lock() after rejected LockYCbCr = %v", err)
				}
				if err := m.Unlock(h); err != nil {
					t.Fatal(err)
				}
				return
			}
			if ycbcr.ChromaStep != tt.step || ycbcr.YStride != 32 {
				t.Errorf("ycbcr step=%d ystride=%d", ycbcr.ChromaStep, ycbcr.YStride)
			}
			if err := m.Unlock(h); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestLegacyPlainFlex(t *testing.T) {
	m, backend := newLegacy(t)
	h, _ := backend.Allocate(16, 16, bufmap.PixelFormatYCbCr420SP, 0, bufmap.ConsumerUsageCPURead)
	if err := m.RegisterBuffer(h); err != nil {
		t.Fatal(err)
	}

	ycbcr, err := m.LockYCbCr(h, bufmap.UsageSWReadOften, bufmap.R(2, 2, 4, 4))
	if err != nil {
		t.Fatalf("LockYCbCr() = %v", err)
	}
	if ycbcr.ChromaStep != 2 {
		t.Errorf("ChromaStep = %d, want 2", ycbcr.ChromaStep)
	}
	if err := m.Unlock(h); err != nil {
		t.Fatalf("Unlock() = %v", err)
	}

	// Y8 has a single flex plane.
	y8, _ := backend.Allocate(8, 8, bufmap.PixelFormatY8, 0, 0)
	m.RegisterBuffer(y8)
	if _, err := m.LockYCbCr(y8, bufmap.UsageSWReadOften, bufmap.R(0, 0, 8, 8)); bufmap.StatusOf(err) != bufmap.StatusUnsupported {
		t.Errorf("LockYCbCr(Y8) = %v, want StatusUnsupported", err)
	}
}

func TestLegacyAdapter(t *testing.T) {
	m, backend := newLegacy(t, legacy.WithAdapter(), legacy.WithReleaseFences())

	h, err := backend.Allocate(16, 16, bufmap.PixelFormatYV12, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RegisterBuffer(h); !errors.Is(err, bufmap.ErrBadHandle) {
		t.Errorf("RegisterBuffer() on adapter = %v, want ErrBadHandle", err)
	}

	acquire, sig, err := fence.New()
	if err != nil {
		t.Skipf("fences not available: %v", err)
	}
	_ = sig.Signal()
	if _, err := m.LockAsyncYCbCr(h, bufmap.UsageSWReadOften, bufmap.R(0, 0, 16, 16), acquire); err != nil {
		t.Fatalf("LockAsyncYCbCr() = %v", err)
	}
	release, err := m.UnlockAsync(h)
	if err != nil {
		t.Fatalf("UnlockAsync() = %v", err)
	}
	defer release.Close()
	if !release.Signaled() {
		t.Error("adapter release fence should already be signaled")
	}
}

func TestLegacyMetadata(t *testing.T) {
	m, backend := newLegacy(t)
	h, _ := backend.Allocate(10, 6, bufmap.PixelFormatRGB565, bufmap.ProducerUsageCPUWrite, bufmap.ConsumerUsageGPUTexture)

	if _, _, err := m.Dimensions(h); !errors.Is(err, bufmap.ErrBadHandle) {
		t.Errorf("Dimensions() before RegisterBuffer = %v, want ErrBadHandle", err)
	}
	m.RegisterBuffer(h)
	w, ht, err := m.Dimensions(h)
	if err != nil || w != 10 || ht != 6 {
		t.Errorf("Dimensions() = %d, %d, %v", w, ht, err)
	}
	if s, _ := m.Stride(h); s != 16 {
		t.Errorf("Stride() = %d, want 16", s)
	}
	if u, _ := m.ConsumerUsage(h); u != uint64(bufmap.ConsumerUsageGPUTexture) {
		t.Errorf("ConsumerUsage() = %#x", u)
	}
}

func TestLockUsageReportedByGetters(t *testing.T) {
	const usage = bufmap.UsageSWReadOften | bufmap.UsageSWWriteRarely
	tests := []struct {
		name  string
		setup func(t *testing.T) (*bufmap.BufferMapper, bufmap.Handle)
	}{
		{"soft", func(t *testing.T) (*bufmap.BufferMapper, bufmap.Handle) {
			m, backend := newSoft(t)
			h, err := backend.Allocate(8, 8, bufmap.PixelFormatRGBA8888, 0)
			if err != nil {
				t.Fatal(err)
			}
			return m, h
		}},
		{"legacy", func(t *testing.T) (*bufmap.BufferMapper, bufmap.Handle) {
			m, backend := newLegacy(t)
			h, err := backend.Allocate(8, 8, bufmap.PixelFormatRGBA8888, 0, 0)
			if err != nil {
				t.Fatal(err)
			}
			return m, h
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, h := tt.setup(t)
			if err := m.RegisterBuffer(h); err != nil {
				t.Fatalf("RegisterBuffer() = %v", err)
			}
			defer m.UnregisterBuffer(h)

			if u, err := m.ProducerUsage(h); err != nil || u != 0 {
				t.Fatalf("ProducerUsage() before Lock = %#x, %v; want 0", u, err)
			}
			if _, err := m.Lock(h, usage, bufmap.R(0, 0, 8, 8)); err != nil {
				t.Fatalf("Lock() = %v", err)
			}
			defer m.Unlock(h)

			if u, err := m.ProducerUsage(h); err != nil || u != uint64(usage) {
				t.Errorf("ProducerUsage() = %#x, %v; want %#x", u, err, uint64(usage))
			}
			if u, err := m.ConsumerUsage(h); err != nil || u != uint64(usage) {
				t.Errorf("ConsumerUsage() = %#x, %v; want %#x", u, err, uint64(usage))
			}
		})
	}
}

func TestConcurrentLocks(t *testing.T) {
	m, backend := newSoft(t)

	const buffers = 16
	var g errgroup.Group
	for i := range buffers {
		g.Go(func() error {
			h, err := backend.Allocate(16, 16, bufmap.PixelFormatYCbCr420SP, bufmap.UsageSWWriteOften)
			if err != nil {
				return err
			}
			if err := m.RegisterBuffer(h); err != nil {
				return err
			}
			defer m.UnregisterBuffer(h)

			for range 10 {
				ycbcr, err := m.LockYCbCr(h, bufmap.UsageSWWriteOften, bufmap.R(0, 0, 16, 16))
				if err != nil {
					return fmt.Errorf("buffer %d: %w", i, err)
				}
				ycbcr.Y[0] = byte(i)
				if err := m.Unlock(h); err != nil {
					return fmt.Errorf("buffer %d: %w", i, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
