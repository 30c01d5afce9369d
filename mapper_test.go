package bufmap

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/bufmap/fence"
)

func newFence(t *testing.T) (*fence.Fence, *fence.Signaler) {
	t.Helper()
	f, s, err := fence.New()
	if err != nil {
		t.Skipf("fences not available: %v", err)
	}
	return f, s
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	orig := Logger()
	t.Cleanup(func() { SetLogger(orig) })
	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return &buf
}

func TestRegisterBuffer(t *testing.T) {
	tests := []struct {
		name    string
		modern  MapperError
		legacy  DeviceError
		want    Status
		wantErr error
	}{
		{"ok", MapperErrorNone, DeviceErrorNone, StatusOK, nil},
		{"bad handle", MapperErrorBadBuffer, DeviceErrorBadHandle, StatusBadHandle, ErrBadHandle},
		{"no resources", MapperErrorNoResources, DeviceErrorNoResources, StatusNoResources, ErrNoResources},
		{"bad value", MapperErrorBadValue, DeviceErrorBadValue, StatusOther, ErrOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mm := &mockMapper{retainErr: tt.modern}
			err := newModern(mm).RegisterBuffer(1)
			if got := StatusOf(err); got != tt.want {
				t.Errorf("modern: status = %v, want %v", got, tt.want)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("modern: errors.Is(%v, %v) = false", err, tt.wantErr)
			}
			if mm.called("Retain") != 1 {
				t.Error("modern: Retain not called once")
			}

			md := &mockDevice{deviceErr: tt.legacy}
			err = newLegacy(md).RegisterBuffer(1)
			if got := StatusOf(err); got != tt.want {
				t.Errorf("legacy: status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRegisterBufferOnAdapterLogsError(t *testing.T) {
	logs := captureLogs(t)

	md := &mockDevice{
		deviceErr: DeviceErrorBadHandle,
		caps:      map[Capability]bool{CapabilityOnAdapter: true},
	}
	err := newLegacy(md).RegisterBuffer(7)
	if !errors.Is(err, ErrBadHandle) {
		t.Fatalf("RegisterBuffer() = %v, want ErrBadHandle", err)
	}
	if !strings.Contains(logs.String(), "level=ERROR") || !strings.Contains(logs.String(), "adapter") {
		t.Errorf("expected an error log about the adapter device, got:\n%s", logs.String())
	}
}

func TestRegisterBufferBadHandleWithoutAdapter(t *testing.T) {
	logs := captureLogs(t)

	md := &mockDevice{deviceErr: DeviceErrorBadHandle}
	_ = newLegacy(md).RegisterBuffer(7)
	if strings.Contains(logs.String(), "level=ERROR") {
		t.Errorf("unexpected error log without the adapter capability:\n%s", logs.String())
	}
}

func TestUnregisterBuffer(t *testing.T) {
	mm := &mockMapper{releaseErr: MapperErrorBadBuffer}
	if err := newModern(mm).UnregisterBuffer(3); StatusOf(err) != StatusBadHandle {
		t.Errorf("UnregisterBuffer() = %v, want BadHandle", err)
	}
	md := &mockDevice{}
	if err := newLegacy(md).UnregisterBuffer(3); err != nil {
		t.Errorf("UnregisterBuffer() = %v", err)
	}
	if md.called("Release") != 1 {
		t.Error("Release not called")
	}
}

func TestGetters(t *testing.T) {
	t.Run("modern", func(t *testing.T) {
		m := newModern(&mockMapper{})
		w, h, err := m.Dimensions(1)
		if err != nil || w != 64 || h != 32 {
			t.Errorf("Dimensions() = %d, %d, %v", w, h, err)
		}
		if f, err := m.Format(1); err != nil || f != PixelFormatYCbCr420SP {
			t.Errorf("Format() = %v, %v", f, err)
		}
		if s, err := m.BackingStore(1); err != nil || s != 0xabc {
			t.Errorf("BackingStore() = %#x, %v", s, err)
		}
		if u, err := m.ProducerUsage(1); err != nil || u != 0x30 {
			t.Errorf("ProducerUsage() = %#x, %v", u, err)
		}
	})

	t.Run("legacy error", func(t *testing.T) {
		m := newLegacy(&mockDevice{deviceErr: DeviceErrorBadHandle})
		getters := map[string]func() error{
			"Dimensions":    func() error { _, _, err := m.Dimensions(1); return err },
			"Format":        func() error { _, err := m.Format(1); return err },
			"LayerCount":    func() error { _, err := m.LayerCount(1); return err },
			"ProducerUsage": func() error { _, err := m.ProducerUsage(1); return err },
			"ConsumerUsage": func() error { _, err := m.ConsumerUsage(1); return err },
			"BackingStore":  func() error { _, err := m.BackingStore(1); return err },
			"Stride":        func() error { _, err := m.Stride(1); return err },
		}
		for name, get := range getters {
			if err := get(); StatusOf(err) != StatusBadHandle {
				t.Errorf("%s() = %v, want BadHandle", name, err)
			}
		}
	})

	t.Run("legacy ok", func(t *testing.T) {
		m := newLegacy(&mockDevice{})
		if u, err := m.ConsumerUsage(1); err != nil || u != 0x2 {
			t.Errorf("ConsumerUsage() = %#x, %v", u, err)
		}
		if s, err := m.Stride(1); err != nil || s != 64 {
			t.Errorf("Stride() = %d, %v", s, err)
		}
	})
}

func TestLock(t *testing.T) {
	data := make([]byte, 16)
	mm := &mockMapper{data: data}
	m := newModern(mm)

	got, err := m.Lock(1, UsageSWWriteOften, R(0, 0, 2, 2))
	if err != nil {
		t.Fatalf("Lock() = %v", err)
	}
	if &got[0] != &data[0] {
		t.Error("Lock() should return the backend mapping")
	}

	mm.lockErr = MapperErrorUnsupported
	if _, err := m.Lock(1, UsageSWWriteOften, R(0, 0, 2, 2)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Lock() = %v, want ErrUnsupported", err)
	}
}

func TestLockZeroSizedRegion(t *testing.T) {
	mm := &mockMapper{data: make([]byte, 4)}
	if _, err := newModern(mm).Lock(1, UsageSWReadOften, R(0, 0, 0, 0)); err != nil {
		t.Fatalf("Lock(empty) = %v", err)
	}
	if mm.called("Lock") != 1 {
		t.Error("an empty region should reach the backend")
	}
}

func TestLockNegativeRegion(t *testing.T) {
	acquire, _ := newFence(t)
	mm := &mockMapper{}

	_, err := newModern(mm).LockAsync(1, 0, 0, R(0, 0, -1, 4), acquire)
	if StatusOf(err) != StatusOther {
		t.Errorf("LockAsync() = %v, want StatusOther", err)
	}
	if mm.called("Lock") != 0 {
		t.Error("negative region should not reach the backend")
	}
	if acquire.Valid() {
		t.Error("acquire fence should be closed on rejection")
	}

	acquire, _ = newFence(t)
	if _, err := newModern(mm).LockAsyncYCbCr(1, 0, R(0, 0, 1, -1), acquire); StatusOf(err) != StatusOther {
		t.Errorf("LockAsyncYCbCr() = %v, want StatusOther", err)
	}
	if acquire.Valid() {
		t.Error("acquire fence should be closed on rejection")
	}
}

func TestLockAsyncPassesAcquireFence(t *testing.T) {
	acquire, _ := newFence(t)
	md := &mockDevice{}
	if _, err := newLegacy(md).LockAsync(1, 0x20, 0x2, R(0, 0, 1, 1), acquire); err != nil {
		t.Fatalf("LockAsync() = %v", err)
	}
	if len(md.acquired) != 1 || md.acquired[0] != acquire {
		t.Error("acquire fence not handed to the backend")
	}
}

func TestLockAsyncDoesNotWaitOnAcquire(t *testing.T) {
	acquire, sig := newFence(t)
	defer sig.Signal()
	mm := &mockMapper{data: make([]byte, 4)}

	done := make(chan error, 1)
	go func() {
		_, err := newModern(mm).LockAsync(1, 0x3, 0x3, R(0, 0, 1, 1), acquire)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("LockAsync() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("LockAsync waited for an unsignaled acquire fence")
	}
	if len(mm.acquired) != 1 || mm.acquired[0] != acquire {
		t.Error("acquire fence not handed to the backend")
	}
}

func TestLockYCbCrModern(t *testing.T) {
	mm := &mockMapper{layout: nv12Layout()}
	ycbcr, err := newModern(mm).LockYCbCr(1, UsageSWReadOften, R(0, 0, 64, 32))
	if err != nil {
		t.Fatalf("LockYCbCr() = %v", err)
	}
	if ycbcr.YStride != 64 || ycbcr.CStride != 64 || ycbcr.ChromaStep != 2 {
		t.Errorf("ycbcr = %+v", ycbcr)
	}
	if mm.called("Unlock") != 0 {
		t.Error("successful lock should not unlock")
	}
}

func TestLockYCbCrRejectedLayoutUnlocks(t *testing.T) {
	layout := nv12Layout()
	layout.Planes[0].BitsUsed = 10
	mm := &mockMapper{layout: layout}

	_, err := newModern(mm).LockYCbCr(1, UsageSWReadOften, R(0, 0, 64, 32))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("LockYCbCr() = %v, want ErrUnsupported", err)
	}
	var lerr *LayoutError
	if !errors.As(err, &lerr) || lerr.Plane != FlexComponentY {
		t.Errorf("error %v should carry the Y plane LayoutError", err)
	}
	if mm.called("Unlock") != 1 {
		t.Errorf("Unlock called %d times, want 1", mm.called("Unlock"))
	}
}

func TestLockYCbCrLegacyAdapter(t *testing.T) {
	want := YCbCr{YStride: 16, CStride: 8, ChromaStep: 1}
	md := &mockDevice{
		caps:  map[Capability]bool{CapabilityOnAdapter: true},
		ycbcr: want,
	}
	got, err := newLegacy(md).LockYCbCr(1, UsageSWReadOften, R(0, 0, 16, 16))
	if err != nil {
		t.Fatalf("LockYCbCr() = %v", err)
	}
	if got.YStride != want.YStride || got.CStride != want.CStride {
		t.Errorf("LockYCbCr() = %+v, want %+v", got, want)
	}
	if md.called("NumFlexPlanes") != 0 || md.called("LockFlex") != 0 {
		t.Error("adapter devices should not use the flex-plane API")
	}
}

func TestLockYCbCrLegacyFlex(t *testing.T) {
	md := &mockDevice{planes: 3}
	md.layout = nv12Layout()

	ycbcr, err := newLegacy(md).LockYCbCr(1, UsageSWReadOften, R(0, 0, 64, 32))
	if err != nil {
		t.Fatalf("LockYCbCr() = %v", err)
	}
	if ycbcr.ChromaStep != 2 || &ycbcr.Cr[0] != &ycbcr.Cb[1] {
		t.Errorf("unexpected NV12 view %+v", ycbcr)
	}
	if md.called("LockYCbCr") != 0 {
		t.Error("non-adapter devices should use the flex-plane API")
	}
}

func TestLockYCbCrLegacyTooFewPlanes(t *testing.T) {
	acquire, _ := newFence(t)
	md := &mockDevice{planes: 2}

	_, err := newLegacy(md).LockAsyncYCbCr(1, UsageSWReadOften, R(0, 0, 8, 8), acquire)
	if StatusOf(err) != StatusUnsupported {
		t.Fatalf("LockAsyncYCbCr() = %v, want StatusUnsupported", err)
	}
	if md.called("LockFlex") != 0 || md.called("Unlock") != 0 {
		t.Error("buffer should never have been locked")
	}
	if acquire.Valid() {
		t.Error("acquire fence should be closed")
	}
}

func TestLockYCbCrLegacyNumPlanesError(t *testing.T) {
	acquire, _ := newFence(t)
	md := &mockDevice{planesErr: DeviceErrorBadHandle}

	_, err := newLegacy(md).LockAsyncYCbCr(1, UsageSWReadOften, R(0, 0, 8, 8), acquire)
	if StatusOf(err) != StatusBadHandle {
		t.Fatalf("LockAsyncYCbCr() = %v, want StatusBadHandle", err)
	}
	if acquire.Valid() {
		t.Error("acquire fence should be closed")
	}
}

func TestLockYCbCrLegacyRejectedLayout(t *testing.T) {
	layout := nv12Layout()
	layout.Planes[2].VIncrement = 32
	md := &mockDevice{planes: 3}
	md.layout = layout

	_, err := newLegacy(md).LockYCbCr(1, UsageSWReadOften, R(0, 0, 64, 32))
	if StatusOf(err) != StatusUnsupported {
		t.Fatalf("LockYCbCr() = %v, want StatusUnsupported", err)
	}
	if md.called("Unlock") != 1 {
		t.Errorf("Unlock called %d times, want 1", md.called("Unlock"))
	}
}

func TestUnlockWaitsForReleaseFence(t *testing.T) {
	release, sig := newFence(t)
	mm := &mockMapper{release: func() *fence.Fence { return release }}

	signaled := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(signaled)
		_ = sig.Signal()
	}()

	if err := newModern(mm).Unlock(1); err != nil {
		t.Fatalf("Unlock() = %v", err)
	}
	select {
	case <-signaled:
	default:
		t.Error("Unlock returned before the release fence signaled")
	}
	if release.Valid() {
		t.Error("Unlock should close the release fence")
	}
}

func TestUnlockAsyncTransfersFence(t *testing.T) {
	release, sig := newFence(t)
	md := &mockDevice{}
	md.release = func() *fence.Fence { return release }

	got, err := newLegacy(md).UnlockAsync(1)
	if err != nil {
		t.Fatalf("UnlockAsync() = %v", err)
	}
	defer got.Close()
	if got != release {
		t.Error("UnlockAsync should hand over the backend's fence")
	}
	if got.Signaled() {
		t.Error("fence signaled early")
	}
	_ = sig.Signal()
	if err := got.Wait(time.Second); err != nil {
		t.Errorf("Wait() = %v", err)
	}
}

func TestUnlockAsyncErrorClosesFence(t *testing.T) {
	release, _ := newFence(t)
	mm := &mockMapper{
		unlockErr: MapperErrorBadValue,
		release:   func() *fence.Fence { return release },
	}

	got, err := newModern(mm).UnlockAsync(1)
	if StatusOf(err) != StatusOther {
		t.Errorf("UnlockAsync() = %v, want StatusOther", err)
	}
	if got != nil {
		t.Error("no fence should be returned on error")
	}
	if release.Valid() {
		t.Error("fence returned with an error should be closed")
	}
}

func TestUnlockWithoutFence(t *testing.T) {
	if err := newModern(&mockMapper{}).Unlock(1); err != nil {
		t.Errorf("Unlock() = %v", err)
	}
}

func TestFailedCallsAreLogged(t *testing.T) {
	logs := captureLogs(t)
	mm := &mockMapper{lockErr: MapperErrorNoResources}
	_, _ = newModern(mm).Lock(5, 0, R(0, 0, 1, 1))
	out := logs.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "NO_RESOURCES") {
		t.Errorf("expected a warning with the backend error, got:\n%s", out)
	}
}
