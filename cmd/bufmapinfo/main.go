// Command bufmapinfo allocates a YCbCr buffer, locks it through bufmap and
// prints the resolved three-plane view.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/gogpu/bufmap"
	"github.com/gogpu/bufmap/backend/legacy"
	"github.com/gogpu/bufmap/backend/soft"
)

var formats = map[string]bufmap.PixelFormat{
	"nv12": bufmap.PixelFormatYCbCr420SP,
	"nv21": bufmap.PixelFormatYCrCb420SP,
	"nv16": bufmap.PixelFormatYCbCr422SP,
	"yv12": bufmap.PixelFormatYV12,
	"i420": bufmap.PixelFormatYCbCr420888,
	"yuy2": bufmap.PixelFormatYCbCr422I,
	"y8":   bufmap.PixelFormatY8,
}

// allocator is the part of a reference backend that creates buffers.
type allocator func(width, height uint32, format bufmap.PixelFormat) (bufmap.Handle, error)

func main() {
	var (
		width   = flag.Int("width", 64, "buffer width")
		height  = flag.Int("height", 48, "buffer height")
		format  = flag.String("format", "nv12", "pixel format (nv12, nv21, nv16, yv12, i420, yuy2, y8)")
		useOld  = flag.Bool("legacy", false, "force the legacy backend generation")
		adapter = flag.Bool("adapter", false, "run the legacy backend in adapter mode (implies -legacy)")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		bufmap.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	pf, ok := formats[strings.ToLower(*format)]
	if !ok {
		log.Fatalf("Unknown format %q", *format)
	}

	m, alloc, err := open(*useOld || *adapter, *adapter)
	if err != nil {
		log.Fatalf("Failed to open mapper: %v", err)
	}
	defer m.Close()

	h, err := alloc(uint32(*width), uint32(*height), pf)
	if err != nil {
		log.Fatalf("Failed to allocate: %v", err)
	}
	if err := m.RegisterBuffer(h); err != nil && !*adapter {
		log.Fatalf("Failed to register %v: %v", h, err)
	}

	printInfo(m, h)

	bounds := bufmap.R(0, 0, int32(*width), int32(*height))
	ycbcr, err := m.LockYCbCr(h, bufmap.UsageSWReadOften|bufmap.UsageSWWriteOften, bounds)
	if err != nil {
		log.Fatalf("LockYCbCr failed (%v): %v", bufmap.StatusOf(err), err)
	}
	fmt.Printf("ycbcr:    y=%d bytes cb=%d bytes cr=%d bytes\n", len(ycbcr.Y), len(ycbcr.Cb), len(ycbcr.Cr))
	fmt.Printf("strides:  ystride=%d cstride=%d chroma_step=%d\n", ycbcr.YStride, ycbcr.CStride, ycbcr.ChromaStep)

	if err := m.Unlock(h); err != nil {
		log.Fatalf("Unlock failed: %v", err)
	}
}

// open creates a BufferMapper and returns the allocator of its backend.
func open(useLegacy, adapter bool) (*bufmap.BufferMapper, allocator, error) {
	if !useLegacy {
		// Registered soft mappers share the store behind soft.Default.
		backend := soft.Default()
		m, err := bufmap.New()
		if err != nil {
			return nil, nil, err
		}
		return m, func(w, h uint32, f bufmap.PixelFormat) (bufmap.Handle, error) {
			return backend.Allocate(w, h, f, bufmap.UsageSWReadOften|bufmap.UsageSWWriteOften)
		}, nil
	}

	var opts []legacy.Option
	if adapter {
		opts = append(opts, legacy.WithAdapter(), legacy.WithReleaseFences())
	}
	backend := legacy.New(opts...)
	m, err := bufmap.New(
		bufmap.WithDevice(legacy.Name, func() (bufmap.Device, error) { return backend, nil }),
		bufmap.WithoutRegistry(),
	)
	if err != nil {
		return nil, nil, err
	}
	return m, func(w, h uint32, f bufmap.PixelFormat) (bufmap.Handle, error) {
		return backend.Allocate(w, h, f, bufmap.ProducerUsageCPUWrite, bufmap.ConsumerUsageCPURead)
	}, nil
}

func printInfo(m *bufmap.BufferMapper, h bufmap.Handle) {
	generation := "legacy"
	if m.UsesModernBackend() {
		generation = "modern"
	}
	fmt.Printf("backend:  %s (%s)\n", m.BackendName(), generation)

	w, ht, err := m.Dimensions(h)
	if err != nil {
		log.Fatalf("Dimensions failed: %v", err)
	}
	f, _ := m.Format(h)
	stride, _ := m.Stride(h)
	store, _ := m.BackingStore(h)
	fmt.Printf("buffer:   %v %dx%d %v stride=%d store=%#x\n", h, w, ht, f, stride, store)
}
