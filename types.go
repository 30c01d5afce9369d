package bufmap

import "fmt"

// Handle identifies a graphics buffer owned by someone else, usually another
// process. BufferMapper never allocates or frees the buffer behind a Handle;
// it only registers interest in it with the active backend.
type Handle uint64

// NoHandle is the zero Handle. No backend ever hands it out.
const NoHandle Handle = 0

// String implements fmt.Stringer.
func (h Handle) String() string {
	return fmt.Sprintf("%#x", uint64(h))
}

// Rect is the access region of a lock, in pixels.
//
// Width and Height must not be negative. A zero-sized region is valid: the
// lock still succeeds and the mapping is usable for zero bytes.
type Rect struct {
	Left, Top     int32
	Width, Height int32
}

// R returns the region with its top-left corner at (left, top) and the given size.
func R(left, top, width, height int32) Rect {
	return Rect{Left: left, Top: top, Width: width, Height: height}
}

// Empty reports whether the region covers no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Valid reports whether the region has a non-negative size.
func (r Rect) Valid() bool {
	return r.Width >= 0 && r.Height >= 0
}

// String implements fmt.Stringer.
func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.Left, r.Top, r.Width, r.Height)
}

// YCbCr is a CPU view of a locked three-plane YCbCr buffer.
//
// Y, Cb and Cr start at the top-left sample of the locked region in their
// plane. Strides are in bytes. For semi-planar layouts Cb and Cr alias the
// same interleaved memory and ChromaStep is 2.
type YCbCr struct {
	Y  []byte
	Cb []byte
	Cr []byte

	// YStride is the distance between luma rows.
	YStride int

	// CStride is the distance between chroma rows, shared by Cb and Cr.
	CStride int

	// ChromaStep is the distance between horizontally adjacent chroma
	// samples, shared by Cb and Cr.
	ChromaStep int
}
