package bufmap

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// PixelFormat is a buffer pixel format code as reported by the backends.
type PixelFormat int32

// Pixel formats known to the reference backends.
const (
	PixelFormatRGBA8888              PixelFormat = 0x1
	PixelFormatRGBX8888              PixelFormat = 0x2
	PixelFormatRGB888                PixelFormat = 0x3
	PixelFormatRGB565                PixelFormat = 0x4
	PixelFormatBGRA8888              PixelFormat = 0x5
	PixelFormatYCbCr422SP            PixelFormat = 0x10 // NV16
	PixelFormatYCrCb420SP            PixelFormat = 0x11 // NV21
	PixelFormatYCbCr422I             PixelFormat = 0x14 // YUY2
	PixelFormatRGBAFP16              PixelFormat = 0x16
	PixelFormatRaw16                 PixelFormat = 0x20
	PixelFormatBlob                  PixelFormat = 0x21
	PixelFormatImplementationDefined PixelFormat = 0x22
	PixelFormatYCbCr420888           PixelFormat = 0x23
	PixelFormatYCbCr420SP            PixelFormat = 0x103 // NV12
	PixelFormatY8                    PixelFormat = 0x20203859
	PixelFormatY16                   PixelFormat = 0x20363159
	PixelFormatYV12                  PixelFormat = 0x32315659
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatRGBA8888:              "RGBA_8888",
	PixelFormatRGBX8888:              "RGBX_8888",
	PixelFormatRGB888:                "RGB_888",
	PixelFormatRGB565:                "RGB_565",
	PixelFormatBGRA8888:              "BGRA_8888",
	PixelFormatYCbCr422SP:            "YCbCr_422_SP",
	PixelFormatYCrCb420SP:            "YCrCb_420_SP",
	PixelFormatYCbCr422I:             "YCbCr_422_I",
	PixelFormatRGBAFP16:              "RGBA_FP16",
	PixelFormatRaw16:                 "RAW16",
	PixelFormatBlob:                  "BLOB",
	PixelFormatImplementationDefined: "IMPLEMENTATION_DEFINED",
	PixelFormatYCbCr420888:           "YCbCr_420_888",
	PixelFormatYCbCr420SP:            "YCbCr_420_SP",
	PixelFormatY8:                    "Y8",
	PixelFormatY16:                   "Y16",
	PixelFormatYV12:                  "YV12",
}

// String implements fmt.Stringer.
func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%#x)", int32(f))
}

// IsYCbCr reports whether f stores luma and chroma samples.
func (f PixelFormat) IsYCbCr() bool {
	switch f {
	case PixelFormatYCbCr422SP, PixelFormatYCrCb420SP, PixelFormatYCbCr422I,
		PixelFormatYCbCr420888, PixelFormatYCbCr420SP, PixelFormatYV12:
		return true
	}
	return false
}

// BytesPerPixel returns the size of one sample of a packed format, or of
// one luma sample for YCbCr formats. It returns 0 for BLOB and unknown formats.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatRGBA8888, PixelFormatRGBX8888, PixelFormatBGRA8888:
		return 4
	case PixelFormatRGB888:
		return 3
	case PixelFormatRGB565, PixelFormatRaw16, PixelFormatY16, PixelFormatYCbCr422I:
		return 2
	case PixelFormatRGBAFP16:
		return 8
	case PixelFormatY8, PixelFormatYCbCr422SP, PixelFormatYCrCb420SP,
		PixelFormatYCbCr420888, PixelFormatYCbCr420SP, PixelFormatYV12,
		PixelFormatImplementationDefined:
		return 1
	}
	return 0
}

// TextureFormat returns the WebGPU texture format with the same memory
// layout, or gputypes.TextureFormatUndefined when there is none.
func (f PixelFormat) TextureFormat() gputypes.TextureFormat {
	switch f {
	case PixelFormatRGBA8888, PixelFormatRGBX8888:
		return gputypes.TextureFormatRGBA8Unorm
	case PixelFormatBGRA8888:
		return gputypes.TextureFormatBGRA8Unorm
	case PixelFormatY8:
		return gputypes.TextureFormatR8Unorm
	}
	return gputypes.TextureFormatUndefined
}

// PixelFormatFromTexture is the inverse of PixelFormat.TextureFormat for the
// formats that have a WebGPU equivalent.
func PixelFormatFromTexture(tf gputypes.TextureFormat) (PixelFormat, bool) {
	switch tf {
	case gputypes.TextureFormatRGBA8Unorm:
		return PixelFormatRGBA8888, true
	case gputypes.TextureFormatBGRA8Unorm:
		return PixelFormatBGRA8888, true
	case gputypes.TextureFormatR8Unorm:
		return PixelFormatY8, true
	}
	return 0, false
}

// FlexComponent tags the color component stored in a FlexPlane.
type FlexComponent int32

// Flex components. Values are bit flags so that a FlexFormat is the union of
// the components it carries.
const (
	FlexComponentY  FlexComponent = 1 << 0
	FlexComponentCb FlexComponent = 1 << 1
	FlexComponentCr FlexComponent = 1 << 2
	FlexComponentR  FlexComponent = 1 << 10
	FlexComponentG  FlexComponent = 1 << 11
	FlexComponentB  FlexComponent = 1 << 12
	FlexComponentA  FlexComponent = 1 << 30
)

// String implements fmt.Stringer.
func (c FlexComponent) String() string {
	switch c {
	case FlexComponentY:
		return "Y"
	case FlexComponentCb:
		return "Cb"
	case FlexComponentCr:
		return "Cr"
	case FlexComponentR:
		return "R"
	case FlexComponentG:
		return "G"
	case FlexComponentB:
		return "B"
	case FlexComponentA:
		return "A"
	default:
		return fmt.Sprintf("FlexComponent(%#x)", int32(c))
	}
}

// FlexFormat describes the set of components present in a FlexLayout.
type FlexFormat int32

// Flex formats.
const (
	FlexFormatInvalid FlexFormat = 0
	FlexFormatY       FlexFormat = FlexFormat(FlexComponentY)
	FlexFormatYCbCr   FlexFormat = FlexFormat(FlexComponentY | FlexComponentCb | FlexComponentCr)
	FlexFormatYCbCrA  FlexFormat = FlexFormatYCbCr | FlexFormat(FlexComponentA)
	FlexFormatRGB     FlexFormat = FlexFormat(FlexComponentR | FlexComponentG | FlexComponentB)
	FlexFormatRGBA    FlexFormat = FlexFormatRGB | FlexFormat(FlexComponentA)
)

// String implements fmt.Stringer.
func (f FlexFormat) String() string {
	switch f {
	case FlexFormatInvalid:
		return "Invalid"
	case FlexFormatY:
		return "Y"
	case FlexFormatYCbCr:
		return "YCbCr"
	case FlexFormatYCbCrA:
		return "YCbCrA"
	case FlexFormatRGB:
		return "RGB"
	case FlexFormatRGBA:
		return "RGBA"
	default:
		return fmt.Sprintf("FlexFormat(%#x)", int32(f))
	}
}

// FlexPlane describes one plane of a generic multi-plane layout.
//
// Increments are in bytes: HIncrement is the step between horizontally
// adjacent samples, VIncrement the step between rows.
type FlexPlane struct {
	// TopLeft starts at the sample for the top-left pixel of the locked region.
	TopLeft []byte

	Component        FlexComponent
	BitsPerComponent int32
	BitsUsed         int32
	HIncrement       int32
	VIncrement       int32
	HSubsampling     int32
	VSubsampling     int32
}

// FlexLayout is the result of a flexible lock: a format tag and its planes.
type FlexLayout struct {
	Format FlexFormat
	Planes []FlexPlane
}
