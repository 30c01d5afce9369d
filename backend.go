package bufmap

import (
	"fmt"

	"github.com/gogpu/bufmap/fence"
)

// MapperError is the error vocabulary of the modern backend generation.
type MapperError int32

// Modern backend errors.
const (
	MapperErrorNone          MapperError = 0
	MapperErrorBadDescriptor MapperError = 1
	MapperErrorBadBuffer     MapperError = 2
	MapperErrorBadValue      MapperError = 3
	MapperErrorNoResources   MapperError = 5
	MapperErrorUnsupported   MapperError = 7
)

// String implements fmt.Stringer.
func (e MapperError) String() string {
	switch e {
	case MapperErrorNone:
		return "NONE"
	case MapperErrorBadDescriptor:
		return "BAD_DESCRIPTOR"
	case MapperErrorBadBuffer:
		return "BAD_BUFFER"
	case MapperErrorBadValue:
		return "BAD_VALUE"
	case MapperErrorNoResources:
		return "NO_RESOURCES"
	case MapperErrorUnsupported:
		return "UNSUPPORTED"
	default:
		return fmt.Sprintf("MapperError(%d)", int32(e))
	}
}

// Mapper is the modern backend generation.
//
// Metadata getters cannot fail: a Mapper reports metadata for every handle it
// has retained and the result for other handles is unspecified.
//
// Lock and LockFlex consume the acquire fence: the Mapper must not expose
// buffer contents before it signals and must close it exactly once, whatever
// the result. Whether they wait for the fence before returning is up to the
// Mapper; the reference backends do. Unlock transfers ownership of the
// returned release fence to the caller; a nil release fence means the unlock
// already completed.
type Mapper interface {
	Retain(h Handle) MapperError
	Release(h Handle) MapperError

	Dimensions(h Handle) (width, height uint32)
	Format(h Handle) PixelFormat
	LayerCount(h Handle) uint32
	ProducerUsage(h Handle) uint64
	ConsumerUsage(h Handle) uint64
	BackingStore(h Handle) uint64
	Stride(h Handle) uint32

	Lock(h Handle, producer, consumer uint64, region Rect, acquire *fence.Fence) ([]byte, MapperError)
	LockFlex(h Handle, producer, consumer uint64, region Rect, acquire *fence.Fence) (FlexLayout, MapperError)
	Unlock(h Handle) (*fence.Fence, MapperError)
}

// DeviceError is the error vocabulary of the legacy backend generation.
type DeviceError int32

// Legacy backend errors.
const (
	DeviceErrorNone          DeviceError = 0
	DeviceErrorBadDescriptor DeviceError = 1
	DeviceErrorBadHandle     DeviceError = 2
	DeviceErrorBadValue      DeviceError = 3
	DeviceErrorNotShared     DeviceError = 4
	DeviceErrorNoResources   DeviceError = 5
	DeviceErrorUndefined     DeviceError = 6
	DeviceErrorUnsupported   DeviceError = 7
)

// String implements fmt.Stringer.
func (e DeviceError) String() string {
	switch e {
	case DeviceErrorNone:
		return "NONE"
	case DeviceErrorBadDescriptor:
		return "BAD_DESCRIPTOR"
	case DeviceErrorBadHandle:
		return "BAD_HANDLE"
	case DeviceErrorBadValue:
		return "BAD_VALUE"
	case DeviceErrorNotShared:
		return "NOT_SHARED"
	case DeviceErrorNoResources:
		return "NO_RESOURCES"
	case DeviceErrorUndefined:
		return "UNDEFINED"
	case DeviceErrorUnsupported:
		return "UNSUPPORTED"
	default:
		return fmt.Sprintf("DeviceError(%d)", int32(e))
	}
}

// Capability is an optional feature of a legacy Device.
type Capability int32

// Legacy device capabilities.
const (
	CapabilityInvalid Capability = 0

	// CapabilityTestAllocate means the device can test allocation parameters.
	CapabilityTestAllocate Capability = 1

	// CapabilityLayeredBuffers means buffers may have more than one layer.
	CapabilityLayeredBuffers Capability = 2

	// CapabilityReleaseFence means Unlock returns real release fences.
	CapabilityReleaseFence Capability = 3

	// CapabilityOnAdapter means the device emulates the legacy API over a
	// very old driver. Such a device locks YCbCr buffers natively, cannot
	// retain handles from other processes and has no flex-plane API.
	CapabilityOnAdapter Capability = 1024
)

// String implements fmt.Stringer.
func (c Capability) String() string {
	switch c {
	case CapabilityInvalid:
		return "Invalid"
	case CapabilityTestAllocate:
		return "TestAllocate"
	case CapabilityLayeredBuffers:
		return "LayeredBuffers"
	case CapabilityReleaseFence:
		return "ReleaseFence"
	case CapabilityOnAdapter:
		return "OnAdapter"
	default:
		return fmt.Sprintf("Capability(%d)", int32(c))
	}
}

// Device is the legacy backend generation.
//
// Every call reports its own DeviceError. Fence ownership and waiting follow
// the same rules as Mapper: Lock, LockYCbCr and LockFlex consume acquire and
// may block until it signals, Unlock hands the release fence to the caller.
//
// LockFlex fills layout.Planes, which the caller sizes with NumFlexPlanes.
// LockYCbCr is only required to work on devices with CapabilityOnAdapter;
// NumFlexPlanes and LockFlex only on devices without it.
type Device interface {
	HasCapability(c Capability) bool

	Retain(h Handle) DeviceError
	Release(h Handle) DeviceError

	Dimensions(h Handle) (width, height uint32, err DeviceError)
	Format(h Handle) (PixelFormat, DeviceError)
	LayerCount(h Handle) (uint32, DeviceError)
	ProducerUsage(h Handle) (ProducerUsage, DeviceError)
	ConsumerUsage(h Handle) (ConsumerUsage, DeviceError)
	BackingStore(h Handle) (uint64, DeviceError)
	Stride(h Handle) (uint32, DeviceError)

	Lock(h Handle, producer ProducerUsage, consumer ConsumerUsage, region Rect, acquire *fence.Fence) ([]byte, DeviceError)
	LockYCbCr(h Handle, producer ProducerUsage, consumer ConsumerUsage, region Rect, acquire *fence.Fence) (YCbCr, DeviceError)
	NumFlexPlanes(h Handle) (uint32, DeviceError)
	LockFlex(h Handle, producer ProducerUsage, consumer ConsumerUsage, region Rect, layout *FlexLayout, acquire *fence.Fence) DeviceError
	Unlock(h Handle) (*fence.Fence, DeviceError)
}
