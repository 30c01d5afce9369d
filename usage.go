package bufmap

import "github.com/gogpu/gputypes"

// Usage is the combined 32-bit usage mask accepted by Lock and LockYCbCr.
// The same bits are used for both producer and consumer usage.
type Usage uint32

// Usage bits.
const (
	UsageSWReadNever     Usage = 0x00000000
	UsageSWReadRarely    Usage = 0x00000002
	UsageSWReadOften     Usage = 0x00000003
	UsageSWReadMask      Usage = 0x0000000F
	UsageSWWriteNever    Usage = 0x00000000
	UsageSWWriteRarely   Usage = 0x00000020
	UsageSWWriteOften    Usage = 0x00000030
	UsageSWWriteMask     Usage = 0x000000F0
	UsageHWTexture       Usage = 0x00000100
	UsageHWRender        Usage = 0x00000200
	UsageHW2D            Usage = 0x00000400
	UsageHWComposer      Usage = 0x00000800
	UsageHWFramebuffer   Usage = 0x00001000
	UsageProtected       Usage = 0x00004000
	UsageHWVideoEncoder  Usage = 0x00010000
	UsageHWCameraWrite   Usage = 0x00020000
	UsageHWCameraRead    Usage = 0x00040000
	UsageRenderScript    Usage = 0x00100000
	UsageHWVideoDecoder  Usage = 0x00400000
	UsageSWReadWriteMask       = UsageSWReadMask | UsageSWWriteMask
)

// CPURead reports whether u requests CPU read access.
func (u Usage) CPURead() bool { return u&UsageSWReadMask != 0 }

// CPUWrite reports whether u requests CPU write access.
func (u Usage) CPUWrite() bool { return u&UsageSWWriteMask != 0 }

// MapMode returns the WebGPU map mode equivalent to the CPU bits of u.
func (u Usage) MapMode() gputypes.MapMode {
	var m gputypes.MapMode
	if u.CPURead() {
		m |= gputypes.MapModeRead
	}
	if u.CPUWrite() {
		m |= gputypes.MapModeWrite
	}
	return m
}

// UsageFromMapMode returns the CPU usage bits that allow mapping with mode.
func UsageFromMapMode(mode gputypes.MapMode) Usage {
	var u Usage
	if mode&gputypes.MapModeRead != 0 {
		u |= UsageSWReadOften
	}
	if mode&gputypes.MapModeWrite != 0 {
		u |= UsageSWWriteOften
	}
	return u
}

// UsageFromTextureUsage returns the hardware usage bits a buffer needs to be
// bound as a texture with the given WebGPU usage.
func UsageFromTextureUsage(tu gputypes.TextureUsage) Usage {
	var u Usage
	if tu&gputypes.TextureUsageTextureBinding != 0 {
		u |= UsageHWTexture
	}
	if tu&gputypes.TextureUsageRenderAttachment != 0 {
		u |= UsageHWRender
	}
	return u
}

// UsageFromBufferUsage returns the usage bits for a buffer created with the
// given WebGPU buffer usage.
func UsageFromBufferUsage(bu gputypes.BufferUsage) Usage {
	var u Usage
	if bu.Contains(gputypes.BufferUsageMapRead) {
		u |= UsageSWReadOften
	}
	if bu.Contains(gputypes.BufferUsageMapWrite) {
		u |= UsageSWWriteOften
	}
	return u
}

// ProducerUsage is the producer half of the legacy device usage vocabulary.
type ProducerUsage uint64

// Producer usage bits.
const (
	ProducerUsageNone             ProducerUsage = 0
	ProducerUsageCPURead          ProducerUsage = 1 << 1
	ProducerUsageCPUReadOften     ProducerUsage = 1<<2 | ProducerUsageCPURead
	ProducerUsageCPUWrite         ProducerUsage = 1 << 5
	ProducerUsageCPUWriteOften    ProducerUsage = 1<<6 | ProducerUsageCPUWrite
	ProducerUsageGPURenderTarget  ProducerUsage = 1 << 10
	ProducerUsageProtected        ProducerUsage = 1 << 14
	ProducerUsageCamera           ProducerUsage = 1 << 17
	ProducerUsageVideoDecoder     ProducerUsage = 1 << 22
	ProducerUsageSensorDirectData ProducerUsage = 1 << 23
)

// ConsumerUsage is the consumer half of the legacy device usage vocabulary.
type ConsumerUsage uint64

// Consumer usage bits.
const (
	ConsumerUsageNone          ConsumerUsage = 0
	ConsumerUsageCPURead       ConsumerUsage = 1 << 1
	ConsumerUsageCPUReadOften  ConsumerUsage = 1<<2 | ConsumerUsageCPURead
	ConsumerUsageGPUTexture    ConsumerUsage = 1 << 8
	ConsumerUsageHWComposer    ConsumerUsage = 1 << 11
	ConsumerUsageClientTarget  ConsumerUsage = 1 << 12
	ConsumerUsageCursor        ConsumerUsage = 1 << 15
	ConsumerUsageVideoEncoder  ConsumerUsage = 1 << 16
	ConsumerUsageCamera        ConsumerUsage = 1 << 18
	ConsumerUsageRenderScript  ConsumerUsage = 1 << 20
	ConsumerUsageGPUDataBuffer ConsumerUsage = 1 << 24
)

// CPURead reports whether the producer reads the buffer on the CPU.
func (u ProducerUsage) CPURead() bool { return u&ProducerUsageCPURead != 0 }

// CPUWrite reports whether the producer writes the buffer on the CPU.
func (u ProducerUsage) CPUWrite() bool { return u&ProducerUsageCPUWrite != 0 }

// CPURead reports whether the consumer reads the buffer on the CPU.
func (u ConsumerUsage) CPURead() bool { return u&ConsumerUsageCPURead != 0 }
