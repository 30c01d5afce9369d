package bufmap

// TranslateMapperError maps a modern-generation error to the shared Status.
// MapperErrorNone is the only value that maps to StatusOK.
func TranslateMapperError(e MapperError) Status {
	switch e {
	case MapperErrorNone:
		return StatusOK
	case MapperErrorBadBuffer:
		return StatusBadHandle
	case MapperErrorUnsupported:
		return StatusUnsupported
	case MapperErrorNoResources:
		return StatusNoResources
	default:
		return StatusOther
	}
}

// TranslateDeviceError maps a legacy-generation error to the shared Status.
// DeviceErrorNone is the only value that maps to StatusOK.
func TranslateDeviceError(e DeviceError) Status {
	switch e {
	case DeviceErrorNone:
		return StatusOK
	case DeviceErrorBadHandle:
		return StatusBadHandle
	case DeviceErrorUnsupported:
		return StatusUnsupported
	case DeviceErrorNoResources:
		return StatusNoResources
	default:
		return StatusOther
	}
}
