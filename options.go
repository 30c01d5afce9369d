package bufmap

// Option configures a BufferMapper during creation.
//
// Example:
//
//	// Registered backends only
//	m, err := bufmap.New()
//
//	// Explicit backend (dependency injection)
//	m, err := bufmap.New(bufmap.WithMapper("hal", loadHALMapper), bufmap.WithoutRegistry())
type Option func(*options)

// options holds optional configuration for BufferMapper creation.
type options struct {
	mappers     []*registryEntry
	devices     []*registryEntry
	useRegistry bool
}

// defaultOptions returns the default options.
func defaultOptions() options {
	return options{useRegistry: true}
}

// WithMapper adds a modern-generation backend loader. Explicit loaders are
// tried before registered ones, in the order given.
func WithMapper(name string, load MapperLoader) Option {
	return func(o *options) {
		if load != nil {
			o.mappers = append(o.mappers, &registryEntry{name: name, mapper: load})
		}
	}
}

// WithDevice adds a legacy-generation backend loader. Explicit loaders are
// tried before registered ones, in the order given.
func WithDevice(name string, load DeviceLoader) Option {
	return func(o *options) {
		if load != nil {
			o.devices = append(o.devices, &registryEntry{name: name, device: load})
		}
	}
}

// WithoutRegistry makes New ignore backends registered with RegisterMapper
// and RegisterDevice.
func WithoutRegistry() Option {
	return func(o *options) {
		o.useRegistry = false
	}
}

// mapperCandidates returns the modern loaders in probe order.
func (o *options) mapperCandidates() []*registryEntry {
	if !o.useRegistry {
		return o.mappers
	}
	return append(o.mappers[:len(o.mappers):len(o.mappers)], globalRegistry.mappers()...)
}

// deviceCandidates returns the legacy loaders in probe order.
func (o *options) deviceCandidates() []*registryEntry {
	if !o.useRegistry {
		return o.devices
	}
	return append(o.devices[:len(o.devices):len(o.devices)], globalRegistry.devices()...)
}
