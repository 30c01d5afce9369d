package bufmap

import (
	"sort"
	"sync"
)

// MapperLoader constructs a modern-generation backend. It returns an error
// when the backend is not usable on this host.
type MapperLoader func() (Mapper, error)

// DeviceLoader constructs a legacy-generation backend. It returns an error
// when the backend is not usable on this host.
type DeviceLoader func() (Device, error)

// registryEntry is one registered backend loader.
type registryEntry struct {
	name     string
	priority int
	mapper   MapperLoader
	device   DeviceLoader
}

// registry manages registered backend loaders.
//
// Backend packages register themselves from init so that applications opt
// in with a blank import:
//
//	import _ "github.com/gogpu/bufmap/backend/soft"
type registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// globalRegistry is the default registry consulted by New.
var globalRegistry = newRegistry()

func newRegistry() *registry {
	return &registry{entries: make(map[string]*registryEntry)}
}

// RegisterMapper registers a modern-generation backend loader.
// Higher priorities are tried first. Registering an existing name replaces
// the previous entry.
func RegisterMapper(name string, priority int, load MapperLoader) {
	globalRegistry.register(&registryEntry{name: name, priority: priority, mapper: load})
}

// RegisterDevice registers a legacy-generation backend loader.
// Higher priorities are tried first. Registering an existing name replaces
// the previous entry.
func RegisterDevice(name string, priority int, load DeviceLoader) {
	globalRegistry.register(&registryEntry{name: name, priority: priority, device: load})
}

// Unregister removes a backend loader from the registry.
func Unregister(name string) {
	globalRegistry.unregister(name)
}

// Backends returns the registered backend names, modern generation first,
// each generation sorted by priority (highest first).
func Backends() []string {
	var names []string
	for _, e := range globalRegistry.mappers() {
		names = append(names, e.name)
	}
	for _, e := range globalRegistry.devices() {
		names = append(names, e.name)
	}
	return names
}

func (r *registry) register(e *registryEntry) {
	if e.name == "" || (e.mapper == nil && e.device == nil) {
		return
	}
	r.mu.Lock()
	r.entries[e.name] = e
	r.mu.Unlock()
}

func (r *registry) unregister(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

func (r *registry) mappers() []*registryEntry {
	return r.sorted(func(e *registryEntry) bool { return e.mapper != nil })
}

func (r *registry) devices() []*registryEntry {
	return r.sorted(func(e *registryEntry) bool { return e.device != nil })
}

func (r *registry) sorted(keep func(*registryEntry) bool) []*registryEntry {
	r.mu.RLock()
	out := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].priority != out[j].priority {
			return out[i].priority > out[j].priority
		}
		return out[i].name < out[j].name
	})
	return out
}
