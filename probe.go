package bufmap

import (
	"errors"
	"fmt"
)

// errNilBackend is reported for loaders that return neither a backend nor an error.
var errNilBackend = errors.New("loader returned no backend")

// selection is the outcome of probing: exactly one of mapper and device is set.
type selection struct {
	name   string
	mapper Mapper
	device Device
}

// probe picks the backend generation once. Modern loaders are tried first;
// the legacy generation is only consulted when none of them is usable.
// There are no retries.
func probe(o *options) (selection, error) {
	var errs []error

	for _, e := range o.mapperCandidates() {
		m, err := e.mapper()
		if err == nil && m == nil {
			err = errNilBackend
		}
		if err != nil {
			Logger().Debug("bufmap: modern backend unavailable", "backend", e.name, "err", err)
			errs = append(errs, fmt.Errorf("mapper %q: %w", e.name, err))
			continue
		}
		Logger().Info("bufmap: using modern backend", "backend", e.name)
		return selection{name: e.name, mapper: m}, nil
	}

	for _, e := range o.deviceCandidates() {
		d, err := e.device()
		if err == nil && d == nil {
			err = errNilBackend
		}
		if err != nil {
			Logger().Debug("bufmap: legacy backend unavailable", "backend", e.name, "err", err)
			errs = append(errs, fmt.Errorf("device %q: %w", e.name, err))
			continue
		}
		Logger().Info("bufmap: using legacy backend", "backend", e.name,
			"onAdapter", d.HasCapability(CapabilityOnAdapter))
		return selection{name: e.name, device: d}, nil
	}

	return selection{}, errors.Join(append([]error{ErrNoBackend}, errs...)...)
}
