// Package registry implements the concurrent-safe IMEI -> DeviceState map.
// Per-key ordering is not this package's job — that is the per-device
// queue's responsibility (internal/queue).
package registry

import (
	"sync"

	"github.com/intelcon-group/gt06-gateway/internal/state"
)

// Registry maps IMEI to the device's latest known state. Reads and writes
// are serialized with a single RWMutex.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*state.DeviceState
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{devices: make(map[string]*state.DeviceState)}
}

// GetOrCreate returns the existing DeviceState for imei, or creates and
// stores a fresh one (status=active, no fix yet) if none exists.
func (r *Registry) GetOrCreate(imei string) *state.DeviceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[imei]; ok {
		return d
	}
	d := &state.DeviceState{IMEI: imei, Status: state.StatusActive}
	r.devices[imei] = d
	return d
}

// Put unconditionally replaces the stored state for imei.
func (r *Registry) Put(imei string, d *state.DeviceState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[imei] = d
}

// Get returns the stored state for imei, if any.
func (r *Registry) Get(imei string) (*state.DeviceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[imei]
	return d, ok
}

// Snapshot returns a point-in-time copy of every stored DeviceState. Each
// entry is individually cloned so a caller iterating the snapshot never
// observes a DeviceState that is still being mutated.
func (r *Registry) Snapshot() []*state.DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*state.DeviceState, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	return out
}

// Count reports the number of known devices, for metrics.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}
