// Package registry tracks the discovered and connected device collections.
package registry

import (
	"sync"

	"github.com/srg/blecore/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry holds discovered and connected devices in insertion order, keyed by
// identity. It never publishes events; callers decide what to announce.
type Registry struct {
	mu         sync.RWMutex
	discovered *orderedmap.OrderedMap[string, *device.Device]
	connected  *orderedmap.OrderedMap[string, *device.Device]
}

func New() *Registry {
	return &Registry{
		discovered: orderedmap.New[string, *device.Device](),
		connected:  orderedmap.New[string, *device.Device](),
	}
}

// RecordDiscovered adds d unless a device with the same identity is already
// known. Reports whether d was new.
func (r *Registry) RecordDiscovered(d *device.Device) bool {
	if d == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.discovered.Get(d.ID()); ok {
		return false
	}
	r.discovered.Set(d.ID(), d)
	return true
}

// RemoveDiscovered forgets d. The device is only listed again after a new
// RecordDiscovered.
func (r *Registry) RemoveDiscovered(d *device.Device) bool {
	if d == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.discovered.Delete(d.ID())
	return ok
}

// RecordConnected adds d to the connected collection. Devices not in the
// Connected state are refused.
func (r *Registry) RecordConnected(d *device.Device) bool {
	if d == nil || d.State() != device.Connected {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connected.Get(d.ID()); ok {
		return false
	}
	r.connected.Set(d.ID(), d)
	return true
}

func (r *Registry) RemoveConnected(d *device.Device) bool {
	if d == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.connected.Delete(d.ID())
	return ok
}

func (r *Registry) IsDiscovered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.discovered.Get(id)
	return ok
}

func (r *Registry) IsConnected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connected.Get(id)
	return ok
}

// Lookup returns the discovered device with the given identity.
func (r *Registry) Lookup(id string) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discovered.Get(id)
}

// LookupConnected returns the connected device with the given identity.
func (r *Registry) LookupConnected(id string) (*device.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected.Get(id)
}

// Discovered returns a snapshot of the discovered devices in discovery order.
func (r *Registry) Discovered() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return values(r.discovered)
}

// Connected returns a snapshot of the connected devices in connection order.
func (r *Registry) Connected() []*device.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return values(r.connected)
}

func (r *Registry) DiscoveredLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.discovered.Len()
}

func (r *Registry) ConnectedLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected.Len()
}

func values(m *orderedmap.OrderedMap[string, *device.Device]) []*device.Device {
	out := make([]*device.Device, 0, m.Len())
	for pair := m.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
