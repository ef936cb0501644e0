package device

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// State represents the connection lifecycle state of a device
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Device is a remote BLE peripheral. The identity never changes after creation,
// advertisement data and state are updated in place by the native layer.
type Device struct {
	id    string
	state atomic.Int32

	mu       sync.RWMutex
	name     string
	rssi     int
	services []string
	lastSeen time.Time
}

// New creates a disconnected device with the given identity and display name.
func New(id, name string) *Device {
	return &Device{
		id:       id,
		name:     name,
		services: make([]string, 0),
		lastSeen: time.Now(),
	}
}

func (d *Device) ID() string {
	return d.id
}

// Name returns the display name, falling back to the identity when the device
// never advertised one.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.name == "" {
		return d.id
	}
	return d.name
}

func (d *Device) RSSI() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

// Services returns a copy of the advertised service UUIDs (normalized form).
func (d *Device) Services() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.services))
	copy(out, d.services)
	return out
}

func (d *Device) LastSeen() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastSeen
}

// Update refreshes advertisement data. An empty name keeps the known one and
// services are merged without duplicates.
func (d *Device) Update(name string, rssi int, services []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name != "" {
		d.name = name
	}
	d.rssi = rssi
	d.lastSeen = time.Now()

	for _, svc := range services {
		known := false
		for _, s := range d.services {
			if s == svc {
				known = true
				break
			}
		}
		if !known {
			d.services = append(d.services, svc)
		}
	}
}

func (d *Device) State() State {
	return State(d.state.Load())
}

func (d *Device) SetState(s State) {
	d.state.Store(int32(s))
}

// CompareAndSwapState moves the device to next only if it is currently in old.
func (d *Device) CompareAndSwapState(old, next State) bool {
	return d.state.CompareAndSwap(int32(old), int32(next))
}

// SameIdentity reports whether both devices denote the same physical peripheral.
func (d *Device) SameIdentity(other *Device) bool {
	if d == nil || other == nil {
		return false
	}
	return d.id == other.id
}

func (d *Device) String() string {
	name := d.Name()
	if name == d.id {
		return d.id
	}
	return fmt.Sprintf("%s (%s)", name, d.id)
}

// MarshalJSON renders the device for CLI output.
func (d *Device) MarshalJSON() ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return json.Marshal(struct {
		ID       string    `json:"id"`
		Name     string    `json:"name"`
		RSSI     int       `json:"rssi"`
		Services []string  `json:"services"`
		State    string    `json:"state"`
		LastSeen time.Time `json:"lastSeen"`
	}{
		ID:       d.id,
		Name:     d.name,
		RSSI:     d.rssi,
		Services: d.services,
		State:    d.State().String(),
		LastSeen: d.lastSeen,
	})
}
