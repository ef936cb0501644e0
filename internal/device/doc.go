// Package device models remote Bluetooth Low Energy peripherals as tracked by the
// adapter core.
//
// A Device is created by the native radio layer and shared by pointer with the
// registry, the event bus and the connection correlator. Identity (ID) and not
// pointer equality decides membership and correlation:
//   - Identity is the radio address reported by the native layer
//   - State moves Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
//   - All accessors are safe for concurrent use
package device
