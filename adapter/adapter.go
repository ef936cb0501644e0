// Package adapter is the public surface of the BLE control core. An Adapter
// owns the device registry, the event bus, the scan session controller, and the
// connection correlator, and ingests callbacks from a native radio.
package adapter

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/connection"
	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/events"
	"github.com/srg/blecore/internal/registry"
	"github.com/srg/blecore/internal/scan"
)

// Native is the radio collaborator driven by an Adapter.
type Native interface {
	StartScan(ctx context.Context, serviceFilter []string) error
	StopScan()
	Connect(ctx context.Context, d *device.Device, autoconnect bool) error
	Disconnect(d *device.Device) error
}

// Callbacks receives asynchronous notifications from the native layer.
type Callbacks interface {
	OnDeviceAdvertised(d *device.Device)
	OnDeviceConnected(d *device.Device)
	OnDeviceDisconnected(userInitiated bool, d *device.Device)
	OnConnectionFailed(d *device.Device, message string)
}

// CallbackBinder is implemented by natives that need the Adapter to report to.
type CallbackBinder interface {
	BindCallbacks(cb Callbacks)
}

type Adapter struct {
	native   Native
	logger   *logrus.Logger
	bus      *events.Bus
	registry *registry.Registry
	scanner  *scan.Controller
	conns    *connection.Correlator
}

var _ Callbacks = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithScanTimeout sets the initial scan session timeout.
func WithScanTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		a.scanner.SetTimeout(d)
	}
}

// New creates an Adapter over native. If native implements CallbackBinder it is
// bound to the new Adapter.
func New(native Native, logger *logrus.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}

	bus := events.NewBus(logger)
	reg := registry.New()
	a := &Adapter{
		native:   native,
		logger:   logger,
		bus:      bus,
		registry: reg,
		scanner:  scan.NewController(native, bus.ScanTimeout, logger),
		conns:    connection.NewCorrelator(native, reg, bus, logger),
	}

	for _, opt := range opts {
		opt(a)
	}

	if binder, ok := native.(CallbackBinder); ok {
		binder.BindCallbacks(a)
	}
	return a
}

// Events returns the bus on which the Adapter publishes notifications.
func (a *Adapter) Events() *events.Bus {
	return a.bus
}

// StartScan runs one scan session and returns when it ends. Services filter
// advertisements by UUID; they are validated and normalized first.
//
// While a session is live further calls return nil immediately.
func (a *Adapter) StartScan(ctx context.Context, services ...string) error {
	var filter []string
	if len(services) > 0 {
		normalized, err := device.ValidateUUID(services...)
		if err != nil {
			return err
		}
		filter = normalized
	}
	return a.scanner.Start(ctx, filter)
}

// StopScan ends the live session, if any.
func (a *Adapter) StopScan() {
	a.scanner.Stop()
}

func (a *Adapter) IsScanning() bool {
	return a.scanner.IsScanning()
}

func (a *Adapter) ScanTimeout() time.Duration {
	return a.scanner.Timeout()
}

// SetScanTimeout changes the timeout for subsequent sessions. Non-positive
// values scan until stopped.
func (a *Adapter) SetScanTimeout(d time.Duration) {
	a.scanner.SetTimeout(d)
}

// Connect links d. See connection.Correlator.Connect.
func (a *Adapter) Connect(ctx context.Context, d *device.Device, autoconnect bool) error {
	return a.conns.Connect(ctx, d, autoconnect)
}

// Disconnect unlinks d and waits for the radio's confirmation. See
// connection.Correlator.Disconnect.
func (a *Adapter) Disconnect(ctx context.Context, d *device.Device) (*device.Device, error) {
	return a.conns.Disconnect(ctx, d)
}

// Discovered returns the devices seen since creation, in discovery order.
func (a *Adapter) Discovered() []*device.Device {
	return a.registry.Discovered()
}

// Connected returns the currently connected devices, in connection order.
func (a *Adapter) Connected() []*device.Device {
	return a.registry.Connected()
}

// Device looks up a tracked device by identity, checking discovered devices
// first and then connected ones.
func (a *Adapter) Device(id string) (*device.Device, bool) {
	if d, ok := a.registry.Lookup(id); ok {
		return d, true
	}
	return a.registry.LookupConnected(id)
}
