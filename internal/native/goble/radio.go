// Package goble drives a go-ble device as the adapter's native radio.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/adapter"
	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/groutine"
)

const (
	// DefaultConnectTimeout bounds a non-autoconnect dial.
	DefaultConnectTimeout = 30 * time.Second

	// scanStartGrace is how long StartScan waits for an immediate scan failure.
	scanStartGrace = 100 * time.Millisecond

	// scanStopWait bounds how long StopScan waits for the scan loop to exit.
	scanStopWait = 2 * time.Second
)

// Device is the part of ble.Device the radio needs.
type Device interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// DeviceFactory creates the platform device (can be overridden in tests).
var DeviceFactory = func() (Device, error) {
	return newPlatformDevice()
}

type Options struct {
	// ConnectTimeout bounds non-autoconnect dials; zero disables the bound.
	ConnectTimeout time.Duration
	// AllowDuplicates reports every advertisement rather than one per device.
	AllowDuplicates bool
}

// DefaultOptions returns the radio defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:  DefaultConnectTimeout,
		AllowDuplicates: true,
	}
}

type link struct {
	client        ble.Client
	monitored     bool
	mu            sync.Mutex
	userInitiated bool
}

func (l *link) markUserInitiated(v bool) {
	l.mu.Lock()
	l.userInitiated = v
	l.mu.Unlock()
}

func (l *link) isUserInitiated() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userInitiated
}

// Radio implements adapter.Native over go-ble.
type Radio struct {
	dev    Device
	opts   Options
	logger *logrus.Logger

	cbMu      sync.RWMutex
	callbacks adapter.Callbacks

	devices *hashmap.Map[string, *device.Device]

	// links holds one entry per address from the start of a dial until the
	// link closes; client is nil while the dial is running.
	linkMu sync.Mutex
	links  map[string]*link

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   <-chan struct{}
}

var (
	_ adapter.Native         = (*Radio)(nil)
	_ adapter.CallbackBinder = (*Radio)(nil)
)

// Open creates a Radio on the platform BLE device.
func Open(logger *logrus.Logger, opts Options) (*Radio, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return New(dev, logger, opts), nil
}

// New creates a Radio over dev.
func New(dev Device, logger *logrus.Logger, opts Options) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		dev:       dev,
		opts:      opts,
		logger:    logger,
		callbacks: nopCallbacks{},
		devices:   hashmap.New[string, *device.Device](),
		links:     make(map[string]*link),
	}
}

// BindCallbacks sets where the radio reports advertisements and link changes.
func (r *Radio) BindCallbacks(cb adapter.Callbacks) {
	if cb == nil {
		cb = nopCallbacks{}
	}
	r.cbMu.Lock()
	r.callbacks = cb
	r.cbMu.Unlock()
}

func (r *Radio) cb() adapter.Callbacks {
	r.cbMu.RLock()
	defer r.cbMu.RUnlock()
	return r.callbacks
}

// Device returns the tracked device for address, creating it when unseen.
// The same *device.Device is returned for an address for the radio's lifetime.
func (r *Radio) Device(address string) *device.Device {
	d, _ := r.devices.GetOrInsert(address, device.New(address, ""))
	return d
}

// StartScan starts scanning and returns once the scan is running. The scan
// runs until ctx is cancelled or StopScan is called.
func (r *Radio) StartScan(ctx context.Context, serviceFilter []string) error {
	r.scanMu.Lock()
	if r.scanCancel != nil {
		r.scanMu.Unlock()
		r.logger.Debug("Native scan already running")
		return nil
	}

	scanCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	filter := newServiceFilter(serviceFilter)

	r.logger.WithFields(logrus.Fields{
		"services":   serviceFilter,
		"duplicates": r.opts.AllowDuplicates,
	}).Debug("Starting native BLE scan...")

	done := groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		errCh <- r.dev.Scan(ctx, r.opts.AllowDuplicates, func(adv ble.Advertisement) {
			r.handleAdvertisement(adv, filter)
		})
	})
	r.scanCancel = cancel
	r.scanDone = done
	r.scanMu.Unlock()

	select {
	case err := <-errCh:
		r.clearScan(done)
		cancel()
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return NormalizeError(err)
	case <-time.After(scanStartGrace):
	case <-scanCtx.Done():
	}

	// the scan loop outlives this call; reap it when it ends
	groutine.Go(context.Background(), "ble-scan-reaper", func(context.Context) {
		err := <-errCh
		r.clearScan(done)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			r.logger.WithField("error", NormalizeError(err)).Error("BLE scan failed")
		}
	})
	return nil
}

// clearScan forgets the scan identified by done if it is still current.
func (r *Radio) clearScan(done <-chan struct{}) {
	r.scanMu.Lock()
	defer r.scanMu.Unlock()
	if r.scanDone == done {
		r.scanCancel = nil
		r.scanDone = nil
	}
}

// StopScan stops the running scan, if any, and waits briefly for it to exit.
func (r *Radio) StopScan() {
	r.scanMu.Lock()
	cancel, done := r.scanCancel, r.scanDone
	r.scanCancel = nil
	r.scanDone = nil
	r.scanMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
		r.logger.Debug("Native BLE scan stopped")
	case <-time.After(scanStopWait):
		r.logger.WithField("timeout", scanStopWait).Warn("Native BLE scan did not stop in time")
	}
}

func (r *Radio) handleAdvertisement(adv ble.Advertisement, filter serviceFilter) {
	services := advertisedServices(adv)
	if !filter.matches(services) {
		return
	}

	address := adv.Addr().String()
	d := r.Device(address)
	d.Update(adv.LocalName(), adv.RSSI(), services)

	r.cb().OnDeviceAdvertised(d)
}

// Connect dials d. Autoconnect dials are not bounded by the connect timeout
// and wait for the peripheral until ctx ends.
func (r *Radio) Connect(ctx context.Context, d *device.Device, autoconnect bool) error {
	log := r.logger.WithFields(logrus.Fields{
		"address":     d.ID(),
		"autoconnect": autoconnect,
	})

	l, ok := r.reserveLink(d.ID())
	if !ok {
		log.Warn("Connection attempt while already connected or dialing")
		return device.ErrAlreadyConnected
	}

	dialCtx := ctx
	if !autoconnect && r.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, r.opts.ConnectTimeout)
		defer cancel()
	}

	log.Debug("Dialing BLE device...")
	client, err := r.dev.Dial(dialCtx, ble.NewAddr(d.ID()))
	if err != nil {
		r.dropLink(d.ID(), l)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var cerr error
		if dialCtx.Err() != nil {
			cerr = device.NewConnectError(d, fmt.Sprintf("connection timed out after %s", r.opts.ConnectTimeout))
		} else {
			cerr = device.WrapConnectError(d, NormalizeError(err))
		}
		log.WithField("error", cerr).Error("Failed to dial BLE device")
		r.cb().OnConnectionFailed(d, cerr.Error())
		return cerr
	}

	disconnected, monitored := client.(interface{ Disconnected() <-chan struct{} })
	r.linkMu.Lock()
	l.client = client
	l.monitored = monitored
	r.linkMu.Unlock()

	r.cb().OnDeviceConnected(d)

	if monitored {
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			<-disconnected.Disconnected()
			r.linkClosed(d, l)
		})
	} else {
		log.Debug("Client does not support Disconnected() channel")
	}
	return nil
}

// linkClosed reports the end of a link exactly once.
func (r *Radio) linkClosed(d *device.Device, l *link) {
	if !r.dropLink(d.ID(), l) {
		return
	}

	user := l.isUserInitiated()
	if !user {
		r.logger.WithField("address", d.ID()).Warn("BLE link lost")
	}
	r.cb().OnDeviceDisconnected(user, d)
}

// reserveLink claims the link slot for id. Fails when a dial or link exists.
func (r *Radio) reserveLink(id string) (*link, bool) {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	if _, ok := r.links[id]; ok {
		return nil, false
	}
	l := &link{}
	r.links[id] = l
	return l, true
}

// activeLink returns the established link for id, nil while absent or dialing.
func (r *Radio) activeLink(id string) *link {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	l, ok := r.links[id]
	if !ok || l.client == nil {
		return nil
	}
	return l
}

// dropLink removes l if it still owns the slot for id.
func (r *Radio) dropLink(id string, l *link) bool {
	r.linkMu.Lock()
	defer r.linkMu.Unlock()
	if current, ok := r.links[id]; !ok || current != l {
		return false
	}
	delete(r.links, id)
	return true
}

// Disconnect requests the link to d be closed. The outcome is reported via
// OnDeviceDisconnected or OnConnectionFailed.
func (r *Radio) Disconnect(d *device.Device) error {
	l := r.activeLink(d.ID())
	if l == nil {
		r.logger.WithField("address", d.ID()).Debug("Disconnect called but no link exists")
		groutine.Go(context.Background(), "ble-disconnect-report", func(context.Context) {
			r.cb().OnDeviceDisconnected(true, d)
		})
		return nil
	}

	l.markUserInitiated(true)
	groutine.Go(context.Background(), "ble-cancel-connection", func(context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			l.markUserInitiated(false)
			err = NormalizeError(err)
			r.logger.WithFields(logrus.Fields{
				"address": d.ID(),
				"error":   err,
			}).Warn("BLE device disconnected with errors")
			r.cb().OnConnectionFailed(d, err.Error())
			return
		}
		if !l.monitored {
			r.linkClosed(d, l)
		}
	})
	return nil
}

type nopCallbacks struct{}

func (nopCallbacks) OnDeviceAdvertised(*device.Device)         {}
func (nopCallbacks) OnDeviceConnected(*device.Device)          {}
func (nopCallbacks) OnDeviceDisconnected(bool, *device.Device) {}
func (nopCallbacks) OnConnectionFailed(*device.Device, string) {}
