// Package connection turns per-device connect requests and the asynchronous
// disconnect notification stream into awaitable results.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/events"
)

// Native is the native connection collaborator.
//
// Connect returns when the link is established or failed. Disconnect only issues
// the request; completion is reported later on the disconnected or
// connection-error channels.
type Native interface {
	Connect(ctx context.Context, d *device.Device, autoconnect bool) error
	Disconnect(d *device.Device) error
}

// Tracker answers whether a device identity is currently tracked as connected.
type Tracker interface {
	IsConnected(id string) bool
}

// Correlator serializes disconnect requests per device identity and correlates
// them with later disconnected / connection-error notifications.
type Correlator struct {
	native       Native
	tracker      Tracker
	disconnected *events.Channel[*device.Device]
	failures     *events.Channel[events.ConnectionFailure]
	logger       *logrus.Logger

	mu      sync.Mutex
	pending map[string]*pendingDisconnect
}

func NewCorrelator(native Native, tracker Tracker, bus *events.Bus, logger *logrus.Logger) *Correlator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Correlator{
		native:       native,
		tracker:      tracker,
		disconnected: bus.Disconnected,
		failures:     bus.ConnectionError,
		logger:       logger,
		pending:      make(map[string]*pendingDisconnect),
	}
}

// Pending reports whether a disconnect is outstanding for the identity.
func (c *Correlator) Pending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// pendingFor returns the operation for d's identity, creating it when absent.
// Reports whether an existing operation was returned.
func (c *Correlator) pendingFor(d *device.Device) (*pendingDisconnect, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op, ok := c.pending[d.ID()]; ok {
		return op, true
	}
	op := newPendingDisconnect(d)
	c.pending[d.ID()] = op
	return op, false
}

// forget drops op from the pending set if it still owns its identity.
func (c *Correlator) forget(id string, op *pendingDisconnect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[id] == op {
		delete(c.pending, id)
	}
}

// Connect links d through the native layer. Only a Disconnected device is
// dialed: a Connected or Connecting device succeeds without a native call, and a
// device with a disconnect in flight is refused with device.ErrAlreadyConnected.
//
// Cancellation is returned wrapping ctx's error; native failures are returned as
// *device.ConnectionError with state device.ConnectFailed.
func (c *Correlator) Connect(ctx context.Context, d *device.Device, autoconnect bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := c.logger.WithField("device", d.ID())

	for !d.CompareAndSwapState(device.Disconnected, device.Connecting) {
		switch d.State() {
		case device.Connected:
			log.Debug("Device already connected, skipping connect")
			return nil
		case device.Connecting:
			log.Debug("Connect already in progress, skipping connect")
			return nil
		case device.Disconnecting:
			log.Warn("Connect requested while a disconnect is pending")
			return &device.ConnectionError{
				State:  device.AlreadyConnected,
				Device: d.ID(),
				Msg:    "disconnect in progress",
			}
		}
	}
	log.WithField("autoconnect", autoconnect).Info("Connecting to BLE device...")

	err := c.native.Connect(ctx, d, autoconnect)
	if err == nil {
		log.Info("BLE device connected")
		return nil
	}

	d.CompareAndSwapState(device.Connecting, device.Disconnected)

	if ctxErr := ctx.Err(); ctxErr != nil {
		log.WithField("error", ctxErr).Info("Connect cancelled")
		return fmt.Errorf("connect %s: %w", d.ID(), ctxErr)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.WithField("error", err).Info("Connect cancelled")
		return fmt.Errorf("connect %s: %w", d.ID(), err)
	}

	log.WithField("error", err).Warn("Failed to connect to BLE device")
	var cerr *device.ConnectionError
	if errors.As(err, &cerr) {
		return err
	}
	return device.WrapConnectError(d, err)
}

// Disconnect requests disconnection of d and waits for the radio to confirm it.
//
// A device not tracked as connected resolves immediately without a native call.
// Concurrent requests for the same identity share one pending operation. There
// is no internal timeout: ctx bounds the wait, and when the last waiter gives up
// the pending operation is dropped.
func (c *Correlator) Disconnect(ctx context.Context, d *device.Device) (*device.Device, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := c.logger.WithField("device", d.ID())

	if !c.tracker.IsConnected(d.ID()) {
		log.Debug("Device is not connected, disconnect already satisfied")
		return d, nil
	}

	op, loaded := c.pendingFor(d)
	if loaded {
		log.Debug("Joining pending disconnect")
		if !op.attach() {
			if op.abandoned() {
				// lost the race with the last waiter leaving; start over
				return c.Disconnect(ctx, d)
			}
			return op.value()
		}
		return c.await(ctx, op)
	}

	c.subscribe(op)

	d.SetState(device.Disconnecting)
	log.Info("Disconnecting BLE device...")

	if err := c.native.Disconnect(d); err != nil {
		if op.settle(outcomeFailed, nil, device.WrapDisconnectError(d, err)) {
			d.CompareAndSwapState(device.Disconnecting, device.Connected)
			log.WithField("error", err).Warn("Native disconnect request failed")
		}
	}

	return c.await(ctx, op)
}

// subscribe attaches the two correlation handlers. The operation lock is held
// until both handles are recorded, so an early event cannot settle a half-wired op.
func (c *Correlator) subscribe(op *pendingDisconnect) {
	target := op.target
	id := target.ID()

	op.mu.Lock()
	defer op.mu.Unlock()

	op.onDisconnected = c.disconnected.Subscribe(func(ev *device.Device) {
		if !ev.SameIdentity(target) {
			return
		}
		if op.settle(outcomeResolved, ev, nil) {
			c.logger.WithField("device", id).Debug("Disconnect confirmed")
		}
	})

	op.onFailure = c.failures.Subscribe(func(f events.ConnectionFailure) {
		if !f.Device.SameIdentity(target) {
			return
		}
		if op.settle(outcomeFailed, nil, device.NewDisconnectError(target, f.Message)) {
			target.CompareAndSwapState(device.Disconnecting, device.Connected)
			c.logger.WithFields(logrus.Fields{
				"device": id,
				"error":  f.Message,
			}).Warn("Disconnect failed")
		}
	})

	op.release = func() {
		c.disconnected.Unsubscribe(op.onDisconnected)
		c.failures.Unsubscribe(op.onFailure)
		c.forget(id, op)
	}
}

// await blocks until op settles or ctx ends. The caller must hold a waiter slot.
func (c *Correlator) await(ctx context.Context, op *pendingDisconnect) (*device.Device, error) {
	select {
	case <-op.done:
		return op.value()
	case <-ctx.Done():
		if op.detach(ctx.Err()) {
			c.logger.WithField("device", op.target.ID()).Debug("Abandoned pending disconnect")
		}
		select {
		case <-op.done:
			if result, err := op.value(); err == nil {
				return result, nil
			}
		default:
		}
		return nil, fmt.Errorf("disconnect %s: %w", op.target.ID(), ctx.Err())
	}
}
