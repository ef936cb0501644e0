package adapter

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/events"
)

// OnDeviceAdvertised publishes every advertisement and, for identities seen
// for the first time, a discovered event.
func (a *Adapter) OnDeviceAdvertised(d *device.Device) {
	if d == nil {
		return
	}
	a.bus.Advertised.Publish(d)
	if a.registry.RecordDiscovered(d) {
		a.logger.WithFields(logrus.Fields{
			"device": d.ID(),
			"name":   d.Name(),
			"rssi":   d.RSSI(),
		}).Debug("Discovered BLE device")
		a.bus.Discovered.Publish(d)
	}
}

func (a *Adapter) OnDeviceConnected(d *device.Device) {
	if d == nil {
		return
	}
	d.SetState(device.Connected)
	a.registry.RecordConnected(d)
	a.logger.WithField("device", d.ID()).Info("Device connected")
	a.bus.Connected.Publish(d)
}

// OnDeviceDisconnected publishes disconnected for user-initiated disconnects.
// Any other disconnect is a connection loss: the device is also forgotten from
// the discovered list.
func (a *Adapter) OnDeviceDisconnected(userInitiated bool, d *device.Device) {
	if d == nil {
		return
	}
	d.SetState(device.Disconnected)
	a.registry.RemoveConnected(d)

	log := a.logger.WithFields(logrus.Fields{
		"device":         d.ID(),
		"user_initiated": userInitiated,
	})
	if userInitiated {
		log.Info("Device disconnected")
		a.bus.Disconnected.Publish(d)
		return
	}

	a.registry.RemoveDiscovered(d)
	log.Warn("Connection lost")
	a.bus.ConnectionLost.Publish(d)
}

func (a *Adapter) OnConnectionFailed(d *device.Device, message string) {
	log := a.logger.WithField("error", message)
	if d != nil {
		log = log.WithField("device", d.ID())
	}
	log.Warn("Connection error")
	a.bus.ConnectionError.Publish(events.ConnectionFailure{Device: d, Message: message})
}
