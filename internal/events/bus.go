// Package events implements the adapter event bus: a fixed set of named,
// synchronous, multi-subscriber channels.
package events

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/device"
)

// Channel names
const (
	AdvertisedChannel      = "advertised"
	DiscoveredChannel      = "discovered"
	ConnectedChannel       = "connected"
	DisconnectedChannel    = "disconnected"
	ConnectionLostChannel  = "connection-lost"
	ConnectionErrorChannel = "connection-error"
	ScanTimeoutChannel     = "scan-timeout"
)

// ConnectionFailure is published when the native layer reports a connection error.
type ConnectionFailure struct {
	Device  *device.Device
	Message string
}

// ScanTimeout is published when a scan session ends because its timer elapsed.
type ScanTimeout struct {
	Timeout time.Duration
}

// Bus groups the adapter notification channels.
type Bus struct {
	Advertised      *Channel[*device.Device]
	Discovered      *Channel[*device.Device]
	Connected       *Channel[*device.Device]
	Disconnected    *Channel[*device.Device]
	ConnectionLost  *Channel[*device.Device]
	ConnectionError *Channel[ConnectionFailure]
	ScanTimeout     *Channel[ScanTimeout]
}

// NewBus creates a bus with all channels empty.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		Advertised:      NewChannel[*device.Device](AdvertisedChannel, logger),
		Discovered:      NewChannel[*device.Device](DiscoveredChannel, logger),
		Connected:       NewChannel[*device.Device](ConnectedChannel, logger),
		Disconnected:    NewChannel[*device.Device](DisconnectedChannel, logger),
		ConnectionLost:  NewChannel[*device.Device](ConnectionLostChannel, logger),
		ConnectionError: NewChannel[ConnectionFailure](ConnectionErrorChannel, logger),
		ScanTimeout:     NewChannel[ScanTimeout](ScanTimeoutChannel, logger),
	}
}

// DeviceChannels returns the channels carrying a bare device payload, keyed by name.
func (b *Bus) DeviceChannels() map[string]*Channel[*device.Device] {
	return map[string]*Channel[*device.Device]{
		AdvertisedChannel:     b.Advertised,
		DiscoveredChannel:     b.Discovered,
		ConnectedChannel:      b.Connected,
		DisconnectedChannel:   b.Disconnected,
		ConnectionLostChannel: b.ConnectionLost,
	}
}
