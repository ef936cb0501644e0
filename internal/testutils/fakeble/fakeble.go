// Package fakeble provides in-memory go-ble devices, clients and
// advertisements for exercising the native radio without hardware.
package fakeble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
)

// Advertisement is a fixed advertisement. Only the fields below are served.
type Advertisement struct {
	ble.Advertisement
	Address string
	Name    string
	Rssi    int
	UUIDs   []ble.UUID
}

func (a *Advertisement) Addr() ble.Addr       { return ble.NewAddr(a.Address) }
func (a *Advertisement) LocalName() string    { return a.Name }
func (a *Advertisement) RSSI() int            { return a.Rssi }
func (a *Advertisement) Services() []ble.UUID { return a.UUIDs }

// Client is a link whose Disconnected channel closes on CancelConnection or Drop.
type Client struct {
	ble.Client
	CancelErr error

	cancelled    atomic.Int32
	once         sync.Once
	disconnected chan struct{}
}

func NewClient() *Client {
	return &Client{disconnected: make(chan struct{})}
}

func (c *Client) CancelConnection() error {
	c.cancelled.Add(1)
	if c.CancelErr != nil {
		return c.CancelErr
	}
	c.Drop()
	return nil
}

func (c *Client) Disconnected() <-chan struct{} { return c.disconnected }

// Cancelled reports how many times CancelConnection was called.
func (c *Client) Cancelled() int32 { return c.cancelled.Load() }

// Drop simulates the peripheral going away.
func (c *Client) Drop() {
	c.once.Do(func() { close(c.disconnected) })
}

// Device replays Adverts at the start of every scan, then scans until
// cancelled. Dials succeed with a fresh Client unless DialErr or BlockDial is set.
// With DropOnDial the returned Client is already disconnected.
type Device struct {
	Adverts    []ble.Advertisement
	ScanErr    error
	DialErr    error
	BlockDial  bool
	DropOnDial bool

	scans    atomic.Int32
	dials    atomic.Int32
	handlers chan ble.AdvHandler

	mu      sync.Mutex
	clients map[string]*Client
}

func NewDevice(adverts ...ble.Advertisement) *Device {
	return &Device{
		Adverts:  adverts,
		handlers: make(chan ble.AdvHandler, 4),
		clients:  make(map[string]*Client),
	}
}

func (d *Device) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	d.scans.Add(1)
	if d.ScanErr != nil {
		return d.ScanErr
	}
	for _, adv := range d.Adverts {
		h(adv)
	}
	select {
	case d.handlers <- h:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *Device) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	d.dials.Add(1)
	if d.BlockDial {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.DialErr != nil {
		return nil, d.DialErr
	}

	c := NewClient()
	if d.DropOnDial {
		c.Drop()
	}
	d.mu.Lock()
	d.clients[a.String()] = c
	d.mu.Unlock()
	return c, nil
}

// Handlers delivers the advertisement handler of each running scan.
func (d *Device) Handlers() <-chan ble.AdvHandler { return d.handlers }

// Scans reports how many scans were started.
func (d *Device) Scans() int32 { return d.scans.Load() }

// Dials reports how many dials were started.
func (d *Device) Dials() int32 { return d.dials.Load() }

// Client returns the last client dialed for addr.
func (d *Device) Client(addr string) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clients[addr]
}
