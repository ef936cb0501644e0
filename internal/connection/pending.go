package connection

import (
	"sync"

	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/events"
)

type outcome int

const (
	outcomePending outcome = iota
	outcomeResolved
	outcomeFailed
	outcomeAbandoned
)

// pendingDisconnect is a single-assignment result slot for one disconnect
// request. Whichever subscription matches first settles it; settling removes
// both subscriptions before waiters are woken.
type pendingDisconnect struct {
	target *device.Device
	done   chan struct{}

	mu      sync.Mutex
	state   outcome
	result  *device.Device
	err     error
	waiters int

	onDisconnected events.Subscription
	onFailure      events.Subscription
	release        func()
}

// newPendingDisconnect returns a slot already holding its creator as a waiter.
func newPendingDisconnect(target *device.Device) *pendingDisconnect {
	return &pendingDisconnect{
		target:  target,
		done:    make(chan struct{}),
		waiters: 1,
		release: func() {},
	}
}

// settle records the outcome if the slot is still pending. Reports whether this
// call won.
func (p *pendingDisconnect) settle(state outcome, result *device.Device, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.settleLocked(state, result, err)
}

func (p *pendingDisconnect) settleLocked(state outcome, result *device.Device, err error) bool {
	if p.state != outcomePending {
		return false
	}
	p.release()
	p.state = state
	p.result = result
	p.err = err
	close(p.done)
	return true
}

// attach registers a waiter. Returns false when the slot is already settled.
func (p *pendingDisconnect) attach() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != outcomePending {
		return false
	}
	p.waiters++
	return true
}

// detach drops a waiter that stopped waiting. The last waiter to leave abandons
// a still pending slot. Reports whether the slot was abandoned by this call.
func (p *pendingDisconnect) detach(cause error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiters--
	if p.waiters > 0 {
		return false
	}
	return p.settleLocked(outcomeAbandoned, nil, cause)
}

func (p *pendingDisconnect) value() (*device.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

func (p *pendingDisconnect) abandoned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == outcomeAbandoned
}
