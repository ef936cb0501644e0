// Package scan runs single-flight scan sessions bounded by a timeout or by
// cooperative cancellation.
package scan

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/events"
)

// DefaultTimeout is the scan session duration used when none is configured.
const DefaultTimeout = 10 * time.Second

// Radio is the native scanning collaborator.
//
// StartScan returns once scanning has been initiated (or failed) and must return
// promptly when ctx is cancelled. StopScan is best-effort and idempotent.
type Radio interface {
	StartScan(ctx context.Context, serviceFilter []string) error
	StopScan()
}

type session struct {
	cancel     context.CancelFunc
	timeout    time.Duration
	cancelling atomic.Bool
	cleanup    sync.Once
}

// Controller owns at most one live scan session.
type Controller struct {
	radio    Radio
	timeouts *events.Channel[events.ScanTimeout]
	logger   *logrus.Logger

	mu      sync.Mutex
	timeout time.Duration
	current *session
}

// NewController creates a controller that publishes on timeouts when a session
// ends because its timer elapsed.
func NewController(radio Radio, timeouts *events.Channel[events.ScanTimeout], logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		radio:    radio,
		timeouts: timeouts,
		logger:   logger,
		timeout:  DefaultTimeout,
	}
}

// Timeout returns the duration applied to the next session.
func (c *Controller) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// SetTimeout changes the duration of subsequent sessions; a running session keeps
// its own clock. A non-positive value makes sessions run until cancelled.
func (c *Controller) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// IsScanning reports whether a session is live.
func (c *Controller) IsScanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Start runs a scan session and returns when it ends. If a session is already
// live the call returns nil immediately and leaves that session untouched.
//
// Cancelling ctx cancels the session. Cancellation and timeout both end the
// session without error; only a native start failure is returned.
func (c *Controller) Start(ctx context.Context, serviceFilter []string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		c.logger.Debug("Scan already in progress, ignoring start request")
		return nil
	}
	sessCtx, cancel := context.WithCancel(ctx)
	s := &session{cancel: cancel, timeout: c.timeout}
	c.current = s
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"timeout":  s.timeout,
		"services": serviceFilter,
	}).Info("Starting BLE scan session...")

	if err := c.radio.StartScan(sessCtx, serviceFilter); err != nil {
		cancelled := sessCtx.Err() != nil
		c.finish(s)
		if cancelled {
			c.logger.WithField("error", err).Info("Scan session cancelled while starting")
			return nil
		}
		c.logger.WithField("error", err).Error("Failed to start BLE scan")
		return fmt.Errorf("failed to start scan: %w", err)
	}

	var expired <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-expired:
		c.finish(s)
		c.logger.WithField("timeout", s.timeout).Info("BLE scan session timed out")
		c.timeouts.Publish(events.ScanTimeout{Timeout: s.timeout})
	case <-sessCtx.Done():
		c.finish(s)
		c.logger.Info("BLE scan session cancelled")
	}
	return nil
}

// Stop requests cancellation of the live session and returns immediately;
// cleanup runs on the goroutine blocked in Start.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return
	}
	if s.cancelling.CompareAndSwap(false, true) {
		c.logger.Debug("Stopping BLE scan session...")
		s.cancel()
	}
}

// finish stops the radio, then releases the session slot and its context.
// Runs once per session whichever race arm gets here first.
func (c *Controller) finish(s *session) {
	s.cleanup.Do(func() {
		c.radio.StopScan()

		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()

		s.cancel()
	})
}
