package adapter_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/blecore/adapter"
	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/events"
	"github.com/srg/blecore/internal/testutils"
	"github.com/srg/blecore/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type counters struct {
	advertised     atomic.Int32
	discovered     atomic.Int32
	connected      atomic.Int32
	disconnected   atomic.Int32
	connectionLost atomic.Int32
	failures       atomic.Int32
	timeouts       atomic.Int32
}

type AdapterTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	radio   *mocks.MockRadio
	adapter *adapter.Adapter
	counts  *counters
}

func (s *AdapterTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.radio = &mocks.MockRadio{}
	s.radio.On("StopScan").Return()
	s.adapter = adapter.New(s.radio, s.helper.Logger)

	s.counts = &counters{}
	bus := s.adapter.Events()
	bus.Advertised.Subscribe(func(*device.Device) { s.counts.advertised.Add(1) })
	bus.Discovered.Subscribe(func(*device.Device) { s.counts.discovered.Add(1) })
	bus.Connected.Subscribe(func(*device.Device) { s.counts.connected.Add(1) })
	bus.Disconnected.Subscribe(func(*device.Device) { s.counts.disconnected.Add(1) })
	bus.ConnectionLost.Subscribe(func(*device.Device) { s.counts.connectionLost.Add(1) })
	bus.ConnectionError.Subscribe(func(events.ConnectionFailure) { s.counts.failures.Add(1) })
	bus.ScanTimeout.Subscribe(func(events.ScanTimeout) { s.counts.timeouts.Add(1) })
}

func (s *AdapterTestSuite) startScanAsync(services ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.adapter.StartScan(context.Background(), services...)
	}()
	s.Require().Eventually(s.adapter.IsScanning, testutils.DefaultWait, time.Millisecond, "scan MUST start")
	return done
}

func (s *AdapterTestSuite) TestScanWithTimeoutDeduplicatesDiscovery() {
	// GOAL: Verify repeated advertisements are deduplicated and the session ends on timeout
	//
	// TEST SCENARIO: 50ms timeout → two adverts for D 5ms apart → 1 discovered, 2 advertised → 1 scan-timeout, 1 native stop
	s.radio.On("StartScan", mock.Anything, []string(nil)).Return(nil)
	s.adapter.SetScanTimeout(50 * time.Millisecond)

	done := s.startScanAsync()

	d := device.New("DD:DD:DD:DD:DD:01", "D")
	s.adapter.OnDeviceAdvertised(d)
	time.Sleep(5 * time.Millisecond)
	s.adapter.OnDeviceAdvertised(d)

	s.NoError(testutils.WaitDone(s.T(), done, "scan session"))

	s.Equal(int32(2), s.counts.advertised.Load(), "every advertisement MUST be published")
	s.Equal(int32(1), s.counts.discovered.Load(), "discovery MUST be published once per identity")
	s.Len(s.adapter.Discovered(), 1)
	s.Equal(int32(1), s.counts.timeouts.Load())
	s.radio.AssertNumberOfCalls(s.T(), "StopScan", 1)
	s.False(s.adapter.IsScanning())
}

func (s *AdapterTestSuite) TestScanCancelledBeforeTimeout() {
	// GOAL: Verify stopping a session publishes no scan-timeout
	//
	// TEST SCENARIO: 10s timeout → StopScan after 20ms → Start returns nil → 0 scan-timeouts, 1 native stop
	s.radio.On("StartScan", mock.Anything, []string(nil)).Return(nil)
	s.adapter.SetScanTimeout(10 * time.Second)

	done := s.startScanAsync()
	time.Sleep(20 * time.Millisecond)
	s.adapter.StopScan()

	s.NoError(testutils.WaitDone(s.T(), done, "scan session"))
	s.Equal(int32(0), s.counts.timeouts.Load(), "cancelled session MUST NOT publish scan-timeout")
	s.radio.AssertNumberOfCalls(s.T(), "StopScan", 1)
}

func (s *AdapterTestSuite) TestScanServiceFilterNormalized() {
	s.radio.On("StartScan", mock.Anything, []string{"180f", "6e400001b5a3f393e0a9e50e24dcca9e"}).Return(nil)
	s.adapter.SetScanTimeout(10 * time.Millisecond)

	err := s.adapter.StartScan(context.Background(), "0000180F-0000-1000-8000-00805F9B34FB", "6E400001-B5A3-F393-E0A9-E50E24DCCA9E")

	s.NoError(err)
	s.radio.AssertExpectations(s.T())
}

func (s *AdapterTestSuite) TestScanInvalidServiceFilter() {
	err := s.adapter.StartScan(context.Background(), "180f", "not-a-uuid")

	s.Error(err)
	s.Contains(err.Error(), "invalid UUID format at index 1")
	s.radio.AssertNotCalled(s.T(), "StartScan", mock.Anything, mock.Anything)
	s.False(s.adapter.IsScanning())
}

func (s *AdapterTestSuite) TestDisconnectCorrelation() {
	// GOAL: Verify a disconnect of D is not settled by E's failure but by D's disconnected callback
	//
	// TEST SCENARIO: D, E connected → Disconnect(D) → failure for E → D pending → disconnected D → resolved
	d := device.New("DD:DD:DD:DD:DD:01", "D")
	e := device.New("EE:EE:EE:EE:EE:02", "E")
	s.adapter.OnDeviceConnected(d)
	s.adapter.OnDeviceConnected(e)
	s.Equal(int32(2), s.counts.connected.Load())
	s.Len(s.adapter.Connected(), 2)

	issued := make(chan struct{})
	s.radio.On("Disconnect", d).Return(nil).Run(func(mock.Arguments) { close(issued) })

	type result struct {
		dev *device.Device
		err error
	}
	out := make(chan result, 1)
	go func() {
		dev, err := s.adapter.Disconnect(context.Background(), d)
		out <- result{dev, err}
	}()
	testutils.WaitDone(s.T(), issued, "native disconnect")

	s.adapter.OnConnectionFailed(e, "E went away")
	select {
	case r := <-out:
		s.Failf("disconnect settled by another device", "%+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	s.adapter.OnDeviceDisconnected(true, d)

	r := testutils.WaitDone(s.T(), out, "disconnect result")
	s.NoError(r.err)
	s.Same(d, r.dev)
	s.Equal(device.Disconnected, d.State())
	s.Equal([]*device.Device{e}, s.adapter.Connected())
	s.Equal(int32(1), s.counts.failures.Load())
	s.Equal(int32(1), s.counts.disconnected.Load())
}

func (s *AdapterTestSuite) TestDisconnectUntracked() {
	d := device.New("DD:DD:DD:DD:DD:01", "D")

	dev, err := s.adapter.Disconnect(context.Background(), d)

	s.NoError(err)
	s.Same(d, dev)
	s.radio.AssertNotCalled(s.T(), "Disconnect", mock.Anything)
}

func (s *AdapterTestSuite) TestConnectionLost() {
	// GOAL: Verify a radio-initiated disconnect is reported as connection-lost and forgets the device
	d := device.New("DD:DD:DD:DD:DD:01", "D")
	s.adapter.OnDeviceAdvertised(d)
	s.adapter.OnDeviceConnected(d)

	s.adapter.OnDeviceDisconnected(false, d)

	s.Equal(int32(1), s.counts.connectionLost.Load())
	s.Equal(int32(0), s.counts.disconnected.Load(), "lost connection MUST NOT publish disconnected")
	s.Empty(s.adapter.Connected())
	s.Empty(s.adapter.Discovered(), "lost device MUST be removed from discovered")
	_, ok := s.adapter.Device(d.ID())
	s.False(ok)

	// a fresh advertisement brings it back
	s.adapter.OnDeviceAdvertised(d)
	s.Equal(int32(2), s.counts.discovered.Load())
}

func (s *AdapterTestSuite) TestConnectThroughAdapter() {
	d := device.New("DD:DD:DD:DD:DD:01", "D")
	s.radio.On("Connect", mock.Anything, d, false).Return(nil).Run(func(mock.Arguments) {
		s.adapter.OnDeviceConnected(d)
	})

	s.NoError(s.adapter.Connect(context.Background(), d, false))
	s.Equal(device.Connected, d.State())
	found, ok := s.adapter.Device(d.ID())
	s.True(ok, "connected device MUST be found without a prior advertisement")
	s.Same(d, found)

	// second connect is a no-op
	s.NoError(s.adapter.Connect(context.Background(), d, false))
	s.radio.AssertNumberOfCalls(s.T(), "Connect", 1)
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}

type bindingRadio struct {
	*mocks.MockRadio
	bound adapter.Callbacks
}

func (b *bindingRadio) BindCallbacks(cb adapter.Callbacks) {
	b.bound = cb
}

func TestNew_BindsCallbacksAndOptions(t *testing.T) {
	radio := &bindingRadio{MockRadio: &mocks.MockRadio{}}

	a := adapter.New(radio, nil, adapter.WithScanTimeout(3*time.Second))

	if radio.bound != a {
		t.Fatalf("adapter MUST bind itself to the native radio")
	}
	if got := a.ScanTimeout(); got != 3*time.Second {
		t.Fatalf("scan timeout = %v, want 3s", got)
	}
}
