package main

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func (s *ScanTestSuite) TestScanCmd_Help() {
	// GOAL: Verify scan command displays help text with all flags
	//
	// TEST SCENARIO: Execute scan --help → returns success → output contains description and flag documentation
	output, err := s.ExecuteCommand("scan", "--help")
	s.Require().NoError(err, "help command MUST succeed")

	s.Contains(output, "Scan for and display Bluetooth Low Energy devices", "help MUST contain command description")
	s.Contains(output, "--duration", "help MUST document --duration flag")
	s.Contains(output, "--services", "help MUST document --services flag")
	s.Contains(output, "--events", "help MUST document --events flag")
}

func (s *ScanTestSuite) TestScanCmd_Table() {
	// GOAL: Verify a timed scan lists every discovered device once
	//
	// TEST SCENARIO: two advertising devices → scan 50ms → table with both in discovery order
	output, err := s.ExecuteCommand("scan", "--duration", "50ms")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(output, `
NAME    ADDRESS            RSSI     SERVICES
Sensor  aa:bb:cc:dd:ee:01  -40 dBm  180f
Heart   aa:bb:cc:dd:ee:02  -55 dBm  180d
`)
	s.Equal(int32(1), s.dev.Scans(), "one scan session MUST run")
}

func (s *ScanTestSuite) TestScanCmd_ServiceFilter() {
	output, err := s.ExecuteCommand("scan", "--duration", "50ms", "--services", "0000180D-0000-1000-8000-00805F9B34FB")
	s.Require().NoError(err)

	s.Contains(output, "Heart")
	s.NotContains(output, "Sensor", "devices without the service MUST be filtered")
}

func (s *ScanTestSuite) TestScanCmd_JSON() {
	output, err := s.ExecuteCommand("scan", "--duration", "50ms", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(output, `[
		{"id": "aa:bb:cc:dd:ee:01", "name": "Sensor", "rssi": -40, "services": ["180f"], "state": "disconnected", "lastSeen": "<<PRESENCE>>"},
		{"id": "aa:bb:cc:dd:ee:02", "name": "Heart", "rssi": -55, "services": ["180d"], "state": "disconnected", "lastSeen": "<<PRESENCE>>"}
	]`)
}

func (s *ScanTestSuite) TestScanCmd_Events() {
	// GOAL: Verify --events prints the discovery timeline ending with the scan timeout
	output, err := s.ExecuteCommand("scan", "--duration", "50ms", "--events")
	s.Require().NoError(err)

	s.Contains(output, "Events (3):")
	s.Contains(output, "discovered Sensor (aa:bb:cc:dd:ee:01) rssi=-40")
	s.Contains(output, "discovered Heart (aa:bb:cc:dd:ee:02) rssi=-55")
	s.Contains(output, "scan-timeout after 50ms")
}

func (s *ScanTestSuite) TestScanCmd_NoDevices() {
	s.dev.Adverts = nil

	output, err := s.ExecuteCommand("scan", "--duration", "20ms")
	s.Require().NoError(err)
	s.Equal("No devices discovered\n", output)
}

func (s *ScanTestSuite) TestScanCmd_InvalidFormat() {
	// GOAL: Verify scan command rejects invalid format values
	_, err := s.ExecuteCommand("scan", "--format=invalid")

	s.Require().Error(err, "invalid format MUST return error")
	s.Contains(err.Error(), "invalid format 'invalid': must be one of [table json]", "error MUST list valid formats")
	s.Equal(int32(0), s.dev.Scans())
}

func (s *ScanTestSuite) TestScanCmd_InvalidService() {
	_, err := s.ExecuteCommand("scan", "--services", "not-a-uuid")

	s.Require().Error(err)
	s.Contains(err.Error(), "invalid service UUID")
}

func (s *ScanTestSuite) TestScanCmd_BluetoothOff() {
	s.dev.ScanErr = errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")

	_, err := s.ExecuteCommand("scan", "--duration", "50ms")

	s.Require().ErrorIs(err, device.ErrBluetoothOff)
	s.Equal("Bluetooth is turned off or unavailable. Turn it on and try again.", FormatUserError(err))
}

func (s *ScanTestSuite) TestScanCmd_ConfigFile() {
	path := s.WriteConfig("scan_timeout: 30ms\noutput_format: json\n")

	output, err := s.ExecuteCommand("scan", "--config", path)
	s.Require().NoError(err)
	s.Contains(output, `"id": "aa:bb:cc:dd:ee:01"`, "config output format MUST apply")
}

func (s *ScanTestSuite) TestScanCmd_Interrupt() {
	// GOAL: Verify Ctrl+C ends an open-ended scan and still prints results
	//
	// TEST SCENARIO: scan --duration 0 → wait for scan → SIGINT → command returns nil
	done := s.ExecuteAsync("scan", "--duration", "0")
	s.WaitScanning()

	s.Interrupt()

	select {
	case err := <-done:
		s.NoError(err, "interrupted scan MUST NOT fail")
	case <-time.After(2 * time.Second):
		s.FailNow("scan MUST stop on Ctrl+C")
	}
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
