package main

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blecore/internal/native/goble"
	"github.com/srg/blecore/internal/testutils/fakeble"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "aa:bb:cc:dd:ee:01"
	TestDeviceAddress2 = "aa:bb:cc:dd:ee:02"
)

// CommandTestSuite runs commands against a fake go-ble device.
type CommandTestSuite struct {
	suite.Suite
	dev             *fakeble.Device
	originalFactory func() (goble.Device, error)
}

func defaultAdverts() []ble.Advertisement {
	return []ble.Advertisement{
		&fakeble.Advertisement{Address: TestDeviceAddress1, Name: "Sensor", Rssi: -40, UUIDs: []ble.UUID{ble.UUID16(0x180f)}},
		&fakeble.Advertisement{Address: TestDeviceAddress2, Name: "Heart", Rssi: -55, UUIDs: []ble.UUID{ble.UUID16(0x180d)}},
	}
}

func (s *CommandTestSuite) SetupTest() {
	s.dev = fakeble.NewDevice(defaultAdverts()...)
	s.originalFactory = goble.DeviceFactory
	goble.DeviceFactory = func() (goble.Device, error) { return s.dev, nil }

	// fresh flag sets so Changed() does not leak between tests
	rootCmd.ResetFlags()
	addRootFlags()
	scanCmd.ResetFlags()
	addScanFlags()
	connectCmd.ResetFlags()
	addConnectFlags()
}

func (s *CommandTestSuite) TearDownTest() {
	goble.DeviceFactory = s.originalFactory
}

// ExecuteCommand runs the root command with args and returns stdout.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// ExecuteAsync runs the command on its own goroutine.
func (s *CommandTestSuite) ExecuteAsync(args ...string) <-chan error {
	done := make(chan error, 1)
	go func() {
		_, err := s.ExecuteCommand(args...)
		done <- err
	}()
	return done
}

// WriteConfig writes a YAML config file and returns its path.
func (s *CommandTestSuite) WriteConfig(body string) string {
	path := filepath.Join(s.T().TempDir(), "blecore.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o600))
	return path
}

// Interrupt delivers Ctrl+C to the test process.
func (s *CommandTestSuite) Interrupt() {
	p, err := os.FindProcess(os.Getpid())
	s.Require().NoError(err)
	s.Require().NoError(p.Signal(os.Interrupt))
}

func (s *CommandTestSuite) WaitScanning() {
	select {
	case <-s.dev.Handlers():
	case <-time.After(2 * time.Second):
		s.FailNow("scan MUST start")
	}
}
