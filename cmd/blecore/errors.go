package main

import (
	"errors"
	"strings"

	"github.com/srg/blecore/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while the command held it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrDeviceNotFound indicates the scan ended without seeing the device.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError renders err for the terminal, replacing library detail with
// a hint where the cause is known.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable. Turn it on and try again."
	case errors.Is(err, device.ErrUnsupported):
		return "BLE is not supported on this platform: " + err.Error()
	case errors.Is(err, ErrConnectionLost):
		return "The connection to the device was lost."
	}

	var cerr *device.ConnectionError
	if errors.As(err, &cerr) {
		switch cerr.State {
		case device.ConnectFailed:
			return "Failed to connect to " + cerr.Device + ": " + cerr.Msg + causeText(cerr)
		case device.DisconnectFailed:
			return "Failed to disconnect from " + cerr.Device + ": " + cerr.Msg + causeText(cerr)
		}
	}

	msg := err.Error()
	if msg == "" {
		return "unknown error"
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func causeText(cerr *device.ConnectionError) string {
	if cerr.Msg != "" || cerr.Err == nil {
		return ""
	}
	return cerr.Err.Error()
}
