package device

import (
	"errors"
	"fmt"
)

// ConnectionState represents the specific kind of connection failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	ConnectFailed    ConnectionState = "connect_failed"
	DisconnectFailed ConnectionState = "disconnect_failed"
)

// ConnectionError represents any connection-related problem reported for a device
type ConnectionError struct {
	State  ConnectionState
	Device string // device identity, empty for sentinels
	Msg    string
	Err    error // underlying native error, if any
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	prefix := string(e.State)
	if e.Device != "" {
		prefix = fmt.Sprintf("%s %s", e.State, e.Device)
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap exposes the native cause to errors.Is / errors.As
func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrConnectFailed    = &ConnectionError{State: ConnectFailed}
	ErrDisconnectFailed = &ConnectionError{State: DisconnectFailed}
)

// Radio errors
var (
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("unsupported")
)

// NewConnectError builds a connect failure for d carrying the native message.
func NewConnectError(d *Device, msg string) *ConnectionError {
	return &ConnectionError{State: ConnectFailed, Device: d.ID(), Msg: msg}
}

// NewDisconnectError builds a disconnect failure for d carrying the native message.
func NewDisconnectError(d *Device, msg string) *ConnectionError {
	return &ConnectionError{State: DisconnectFailed, Device: d.ID(), Msg: msg}
}

// WrapConnectError builds a connect failure for d caused by err.
func WrapConnectError(d *Device, err error) *ConnectionError {
	return &ConnectionError{State: ConnectFailed, Device: d.ID(), Err: err}
}

// WrapDisconnectError builds a disconnect failure for d caused by err.
func WrapDisconnectError(d *Device, err error) *ConnectionError {
	return &ConnectionError{State: DisconnectFailed, Device: d.ID(), Err: err}
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
