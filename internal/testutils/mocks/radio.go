// Package mocks provides testify mocks for the native collaborators.
package mocks

import (
	"context"

	"github.com/srg/blecore/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockRadio is a mock native radio covering scanning and connection requests.
type MockRadio struct {
	mock.Mock
}

func (m *MockRadio) StartScan(ctx context.Context, serviceFilter []string) error {
	args := m.Called(ctx, serviceFilter)
	return args.Error(0)
}

func (m *MockRadio) StopScan() {
	m.Called()
}

func (m *MockRadio) Connect(ctx context.Context, d *device.Device, autoconnect bool) error {
	args := m.Called(ctx, d, autoconnect)
	return args.Error(0)
}

func (m *MockRadio) Disconnect(d *device.Device) error {
	args := m.Called(d)
	return args.Error(0)
}

// BlockUntilCancelled is a Run function for StartScan that waits for the scan
// context to be cancelled, simulating a radio that is slow to start.
func BlockUntilCancelled(args mock.Arguments) {
	ctx := args.Get(0).(context.Context)
	<-ctx.Done()
}
