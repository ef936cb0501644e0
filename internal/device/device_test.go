package device_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/srg/blecore/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevice_NameFallsBackToID(t *testing.T) {
	d := device.New("AA:BB:CC:DD:EE:FF", "")
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.Name())
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.String())

	d.Update("Heart Rate", -40, nil)
	assert.Equal(t, "Heart Rate", d.Name())
	assert.Equal(t, "Heart Rate (AA:BB:CC:DD:EE:FF)", d.String())
}

func TestDevice_UpdateKeepsNameAndMergesServices(t *testing.T) {
	d := device.New("11:22:33:44:55:66", "Sensor")

	d.Update("", -70, []string{"180f"})
	d.Update("", -60, []string{"180f", "180d"})

	assert.Equal(t, "Sensor", d.Name(), "empty advertised name MUST keep the known name")
	assert.Equal(t, -60, d.RSSI())
	assert.Equal(t, []string{"180f", "180d"}, d.Services())

	services := d.Services()
	services[0] = "mutated"
	assert.Equal(t, "180f", d.Services()[0], "Services MUST return a copy")
}

func TestDevice_SameIdentity(t *testing.T) {
	a := device.New("AA", "first")
	b := device.New("AA", "second")
	c := device.New("BB", "first")

	assert.True(t, a.SameIdentity(b), "equal IDs MUST be the same identity regardless of pointer")
	assert.False(t, a.SameIdentity(c))
	assert.False(t, a.SameIdentity(nil))

	var missing *device.Device
	assert.False(t, missing.SameIdentity(a))
}

func TestDevice_State(t *testing.T) {
	d := device.New("AA", "")
	assert.Equal(t, device.Disconnected, d.State(), "new devices MUST start disconnected")

	assert.True(t, d.CompareAndSwapState(device.Disconnected, device.Connecting))
	assert.False(t, d.CompareAndSwapState(device.Disconnected, device.Connected))
	assert.Equal(t, device.Connecting, d.State())

	d.SetState(device.Connected)
	assert.Equal(t, "connected", d.State().String())
	assert.Equal(t, "state(42)", device.State(42).String())
}

func TestDevice_ConcurrentUpdate(t *testing.T) {
	d := device.New("AA", "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Update(fmt.Sprintf("name-%d", i%3), -i, []string{fmt.Sprintf("%04x", i%5)})
			_ = d.Name()
			_ = d.Services()
		}(i)
	}
	wg.Wait()

	assert.Len(t, d.Services(), 5, "services MUST be deduplicated under concurrent updates")
}

func TestDevice_MarshalJSON(t *testing.T) {
	d := device.New("AA:BB", "Band")
	d.Update("", -55, []string{"180d"})
	d.SetState(device.Connected)

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "AA:BB", got["id"])
	assert.Equal(t, "Band", got["name"])
	assert.Equal(t, float64(-55), got["rssi"])
	assert.Equal(t, []any{"180d"}, got["services"])
	assert.Equal(t, "connected", got["state"])
	assert.Contains(t, got, "lastSeen")
}

func TestConnectionError(t *testing.T) {
	d := device.New("AA:BB", "")

	err := device.NewDisconnectError(d, "link supervision timeout")
	assert.Equal(t, "disconnect_failed AA:BB: link supervision timeout", err.Error())
	assert.ErrorIs(t, err, device.ErrDisconnectFailed)
	assert.NotErrorIs(t, err, device.ErrConnectFailed)

	wrapped := fmt.Errorf("disconnect: %w", device.NewConnectError(d, "refused"))
	assert.ErrorIs(t, wrapped, device.ErrConnectFailed)
	assert.True(t, device.IsConnectionState(wrapped, device.ConnectFailed))
	assert.False(t, device.IsConnectionState(errors.New("plain"), device.ConnectFailed))

	assert.Equal(t, "not_connected", device.ErrNotConnected.Error())

	caused := device.WrapConnectError(d, device.ErrBluetoothOff)
	assert.Equal(t, "connect_failed AA:BB: bluetooth is turned off", caused.Error())
	assert.ErrorIs(t, caused, device.ErrBluetoothOff, "native cause MUST stay in the error chain")
	assert.ErrorIs(t, caused, device.ErrConnectFailed)
	assert.ErrorIs(t, device.WrapDisconnectError(d, device.ErrUnsupported), device.ErrUnsupported)

	var nilErr *device.ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.False(t, nilErr.Is(device.ErrNotConnected))
}
