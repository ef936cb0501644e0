package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blecore/adapter"
	"github.com/srg/blecore/internal/device"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect <address>",
	Short: "Connect to a BLE device",
	Long: `Connect to the BLE device with the given address, hold the link, then
disconnect and wait for the radio to confirm it.

Unless --no-scan is given, the device is looked up with a scan first. With
--hold 0 the link is held until Ctrl+C.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectTimeout     time.Duration
	connectAutoconnect bool
	connectHold        time.Duration
	connectNoScan      bool
)

func init() {
	addConnectFlags()
}

func addConnectFlags() {
	connectCmd.Flags().DurationVarP(&connectTimeout, "timeout", "t", 30*time.Second, "Connect timeout (ignored with --autoconnect)")
	connectCmd.Flags().BoolVar(&connectAutoconnect, "autoconnect", false, "Wait for the device to become available")
	connectCmd.Flags().DurationVar(&connectHold, "hold", time.Second, "How long to hold the link (0 for until Ctrl+C)")
	connectCmd.Flags().BoolVar(&connectNoScan, "no-scan", false, "Dial the address without scanning for it first")
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	address := strings.ToLower(strings.TrimSpace(args[0]))
	if address == "" {
		return fmt.Errorf("device address is empty")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.ConnectTimeout = connectTimeout
	}
	autoconnect := cfg.AutoConnect || connectAutoconnect

	cmd.SilenceUsage = true

	radio, err := openRadio(logger, cfg)
	if err != nil {
		return err
	}
	a := adapter.New(radio, logger, adapter.WithScanTimeout(cfg.ScanTimeout))
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stop := onInterrupt(func() {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling...")
		a.StopScan()
		cancel()
	})
	defer stop()

	d := radio.Device(address)
	if !connectNoScan {
		if d, err = findDevice(ctx, a, address); err != nil {
			return err
		}
	}

	// subscribed before dialing, the link may drop before Connect returns
	lost := make(chan struct{})
	var lostOnce sync.Once
	sub := a.Events().ConnectionLost.Subscribe(func(ev *device.Device) {
		if ev.SameIdentity(d) {
			lostOnce.Do(func() { close(lost) })
		}
	})
	defer a.Events().ConnectionLost.Unsubscribe(sub)

	fmt.Fprintf(out, "Connecting to %s...\n", d)
	if err := a.Connect(ctx, d, autoconnect); err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s\n", d)

	var hold <-chan time.Time
	if connectHold > 0 {
		timer := time.NewTimer(connectHold)
		defer timer.Stop()
		hold = timer.C
	}

	select {
	case <-hold:
	case <-ctx.Done():
	case <-lost:
		return fmt.Errorf("%s: %w", d, ErrConnectionLost)
	}

	// the caller may already have given up; still bound the disconnect wait
	dctx, dcancel := context.WithTimeout(context.Background(), cfg.DisconnectTimeout)
	defer dcancel()
	if _, err := a.Disconnect(dctx, d); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("disconnect from %s not confirmed within %s", d, cfg.DisconnectTimeout)
		}
		return err
	}
	fmt.Fprintf(out, "Disconnected from %s\n", d)
	return nil
}

// findDevice scans until address is discovered or the scan session ends.
func findDevice(ctx context.Context, a *adapter.Adapter, address string) (*device.Device, error) {
	found := make(chan *device.Device, 1)
	sub := a.Events().Discovered.Subscribe(func(d *device.Device) {
		if d.ID() != address {
			return
		}
		select {
		case found <- d:
			a.StopScan()
		default:
		}
	})
	defer a.Events().Discovered.Unsubscribe(sub)

	if d, ok := a.Device(address); ok {
		return d, nil
	}
	if err := a.StartScan(ctx); err != nil {
		return nil, err
	}

	select {
	case d := <-found:
		return d, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s: %w", address, ErrDeviceNotFound)
}
