package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blecore/adapter"
	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/eventlog"
	"github.com/srg/blecore/internal/events"
	"github.com/srg/blecore/internal/native/goble"
	"github.com/srg/blecore/pkg/config"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

A scan session runs until its duration elapses or Ctrl+C is pressed, then
lists each discovered device once with its name, address, RSSI, and
advertised services.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanServices []string
	scanEvents   bool
)

var validFormats = []string{"table", "json"}

func init() {
	addScanFlags()
}

func addScanFlags() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for until Ctrl+C)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().BoolVar(&scanEvents, "events", false, "Print the event timeline after the device list")
}

// openRadio creates the native radio for a command.
func openRadio(logger *logrus.Logger, cfg *config.Config) (*goble.Radio, error) {
	opts := goble.DefaultOptions()
	opts.ConnectTimeout = cfg.ConnectTimeout
	return goble.Open(logger, opts)
}

// onInterrupt runs fn on the first Ctrl+C or SIGTERM until the returned stop
// function is called.
func onInterrupt(fn func()) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fn()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	format := cfg.OutputFormat
	if cmd.Flags().Changed("format") {
		format = scanFormat
	}
	if !isValidFormat(format) {
		return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
	}

	timeout := cfg.ScanTimeout
	if cmd.Flags().Changed("duration") {
		timeout = scanDuration
		if timeout == 0 {
			timeout = -1 // until Ctrl+C
		}
	}

	services := cfg.Services
	if cmd.Flags().Changed("services") {
		if services, err = device.ValidateUUID(scanServices...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	radio, err := openRadio(logger, cfg)
	if err != nil {
		return err
	}
	a := adapter.New(radio, logger, adapter.WithScanTimeout(timeout))

	var recorder *eventlog.Recorder
	if scanEvents {
		recorder, err = eventlog.NewRecorder(a.Events(), cfg.EventBuffer, logger,
			events.DiscoveredChannel, events.ConnectionErrorChannel, events.ScanTimeoutChannel)
		if err != nil {
			return err
		}
		defer recorder.Close()
	}

	out := cmd.OutOrStdout()
	stop := onInterrupt(func() {
		fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, stopping scan...")
		a.StopScan()
	})
	defer stop()

	progress := NewCountdownProgressPrinter(out, "Scanning for BLE devices", timeout)
	progress.Start()
	err = a.StartScan(cmd.Context(), services...)
	progress.Stop()
	if err != nil {
		return err
	}

	logger.WithField("device_count", len(a.Discovered())).Info("BLE scan completed")

	if format == "json" {
		return displayDevicesJSON(out, a.Discovered())
	}
	if err := displayDevicesTable(out, a.Discovered()); err != nil {
		return err
	}
	if recorder != nil {
		return displayEvents(out, recorder)
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if format == f {
			return true
		}
	}
	return false
}

func displayDevicesTable(w io.Writer, devices []*device.Device) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "No devices discovered")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tSERVICES")
	for _, d := range devices {
		name := d.Name()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(d.Services(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\n", name, d.ID(), d.RSSI(), services)
	}
	return tw.Flush()
}

func displayDevicesJSON(w io.Writer, devices []*device.Device) error {
	if devices == nil {
		devices = []*device.Device{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

var eventColors = map[string]*color.Color{
	events.DiscoveredChannel:      color.New(color.FgGreen),
	events.ConnectedChannel:       color.New(color.FgGreen),
	events.DisconnectedChannel:    color.New(color.FgYellow),
	events.ConnectionLostChannel:  color.New(color.FgRed),
	events.ConnectionErrorChannel: color.New(color.FgRed),
	events.ScanTimeoutChannel:     color.New(color.FgCyan),
}

func displayEvents(w io.Writer, recorder *eventlog.Recorder) error {
	entries, err := recorder.Drain()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\nEvents (%d):\n", len(entries))
	for _, e := range entries {
		line := e.String()
		if c, ok := eventColors[e.Kind]; ok {
			line = c.Sprint(line)
		}
		fmt.Fprintf(w, "  %s  %s\n", e.Time.Format("15:04:05.000"), line)
	}
	if m := recorder.Metrics(); m.Overwritten > 0 {
		fmt.Fprintf(w, "  (%d older events dropped)\n", m.Overwritten)
	}
	return nil
}
