// Package eventlog records bus notifications into a bounded ring so a slow
// reader never blocks publishers. When full, the oldest entries are overwritten.
package eventlog

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/blecore/internal/device"
	"github.com/srg/blecore/internal/events"
)

const (
	// DefaultBufferSize is the ring capacity used by the CLI.
	DefaultBufferSize uint32 = 1024

	// MaxBufferSize guards against accidental misconfiguration.
	MaxBufferSize uint32 = 1024 * 1024
)

// Entry is one recorded notification.
type Entry struct {
	Time    time.Time     `json:"time"`
	Kind    string        `json:"kind"`
	Device  string        `json:"device,omitempty"`
	Name    string        `json:"name,omitempty"`
	RSSI    int           `json:"rssi,omitempty"`
	Message string        `json:"message,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

func (e Entry) String() string {
	switch {
	case e.Kind == events.ScanTimeoutChannel:
		return fmt.Sprintf("%s after %s", e.Kind, e.Timeout)
	case e.Message != "":
		return fmt.Sprintf("%s %s: %s", e.Kind, e.Device, e.Message)
	case e.Name != "" && e.Name != e.Device:
		return fmt.Sprintf("%s %s (%s) rssi=%d", e.Kind, e.Name, e.Device, e.RSSI)
	default:
		return fmt.Sprintf("%s %s rssi=%d", e.Kind, e.Device, e.RSSI)
	}
}

// Metrics counts recorder activity.
type Metrics struct {
	Recorded    int64
	Overwritten int64
	Errors      int64
}

type Recorder struct {
	buffer mpmc.RichOverlappedRingBuffer[Entry]
	logger *logrus.Logger
	now    func() time.Time

	recorded    atomic.Int64
	overwritten atomic.Int64
	errors      atomic.Int64

	mu       sync.Mutex
	closed   bool
	release  []func()
	draining sync.Mutex
}

// NewRecorder subscribes to the named bus channels, or to all of them when
// kinds is empty.
func NewRecorder(bus *events.Bus, size uint32, logger *logrus.Logger, kinds ...string) (*Recorder, error) {
	if bus == nil {
		return nil, fmt.Errorf("event bus cannot be nil")
	}
	if size == 0 {
		return nil, fmt.Errorf("buffer size must be > 0")
	}
	if size > MaxBufferSize {
		return nil, fmt.Errorf("buffer size %d exceeds maximum %d", size, MaxBufferSize)
	}
	if logger == nil {
		logger = logrus.New()
	}

	wanted, err := selectKinds(bus, kinds)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		buffer: mpmc.NewOverlappedRingBuffer[Entry](size),
		logger: logger,
		now:    time.Now,
	}

	for name, ch := range bus.DeviceChannels() {
		if !wanted[name] {
			continue
		}
		sub := ch.Subscribe(func(d *device.Device) {
			e := Entry{Kind: name}
			if d != nil {
				e.Device, e.Name, e.RSSI = d.ID(), d.Name(), d.RSSI()
			}
			r.record(e)
		})
		r.release = append(r.release, func() { ch.Unsubscribe(sub) })
	}

	if wanted[events.ConnectionErrorChannel] {
		sub := bus.ConnectionError.Subscribe(func(f events.ConnectionFailure) {
			e := Entry{Kind: events.ConnectionErrorChannel, Message: f.Message}
			if f.Device != nil {
				e.Device, e.Name = f.Device.ID(), f.Device.Name()
			}
			r.record(e)
		})
		r.release = append(r.release, func() { bus.ConnectionError.Unsubscribe(sub) })
	}

	if wanted[events.ScanTimeoutChannel] {
		sub := bus.ScanTimeout.Subscribe(func(t events.ScanTimeout) {
			r.record(Entry{Kind: events.ScanTimeoutChannel, Timeout: t.Timeout})
		})
		r.release = append(r.release, func() { bus.ScanTimeout.Unsubscribe(sub) })
	}

	return r, nil
}

func selectKinds(bus *events.Bus, kinds []string) (map[string]bool, error) {
	known := map[string]bool{
		events.ConnectionErrorChannel: true,
		events.ScanTimeoutChannel:     true,
	}
	for name := range bus.DeviceChannels() {
		known[name] = true
	}
	if len(kinds) == 0 {
		return known, nil
	}

	wanted := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		if !known[k] {
			return nil, fmt.Errorf("unknown event kind: %s", k)
		}
		wanted[k] = true
	}
	return wanted, nil
}

func (r *Recorder) record(e Entry) {
	e.Time = r.now()
	overwrites, err := r.buffer.EnqueueM(e)
	if err != nil {
		r.errors.Add(1)
		r.logger.WithField("error", err).Error("Failed to record event")
		return
	}
	r.recorded.Add(1)
	if overwrites > 0 {
		r.overwritten.Add(int64(overwrites))
	}
}

// Drain removes and returns the buffered entries, oldest first.
func (r *Recorder) Drain() ([]Entry, error) {
	r.draining.Lock()
	defer r.draining.Unlock()

	var out []Entry
	for !r.buffer.IsEmpty() {
		e, err := r.buffer.Dequeue()
		if err != nil {
			return out, fmt.Errorf("buffer dequeue error: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Recorder) Metrics() Metrics {
	return Metrics{
		Recorded:    r.recorded.Load(),
		Overwritten: r.overwritten.Load(),
		Errors:      r.errors.Load(),
	}
}

// Close stops recording. Buffered entries remain available to Drain.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, release := range r.release {
		release()
	}
	r.release = nil
}
