// Package rangefinder drives the ultrasonic distance sensor: it emits a
// trigger pulse, captures the echo pulse width from the edge event stream,
// and converts the width to a distance in millimetres.
package rangefinder

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartcap-data/capsense/internal/gpio"
)

// TriggerPulseWidth is the width of the trigger pulse sent to the sensor.
const TriggerPulseWidth = 10 * time.Microsecond

// DefaultEchoTimeoutMicros bounds the echo wait. It corresponds to a
// ~400cm maximum range at the speed of sound.
const DefaultEchoTimeoutMicros = 23200

// Measurement is one ranging result. When Valid is false the distance
// carries no meaning and is zero by convention.
type Measurement struct {
	Timestamp  time.Time
	DistanceMM uint32
	Valid      bool
}

// DistanceMM converts an echo pulse width in microseconds to a distance in
// millimetres. Speed of sound is 343 m/s; the width covers the round trip.
func DistanceMM(widthMicros uint64) uint32 {
	return uint32(widthMicros * 343 / 2000)
}

// Driver measures distance via an ultrasonic trigger/echo pin pair. The
// echo pulse width is captured by Watch, which consumes edge events
// concurrently with Measure. The pulse fields have exactly one writer (the
// watch goroutine); Measure reads them only after the completion counter
// confirms a full echo, so no lock is needed.
type Driver struct {
	trigger gpio.OutputPin
	edges   gpio.EdgeSource
	timeout time.Duration

	// measureMu keeps one pulse in flight at a time. The scheduler cycle
	// and the diagnostics distance probe share this driver.
	measureMu sync.Mutex

	pulseStart atomic.Uint64
	pulseWidth atomic.Uint64
	completed  atomic.Uint64
}

// New creates a Driver with the given echo timeout in microseconds. A
// non-positive timeout selects the default.
func New(trigger gpio.OutputPin, edges gpio.EdgeSource, timeoutMicros int64) *Driver {
	if timeoutMicros <= 0 {
		timeoutMicros = DefaultEchoTimeoutMicros
	}
	return &Driver{
		trigger: trigger,
		edges:   edges,
		timeout: time.Duration(timeoutMicros) * time.Microsecond,
	}
}

// Watch consumes echo edge events until the context is cancelled or the
// edge source closes. Run it in its own goroutine; it is the sole writer of
// the pulse fields.
func (d *Driver) Watch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.edges.Events():
			if !ok {
				return nil
			}
			switch ev.Edge {
			case gpio.Rising:
				d.pulseStart.Store(ev.Micros)
			case gpio.Falling:
				d.pulseWidth.Store(ev.Micros - d.pulseStart.Load())
				d.completed.Add(1)
			}
		}
	}
}

// Measure performs one trigger/echo cycle and returns the result. One call
// is one physical pulse: there are no retries. Concurrent callers are
// serialized so a probe can never adopt another call's echo. If no falling
// edge completes within the timeout the result is invalid with a zero
// distance.
func (d *Driver) Measure(ctx context.Context) Measurement {
	d.measureMu.Lock()
	defer d.measureMu.Unlock()

	m := Measurement{Timestamp: time.Now()}

	// Snapshot the completion counter before triggering so we only accept
	// an echo that finishes after this pulse.
	seq := d.completed.Load()

	if err := d.trigger.Set(true); err != nil {
		return m
	}
	time.Sleep(TriggerPulseWidth)
	if err := d.trigger.Set(false); err != nil {
		return m
	}

	deadline := time.Now().Add(d.timeout)
	for time.Now().Before(deadline) {
		if d.completed.Load() != seq {
			m.DistanceMM = DistanceMM(d.pulseWidth.Load())
			m.Valid = true
			return m
		}
		select {
		case <-ctx.Done():
			return m
		case <-time.After(50 * time.Microsecond):
		}
	}

	// Timeout: no object detected.
	return m
}
