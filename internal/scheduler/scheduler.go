// Package scheduler runs the cooperative device loop: once per tick it
// services pending control commands, and at the mode's cadence it runs one
// ranging measurement, one alert render, and one frame streaming attempt.
// The loop is single-goroutine and non-preemptive: any blocking stage
// stalls the tick, so each stage carries a documented worst case (the echo
// timeout, the ~600ms Warning render, and the connect/write timeouts) and
// the cycle interval has to budget for their sum.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartcap-data/capsense/internal/alert"
	"github.com/smartcap-data/capsense/internal/camera"
	"github.com/smartcap-data/capsense/internal/device"
	"github.com/smartcap-data/capsense/internal/gpio"
	"github.com/smartcap-data/capsense/internal/monitoring"
	"github.com/smartcap-data/capsense/internal/rangefinder"
	"github.com/smartcap-data/capsense/internal/stream"
)

// Ranger performs one trigger/echo measurement.
type Ranger interface {
	Measure(ctx context.Context) rangefinder.Measurement
}

// Alerter classifies measurements and renders haptic feedback.
type Alerter interface {
	Evaluate(m rangefinder.Measurement) alert.Level
	Render(level alert.Level)
}

// FrameSender transmits one frame message to the backend.
type FrameSender interface {
	Send(ctx context.Context, image []byte, meta string) (int, error)
}

// CommandPoller dispatches at most one pending control command.
type CommandPoller interface {
	Poll() int
}

// TelemetryRecorder logs cycle outcomes. Recording is best-effort; errors
// are logged and never interrupt the loop.
type TelemetryRecorder interface {
	RecordMeasurement(distanceMM uint32, valid bool, alertLevel string) error
	RecordStreamAttempt(bytesSent int, ok bool, errText string) error
}

// Intervals is the cycle cadence per device mode.
type Intervals struct {
	Active   time.Duration
	Balanced time.Duration
	Eco      time.Duration
}

// For returns the cadence for a mode. Standby has no cadence.
func (iv Intervals) For(m device.Mode) time.Duration {
	switch m {
	case device.Balanced:
		return iv.Balanced
	case device.Eco:
		return iv.Eco
	default:
		return iv.Active
	}
}

// Options wires a Scheduler. Ranger, Alerter, Commands, and State are
// required; the rest degrade gracefully when nil.
type Options struct {
	State     *device.State
	Ranger    Ranger
	Alerter   Alerter
	Camera    camera.Source
	Latest    *camera.LatestHolder
	Sender    FrameSender
	Commands  CommandPoller
	Telemetry TelemetryRecorder
	Indicator gpio.OutputPin
	Intervals Intervals

	// TickPeriod is the command polling cadence. It bounds how stale a
	// pending command can get between cycles.
	TickPeriod time.Duration
}

// Scheduler is the single-threaded cooperative device loop.
type Scheduler struct {
	opts      Options
	lastCycle time.Time
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = 10 * time.Millisecond
	}
	if opts.Intervals.Active <= 0 {
		opts.Intervals.Active = 100 * time.Millisecond
	}
	if opts.Intervals.Balanced <= 0 {
		opts.Intervals.Balanced = 300 * time.Millisecond
	}
	if opts.Intervals.Eco <= 0 {
		opts.Intervals.Eco = 500 * time.Millisecond
	}
	return &Scheduler{opts: opts}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick services at most one control command, then runs the measurement
// cycle if the mode's interval has elapsed. Exported so tests can step the
// loop deterministically.
func (s *Scheduler) Tick(ctx context.Context) {
	// Command polling happens every tick regardless of interval state.
	s.opts.Commands.Poll()

	mode := s.opts.State.Mode()
	if !mode.CycleEnabled() {
		return
	}

	interval := s.opts.Intervals.For(mode)
	now := time.Now()
	if !s.lastCycle.IsZero() && now.Sub(s.lastCycle) < interval {
		return
	}
	// An interval that overran by a whole period means at least one cycle
	// was missed; count it rather than silently absorbing it.
	if !s.lastCycle.IsZero() && now.Sub(s.lastCycle) >= 2*interval {
		s.opts.State.CountMissedCycle()
	}
	s.lastCycle = now

	s.cycle(ctx, mode)
}

// cycle runs the three stages in order. Stage failures are independent:
// an invalid measurement still renders (as Safe), and a capture or stream
// failure never skips the next stage or the next cycle.
func (s *Scheduler) cycle(ctx context.Context, mode device.Mode) {
	m := s.opts.Ranger.Measure(ctx)
	s.opts.State.RecordMeasurement(m.DistanceMM, m.Valid)

	level := s.opts.Alerter.Evaluate(m)
	s.opts.State.SetAlertLevel(int32(level))
	s.opts.Alerter.Render(level)

	if s.opts.Telemetry != nil {
		if err := s.opts.Telemetry.RecordMeasurement(m.DistanceMM, m.Valid, level.String()); err != nil {
			monitoring.Logf("failed to record measurement: %v", err)
		}
	}

	if !mode.StreamingEnabled() || s.opts.Camera == nil || s.opts.Sender == nil {
		return
	}

	frame, err := s.opts.Camera.Capture()
	if err != nil {
		monitoring.Logf("camera capture failed: %v", err)
		s.pulseIndicator()
		return
	}
	if s.opts.Latest != nil {
		s.opts.Latest.Store(frame)
	}

	meta := fmt.Sprintf(`{"dist":%d}`, m.DistanceMM)
	sent, err := s.opts.Sender.Send(ctx, frame.Data, meta)
	if errors.Is(err, stream.ErrDeferred) {
		// The frame is queued in the spool; the spool's result hook
		// accounts for the eventual transmission.
		return
	}
	if err != nil {
		monitoring.Logf("frame stream failed: %v", err)
		s.opts.State.CountFrameDropped()
		s.recordStream(sent, false, err.Error())
		s.pulseIndicator()
		return
	}
	s.opts.State.CountFrameSent()
	s.recordStream(sent, true, "")
}

func (s *Scheduler) recordStream(sent int, ok bool, errText string) {
	if s.opts.Telemetry == nil {
		return
	}
	if err := s.opts.Telemetry.RecordStreamAttempt(sent, ok, errText); err != nil {
		monitoring.Logf("failed to record stream attempt: %v", err)
	}
}

// pulseIndicator blinks the status LED briefly to surface a capture or
// connect failure to the wearer.
func (s *Scheduler) pulseIndicator() {
	if s.opts.Indicator == nil {
		return
	}
	s.opts.Indicator.Set(true)
	time.Sleep(100 * time.Millisecond)
	s.opts.Indicator.Set(false)
}
