// Package alert maps distance measurements to discrete alert levels and
// renders each level as a haptic waveform on the vibration motor.
package alert

import (
	"time"

	"github.com/smartcap-data/capsense/internal/gpio"
	"github.com/smartcap-data/capsense/internal/rangefinder"
)

// Level is the alert severity, ordered by escalation.
type Level int32

const (
	Safe Level = iota
	Warning
	Critical
)

func (l Level) String() string {
	switch l {
	case Safe:
		return "safe"
	case Warning:
		return "warning"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Step is one segment of a haptic pattern: drive the motor at Intensity
// for Duration.
type Step struct {
	Intensity uint8
	Duration  time.Duration
}

// HapticPattern is a finite, time-ordered waveform associated with one
// alert level. Patterns are static configuration and never mutated.
type HapticPattern []Step

var (
	// safePattern is empty: no vibration.
	safePattern = HapticPattern{}

	// warningPattern is three 100ms pulses at moderate intensity with
	// 100ms gaps, ~600ms total.
	warningPattern = HapticPattern{
		{Intensity: 200, Duration: 100 * time.Millisecond},
		{Intensity: 0, Duration: 100 * time.Millisecond},
		{Intensity: 200, Duration: 100 * time.Millisecond},
		{Intensity: 0, Duration: 100 * time.Millisecond},
		{Intensity: 200, Duration: 100 * time.Millisecond},
		{Intensity: 0, Duration: 100 * time.Millisecond},
	}

	// criticalPattern is a single max-intensity 500ms burst.
	criticalPattern = HapticPattern{
		{Intensity: 255, Duration: 500 * time.Millisecond},
	}
)

// PatternFor returns the haptic pattern for a level.
func PatternFor(level Level) HapticPattern {
	switch level {
	case Warning:
		return warningPattern
	case Critical:
		return criticalPattern
	default:
		return safePattern
	}
}

// Duration returns the total playback time of the pattern.
func (p HapticPattern) Duration() time.Duration {
	var total time.Duration
	for _, s := range p {
		total += s.Duration
	}
	return total
}

// Engine classifies measurements and renders the corresponding haptic
// feedback. Thresholds come from configuration; the classification has no
// hysteresis and depends only on the measurement passed in.
type Engine struct {
	motor               gpio.PWMPin
	safeThresholdMM     uint32
	criticalThresholdMM uint32
}

// NewEngine creates an Engine with the given threshold band. Distances at
// or above safeThresholdMM are Safe, below criticalThresholdMM are
// Critical, Warning in between.
func NewEngine(motor gpio.PWMPin, safeThresholdMM, criticalThresholdMM uint32) *Engine {
	return &Engine{
		motor:               motor,
		safeThresholdMM:     safeThresholdMM,
		criticalThresholdMM: criticalThresholdMM,
	}
}

// Evaluate maps a measurement to an alert level. It is a pure function of
// its argument: an invalid measurement means "no detection" and is Safe.
func (e *Engine) Evaluate(m rangefinder.Measurement) Level {
	if !m.Valid {
		return Safe
	}
	if m.DistanceMM < e.criticalThresholdMM {
		return Critical
	}
	if m.DistanceMM < e.safeThresholdMM {
		return Warning
	}
	return Safe
}

// Render plays the haptic pattern for the level to completion before
// returning, then leaves the motor off. It blocks the calling goroutine
// for the pattern's full duration (~600ms worst case for Warning); the
// scheduler budgets for this. Render has no failure mode beyond driving
// the motor pin.
func (e *Engine) Render(level Level) {
	for _, step := range PatternFor(level) {
		e.motor.SetDuty(step.Intensity)
		time.Sleep(step.Duration)
	}
	e.motor.SetDuty(0)
}

// Override drives the motor at a raw intensity, bypassing classification.
// Used by the control channel's vibrate command.
func (e *Engine) Override(intensity uint8) {
	e.motor.SetDuty(intensity)
}
