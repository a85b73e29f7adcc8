// Package gpio abstracts the handful of pins the cap hardware exposes: the
// ultrasonic trigger/echo pair, the vibration motor PWM channel, and the
// status LED. The abstractions enable unit testing and dev mode without real
// hardware.
package gpio

// OutputPin drives a single digital output.
type OutputPin interface {
	// Set drives the pin high (true) or low (false).
	Set(high bool) error
}

// PWMPin drives a PWM output with an 8-bit duty cycle.
type PWMPin interface {
	// SetDuty sets the duty cycle, 0 (off) to 255 (full).
	SetDuty(duty uint8) error
}

// Edge is the direction of a level change on an input pin.
type Edge int

const (
	Rising Edge = iota
	Falling
)

func (e Edge) String() string {
	switch e {
	case Rising:
		return "rising"
	case Falling:
		return "falling"
	default:
		return "unknown"
	}
}

// EdgeEvent is one observed level change on the echo pin together with the
// microsecond timestamp at which it occurred.
type EdgeEvent struct {
	Edge   Edge
	Micros uint64
}

// EdgeSource delivers echo-pin level changes as events on a channel. This
// models the hardware edge interrupt as a separate task feeding an event
// channel rather than a shared global.
type EdgeSource interface {
	// Events returns the channel on which edge events are delivered. The
	// channel is closed when the source is closed.
	Events() <-chan EdgeEvent
	Close() error
}
