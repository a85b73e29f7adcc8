package gpio

import (
	"fmt"
	"time"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// motorPWMFrequency is the carrier frequency for haptic motor drive. Fast
// enough to be inaudible as a tone through the motor body.
const motorPWMFrequency = 1 * physic.KiloHertz

// Init loads the host GPIO drivers. Call once before opening any pin.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialise gpio host: %w", err)
	}
	return nil
}

// RealOutputPin drives a hardware pin through periph.io.
type RealOutputPin struct {
	pin pgpio.PinOut
}

// OpenOutputPin opens a named pin for output, initially low.
func OpenOutputPin(name string) (*RealOutputPin, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no gpio pin named %q", name)
	}
	if err := pin.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure %s for output: %w", name, err)
	}
	return &RealOutputPin{pin: pin}, nil
}

func (p *RealOutputPin) Set(high bool) error {
	return p.pin.Out(pgpio.Level(high))
}

// RealPWMPin drives a hardware PWM-capable pin through periph.io.
type RealPWMPin struct {
	pin pgpio.PinOut
}

// OpenPWMPin opens a named pin for PWM output, initially off.
func OpenPWMPin(name string) (*RealPWMPin, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no gpio pin named %q", name)
	}
	if err := pin.Out(pgpio.Low); err != nil {
		return nil, fmt.Errorf("failed to configure %s for output: %w", name, err)
	}
	return &RealPWMPin{pin: pin}, nil
}

func (p *RealPWMPin) SetDuty(duty uint8) error {
	if duty == 0 {
		return p.pin.Out(pgpio.Low)
	}
	d := pgpio.Duty(uint64(pgpio.DutyMax) * uint64(duty) / 255)
	return p.pin.PWM(d, motorPWMFrequency)
}

// RealEdgeSource delivers hardware edge interrupts on the echo pin as
// EdgeEvents. Timestamps come from the monotonic clock, anchored at open
// time, so pulse-width subtraction is safe across wall clock adjustments.
type RealEdgeSource struct {
	pin    pgpio.PinIn
	events chan EdgeEvent
	done   chan struct{}
	epoch  time.Time
}

// OpenEdgeSource opens a named pin for edge detection on both edges and
// starts the watch goroutine.
func OpenEdgeSource(name string) (*RealEdgeSource, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("no gpio pin named %q", name)
	}
	if err := pin.In(pgpio.PullDown, pgpio.BothEdges); err != nil {
		return nil, fmt.Errorf("failed to configure %s for edge detection: %w", name, err)
	}
	s := &RealEdgeSource{
		pin:    pin,
		events: make(chan EdgeEvent, 16),
		done:   make(chan struct{}),
		epoch:  time.Now(),
	}
	go s.watch()
	return s, nil
}

func (s *RealEdgeSource) watch() {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		// Bounded wait so Close is observed promptly even with no edges.
		if !s.pin.WaitForEdge(100 * time.Millisecond) {
			continue
		}
		edge := Falling
		if s.pin.Read() == pgpio.High {
			edge = Rising
		}
		ev := EdgeEvent{Edge: edge, Micros: uint64(time.Since(s.epoch).Microseconds())}
		select {
		case s.events <- ev:
		default:
			// Consumer stalled; drop rather than block the watcher.
		}
	}
}

func (s *RealEdgeSource) Events() <-chan EdgeEvent {
	return s.events
}

func (s *RealEdgeSource) Close() error {
	close(s.done)
	return s.pin.Halt()
}
