package gpio

import (
	"sync"
	"time"
)

// SimRangefinder simulates the trigger/echo pin pair of an ultrasonic
// sensor for dev mode. It implements OutputPin for the trigger side and
// EdgeSource for the echo side: a trigger cycle (high then low) schedules a
// rising/falling edge pair whose width corresponds to the configured
// distance.
type SimRangefinder struct {
	mu        sync.Mutex
	ch        chan EdgeEvent
	highSeen  bool
	distMM    uint32
	noEcho    bool
	closeOnce sync.Once
	start     time.Time
}

// NewSimRangefinder creates a simulated rangefinder reporting the given
// distance in millimetres.
func NewSimRangefinder(distanceMM uint32) *SimRangefinder {
	return &SimRangefinder{
		ch:     make(chan EdgeEvent, 8),
		distMM: distanceMM,
		start:  time.Now(),
	}
}

// SetDistance changes the simulated obstacle distance.
func (s *SimRangefinder) SetDistance(mm uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distMM = mm
}

// SetNoEcho makes subsequent trigger cycles produce no echo at all,
// simulating an out-of-range target.
func (s *SimRangefinder) SetNoEcho(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noEcho = v
}

func (s *SimRangefinder) micros() uint64 {
	return uint64(time.Since(s.start).Microseconds())
}

// Set implements the trigger pin. A high followed by a low completes one
// trigger cycle and emits the echo pulse.
func (s *SimRangefinder) Set(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if high {
		s.highSeen = true
		return nil
	}
	if !s.highSeen {
		return nil
	}
	s.highSeen = false
	if s.noEcho {
		return nil
	}
	// Invert the driver's conversion: width_us = dist_mm * 2000 / 343.
	width := uint64(s.distMM) * 2000 / 343
	now := s.micros()
	select {
	case s.ch <- EdgeEvent{Edge: Rising, Micros: now}:
	default:
	}
	select {
	case s.ch <- EdgeEvent{Edge: Falling, Micros: now + width}:
	default:
	}
	return nil
}

func (s *SimRangefinder) Events() <-chan EdgeEvent {
	return s.ch
}

func (s *SimRangefinder) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}
