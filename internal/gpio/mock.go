package gpio

import (
	"sync"
	"time"
)

// MockOutputPin implements OutputPin and records every transition.
type MockOutputPin struct {
	mu sync.Mutex

	// States records the sequence of values passed to Set.
	States []bool

	// SetError is returned by the next Set call if set.
	SetError error
}

func (p *MockOutputPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SetError != nil {
		err := p.SetError
		p.SetError = nil
		return err
	}
	p.States = append(p.States, high)
	return nil
}

// Transitions returns a copy of the recorded pin states.
func (p *MockOutputPin) Transitions() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bool, len(p.States))
	copy(out, p.States)
	return out
}

// Last returns the most recent state, or false if Set was never called.
func (p *MockOutputPin) Last() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.States) == 0 {
		return false
	}
	return p.States[len(p.States)-1]
}

// DutyChange records one PWM duty write and when it happened.
type DutyChange struct {
	Duty uint8
	At   time.Time
}

// MockPWMPin implements PWMPin and records every duty write with a
// timestamp so tests can verify haptic pattern timing.
type MockPWMPin struct {
	mu      sync.Mutex
	Changes []DutyChange
}

func (p *MockPWMPin) SetDuty(duty uint8) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Changes = append(p.Changes, DutyChange{Duty: duty, At: time.Now()})
	return nil
}

// Duties returns just the duty values written, in order.
func (p *MockPWMPin) Duties() []uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint8, len(p.Changes))
	for i, c := range p.Changes {
		out[i] = c.Duty
	}
	return out
}

// MockEdgeSource implements EdgeSource with events injected by tests.
type MockEdgeSource struct {
	ch        chan EdgeEvent
	closeOnce sync.Once
}

// NewMockEdgeSource creates a MockEdgeSource with a small event buffer so
// tests can inject a rising/falling pair without a consumer running.
func NewMockEdgeSource() *MockEdgeSource {
	return &MockEdgeSource{ch: make(chan EdgeEvent, 8)}
}

// Emit injects an edge event.
func (s *MockEdgeSource) Emit(e EdgeEvent) {
	s.ch <- e
}

// EmitPulse injects a rising edge at start and a falling edge widthMicros
// later, simulating one echo pulse.
func (s *MockEdgeSource) EmitPulse(startMicros, widthMicros uint64) {
	s.Emit(EdgeEvent{Edge: Rising, Micros: startMicros})
	s.Emit(EdgeEvent{Edge: Falling, Micros: startMicros + widthMicros})
}

func (s *MockEdgeSource) Events() <-chan EdgeEvent {
	return s.ch
}

func (s *MockEdgeSource) Close() error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}
