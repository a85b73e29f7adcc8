package gpio

import (
	"testing"
)

func TestMockOutputPinRecordsTransitions(t *testing.T) {
	pin := &MockOutputPin{}

	pin.Set(true)
	pin.Set(false)
	pin.Set(true)

	got := pin.Transitions()
	want := []bool{true, false, true}
	if len(got) != len(want) {
		t.Fatalf("got %d transitions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
	if !pin.Last() {
		t.Error("Last() = false, want true")
	}
}

func TestMockEdgeSourcePulse(t *testing.T) {
	src := NewMockEdgeSource()
	defer src.Close()

	src.EmitPulse(1000, 580)

	e := <-src.Events()
	if e.Edge != Rising || e.Micros != 1000 {
		t.Errorf("first event = %+v, want rising at 1000", e)
	}
	e = <-src.Events()
	if e.Edge != Falling || e.Micros != 1580 {
		t.Errorf("second event = %+v, want falling at 1580", e)
	}
}

func TestSimRangefinderEmitsEchoOnTriggerCycle(t *testing.T) {
	sim := NewSimRangefinder(500)
	defer sim.Close()

	sim.Set(true)
	sim.Set(false)

	rise := <-sim.Events()
	fall := <-sim.Events()
	if rise.Edge != Rising || fall.Edge != Falling {
		t.Fatalf("expected rising then falling, got %v then %v", rise.Edge, fall.Edge)
	}

	width := fall.Micros - rise.Micros
	// 500mm should convert back to ~500mm through the driver formula.
	dist := width * 343 / 2000
	if dist < 499 || dist > 501 {
		t.Errorf("round-trip distance = %d mm, want ~500", dist)
	}
}

func TestSimRangefinderNoEcho(t *testing.T) {
	sim := NewSimRangefinder(500)
	defer sim.Close()

	sim.SetNoEcho(true)
	sim.Set(true)
	sim.Set(false)

	select {
	case e := <-sim.Events():
		t.Errorf("unexpected edge event %+v", e)
	default:
	}
}

func TestSimRangefinderIgnoresLowWithoutHigh(t *testing.T) {
	sim := NewSimRangefinder(500)
	defer sim.Close()

	sim.Set(false)
	select {
	case e := <-sim.Events():
		t.Errorf("unexpected edge event %+v", e)
	default:
	}
}
