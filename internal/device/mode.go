package device

import "fmt"

// Mode is the process-wide power mode. It governs sampling cadence and
// which subsystems run at all.
type Mode int32

const (
	// Active runs the full cycle at the nominal frame interval.
	Active Mode = iota
	// Balanced runs the full cycle at a reduced cadence.
	Balanced
	// Eco runs ranging and alerting only, with streaming disabled.
	Eco
	// Standby suspends the measurement cycle entirely until woken.
	Standby
)

func (m Mode) String() string {
	switch m {
	case Active:
		return "active"
	case Balanced:
		return "balanced"
	case Eco:
		return "eco"
	case Standby:
		return "standby"
	default:
		return fmt.Sprintf("mode(%d)", int32(m))
	}
}

// ParseMode converts a mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "active":
		return Active, nil
	case "balanced":
		return Balanced, nil
	case "eco":
		return Eco, nil
	case "standby":
		return Standby, nil
	default:
		return Active, fmt.Errorf("unknown device mode %q", s)
	}
}

// StreamingEnabled reports whether the mode permits camera capture and
// frame streaming.
func (m Mode) StreamingEnabled() bool {
	return m == Active || m == Balanced
}

// CycleEnabled reports whether the periodic measurement cycle runs at all.
func (m Mode) CycleEnabled() bool {
	return m != Standby
}
