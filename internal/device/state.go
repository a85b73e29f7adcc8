package device

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the shared device state threaded explicitly through the
// components instead of living in process-wide globals. Each field has a
// single writer: the command channel owns the mode and indicator, the
// scheduler owns the measurement/alert/counter fields, the network layer
// owns link quality. Readers (diagnostics API, status publisher) may run on
// other goroutines, so everything is atomic.
type State struct {
	id      string
	started time.Time

	mode           atomic.Int32
	lastDistanceMM atomic.Uint32
	lastValid      atomic.Bool
	alertLevel     atomic.Int32
	linkRSSI       atomic.Int32
	temperatureC   atomic.Int32
	framesSent     atomic.Uint64
	framesDropped  atomic.Uint64
	missedCycles   atomic.Uint64
}

// NewState creates a State in Active mode with a fresh device session ID.
func NewState() *State {
	s := &State{
		id:      uuid.NewString(),
		started: time.Now(),
	}
	s.mode.Store(int32(Active))
	return s
}

// ID returns the device session ID.
func (s *State) ID() string { return s.id }

// Uptime returns how long the device has been running.
func (s *State) Uptime() time.Duration { return time.Since(s.started) }

// Mode returns the current device mode.
func (s *State) Mode() Mode { return Mode(s.mode.Load()) }

// SetMode transitions the device mode. Written only by the command channel
// and scheduler policy.
func (s *State) SetMode(m Mode) { s.mode.Store(int32(m)) }

// RecordMeasurement publishes the latest ranging result.
func (s *State) RecordMeasurement(distanceMM uint32, valid bool) {
	s.lastDistanceMM.Store(distanceMM)
	s.lastValid.Store(valid)
}

// LastDistanceMM returns the latest distance and whether it was a valid
// detection.
func (s *State) LastDistanceMM() (uint32, bool) {
	return s.lastDistanceMM.Load(), s.lastValid.Load()
}

// SetAlertLevel publishes the current alert level for diagnostics.
func (s *State) SetAlertLevel(level int32) { s.alertLevel.Store(level) }

// AlertLevel returns the current alert level as its integer severity.
func (s *State) AlertLevel() int32 { return s.alertLevel.Load() }

// SetLinkRSSI publishes the network link signal strength in dBm.
func (s *State) SetLinkRSSI(dbm int32) { s.linkRSSI.Store(dbm) }

// LinkRSSI returns the last reported link signal strength in dBm.
func (s *State) LinkRSSI() int32 { return s.linkRSSI.Load() }

// SetTemperatureC publishes the device temperature reading.
func (s *State) SetTemperatureC(c int32) { s.temperatureC.Store(c) }

// TemperatureC returns the last device temperature reading.
func (s *State) TemperatureC() int32 { return s.temperatureC.Load() }

// CountFrameSent increments the sent-frame counter.
func (s *State) CountFrameSent() { s.framesSent.Add(1) }

// CountFrameDropped increments the dropped-frame counter.
func (s *State) CountFrameDropped() { s.framesDropped.Add(1) }

// FrameCounts returns (sent, dropped) frame totals.
func (s *State) FrameCounts() (uint64, uint64) {
	return s.framesSent.Load(), s.framesDropped.Load()
}

// CountMissedCycle increments the missed-interval counter.
func (s *State) CountMissedCycle() { s.missedCycles.Add(1) }

// MissedCycles returns the number of intervals that overran their budget.
func (s *State) MissedCycles() uint64 { return s.missedCycles.Load() }
