// Package platform reads host-level health values the diagnostics surface
// reports: radio link quality and device temperature. Both come from the
// kernel's procfs/sysfs text files, sampled periodically into the shared
// device state.
package platform

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smartcap-data/capsense/internal/device"
	"github.com/smartcap-data/capsense/internal/monitoring"
)

// DefaultSampleInterval is how often Poll refreshes the readings.
const DefaultSampleInterval = 10 * time.Second

// Sensors reads link quality and temperature from the host OS.
type Sensors struct {
	wirelessPath string
	thermalPath  string

	warned bool
}

// NewSensors creates a Sensors reading the standard Linux locations.
func NewSensors() *Sensors {
	return &Sensors{
		wirelessPath: "/proc/net/wireless",
		thermalPath:  "/sys/class/thermal/thermal_zone0/temp",
	}
}

// ReadLinkRSSI returns the signal level in dBm of the first wireless
// interface.
func (s *Sensors) ReadLinkRSSI() (int32, error) {
	data, err := os.ReadFile(s.wirelessPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read wireless stats: %w", err)
	}
	return parseWirelessRSSI(data)
}

// parseWirelessRSSI extracts the signal level column from /proc/net/wireless.
// The file carries two header lines, then one line per interface:
//
//	wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
func parseWirelessRSSI(data []byte) (int32, error) {
	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		if i < 2 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ":") {
			continue
		}
		level := strings.TrimSuffix(fields[3], ".")
		v, err := strconv.ParseInt(level, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("failed to parse signal level %q: %w", fields[3], err)
		}
		return int32(v), nil
	}
	return 0, fmt.Errorf("no wireless interface found")
}

// ReadTemperatureC returns the thermal zone temperature in whole degrees
// Celsius. The sysfs file reports millidegrees.
func (s *Sensors) ReadTemperatureC() (int32, error) {
	data, err := os.ReadFile(s.thermalPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read thermal zone: %w", err)
	}
	raw := strings.TrimSpace(string(data))
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse temperature %q: %w", raw, err)
	}
	return int32(v / 1000), nil
}

// Sample refreshes the state once. A failed read keeps the previous value;
// the first failure of each run is logged, later ones are silent so a
// headless bench setup does not flood the log.
func (s *Sensors) Sample(state *device.State) {
	rssi, rssiErr := s.ReadLinkRSSI()
	if rssiErr == nil {
		state.SetLinkRSSI(rssi)
	}
	temp, tempErr := s.ReadTemperatureC()
	if tempErr == nil {
		state.SetTemperatureC(temp)
	}
	if (rssiErr != nil || tempErr != nil) && !s.warned {
		s.warned = true
		monitoring.Logf("platform sensors degraded: rssi=%v temp=%v", rssiErr, tempErr)
	}
}

// Poll samples immediately and then at the given interval until the
// context is cancelled.
func (s *Sensors) Poll(ctx context.Context, state *device.State, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	s.Sample(state)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample(state)
		}
	}
}
