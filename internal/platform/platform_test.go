package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartcap-data/capsense/internal/device"
)

const wirelessFixture = `Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
 wlan0: 0000   54.  -56.  -256        0      0      0      0      0        0
`

func TestParseWirelessRSSI(t *testing.T) {
	v, err := parseWirelessRSSI([]byte(wirelessFixture))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if v != -56 {
		t.Errorf("rssi = %d, want -56", v)
	}
}

func TestParseWirelessRSSINoInterface(t *testing.T) {
	headerOnly := `Inter-| sta-|   Quality        |   Discarded packets               | Missed | WE
 face | tus | link level noise |  nwid  crypt   frag  retry   misc | beacon | 22
`
	if _, err := parseWirelessRSSI([]byte(headerOnly)); err == nil {
		t.Error("expected error for a wireless file with no interfaces")
	}
}

func TestReadTemperatureC(t *testing.T) {
	dir := t.TempDir()
	thermal := filepath.Join(dir, "temp")
	if err := os.WriteFile(thermal, []byte("45123\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Sensors{thermalPath: thermal}
	v, err := s.ReadTemperatureC()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if v != 45 {
		t.Errorf("temperature = %d, want 45", v)
	}
}

func TestSampleUpdatesState(t *testing.T) {
	dir := t.TempDir()
	wireless := filepath.Join(dir, "wireless")
	thermal := filepath.Join(dir, "temp")
	if err := os.WriteFile(wireless, []byte(wirelessFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(thermal, []byte("38200\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Sensors{wirelessPath: wireless, thermalPath: thermal}
	state := device.NewState()
	s.Sample(state)

	if got := state.LinkRSSI(); got != -56 {
		t.Errorf("state rssi = %d, want -56", got)
	}
	if got := state.TemperatureC(); got != 38 {
		t.Errorf("state temperature = %d, want 38", got)
	}
}

func TestSampleKeepsLastValueOnFailure(t *testing.T) {
	dir := t.TempDir()
	wireless := filepath.Join(dir, "wireless")
	thermal := filepath.Join(dir, "temp")
	if err := os.WriteFile(wireless, []byte(wirelessFixture), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(thermal, []byte("38200\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Sensors{wirelessPath: wireless, thermalPath: thermal}
	state := device.NewState()
	s.Sample(state)

	// Files gone: the previous readings must survive the failed sample.
	if err := os.Remove(wireless); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(thermal); err != nil {
		t.Fatal(err)
	}
	s.Sample(state)

	if got := state.LinkRSSI(); got != -56 {
		t.Errorf("state rssi = %d after failed sample, want -56", got)
	}
	if got := state.TemperatureC(); got != 38 {
		t.Errorf("state temperature = %d after failed sample, want 38", got)
	}
}
