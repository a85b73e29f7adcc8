package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "capsense.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := Empty()

	if got := cfg.GetSafeThresholdMM(); got != 1000 {
		t.Errorf("GetSafeThresholdMM() = %d, want 1000", got)
	}
	if got := cfg.GetCriticalThresholdMM(); got != 300 {
		t.Errorf("GetCriticalThresholdMM() = %d, want 300", got)
	}
	if got := cfg.GetActiveInterval(); got != 100*time.Millisecond {
		t.Errorf("GetActiveInterval() = %v, want 100ms", got)
	}
	if got := cfg.GetBalancedInterval(); got != 300*time.Millisecond {
		t.Errorf("GetBalancedInterval() = %v, want 300ms", got)
	}
	if got := cfg.GetEcoInterval(); got != 500*time.Millisecond {
		t.Errorf("GetEcoInterval() = %v, want 500ms", got)
	}
	if got := cfg.GetEchoTimeoutMicros(); got != 23200 {
		t.Errorf("GetEchoTimeoutMicros() = %d, want 23200", got)
	}
	if got := cfg.GetChunkSize(); got != 1024 {
		t.Errorf("GetChunkSize() = %d, want 1024", got)
	}
	if got := cfg.GetSpoolSize(); got != 0 {
		t.Errorf("GetSpoolSize() = %d, want 0", got)
	}
	if got := cfg.GetBackendAddr(); got != "127.0.0.1:5000" {
		t.Errorf("GetBackendAddr() = %q, want 127.0.0.1:5000", got)
	}
	if got := cfg.GetMQTTBroker(); got != "" {
		t.Errorf("GetMQTTBroker() = %q, want empty", got)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, `{"safe_threshold_mm": 1500, "active_interval": "50ms"}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := cfg.GetSafeThresholdMM(); got != 1500 {
		t.Errorf("GetSafeThresholdMM() = %d, want 1500", got)
	}
	if got := cfg.GetActiveInterval(); got != 50*time.Millisecond {
		t.Errorf("GetActiveInterval() = %v, want 50ms", got)
	}
	// Unset fields keep defaults.
	if got := cfg.GetCriticalThresholdMM(); got != 300 {
		t.Errorf("GetCriticalThresholdMM() = %d, want 300", got)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capsense.yaml")
	os.WriteFile(path, []byte("{}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Error("Load accepted a non-.json file")
	}
}

func TestValidateThresholdOrdering(t *testing.T) {
	path := writeConfig(t, `{"safe_threshold_mm": 200, "critical_threshold_mm": 300}`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted critical threshold above safe threshold")
	}
}

func TestValidateRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `{"active_interval": "fast"}`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted an unparseable duration")
	}
}

func TestValidateRejectsNonPositiveChunk(t *testing.T) {
	path := writeConfig(t, `{"chunk_size": 0}`)
	if _, err := Load(path); err == nil {
		t.Error("Load accepted chunk_size 0")
	}
}

func TestLoadDefaultsFile(t *testing.T) {
	cfg, err := Load("../../" + DefaultConfigPath)
	if err != nil {
		t.Fatalf("failed to load defaults file: %v", err)
	}
	// The checked-in defaults must match the compiled-in fallbacks.
	if got := cfg.GetCriticalThresholdMM(); got != Empty().GetCriticalThresholdMM() {
		t.Errorf("defaults file critical threshold %d diverges from fallback", got)
	}
	if got := cfg.GetChunkSize(); got != Empty().GetChunkSize() {
		t.Errorf("defaults file chunk size %d diverges from fallback", got)
	}
}

func TestDBRetention(t *testing.T) {
	if got := Empty().GetDBRetention(); got != 24*time.Hour {
		t.Errorf("default retention = %v, want 24h", got)
	}

	path := writeConfig(t, `{"db_retention": "72h"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := cfg.GetDBRetention(); got != 72*time.Hour {
		t.Errorf("GetDBRetention() = %v, want 72h", got)
	}

	bad := writeConfig(t, `{"db_retention": "forever"}`)
	if _, err := Load(bad); err == nil {
		t.Error("Load accepted an unparseable db_retention")
	}
}
