package db

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndQueryMeasurements(t *testing.T) {
	db := testDB(t)

	if err := db.RecordMeasurement(420, true, "warning"); err != nil {
		t.Fatalf("RecordMeasurement failed: %v", err)
	}
	if err := db.RecordMeasurement(0, false, "safe"); err != nil {
		t.Fatalf("RecordMeasurement failed: %v", err)
	}

	rows, err := db.RecentMeasurements(10)
	if err != nil {
		t.Fatalf("RecentMeasurements failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	var sawValid, sawInvalid bool
	for _, r := range rows {
		if r.Valid && r.DistanceMM == 420 && r.AlertLevel == "warning" {
			sawValid = true
		}
		if !r.Valid && r.DistanceMM == 0 && r.AlertLevel == "safe" {
			sawInvalid = true
		}
	}
	if !sawValid || !sawInvalid {
		t.Errorf("rows missing expected entries: %+v", rows)
	}
}

func TestRecentMeasurementsLimit(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 5; i++ {
		db.RecordMeasurement(uint32(i*100), true, "safe")
	}

	rows, err := db.RecentMeasurements(3)
	if err != nil {
		t.Fatalf("RecentMeasurements failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("got %d rows, want 3", len(rows))
	}
}

func TestStreamTotals(t *testing.T) {
	db := testDB(t)

	db.RecordStreamAttempt(5014, true, "")
	db.RecordStreamAttempt(0, false, "backend connect failed")
	db.RecordStreamAttempt(1038, false, "frame write failed")

	stats, err := db.StreamTotals()
	if err != nil {
		t.Fatalf("StreamTotals failed: %v", err)
	}
	if stats.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", stats.Attempts)
	}
	if stats.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", stats.Succeeded)
	}
	if stats.BytesSent != 6052 {
		t.Errorf("bytes sent = %d, want 6052", stats.BytesSent)
	}
}

func TestStreamTotalsEmpty(t *testing.T) {
	db := testDB(t)

	stats, err := db.StreamTotals()
	if err != nil {
		t.Fatalf("StreamTotals failed: %v", err)
	}
	if stats.Attempts != 0 || stats.Succeeded != 0 || stats.BytesSent != 0 {
		t.Errorf("empty stats = %+v, want zeros", stats)
	}
}

func TestPruneKeepsRecentRows(t *testing.T) {
	db := testDB(t)

	db.RecordMeasurement(100, true, "safe")
	if err := db.Prune(time.Hour); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	rows, err := db.RecentMeasurements(10)
	if err != nil {
		t.Fatalf("RecentMeasurements failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("prune removed a recent row: %d rows", len(rows))
	}
}
