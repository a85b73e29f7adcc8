// Package db is the on-device telemetry log: recent measurements and frame
// stream outcomes, kept in sqlite for the diagnostics surface. This is
// observability storage only; device configuration does not live here.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS measurements (
			distance_mm       BIGINT,
			valid             BOOLEAN,
			alert_level       TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS stream_attempts (
			bytes_sent        BIGINT,
			ok                BOOLEAN,
			error             TEXT,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// RecordMeasurement logs one ranging cycle and the alert level it produced.
func (db *DB) RecordMeasurement(distanceMM uint32, valid bool, alertLevel string) error {
	_, err := db.Exec(
		`INSERT INTO measurements (distance_mm, valid, alert_level) VALUES (?, ?, ?)`,
		int64(distanceMM), valid, alertLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to record measurement: %w", err)
	}
	return nil
}

// RecordStreamAttempt logs the outcome of one frame transmission attempt.
// errText is empty on success.
func (db *DB) RecordStreamAttempt(bytesSent int, ok bool, errText string) error {
	_, err := db.Exec(
		`INSERT INTO stream_attempts (bytes_sent, ok, error) VALUES (?, ?, ?)`,
		int64(bytesSent), ok, errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record stream attempt: %w", err)
	}
	return nil
}

// MeasurementRow is one logged ranging cycle.
type MeasurementRow struct {
	DistanceMM int64     `json:"distance_mm"`
	Valid      bool      `json:"valid"`
	AlertLevel string    `json:"alert_level"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecentMeasurements returns the most recent measurement rows, newest
// first.
func (db *DB) RecentMeasurements(limit int) ([]MeasurementRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		`SELECT distance_mm, valid, alert_level, timestamp
		 FROM measurements ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	var out []MeasurementRow
	for rows.Next() {
		var m MeasurementRow
		if err := rows.Scan(&m.DistanceMM, &m.Valid, &m.AlertLevel, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan measurement row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// StreamStats summarizes frame transmission outcomes.
type StreamStats struct {
	Attempts  int64 `json:"attempts"`
	Succeeded int64 `json:"succeeded"`
	BytesSent int64 `json:"bytes_sent"`
}

// StreamTotals returns aggregate stream attempt counters.
func (db *DB) StreamTotals() (StreamStats, error) {
	var s StreamStats
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN ok THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(bytes_sent), 0)
		 FROM stream_attempts`).Scan(&s.Attempts, &s.Succeeded, &s.BytesSent)
	if err != nil {
		return s, fmt.Errorf("failed to aggregate stream attempts: %w", err)
	}
	return s, nil
}

// Prune deletes rows older than the retention window. The telemetry log is
// a diagnostic ring, not an archive.
func (db *DB) Prune(retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	for _, table := range []string{"measurements", "stream_attempts"} {
		if _, err := db.Exec(
			fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, table), cutoff); err != nil {
			return fmt.Errorf("failed to prune %s: %w", table, err)
		}
	}
	return nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://capsense.db", db.DB, &tailsql.DBOptions{
		Label: "Telemetry DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
