package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/smartcap-data/capsense/internal/alert"
	"github.com/smartcap-data/capsense/internal/camera"
	"github.com/smartcap-data/capsense/internal/db"
	"github.com/smartcap-data/capsense/internal/device"
	"github.com/smartcap-data/capsense/internal/monitoring"
	"github.com/smartcap-data/capsense/internal/scheduler"
	"github.com/smartcap-data/capsense/internal/version"
)

// ANSI escape codes for request log colouring
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the diagnostics HTTP API: live device status, an
// on-demand distance reading, and the most recent camera frame.
type Server struct {
	state     *device.State
	db        *db.DB
	ranger    scheduler.Ranger
	latest    *camera.LatestHolder
	intervals scheduler.Intervals
}

func NewServer(state *device.State, tdb *db.DB, ranger scheduler.Ranger, latest *camera.LatestHolder, intervals scheduler.Intervals) *Server {
	return &Server{
		state:     state,
		db:        tdb,
		ranger:    ranger,
		latest:    latest,
		intervals: intervals,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/distance", s.measureDistance)
	mux.HandleFunc("/api/frame", s.showLatestFrame)
	mux.HandleFunc("/api/telemetry", s.listTelemetry)
	mux.HandleFunc("/api/stream_stats", s.showStreamStats)
	mux.HandleFunc("/api/mode", s.setMode)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	DeviceID      string `json:"device_id"`
	Version       string `json:"version"`
	Mode          string `json:"mode"`
	AlertLevel    string `json:"alert_level"`
	DistanceMM    uint32 `json:"distance_mm"`
	DistanceValid bool   `json:"distance_valid"`
	LinkRSSI      int32  `json:"link_rssi"`
	TemperatureC  int32  `json:"temperature_c"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	HeapFreeBytes uint64 `json:"heap_free_bytes"`
	// FrameRate is the nominal cycle rate in Hz for the current mode,
	// zero in standby.
	FrameRate     float64 `json:"frame_rate"`
	FramesSent    uint64  `json:"frames_sent"`
	FramesDropped uint64  `json:"frames_dropped"`
	MissedCycles  uint64  `json:"missed_cycles"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	mode := s.state.Mode()
	var frameRate float64
	if mode.CycleEnabled() {
		if iv := s.intervals.For(mode); iv > 0 {
			frameRate = 1 / iv.Seconds()
		}
	}

	dist, valid := s.state.LastDistanceMM()
	sent, dropped := s.state.FrameCounts()
	resp := StatusResponse{
		DeviceID:      s.state.ID(),
		Version:       version.String(),
		Mode:          mode.String(),
		AlertLevel:    alert.Level(s.state.AlertLevel()).String(),
		DistanceMM:    dist,
		DistanceValid: valid,
		LinkRSSI:      s.state.LinkRSSI(),
		TemperatureC:  s.state.TemperatureC(),
		UptimeSeconds: int64(s.state.Uptime().Seconds()),
		HeapFreeBytes: mem.HeapIdle,
		FrameRate:     frameRate,
		FramesSent:    sent,
		FramesDropped: dropped,
		MissedCycles:  s.state.MissedCycles(),
	}
	json.NewEncoder(w).Encode(resp)
}

// measureDistance runs one ranging measurement outside the scheduler loop.
// The reading does not update device state; it is a probe, not a cycle.
func (s *Server) measureDistance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.ranger == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Rangefinder not available")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	m := s.ranger.Measure(ctx)
	json.NewEncoder(w).Encode(map[string]any{
		"distance_mm": m.DistanceMM,
		"valid":       m.Valid,
		"timestamp":   m.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) showLatestFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.latest == nil {
		http.Error(w, "No frame source", http.StatusServiceUnavailable)
		return
	}
	frame, ok := s.latest.Load()
	if !ok {
		http.Error(w, "No frame captured yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Captured-At", frame.CapturedAt.UTC().Format(time.RFC3339Nano))
	w.Write(frame.Data)
}

func (s *Server) listTelemetry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Telemetry log not available")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	rows, err := s.db.RecentMeasurements(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to retrieve measurements: %v", err))
		return
	}
	json.NewEncoder(w).Encode(rows)
}

func (s *Server) showStreamStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Telemetry log not available")
		return
	}

	stats, err := s.db.StreamTotals()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to aggregate stream stats: %v", err))
		return
	}
	json.NewEncoder(w).Encode(stats)
}

// setMode switches the device power mode. The command channel is the usual
// way to do this; the HTTP form exists for bench testing without a paired
// phone.
func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mode, err := device.ParseMode(r.FormValue("mode"))
	if err != nil {
		http.Error(w, "Invalid mode", http.StatusBadRequest)
		return
	}
	s.state.SetMode(mode)
	fmt.Fprintf(w, "Mode set to %s\n", mode)
}
