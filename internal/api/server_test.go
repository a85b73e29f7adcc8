package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/smartcap-data/capsense/internal/alert"
	"github.com/smartcap-data/capsense/internal/camera"
	"github.com/smartcap-data/capsense/internal/db"
	"github.com/smartcap-data/capsense/internal/device"
	"github.com/smartcap-data/capsense/internal/rangefinder"
	"github.com/smartcap-data/capsense/internal/scheduler"
)

type fixedRanger struct {
	m rangefinder.Measurement
}

func (r *fixedRanger) Measure(ctx context.Context) rangefinder.Measurement { return r.m }

func testServer(t *testing.T) (*Server, *device.State) {
	t.Helper()
	state := device.NewState()
	tdb, err := db.NewDB(filepath.Join(t.TempDir(), "telemetry.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { tdb.Close() })

	ranger := &fixedRanger{m: rangefinder.Measurement{
		Timestamp:  time.Now(),
		DistanceMM: 742,
		Valid:      true,
	}}
	latest := &camera.LatestHolder{}
	intervals := scheduler.Intervals{
		Active:   100 * time.Millisecond,
		Balanced: 250 * time.Millisecond,
		Eco:      500 * time.Millisecond,
	}
	return NewServer(state, tdb, ranger, latest, intervals), state
}

func TestShowStatus(t *testing.T) {
	srv, state := testServer(t)
	state.RecordMeasurement(450, true)
	state.SetAlertLevel(int32(alert.Warning))
	state.SetMode(device.Balanced)
	state.CountFrameSent()
	state.CountFrameSent()
	state.CountFrameDropped()

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DeviceID != state.ID() {
		t.Errorf("device_id = %q, want %q", resp.DeviceID, state.ID())
	}
	if resp.Mode != "balanced" {
		t.Errorf("mode = %q, want balanced", resp.Mode)
	}
	if resp.AlertLevel != "warning" {
		t.Errorf("alert_level = %q, want warning", resp.AlertLevel)
	}
	if resp.DistanceMM != 450 || !resp.DistanceValid {
		t.Errorf("distance = (%d, %v), want (450, true)", resp.DistanceMM, resp.DistanceValid)
	}
	if resp.FramesSent != 2 || resp.FramesDropped != 1 {
		t.Errorf("frames = (%d, %d), want (2, 1)", resp.FramesSent, resp.FramesDropped)
	}
	// Balanced interval is 250ms in the test fixture.
	if resp.FrameRate != 4.0 {
		t.Errorf("frame_rate = %v, want 4", resp.FrameRate)
	}
}

func TestShowStatusFrameRateZeroInStandby(t *testing.T) {
	srv, state := testServer(t)
	state.SetMode(device.Standby)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.FrameRate != 0 {
		t.Errorf("frame_rate = %v in standby, want 0", resp.FrameRate)
	}
}

func TestShowStatusRejectsPost(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestMeasureDistance(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/distance", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp struct {
		DistanceMM uint32 `json:"distance_mm"`
		Valid      bool   `json:"valid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.DistanceMM != 742 || !resp.Valid {
		t.Errorf("got (%d, %v), want (742, true)", resp.DistanceMM, resp.Valid)
	}
}

func TestMeasureDistanceUnavailable(t *testing.T) {
	srv, _ := testServer(t)
	srv.ranger = nil

	req := httptest.NewRequest(http.MethodGet, "/api/distance", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestShowLatestFrame(t *testing.T) {
	srv, _ := testServer(t)

	// Before any capture the endpoint has nothing to serve.
	req := httptest.NewRequest(http.MethodGet, "/api/frame", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status before capture = %d, want 404", w.Code)
	}

	srv.latest.Store(camera.Frame{Data: []byte{0xFF, 0xD8, 0xFF}, CapturedAt: time.Now()})

	w = httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q, want image/jpeg", ct)
	}
	if w.Body.Len() != 3 {
		t.Errorf("body length = %d, want 3", w.Body.Len())
	}
}

func TestListTelemetry(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.db.RecordMeasurement(300, true, "critical"); err != nil {
		t.Fatalf("failed to record measurement: %v", err)
	}
	if err := srv.db.RecordMeasurement(1500, true, "safe"); err != nil {
		t.Fatalf("failed to record measurement: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/telemetry?limit=10", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var rows []db.MeasurementRow
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}

func TestShowStreamStats(t *testing.T) {
	srv, _ := testServer(t)
	if err := srv.db.RecordStreamAttempt(5014, true, ""); err != nil {
		t.Fatalf("failed to record stream attempt: %v", err)
	}
	if err := srv.db.RecordStreamAttempt(0, false, "connect refused"); err != nil {
		t.Fatalf("failed to record stream attempt: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stream_stats", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var stats db.StreamStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if stats.Attempts != 2 || stats.Succeeded != 1 || stats.BytesSent != 5014 {
		t.Errorf("stats = %+v, want 2 attempts, 1 succeeded, 5014 bytes", stats)
	}
}

func TestListTelemetryBadLimit(t *testing.T) {
	srv, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/telemetry?limit=zero", nil)
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSetMode(t *testing.T) {
	srv, state := testServer(t)

	form := url.Values{"mode": {"eco"}}
	req := httptest.NewRequest(http.MethodPost, "/api/mode", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if state.Mode() != device.Eco {
		t.Errorf("mode = %v, want eco", state.Mode())
	}
}

func TestSetModeInvalid(t *testing.T) {
	srv, state := testServer(t)

	form := url.Values{"mode": {"turbo"}}
	req := httptest.NewRequest(http.MethodPost, "/api/mode", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.ServeMux().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if state.Mode() != device.Active {
		t.Errorf("mode changed to %v on invalid input", state.Mode())
	}
}
