// Package camera is the boundary to the image sensor. Capture produces an
// opaque compressed byte buffer; compression itself happens in the sensor
// module and is not modelled here.
package camera

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// ErrCaptureFailed indicates no image was available this cycle. The caller
// skips the tick's stream attempt and pulses the indicator.
var ErrCaptureFailed = errors.New("camera capture failed")

// Frame is one captured, already-compressed image.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// Source produces compressed frames on request.
type Source interface {
	// Capture returns the next frame or fails. A returned frame's buffer
	// belongs to the caller.
	Capture() (Frame, error)
	Close() error
}

// FixtureSource is a dev-mode Source that serves a static compressed
// image, the camera analog of feeding fixture lines into a mock serial
// port.
type FixtureSource struct {
	mu       sync.Mutex
	data     []byte
	failNext bool
	captures int
}

// NewFixtureSource creates a FixtureSource serving the given bytes.
func NewFixtureSource(data []byte) *FixtureSource {
	return &FixtureSource{data: data}
}

// FailNext makes the next Capture call fail once.
func (s *FixtureSource) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// Captures returns how many successful captures have occurred.
func (s *FixtureSource) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

func (s *FixtureSource) Capture() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return Frame{}, ErrCaptureFailed
	}
	buf := make([]byte, len(s.data))
	copy(buf, s.data)
	s.captures++
	return Frame{Data: buf, CapturedAt: time.Now()}, nil
}

func (s *FixtureSource) Close() error { return nil }

// FileSource captures by reading a snapshot file maintained by the
// platform camera service. The service overwrites the file atomically
// (write to temp, rename), so a read always sees a whole image.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource reading from the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Capture() (Frame, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("%w: empty snapshot %s", ErrCaptureFailed, s.path)
	}
	return Frame{Data: data, CapturedAt: time.Now()}, nil
}

func (s *FileSource) Close() error { return nil }

// LatestHolder caches the most recent captured frame for the one-shot
// diagnostic endpoint. Written by the scheduler, read by the API server.
type LatestHolder struct {
	mu    sync.Mutex
	frame Frame
	set   bool
}

// Store replaces the cached frame.
func (h *LatestHolder) Store(f Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = f
	h.set = true
}

// Load returns the cached frame and whether one has been stored yet.
func (h *LatestHolder) Load() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame, h.set
}
