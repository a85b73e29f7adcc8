package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLoggerCaptures(t *testing.T) {
	defer SetLogger(nil)

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})

	Logf("distance=%d mm", 123)
	if got != "distance=123 mm" {
		t.Errorf("captured log = %q, want %q", got, "distance=123 mm")
	}
}

func TestSetLoggerNilMutes(t *testing.T) {
	SetLogger(nil)
	// Must not panic.
	Logf("muted %d", 1)
	SetLogger(nil)
}
