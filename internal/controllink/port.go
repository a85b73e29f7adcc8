// Package controllink provides the short-range control transport: a raw
// byte link (a BLE/UART bridge exposed as a serial port) with support for
// multiple subscribers to the inbound byte stream and serialized writes for
// replies.
package controllink

import (
	"io"
)

// Porter defines the minimal interface needed for the control port.
// This abstraction enables unit testing without real hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}
