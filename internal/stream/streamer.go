package stream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/smartcap-data/capsense/internal/monitoring"
)

var (
	// ErrConnectFailed means the transport connection could not be
	// established. No bytes were written; the frame is dropped.
	ErrConnectFailed = errors.New("backend connect failed")

	// ErrWriteFailed means a write failed partway through a frame. Bytes
	// already sent are not retracted; the connection is torn down.
	ErrWriteFailed = errors.New("frame write failed")
)

// Dialer establishes the per-frame transport connection.
type Dialer interface {
	Dial(ctx context.Context) (net.Conn, error)
}

// NetDialer dials the configured backend address over TCP with a bounded
// connect timeout.
type NetDialer struct {
	Addr    string
	Timeout time.Duration
}

func (d *NetDialer) Dial(ctx context.Context) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(ctx, "tcp", d.Addr)
}

// Streamer pushes frame messages to the backend, one fresh connection per
// frame. There is no acknowledgment, checksum, retry, or queue: each
// attempt is independent and failures drop the frame after a diagnostic
// log. The design trades reliability for bounded per-tick latency.
type Streamer struct {
	dialer       Dialer
	chunkSize    int
	writeTimeout time.Duration
}

// NewStreamer creates a Streamer. A non-positive chunkSize selects the
// default 1024-byte chunk.
func NewStreamer(dialer Dialer, chunkSize int, writeTimeout time.Duration) *Streamer {
	if chunkSize <= 0 {
		chunkSize = 1024
	}
	return &Streamer{
		dialer:       dialer,
		chunkSize:    chunkSize,
		writeTimeout: writeTimeout,
	}
}

// Send transmits one frame message and returns the number of bytes written
// to the transport. The connection is closed unconditionally once the
// attempt finishes, success or failure.
func (s *Streamer) Send(ctx context.Context, image []byte, meta string) (int, error) {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		monitoring.Logf("connection to backend failed: %v", err)
		return 0, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	defer conn.Close()

	sent := 0
	write := func(p []byte) error {
		if s.writeTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		n, err := conn.Write(p)
		sent += n
		if err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
		return nil
	}

	if err := write(Header(TypeFrame, uint32(len(image)))); err != nil {
		return sent, err
	}

	var metaLen [4]byte
	binary.LittleEndian.PutUint32(metaLen[:], uint32(len(meta)))
	if err := write(metaLen[:]); err != nil {
		return sent, err
	}
	if err := write([]byte(meta)); err != nil {
		return sent, err
	}

	// Payload goes out in bounded chunks so no single write blocks the
	// tick beyond its budget.
	for off := 0; off < len(image); off += s.chunkSize {
		end := off + s.chunkSize
		if end > len(image) {
			end = len(image)
		}
		if err := write(image[off:end]); err != nil {
			return sent, err
		}
	}

	return sent, nil
}
