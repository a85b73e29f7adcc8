// Package stream implements the frame streaming protocol: a length-prefixed
// binary message carrying one compressed image plus a small metadata record,
// pushed to the backend over a fresh connection per frame.
package stream

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire format, little-endian:
//
//	offset  size          field
//	0       4             magic "CAP1"
//	4       1             version = 1
//	5       1             type = 1 (frame)
//	6       4             payload_len (u32)
//	10      4             metadata_len (u32)
//	14      metadata_len  metadata (UTF-8 JSON text)
//	14+m    payload_len   compressed image bytes
const (
	Magic      = "CAP1"
	Version    = 1
	TypeFrame  = 1
	HeaderSize = 10
)

// MaxFrameSize bounds decoded payload and metadata lengths so a corrupt
// header cannot drive a huge allocation in the decoder.
const MaxFrameSize = 8 * 1024 * 1024

// Header builds the fixed 10-byte frame header for a payload of the given
// length.
func Header(frameType uint8, payloadLen uint32) []byte {
	h := make([]byte, HeaderSize)
	copy(h[0:4], Magic)
	h[4] = Version
	h[5] = frameType
	binary.LittleEndian.PutUint32(h[6:10], payloadLen)
	return h
}

// EncodeFrame serializes a complete frame message. Used by the spool and by
// tests; the live send path writes the same bytes incrementally.
func EncodeFrame(image []byte, meta string) []byte {
	buf := make([]byte, 0, HeaderSize+4+len(meta)+len(image))
	buf = append(buf, Header(TypeFrame, uint32(len(image)))...)
	var lenBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(meta)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, meta...)
	buf = append(buf, image...)
	return buf
}

// DecodedFrame is the result of parsing one frame message.
type DecodedFrame struct {
	Type     uint8
	Metadata string
	Payload  []byte
}

// ReadFrame parses one frame message from r. It is the reference decoder
// used by the ingest tool and the round-trip tests.
func ReadFrame(r io.Reader) (*DecodedFrame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	if string(header[0:4]) != Magic {
		return nil, fmt.Errorf("invalid magic bytes %q", header[0:4])
	}
	if header[4] != Version {
		return nil, fmt.Errorf("unsupported frame version %d", header[4])
	}
	frameType := header[5]
	payloadLen := binary.LittleEndian.Uint32(header[6:10])
	if payloadLen > MaxFrameSize {
		return nil, fmt.Errorf("declared payload length %d exceeds limit", payloadLen)
	}

	var lenBytes [4]byte
	if _, err := io.ReadFull(r, lenBytes[:]); err != nil {
		return nil, fmt.Errorf("failed to read metadata length: %w", err)
	}
	metaLen := binary.LittleEndian.Uint32(lenBytes[:])
	if metaLen > MaxFrameSize {
		return nil, fmt.Errorf("declared metadata length %d exceeds limit", metaLen)
	}

	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, meta); err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}

	return &DecodedFrame{
		Type:     frameType,
		Metadata: string(meta),
		Payload:  payload,
	}, nil
}
