// Package command decodes single-byte-opcode control messages arriving on
// the control link and dispatches their side effects.
package command

import (
	"encoding/json"
	"fmt"

	"github.com/smartcap-data/capsense/internal/controllink"
	"github.com/smartcap-data/capsense/internal/monitoring"
)

// Recognized opcodes. Argument lengths are fixed and known in advance;
// there is no framing or terminator on the control link.
const (
	OpVibrate   = 'V' // one intensity byte, drives the motor directly
	OpIndicator = 'L' // one boolean byte, sets the status LED
	OpSuspend   = 'S' // no argument, enters low-power suspend
	OpSnapshot  = 'R' // no argument, replies with a telemetry snapshot
	OpPing      = '?' // no argument, liveness echo
)

// argLen returns the fixed argument length for an opcode, or -1 if the
// opcode is unknown.
func argLen(op byte) int {
	switch op {
	case OpVibrate, OpIndicator:
		return 1
	case OpSuspend, OpSnapshot, OpPing:
		return 0
	default:
		return -1
	}
}

// Telemetry is the snapshot sent in reply to OpSnapshot. The JSON keys are
// part of the control protocol.
type Telemetry struct {
	TimestampMS  uint64 `json:"ts"`
	DistanceMM   uint32 `json:"dist"`
	LinkRSSI     int32  `json:"rssi"`
	TemperatureC int32  `json:"temp"`
}

// Hooks are the side effects a decoded command can trigger. All hooks are
// required.
type Hooks struct {
	// Vibrate drives the haptic motor at a raw intensity, bypassing the
	// alert engine.
	Vibrate func(intensity uint8)
	// SetIndicator sets the status LED.
	SetIndicator func(on bool)
	// Suspend enters the low-power suspend state. It may block until an
	// external wake condition.
	Suspend func()
	// Snapshot collects the current telemetry values.
	Snapshot func() Telemetry
}

// Channel consumes bytes from the control link and dispatches at most one
// command per Poll. Commands are ephemeral: parsed and dispatched within
// one poll, never queued beyond the raw byte buffer.
type Channel struct {
	link  controllink.LinkInterface
	subID string
	in    chan []byte
	buf   []byte
	hooks Hooks
}

// NewChannel subscribes to the link's inbound byte stream.
func NewChannel(link controllink.LinkInterface, hooks Hooks) *Channel {
	id, ch := link.Subscribe()
	return &Channel{
		link:  link,
		subID: id,
		in:    ch,
		hooks: hooks,
	}
}

// Close releases the link subscription.
func (c *Channel) Close() {
	c.link.Unsubscribe(c.subID)
}

// drain moves any already-received chunks into the parse buffer without
// blocking.
func (c *Channel) drain() {
	for {
		select {
		case chunk, ok := <-c.in:
			if !ok {
				return
			}
			c.buf = append(c.buf, chunk...)
		default:
			return
		}
	}
}

// Poll dispatches at most one pending command and returns how many were
// dispatched (0 or 1). Unknown opcodes are logged and skipped without
// disturbing the parse of a valid command behind them. An opcode whose
// argument has not fully arrived stays buffered for the next poll.
func (c *Channel) Poll() int {
	c.drain()

	for len(c.buf) > 0 {
		op := c.buf[0]
		n := argLen(op)
		if n < 0 {
			monitoring.Logf("unknown command: %c", op)
			c.buf = c.buf[1:]
			continue
		}
		if len(c.buf) < 1+n {
			// Argument still in flight; finish on a later poll.
			return 0
		}
		arg := c.buf[1 : 1+n]
		c.buf = c.buf[1+n:]
		c.dispatch(op, arg)
		return 1
	}
	return 0
}

func (c *Channel) dispatch(op byte, arg []byte) {
	switch op {
	case OpVibrate:
		c.hooks.Vibrate(arg[0])
	case OpIndicator:
		c.hooks.SetIndicator(arg[0] != 0)
	case OpSuspend:
		c.hooks.Suspend()
	case OpSnapshot:
		c.reply(op, c.snapshotJSON())
	case OpPing:
		c.reply(op, []byte("OK"))
	}
}

func (c *Channel) snapshotJSON() []byte {
	t := c.hooks.Snapshot()
	data, err := json.Marshal(t)
	if err != nil {
		// Telemetry is plain integers; this should not happen.
		return []byte(fmt.Sprintf(`{"error":%q}`, err.Error()))
	}
	return data
}

func (c *Channel) reply(op byte, data []byte) {
	if err := c.link.Write(data); err != nil {
		monitoring.Logf("failed to write %c reply: %v", op, err)
	}
}
