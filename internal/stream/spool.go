package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/smartcap-data/capsense/internal/monitoring"
)

// ErrDeferred is returned by Spool.Send to signal that the frame was
// queued, not transmitted. The caller must not count the frame as sent
// or dropped; the spool reports the real outcome through its result
// hook once transmission is attempted.
var ErrDeferred = errors.New("frame transmission deferred")

// ErrSpoolOverflow is reported through the result hook when a queued
// frame is evicted to make room for a newer one.
var ErrSpoolOverflow = errors.New("spool overflow, oldest frame evicted")

// PendingFrame is one frame waiting in the outbound spool.
type PendingFrame struct {
	Image []byte
	Meta  string
}

// Spool is an optional bounded outbound queue in front of the Streamer.
// When the queue is full the oldest frame is dropped: stale frames are
// worth less than fresh ones on a live feed. The spool is an explicit
// extension point; with it disabled the scheduler calls Send directly and
// keeps the fire-and-forget behaviour.
type Spool struct {
	streamer *Streamer

	mu      sync.Mutex
	queue   []PendingFrame
	cap     int
	kick    chan struct{}
	dropped atomic.Uint64
	result  func(bytesSent int, err error)
}

// NewSpool creates a Spool holding at most size frames.
func NewSpool(streamer *Streamer, size int) *Spool {
	if size < 1 {
		size = 1
	}
	return &Spool{
		streamer: streamer,
		cap:      size,
		kick:     make(chan struct{}, 1),
	}
}

// OnResult registers a callback receiving the outcome of each frame the
// spool resolves: a transmission attempt from Run, or an overflow
// eviction (err is ErrSpoolOverflow, bytesSent is zero). Set it before
// calling Run or Enqueue.
func (p *Spool) OnResult(fn func(bytesSent int, err error)) {
	p.result = fn
}

func (p *Spool) report(bytesSent int, err error) {
	if p.result != nil {
		p.result(bytesSent, err)
	}
}

// Enqueue adds a frame, dropping the oldest queued frame if the spool is
// full. It never blocks.
func (p *Spool) Enqueue(image []byte, meta string) {
	p.mu.Lock()
	evicted := false
	if len(p.queue) >= p.cap {
		p.queue = p.queue[1:]
		p.dropped.Add(1)
		evicted = true
	}
	p.queue = append(p.queue, PendingFrame{Image: image, Meta: meta})
	p.mu.Unlock()

	if evicted {
		p.report(0, ErrSpoolOverflow)
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Send enqueues the frame for deferred transmission. It reports the full
// encoded length alongside ErrDeferred so the caller knows the frame is
// queued rather than on the wire; the real outcome arrives through the
// result hook when the Run loop attempts transmission.
func (p *Spool) Send(ctx context.Context, image []byte, meta string) (int, error) {
	p.Enqueue(image, meta)
	return HeaderSize + 4 + len(meta) + len(image), ErrDeferred
}

// Dropped returns how many frames were evicted before transmission.
func (p *Spool) Dropped() uint64 { return p.dropped.Load() }

// Len returns the number of frames currently queued.
func (p *Spool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Spool) next() (PendingFrame, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return PendingFrame{}, false
	}
	f := p.queue[0]
	p.queue = p.queue[1:]
	return f, true
}

// Run drains the spool until the context is cancelled. Send failures drop
// the frame after a log line; the spool never retries a frame.
func (p *Spool) Run(ctx context.Context) error {
	for {
		for {
			f, ok := p.next()
			if !ok {
				break
			}
			n, err := p.streamer.Send(ctx, f.Image, f.Meta)
			if err != nil {
				monitoring.Logf("spooled frame dropped: %v", err)
			}
			p.report(n, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.kick:
		}
	}
}
