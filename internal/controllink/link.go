package controllink

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to control port")

// readChunkSize bounds how many bytes one Monitor read pulls off the port.
const readChunkSize = 64

// LinkInterface defines the interface for the control link.
type LinkInterface interface {
	// Subscribe creates a new channel for receiving byte chunks from the
	// control port. The channel ID identifies the subscription when
	// unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Write writes reply bytes to the control port.
	Write([]byte) error
	// Monitor reads byte chunks from the control port and fans them out
	// to subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and the underlying port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given
	// HTTP mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// Link is a control port multiplexer that allows multiple clients to
// subscribe to the inbound byte stream of a single port.
type Link[T Porter] struct {
	port         T
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// NewLink creates a Link backed by the given port.
func NewLink[T Porter](port T) *Link[T] {
	return &Link[T]{
		port:        port,
		subscribers: make(map[string]chan []byte),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe returns a buffered channel of inbound byte chunks. The buffer
// absorbs bursts so the Monitor loop never blocks on a slow consumer.
func (l *Link[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, 64)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the link.
func (l *Link[T]) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

// Write writes reply bytes to the control port. Writes are serialized so
// concurrent replies do not interleave.
func (l *Link[T]) Write(p []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	n, err := l.port.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads byte chunks from the control port and fans them out to
// subscribers until the context is cancelled or the port errors out.
func (l *Link[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// A dedicated goroutine owns the blocking Read so the outer loop can
	// await chunks and context cancellation at the same time.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, readChunkSize)
		for {
			n, err := l.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				select {
				case readErrChan <- err:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			return err

		case chunk, ok := <-chunkChan:
			if !ok {
				return nil
			}
			l.closingMu.Lock()
			if l.closing {
				l.closingMu.Unlock()
				return nil
			}
			l.closingMu.Unlock()

			l.subscriberMu.Lock()
			for _, ch := range l.subscribers {
				select {
				case ch <- chunk:
				default:
					// skip a full subscriber so the loop never blocks
				}
			}
			l.subscriberMu.Unlock()
		}
	}
}

func (l *Link[T]) Close() error {
	l.closingMu.Lock()
	l.closing = true
	l.closingMu.Unlock()

	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	return l.port.Close()
}

func (l *Link[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to write raw bytes to the control port. Accepts hex
	// ("56 c8") or a literal string prefixed with "=" ("=V").
	debug.HandleSilentFunc("control-send", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		input := strings.TrimSpace(r.FormValue("bytes"))
		if input == "" {
			http.Error(w, "Missing bytes", http.StatusBadRequest)
			return
		}
		var payload []byte
		if strings.HasPrefix(input, "=") {
			payload = []byte(input[1:])
		} else {
			decoded, err := hex.DecodeString(strings.ReplaceAll(input, " ", ""))
			if err != nil {
				http.Error(w, "Invalid hex input", http.StatusBadRequest)
				return
			}
			payload = decoded
		}
		if err := l.Write(payload); err != nil {
			http.Error(w, "Failed to write to control port", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "Wrote % x to control port", payload)
	})

	// Server-Side Events hex dump of inbound control bytes.
	debug.HandleSilentFunc("control-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := l.Subscribe()
		defer l.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: % x\n\n", chunk); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
