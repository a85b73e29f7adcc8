// capture-ingest is a bench-side listener for frame streams: it accepts
// one connection per frame, decodes the message, and optionally writes the
// image payloads to a directory. Useful for end-to-end testing a device
// without the real backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/smartcap-data/capsense/internal/stream"
)

var (
	listen = flag.String("listen", ":5000", "Listen address for frame connections")
	outDir = flag.String("out", "", "Directory to write received images (log-only if empty)")
)

func handleConn(conn net.Conn, seq int) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	frame, err := stream.ReadFrame(conn)
	if err != nil {
		log.Printf("failed to decode frame from %s: %v", conn.RemoteAddr(), err)
		return
	}

	log.Printf("frame %d from %s: type=%d payload=%d bytes metadata=%s",
		seq, conn.RemoteAddr(), frame.Type, len(frame.Payload), frame.Metadata)

	if *outDir == "" {
		return
	}
	name := filepath.Join(*outDir, fmt.Sprintf("frame-%06d.jpg", seq))
	if err := os.WriteFile(name, frame.Payload, 0o644); err != nil {
		log.Printf("failed to write %s: %v", name, err)
	}
}

func main() {
	flag.Parse()

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			log.Fatalf("failed to create output directory: %v", err)
		}
	}

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *listen, err)
	}
	log.Printf("listening for frames on %s", *listen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	seq := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("shutting down")
				return
			}
			log.Printf("accept failed: %v", err)
			continue
		}
		seq++
		go handleConn(conn, seq)
	}
}
