// Package cardreader adapts the physical RFID reader to an event channel
// of scanned card identifiers. The reader hardware protocol itself (PN532
// or otherwise) is out of scope -- recovered from the original
// implementation's modules/rfid_reader.py, which runs the chip driver on
// its own thread and hands off scanned UIDs through a queue that main's
// loop drains. Here the driver is assumed to speak one UID per line over
// its serial connection; this package owns only the line-to-event
// boundary, not the chip protocol.
package cardreader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Reader drains newline-delimited card UIDs from a serial connection and
// publishes them on a channel, mirroring the single-goroutine-owns-the-port
// shape used by mdb.Engine.
type Reader struct {
	port   io.Reader
	logger *slog.Logger
	events chan string
}

// NewReader constructs a Reader over port. The returned Events channel is
// unbuffered and closes once Run returns.
func NewReader(port io.Reader, logger *slog.Logger) *Reader {
	return &Reader{
		port:   port,
		logger: logger.With(slog.String("component", "cardreader")),
		events: make(chan string),
	}
}

// Events exposes scanned card identifiers as they arrive.
func (r *Reader) Events() <-chan string {
	return r.events
}

// Run scans lines from the port until ctx is cancelled or the underlying
// reader returns an error. Blank lines are ignored. Send blocks if nobody
// is draining Events, matching the original queue's unbounded-but-polled
// consumption: the caller is expected to keep up.
func (r *Reader) Run(ctx context.Context) error {
	defer close(r.events)

	scanner := bufio.NewScanner(r.port)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		uid := strings.TrimSpace(scanner.Text())
		if uid == "" {
			continue
		}

		select {
		case r.events <- uid:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// The port was closed to unblock a pending read as part of
			// shutdown; that's an expected side effect, not a failure.
			return nil
		}
		return fmt.Errorf("cardreader: read: %w", err)
	}
	return nil
}
