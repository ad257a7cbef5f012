// Package serialport provides a minimal termios-backed serial port
// abstraction sized for the MDB cashless-peripheral link: 115200 baud,
// 8 data bits, no parity, 1 stop bit, with a bounded per-read deadline so
// the caller's poll loop never blocks indefinitely.
package serialport

import (
	"io"
	"time"
)

// Port is the subset of serial-line operations the MDB engine depends on.
// Implementations must support SetReadDeadline so the engine's 100ms poll
// loop (spec §4.1) never blocks past that bound.
type Port interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Config describes how to open a serial line.
type Config struct {
	// Device is the path to the character device, e.g. "/dev/ttyUSB0".
	Device string

	// BaudRate is the line speed; the MDB link runs at 115200 (§6).
	BaudRate int
}

// DefaultConfig returns the MDB link's standard settings for Device.
func DefaultConfig(device string) Config {
	return Config{Device: device, BaudRate: 115200}
}
