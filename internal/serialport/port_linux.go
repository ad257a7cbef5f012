//go:build linux

package serialport

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// linuxPort is a termios2-configured character device, opened non-blocking
// so the Go runtime poller backs SetReadDeadline the same way it would for
// a socket. Grounded on the raw ioctl/ termios conventions used for the
// reference BFD listener's raw-socket wrapper, adapted here to a serial
// line instead of a UDP socket.
type linuxPort struct {
	f *os.File
}

// Open configures and opens a termios2 serial line per cfg.
func Open(cfg Config) (Port, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", cfg.Device, err)
	}

	t, err := unix.IoctlGetTermios2(fd, unix.TCGETS2)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("serialport: get termios2: %w", err)
	}

	t.Cflag &^= unix.CBAUD | unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS
	t.Cflag |= unix.CS8 | unix.CLOCAL | unix.CREAD | unix.BOTHER
	t.Ispeed = uint32(cfg.BaudRate)
	t.Ospeed = uint32(cfg.BaudRate)
	t.Iflag = 0
	t.Oflag = 0
	t.Lflag = 0
	// VMIN=0, VTIME=1 (100ms): a Read() returns as soon as a byte is
	// available or after 100ms with nothing, the same cadence the engine
	// also enforces via SetReadDeadline on the non-blocking fd.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 1

	if err := unix.IoctlSetTermios2(fd, unix.TCSETS2, t); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("serialport: set termios2: %w", err)
	}

	f := os.NewFile(uintptr(fd), cfg.Device)
	if f == nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("serialport: os.NewFile failed for %s", cfg.Device)
	}

	return &linuxPort{f: f}, nil
}

func (p *linuxPort) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *linuxPort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *linuxPort) Close() error                { return p.f.Close() }

func (p *linuxPort) SetReadDeadline(t time.Time) error {
	return p.f.SetReadDeadline(t)
}
