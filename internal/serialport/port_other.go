//go:build !linux

package serialport

import "fmt"

// Open is unsupported outside Linux; the MDB link depends on termios2,
// a Linux-specific ioctl interface.
func Open(cfg Config) (Port, error) {
	return nil, fmt.Errorf("serialport: unsupported platform for device %s", cfg.Device)
}
