package mdb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// MDB2PC framing constants.
const (
	stx     byte = 0x02
	etx1    byte = 0x10
	etx2    byte = 0x03
	ackByte byte = 0x06
	nakByte byte = 0x15
	addr    byte = 0x00
)

// MaxPayloadSize bounds a single frame's payload to keep read loops from
// growing unbounded on a desynchronised bus.
const MaxPayloadSize = 255

// ErrFramingError is returned by FrameReader when the byte stream does not
// match the MDB2PC frame grammar (STX ADDR ... 0x10 0x03).
var ErrFramingError = errors.New("mdb: framing error")

// ErrPayloadTooLarge is returned when a frame's payload would exceed MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("mdb: payload exceeds maximum frame size")

// FrameReader decodes the byte stream from the serial adapter into either
// full frames (STX ADDR <payload> 0x10 0x03) or bare control bytes (ACK/NAK).
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r for frame-at-a-time decoding.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, MaxPayloadSize+8)}
}

// ReadByte reads and returns the next raw byte, used by the engine to
// classify an inbound byte as STX (start of frame), ACK, or NAK before
// deciding whether to call ReadFrame.
func (fr *FrameReader) ReadByte() (byte, error) {
	return fr.r.ReadByte()
}

// UnreadByte pushes the most recently read byte back onto the stream.
func (fr *FrameReader) UnreadByte() error {
	return fr.r.UnreadByte()
}

// ReadFrame reads the remainder of a frame assuming the leading STX byte has
// already been consumed by the caller. It returns the payload bytes (ADDR
// stripped, terminator stripped).
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	a, err := fr.r.ReadByte()
	if err != nil {
		return nil, err
	}
	if a != addr {
		return nil, fmt.Errorf("%w: unexpected address byte 0x%02x", ErrFramingError, a)
	}

	payload := make([]byte, 0, 16)
	for {
		if len(payload) > MaxPayloadSize {
			return nil, ErrPayloadTooLarge
		}
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == etx1 {
			next, err := fr.r.ReadByte()
			if err != nil {
				return nil, err
			}
			if next == etx2 {
				return payload, nil
			}
			// 0x10 inside the payload that isn't followed by 0x03 is data,
			// not a terminator; keep both bytes.
			payload = append(payload, b, next)
			continue
		}
		payload = append(payload, b)
	}
}

// FrameWriter encodes replies in MDB2PC wire format.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w for frame and control-byte writes.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes a full STX ADDR <payload> 0x10 0x03 frame.
func (fw *FrameWriter) WriteFrame(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	buf := make([]byte, 0, len(payload)+4)
	buf = append(buf, stx, addr)
	buf = append(buf, payload...)
	buf = append(buf, etx1, etx2)
	_, err := fw.w.Write(buf)
	return err
}

// WriteAck writes the bare framing-level ACK byte.
func (fw *FrameWriter) WriteAck() error {
	_, err := fw.w.Write([]byte{ackByte})
	return err
}

// WriteNak writes the bare framing-level NAK byte.
func (fw *FrameWriter) WriteNak() error {
	_, err := fw.w.Write([]byte{nakByte})
	return err
}

// IsStart reports whether b begins a framed message.
func IsStart(b byte) bool { return b == stx }
