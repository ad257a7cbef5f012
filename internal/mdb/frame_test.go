package mdb

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		{0x12},
		{0x10, 0x10},
		{0x11, 0x00, 0x03, 0x10, 0x10, 0x02, 0x01}, // contains an embedded 0x10 not followed by 0x03
		make([]byte, 200),
	}

	for i, payload := range cases {
		var buf bytes.Buffer
		w := NewFrameWriter(&buf)
		if err := w.WriteFrame(payload); err != nil {
			t.Fatalf("case %d: write: %v", i, err)
		}

		r := NewFrameReader(&buf)
		b, err := r.ReadByte()
		if err != nil || !IsStart(b) {
			t.Fatalf("case %d: expected STX, got %x err %v", i, b, err)
		}
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("case %d: read frame: %v", i, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("case %d: got %x want %x", i, got, payload)
		}
	}
}

func TestFrameWriterRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	if err := w.WriteFrame(make([]byte, MaxPayloadSize+1)); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func TestWriteAckNak(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	if err := w.WriteAck(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteNak(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{ackByte, nakByte}) {
		t.Fatalf("got %x", buf.Bytes())
	}
}
