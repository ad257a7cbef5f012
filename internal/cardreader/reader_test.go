package cardreader

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReaderEmitsScannedUIDs(t *testing.T) {
	t.Parallel()

	src := strings.NewReader("1234567890\n\nabcdef\n")
	r := NewReader(src, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var got []string
	for uid := range r.Events() {
		got = append(got, uid)
	}

	if err := <-done; err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	want := []string{"1234567890", "abcdef"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReaderStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer pw.Close()
	r := NewReader(pr, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Drain in the background so Run's blocking send (if any) cannot wedge
	// the test if a UID arrives concurrently with cancellation.
	go func() {
		for range r.Events() {
		}
	}()

	cancel()
	pw.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
