package serialport

import (
	"io"
	"time"
)

// Mock groups the pipe ends of an in-memory serial pair. It has no Port
// methods and NewMock does not return it; engine tests use the Port and
// MockHost that NewMock returns.
type Mock struct {
	ToEngine   *io.PipeReader
	FromEngine *io.PipeWriter

	readSide  *io.PipeWriter
	writeSide *io.PipeReader
}

// NewMock returns a connected pair: the host writes frames that the
// returned engine Port reads, as if it were the vending machine master, and
// reads the engine's replies back. The engine Port's SetReadDeadline is a
// no-op, so its reads block until the host writes or closes.
func NewMock() (engine Port, host *MockHost) {
	hostToEngineR, hostToEngineW := io.Pipe()
	engineToHostR, engineToHostW := io.Pipe()

	m := &mockPort{r: hostToEngineR, w: engineToHostW}
	h := &MockHost{r: engineToHostR, w: hostToEngineW}
	return m, h
}

// mockPort is the engine-facing side of the in-memory pipe pair.
type mockPort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (m *mockPort) Read(b []byte) (int, error)  { return m.r.Read(b) }
func (m *mockPort) Write(b []byte) (int, error) { return m.w.Write(b) }
func (m *mockPort) Close() error {
	_ = m.r.Close()
	return m.w.Close()
}
func (m *mockPort) SetReadDeadline(time.Time) error { return nil }

// MockHost is the test-harness-facing side, playing the vending machine
// master: it writes inbound frames and reads the engine's replies.
type MockHost struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (h *MockHost) Write(b []byte) (int, error) { return h.w.Write(b) }
func (h *MockHost) Read(b []byte) (int, error)  { return h.r.Read(b) }
func (h *MockHost) Close() error {
	_ = h.r.Close()
	return h.w.Close()
}
