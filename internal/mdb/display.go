package mdb

import (
	"time"
)

// displayLineWidth is the fixed width of each display line (§3, §4.1).
const displayLineWidth = 16

// displayQueueCapacity bounds the pending-request queue (§5: "bounded
// display queue"); the engine is the sole consumer.
const displayQueueCapacity = 4

// DisplayRequest is a message for the customer-facing display.
type DisplayRequest struct {
	Top      string
	Bottom   string
	Duration time.Duration
	// Priority requests bypass the display_until suppression window so
	// that, e.g., "No credit" always shows even while a previous message
	// is still being held on screen.
	Priority bool
}

// clampDuration enforces the 0.1-25.0s range from the data model (§3).
func clampDuration(d time.Duration) time.Duration {
	const min = 100 * time.Millisecond
	const max = 25 * time.Second
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// durationByte converts a clamped duration to the wire's tenths-of-a-second
// byte, rounding to the nearest tenth and clamped again to [1, 250] as the
// wire format requires (§4.1).
func durationByte(d time.Duration) byte {
	tenths := int64((clampDuration(d) + 50*time.Millisecond) / (100 * time.Millisecond))
	if tenths < 1 {
		tenths = 1
	}
	if tenths > 250 {
		tenths = 250
	}
	return byte(tenths)
}

// padLine centres s within displayLineWidth bytes, truncating if longer.
func padLine(s string) [displayLineWidth]byte {
	var out [displayLineWidth]byte
	for i := range out {
		out[i] = ' '
	}
	b := []byte(s)
	if len(b) > displayLineWidth {
		b = b[:displayLineWidth]
	}
	pad := (displayLineWidth - len(b)) / 2
	copy(out[pad:], b)
	return out
}

// encode builds the display-frame payload: 0x02 <duration_byte> <line1:16> <line2:16>.
func (r DisplayRequest) encode() []byte {
	payload := make([]byte, 0, 2+2*displayLineWidth)
	payload = append(payload, 0x02, durationByte(r.Duration))
	top := padLine(r.Top)
	bottom := padLine(r.Bottom)
	payload = append(payload, top[:]...)
	payload = append(payload, bottom[:]...)
	return payload
}

// displayQueue is the bounded, engine-owned FIFO of pending display
// requests plus the display_until suppression window (§4.1, §5).
type displayQueue struct {
	pending      []DisplayRequest
	displayUntil time.Time
}

func newDisplayQueue() *displayQueue {
	return &displayQueue{pending: make([]DisplayRequest, 0, displayQueueCapacity)}
}

// push enqueues a request, dropping the oldest pending entry if full.
// Priority requests are inserted at the front so they are drained next.
func (q *displayQueue) push(req DisplayRequest) {
	if len(q.pending) >= displayQueueCapacity {
		q.pending = q.pending[1:]
	}
	if req.Priority {
		q.pending = append([]DisplayRequest{req}, q.pending...)
		return
	}
	q.pending = append(q.pending, req)
}

// next returns the request to show on this POLL: the queue head if it is
// priority or the suppression window has passed, otherwise fallback.
func (q *displayQueue) next(now time.Time, fallback DisplayRequest) DisplayRequest {
	if len(q.pending) > 0 {
		head := q.pending[0]
		if head.Priority || !now.Before(q.displayUntil) {
			q.pending = q.pending[1:]
			q.displayUntil = now.Add(clampDuration(head.Duration))
			return head
		}
	}
	if now.Before(q.displayUntil) {
		return fallback
	}
	q.displayUntil = now.Add(clampDuration(fallback.Duration))
	return fallback
}
