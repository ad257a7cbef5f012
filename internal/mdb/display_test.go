package mdb

import (
	"testing"
	"time"
)

func TestDurationByteClamping(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want byte
	}{
		{0, 1},
		{50 * time.Millisecond, 1},
		{100 * time.Millisecond, 1},
		{150 * time.Millisecond, 2},
		{3 * time.Second, 30},
		{25 * time.Second, 250},
		{1 * time.Hour, 250},
	}
	for _, c := range cases {
		if got := durationByte(c.in); got != c.want {
			t.Errorf("durationByte(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestDisplayRequestEncodeFixedWidth(t *testing.T) {
	r := DisplayRequest{Top: "Hi", Bottom: "This line is definitely too long", Duration: time.Second}
	payload := r.encode()
	if len(payload) != 2+2*displayLineWidth {
		t.Fatalf("payload length = %d, want %d", len(payload), 2+2*displayLineWidth)
	}
	if payload[0] != 0x02 {
		t.Fatalf("leading byte = %#x, want 0x02", payload[0])
	}
	if payload[1] != 10 {
		t.Fatalf("duration byte = %d, want 10", payload[1])
	}
	line1 := payload[2 : 2+displayLineWidth]
	line2 := payload[2+displayLineWidth:]
	if len(line1) != displayLineWidth || len(line2) != displayLineWidth {
		t.Fatalf("line lengths: %d %d", len(line1), len(line2))
	}
}

func TestDisplayQueuePriorityBypassesSuppression(t *testing.T) {
	q := newDisplayQueue()
	now := time.Now()

	first := q.next(now, DisplayRequest{Top: "default", Duration: 5 * time.Second})
	if first.Top != "default" {
		t.Fatalf("expected fallback, got %+v", first)
	}

	// Still within the 5s suppression window: a non-priority push should
	// not be surfaced yet.
	q.push(DisplayRequest{Top: "queued", Duration: time.Second})
	mid := q.next(now.Add(time.Second), DisplayRequest{Top: "default", Duration: 5 * time.Second})
	if mid.Top != "default" {
		t.Fatalf("expected suppression to hold, got %+v", mid)
	}

	// A priority push bypasses suppression immediately.
	q.push(DisplayRequest{Top: "urgent", Priority: true, Duration: 3 * time.Second})
	urgent := q.next(now.Add(2*time.Second), DisplayRequest{Top: "default", Duration: 5 * time.Second})
	if urgent.Top != "urgent" {
		t.Fatalf("expected priority request, got %+v", urgent)
	}
}

func TestDisplayQueueDropsOldestWhenFull(t *testing.T) {
	q := newDisplayQueue()
	for i := 0; i < displayQueueCapacity+2; i++ {
		q.push(DisplayRequest{Top: "x", Duration: time.Second})
	}
	if len(q.pending) != displayQueueCapacity {
		t.Fatalf("queue length = %d, want %d", len(q.pending), displayQueueCapacity)
	}
}
