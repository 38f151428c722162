package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/intelcon-group/gt06-gateway/internal/state"
)

type recordingHub struct {
	mu      sync.Mutex
	order   []string // imei:seq-by-lat, encoded via Lat field for test traceability
	byIMEI  map[string][]float64
}

func newRecordingHub() *recordingHub {
	return &recordingHub{byIMEI: make(map[string][]float64)}
}

func (h *recordingHub) Broadcast(update *state.DeviceState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byIMEI[update.IMEI] = append(h.byIMEI[update.IMEI], update.Lat)
}

func (h *recordingHub) snapshot(imei string) []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]float64, len(h.byIMEI[imei]))
	copy(out, h.byIMEI[imei])
	return out
}

func (h *recordingHub) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, v := range h.byIMEI {
		n += len(v)
	}
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %v", timeout)
	}
}

// TestBurstOrdering covers S2: many updates enqueued in rapid succession for
// one IMEI must be broadcast in strict FIFO order.
func TestBurstOrdering(t *testing.T) {
	hub := newRecordingHub()
	m := New(hub, nil, 0)

	const n = 50
	for i := 0; i < n; i++ {
		m.Enqueue("IMEI-1", &state.DeviceState{IMEI: "IMEI-1", Lat: float64(i)})
	}

	waitFor(t, time.Second, func() bool { return len(hub.snapshot("IMEI-1")) == n })

	got := hub.snapshot("IMEI-1")
	for i, v := range got {
		if v != float64(i) {
			t.Fatalf("order violated at index %d: want %v got %v", i, i, v)
		}
	}
}

// TestTwoIMEIsParallelDrain covers S3: two IMEIs each get their own
// independent drainer and neither blocks the other's ordering.
func TestTwoIMEIsParallelDrain(t *testing.T) {
	hub := newRecordingHub()
	m := New(hub, nil, 0)

	const n = 30
	var wg sync.WaitGroup
	for _, imei := range []string{"A", "B"} {
		wg.Add(1)
		go func(imei string) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				m.Enqueue(imei, &state.DeviceState{IMEI: imei, Lat: float64(i)})
			}
		}(imei)
	}
	wg.Wait()

	waitFor(t, time.Second, func() bool { return hub.total() == 2*n })

	for _, imei := range []string{"A", "B"} {
		got := hub.snapshot(imei)
		if len(got) != n {
			t.Fatalf("imei %s: expected %d updates, got %d", imei, n, len(got))
		}
		for i, v := range got {
			if v != float64(i) {
				t.Fatalf("imei %s: order violated at index %d: want %v got %v", imei, i, i, v)
			}
		}
	}
}

// TestSequenceNumbersAreMonotonic enqueues 20 updates for the same IMEI from
// concurrent goroutines and checks that every returned QueuedUpdate carries a
// distinct sequence number.
func TestSequenceNumbersAreMonotonic(t *testing.T) {
	hub := newRecordingHub()
	m := New(hub, nil, 0)

	var wg sync.WaitGroup
	seqs := make([]uint64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := m.Enqueue("IMEI-1", &state.DeviceState{IMEI: "IMEI-1", Lat: float64(i)})
			seqs[i] = u.Seq
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, s := range seqs {
		if seen[s] {
			t.Fatalf("duplicate sequence number %d", s)
		}
		seen[s] = true
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 unique sequence numbers, got %d", len(seen))
	}
}

// gatedHub blocks every Broadcast until gate is closed.
type gatedHub struct {
	*recordingHub
	gate chan struct{}
}

func (h *gatedHub) Broadcast(update *state.DeviceState) {
	<-h.gate
	h.recordingHub.Broadcast(update)
}

func TestQueueCapDropsOldest(t *testing.T) {
	// The drainer blocks inside Broadcast on the first item it pops, so the
	// remaining enqueues pile up against the cap.
	hub := &gatedHub{recordingHub: newRecordingHub(), gate: make(chan struct{})}
	m := New(hub, nil, 3)

	for i := 0; i < 10; i++ {
		m.Enqueue("IMEI-1", &state.DeviceState{IMEI: "IMEI-1", Lat: float64(i)})
		if d := m.Depth("IMEI-1"); d > 3 {
			t.Fatalf("queue depth %d exceeds cap 3", d)
		}
	}
	close(hub.gate)

	waitFor(t, time.Second, func() bool {
		got := hub.snapshot("IMEI-1")
		return len(got) > 0 && got[len(got)-1] == 9
	})

	// At most one item (whichever the drainer popped before blocking) may
	// precede the three newest; every other older item was dropped.
	got := hub.snapshot("IMEI-1")
	if len(got) < 3 || len(got) > 4 {
		t.Fatalf("expected 3 or 4 broadcasts, got %v", got)
	}
	tail := got[len(got)-3:]
	if tail[0] != 7 || tail[1] != 8 || tail[2] != 9 {
		t.Fatalf("expected the newest three updates 7,8,9 last, got %v", got)
	}
	if len(got) == 4 && got[0] >= 7 {
		t.Fatalf("expected the extra leading update to be older than 7, got %v", got)
	}
}
