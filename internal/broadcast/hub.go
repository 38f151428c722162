// Package broadcast implements the observer fan-out hub: observers register
// and unregister against a shared set, and each broadcast update is sent to
// every registered observer in turn with a per-observer bounded timeout, so
// one slow or failing observer delays delivery to the rest by at most that
// timeout.
package broadcast

import (
	"sync"
	"time"

	"github.com/intelcon-group/gt06-gateway/internal/state"
)

// sendTimeout bounds how long Broadcast waits on a single observer before
// counting it as a failure and moving on.
const sendTimeout = 2 * time.Second

// Observer is a connected downstream consumer of device state updates.
type Observer interface {
	// Send delivers msg (an initial_state or update envelope). The Hub may
	// call Send concurrently for the same Observer: drainers for different
	// IMEIs broadcast in parallel, and a send that timed out keeps running
	// in the background. Implementations must be safe for concurrent use.
	Send(msg Message) error
	// IsOpen reports whether the observer is still connected.
	IsOpen() bool
}

// Message is the JSON envelope delivered to observers.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

const (
	TypeInitialState = "initial_state"
	TypeUpdate       = "update"
)

// Snapshotter supplies the current registry snapshot for a newly registered
// observer. internal/registry.Registry satisfies this.
type Snapshotter interface {
	Snapshot() []*state.DeviceState
}

// FailureRecorder is notified of broadcast outcomes, for metrics. Both
// methods may be nil-safe no-ops.
type FailureRecorder interface {
	RecordObserverIO()
	SetObserverCount(n int)
}

// Hub tracks connected observers and fans updates out to all of them.
type Hub struct {
	mu        sync.RWMutex
	observers map[Observer]struct{}
	registry  Snapshotter
	metrics   FailureRecorder
}

// New creates a Hub that sources initial-state snapshots from registry.
func New(registry Snapshotter, metrics FailureRecorder) *Hub {
	return &Hub{
		observers: make(map[Observer]struct{}),
		registry:  registry,
		metrics:   metrics,
	}
}

// Register adds o to the observer set and immediately sends it the current
// registry snapshot as a single initial_state message.
func (h *Hub) Register(o Observer) error {
	h.mu.Lock()
	h.observers[o] = struct{}{}
	count := len(h.observers)
	h.mu.Unlock()

	h.reportCount(count)

	devices := h.registry.Snapshot()
	payload := make([]state.JSON, len(devices))
	for i, d := range devices {
		payload[i] = d.ToJSON()
	}
	return o.Send(Message{Type: TypeInitialState, Data: payload})
}

// Unregister removes o; it is never sent to again.
func (h *Hub) Unregister(o Observer) {
	h.mu.Lock()
	delete(h.observers, o)
	count := len(h.observers)
	h.mu.Unlock()

	h.reportCount(count)
}

// Broadcast delivers update as an `update` message to every registered
// observer. A failing or slow send is recorded and the observer pruned; it
// never aborts delivery to the rest of the set.
func (h *Hub) Broadcast(update *state.DeviceState) {
	msg := Message{Type: TypeUpdate, Data: update.ToJSON()}

	h.mu.RLock()
	targets := make([]Observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.RUnlock()

	var toPrune []Observer
	for _, o := range targets {
		if !o.IsOpen() {
			toPrune = append(toPrune, o)
			continue
		}
		if err := h.sendWithTimeout(o, msg); err != nil {
			if h.metrics != nil {
				h.metrics.RecordObserverIO()
			}
			toPrune = append(toPrune, o)
		}
	}

	if len(toPrune) > 0 {
		h.mu.Lock()
		for _, o := range toPrune {
			delete(h.observers, o)
		}
		count := len(h.observers)
		h.mu.Unlock()
		h.reportCount(count)
	}
}

func (h *Hub) sendWithTimeout(o Observer, msg Message) error {
	done := make(chan error, 1)
	go func() { done <- o.Send(msg) }()

	select {
	case err := <-done:
		return err
	case <-time.After(sendTimeout):
		return errObserverTimeout
	}
}

func (h *Hub) reportCount(n int) {
	if h.metrics != nil {
		h.metrics.SetObserverCount(n)
	}
}

// Count reports the number of currently registered observers, for tests and
// metrics polling.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

var errObserverTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "broadcast: observer send timed out" }
