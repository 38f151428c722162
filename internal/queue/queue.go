// Package queue implements a per-device FIFO with an exclusive drainer: each
// IMEI gets its own queue under a shared, RWMutex-guarded map, and at most
// one goroutine drains any given IMEI's queue at a time, broadcasting each
// update in strict per-IMEI order until the queue empties.
package queue

import (
	"sync"

	"github.com/rs/xid"

	"github.com/intelcon-group/gt06-gateway/internal/state"
)

// QueuedUpdate is a DeviceState snapshot plus its per-IMEI sequence number
// and a process-unique trace id.
type QueuedUpdate struct {
	Seq     uint64
	QueueID string
	State   *state.DeviceState
}

// Broadcaster is the sole consumer of dequeued updates. internal/broadcast.Hub
// satisfies this.
type Broadcaster interface {
	Broadcast(update *state.DeviceState)
}

// Metrics receives queue instrumentation: overflow counts and per-IMEI
// depth. Both methods may be nil-safe no-ops.
type Metrics interface {
	RecordQueueOverflow(imei string)
	SetQueueDepth(imei string, depth int)
}

// deviceQueue holds the FIFO and the exclusivity flag for one IMEI. Enqueue
// grabs mu, appends, assigns the next sequence number, and spawns a drainer
// if one isn't already running; the drainer loops lock-pop-unlock-broadcast
// until the FIFO is empty, then clears draining and exits.
type deviceQueue struct {
	mu       sync.Mutex
	items    []QueuedUpdate
	draining bool
	nextSeq  uint64
}

// Manager owns one deviceQueue per IMEI, created lazily and kept for the
// life of the process.
type Manager struct {
	mu      sync.RWMutex
	queues  map[string]*deviceQueue
	hub     Broadcaster
	metrics Metrics

	// cap bounds each per-IMEI queue; 0 means unbounded. Overflow drops the
	// oldest queued update first.
	cap int
}

// New creates a Manager that broadcasts dequeued updates via hub. cap caps
// each per-IMEI queue (0 = unbounded).
func New(hub Broadcaster, metrics Metrics, cap int) *Manager {
	return &Manager{
		queues:  make(map[string]*deviceQueue),
		hub:     hub,
		metrics: metrics,
		cap:     cap,
	}
}

// Enqueue appends a snapshot of state for imei and returns immediately. It
// never blocks on broadcast latency: if no drainer is currently running for
// this IMEI, Enqueue spawns one; otherwise the running drainer will pick up
// this item in FIFO order.
func (m *Manager) Enqueue(imei string, snapshot *state.DeviceState) QueuedUpdate {
	dq := m.getOrCreate(imei)

	dq.mu.Lock()
	dq.nextSeq++
	update := QueuedUpdate{
		Seq:     dq.nextSeq,
		QueueID: xid.New().String(),
		State:   snapshot,
	}
	dq.items = append(dq.items, update)

	if m.cap > 0 && len(dq.items) > m.cap {
		dropped := len(dq.items) - m.cap
		dq.items = dq.items[dropped:]
		if m.metrics != nil {
			m.metrics.RecordQueueOverflow(imei)
		}
	}

	shouldSpawn := !dq.draining
	if shouldSpawn {
		dq.draining = true
	}
	depth := len(dq.items)
	dq.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetQueueDepth(imei, depth)
	}

	if shouldSpawn {
		go m.drain(imei, dq)
	}

	return update
}

func (m *Manager) drain(imei string, dq *deviceQueue) {
	for {
		dq.mu.Lock()
		if len(dq.items) == 0 {
			dq.draining = false
			dq.mu.Unlock()
			return
		}
		next := dq.items[0]
		dq.items = dq.items[1:]
		depth := len(dq.items)
		dq.mu.Unlock()

		if m.metrics != nil {
			m.metrics.SetQueueDepth(imei, depth)
		}

		// Every dequeue causes exactly one Broadcast Hub invocation,
		// regardless of that call's own per-observer outcomes.
		m.hub.Broadcast(next.State)
	}
}

func (m *Manager) getOrCreate(imei string) *deviceQueue {
	m.mu.RLock()
	dq, ok := m.queues[imei]
	m.mu.RUnlock()
	if ok {
		return dq
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if dq, ok := m.queues[imei]; ok {
		return dq
	}
	dq = &deviceQueue{}
	m.queues[imei] = dq
	return dq
}

// Depth reports the current queue length for imei, for tests and metrics.
func (m *Manager) Depth(imei string) int {
	m.mu.RLock()
	dq, ok := m.queues[imei]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	dq.mu.Lock()
	defer dq.mu.Unlock()
	return len(dq.items)
}
