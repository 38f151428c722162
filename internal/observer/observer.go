// Package observer implements the HTTP-facing fan-out endpoint: it hijacks
// the connection and serves a bidirectional newline-delimited JSON channel,
// streaming device state updates out and accepting synthetic device updates
// in, rather than a server-to-client-only framing like SSE.
package observer

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intelcon-group/gt06-gateway/internal/broadcast"
	"github.com/intelcon-group/gt06-gateway/internal/state"
)

// Hub is the subset of broadcast.Hub the endpoint depends on.
type Hub interface {
	Register(o broadcast.Observer) error
	Unregister(o broadcast.Observer)
}

// Enqueuer accepts a synthetically-ingressed device snapshot (observer ->
// gateway direction). internal/queue.Manager's Enqueue, wrapped, satisfies
// this.
type Enqueuer func(imei string, snapshot *state.DeviceState)

// Handler serves the observer endpoint.
type Handler struct {
	hub         Hub
	enqueue     Enqueuer
	idleTimeout time.Duration
	log         *logrus.Entry
}

// New builds a Handler. idleTimeout of 0 disables read-idle disconnection.
func New(hub Hub, enqueue Enqueuer, idleTimeout time.Duration, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{hub: hub, enqueue: enqueue, idleTimeout: idleTimeout, log: log}
}

// ServeHTTP hijacks the connection and serves it as a newline-delimited JSON
// duplex channel: the gateway writes `initial_state`/`update` envelopes, and
// the observer may write `update` envelopes of its own to inject synthetic
// device state.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	conn, rw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "hijack failed", http.StatusInternalServerError)
		return
	}
	defer conn.Close()

	if _, err := rw.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/x-ndjson\r\nConnection: close\r\n\r\n"); err != nil {
		return
	}
	if err := rw.Flush(); err != nil {
		return
	}

	obs := &connObserver{rw: rw, conn: conn, open: true}
	if err := h.hub.Register(obs); err != nil {
		h.log.WithError(err).Debug("failed to send initial state to observer")
	}
	defer h.hub.Unregister(obs)

	reader := bufio.NewReader(conn)
	for {
		if h.idleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			h.handleInbound(line)
		}
		if err != nil {
			if err != io.EOF {
				h.log.WithError(err).Debug("observer connection read error")
			}
			obs.markClosed()
			return
		}
	}
}

func (h *Handler) handleInbound(line []byte) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		h.log.WithError(err).Warn("discarding malformed observer message")
		return
	}
	if (envelope.Type != broadcast.TypeUpdate && envelope.Type != broadcast.TypeInitialState) || h.enqueue == nil {
		return
	}

	var payload state.JSON
	if err := json.Unmarshal(envelope.Data, &payload); err != nil {
		h.log.WithError(err).Warn("discarding malformed observer update payload")
		return
	}
	if payload.IMEI == "" {
		return
	}

	snapshot := state.FromJSON(payload, time.Now().UTC())
	h.enqueue(snapshot.IMEI, snapshot)
}

// connObserver adapts a hijacked connection to broadcast.Observer.
type connObserver struct {
	mu   sync.Mutex
	rw   *bufio.ReadWriter
	conn interface{ Close() error }
	open bool
}

func (c *connObserver) Send(msg broadcast.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return io.ErrClosedPipe
	}

	encoded, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	encoded = append(encoded, '\n')

	if _, err := c.rw.Write(encoded); err != nil {
		c.open = false
		return err
	}
	return c.rw.Flush()
}

func (c *connObserver) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *connObserver) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}
