// Package session implements the per-connection state machine that drives a
// single device's TCP connection through NEW -> AUTHENTICATED -> CLOSED:
// reading frames off the wire, dispatching on packet type, writing ACKs, and
// updating the device registry and queue as state changes.
package session

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/intelcon-group/gt06-gateway/internal/frame"
	"github.com/intelcon-group/gt06-gateway/internal/metrics"
	"github.com/intelcon-group/gt06-gateway/internal/protocol"
	"github.com/intelcon-group/gt06-gateway/internal/registry"
	"github.com/intelcon-group/gt06-gateway/internal/state"
	"github.com/intelcon-group/gt06-gateway/internal/validator"
)

type phase int

const (
	phaseNew phase = iota
	phaseAuthenticated
	phaseClosed
)

const readBufSize = 4096

// Metrics receives frame and per-error-kind counts. Implementations may
// no-op.
type Metrics interface {
	RecordFrame()
	RecordError(kind string)
}

// Handler drives one device TCP connection through its lifetime.
type Handler struct {
	conn    net.Conn
	codec   *frame.Codec
	mode    protocol.HemisphereMode
	reg     *registry.Registry
	enqueue func(imei string, snapshot *state.DeviceState)
	metrics Metrics
	log     *logrus.Entry

	idleTimeout time.Duration

	phase phase
	imei  string
}

// New builds a Handler for a freshly accepted connection. enqueue is called
// once per accepted location frame, and once more with the final offline
// snapshot when the connection closes after a successful login. Logins and
// heartbeats update the registry but are not enqueued.
func New(conn net.Conn, mode protocol.HemisphereMode, reg *registry.Registry, enqueue func(imei string, snapshot *state.DeviceState), metrics Metrics, idleTimeout time.Duration, log *logrus.Entry) *Handler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handler{
		conn:        conn,
		codec:       frame.New(),
		mode:        mode,
		reg:         reg,
		enqueue:     enqueue,
		metrics:     metrics,
		log:         log.WithField("remote", conn.RemoteAddr().String()),
		idleTimeout: idleTimeout,
		phase:       phaseNew,
	}
}

// Run reads frames until the connection closes or errors, dispatching each
// to its packet-type handler. It returns only when the session is done.
func (h *Handler) Run() {
	defer h.close()

	var tail []byte
	readBuf := make([]byte, readBufSize)

	for {
		if h.idleTimeout > 0 {
			_ = h.conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		}

		n, err := h.conn.Read(readBuf)
		if n > 0 {
			frames, newTail := h.codec.Split(tail, readBuf[:n])
			tail = newTail
			for _, f := range frames {
				h.handleFrame(f)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				h.log.WithError(err).Debug("connection read error")
			}
			return
		}
	}
}

func (h *Handler) handleFrame(raw []byte) {
	if h.metrics != nil {
		h.metrics.RecordFrame()
	}

	if !validator.ValidateCRC(raw) {
		if h.metrics != nil {
			h.metrics.RecordError(metrics.KindMalformedFrame)
		}
		h.log.Warn("dropping frame with invalid CRC")
		return
	}

	pkt, err := protocol.Parse(raw, h.mode)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordError(metrics.KindMalformedFrame)
		}
		h.log.WithError(err).Warn("failed to parse frame")
		return
	}

	switch p := pkt.(type) {
	case protocol.LoginPacket:
		h.handleLogin(p, raw)
	case protocol.LocationPacket:
		h.handleLocation(p)
	case protocol.HeartbeatPacket:
		h.handleHeartbeat(p, raw)
	case protocol.UnknownPacket:
		if h.metrics != nil {
			h.metrics.RecordError(metrics.KindUnknownProtocol)
		}
		h.log.WithField("protocol", p.ProtocolNumber()).Warn("unknown protocol number")
	}
}

func (h *Handler) handleLogin(p protocol.LoginPacket, raw []byte) {
	h.imei = p.IMEI
	h.phase = phaseAuthenticated
	h.log = h.log.WithField("imei", h.imei)
	h.log.Info("device authenticated")

	d := h.reg.GetOrCreate(h.imei).Clone()
	d.Status = state.StatusActive
	d.ReceivedTime = time.Now().UTC()
	h.reg.Put(h.imei, d)

	h.writeACK(p.ProtocolNumber(), p.SerialNumber())
}

func (h *Handler) handleLocation(p protocol.LocationPacket) {
	if h.phase != phaseAuthenticated {
		if h.metrics != nil {
			h.metrics.RecordError(metrics.KindUnauthenticatedPacket)
		}
		h.log.Warn("dropping location frame before login")
		return
	}

	d := h.reg.GetOrCreate(h.imei)
	now := time.Now().UTC()
	updated := &state.DeviceState{
		IMEI:         h.imei,
		HasFix:       true,
		Lat:          p.Latitude,
		Lon:          p.Longitude,
		Speed:        p.Speed,
		Course:       p.Course,
		Satellites:   p.Satellites,
		RealtimeGPS:  p.RealtimeGPS,
		PayloadTime:  p.PayloadTime,
		ReceivedTime: now,
		LastUpdate:   now,
		Status:       state.StatusActive,
	}
	h.reg.Put(h.imei, updated)
	_ = d

	if h.enqueue != nil {
		h.enqueue(h.imei, updated.Clone())
	}

	h.writeACK(p.ProtocolNumber(), p.SerialNumber())
}

func (h *Handler) handleHeartbeat(p protocol.HeartbeatPacket, raw []byte) {
	if h.phase != phaseAuthenticated {
		if h.metrics != nil {
			h.metrics.RecordError(metrics.KindUnauthenticatedPacket)
		}
		h.log.Warn("dropping heartbeat before login")
		return
	}

	d := h.reg.GetOrCreate(h.imei).Clone()
	d.LastUpdate = time.Now().UTC()
	h.reg.Put(h.imei, d)

	h.writeACK(p.ProtocolNumber(), p.SerialNumber())
}

// writeACK writes an ACK frame on the device socket. A write failure tears
// down the session: it closes the connection so the blocked Read in Run
// returns an error and the deferred cleanup runs.
func (h *Handler) writeACK(protocolNum byte, serial uint16) {
	ack := frame.BuildACK(protocolNum, nil, serial)
	if _, err := h.conn.Write(ack); err != nil {
		if h.metrics != nil {
			h.metrics.RecordError(metrics.KindSocketIO)
		}
		h.log.WithError(err).Info("failed to write ACK, closing session")
		_ = h.conn.Close()
	}
}

func (h *Handler) close() {
	h.phase = phaseClosed
	_ = h.conn.Close()

	if h.imei == "" {
		return
	}

	h.log.Info("device disconnected")

	d, ok := h.reg.Get(h.imei)
	if !ok {
		return
	}
	offline := d.Clone()
	offline.Status = state.StatusOffline
	offline.LastUpdate = time.Now().UTC()
	h.reg.Put(h.imei, offline)

	if h.enqueue != nil {
		h.enqueue(h.imei, offline.Clone())
	}
}
