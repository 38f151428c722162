package main

import (
	"bufio"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intelcon-group/gt06-gateway/internal/broadcast"
	"github.com/intelcon-group/gt06-gateway/internal/metrics"
	"github.com/intelcon-group/gt06-gateway/internal/observer"
	"github.com/intelcon-group/gt06-gateway/internal/protocol"
	"github.com/intelcon-group/gt06-gateway/internal/queue"
	"github.com/intelcon-group/gt06-gateway/internal/registry"
	"github.com/intelcon-group/gt06-gateway/internal/session"
	"github.com/intelcon-group/gt06-gateway/internal/state"
	"github.com/intelcon-group/gt06-gateway/internal/validator"
)

// wiring builds the same component graph as main(), without starting any
// network listeners, so tests can drive individual connections directly.
type wiring struct {
	reg *registry.Registry
	hub *broadcast.Hub
	qm  *queue.Manager
}

func newWiring() *wiring {
	reg := registry.New()
	coll := metrics.New()
	hub := broadcast.New(reg, coll)
	qm := queue.New(hub, coll, 0)
	return &wiring{reg: reg, hub: hub, qm: qm}
}

func (w *wiring) enqueue(imei string, snapshot *state.DeviceState) {
	w.qm.Enqueue(imei, snapshot)
}

func buildFrame(protocolNum byte, content []byte, serial uint16) []byte {
	body := append([]byte{protocolNum}, content...)
	body = append(body, byte(serial>>8), byte(serial&0xFF))
	length := byte(len(body) + 2)
	crc := validator.CalculateCRC(append([]byte{length}, body...))
	f := []byte{0x78, 0x78, length}
	f = append(f, body...)
	f = append(f, byte(crc>>8), byte(crc&0xFF), 0x0D, 0x0A)
	return f
}

func loginFrame(serial uint16) []byte {
	return buildFrame(protocol.Login, []byte{0x86, 0x80, 0x22, 0x03, 0x85, 0x31, 0x72, 0x5F}, serial)
}

// locationFrame builds a 0x12 location frame carrying the S1 scenario's
// timestamp bytes (which decode to 2025-06-19 18:30:33 UTC) and coordinates (28.39490, 84.12400
// after division by the 1,800,000 coordinate divisor).
func locationFrame(serial uint16) []byte {
	content := []byte{
		0x19, 0x06, 0x13, 0x12, 0x1E, 0x21, // datetime
		0xC0,                   // GPS info: 12 satellites
		0x03, 0x0B, 0xE3, 0xA4, // latitude raw
		0x09, 0x06, 0x88, 0xE0, // longitude raw
		0x32,       // speed
		0x20, 0x5A, // course/status: realtime bit + course
	}
	return buildFrame(protocol.Location, content, serial)
}

func dialSession(t *testing.T, w *wiring) (client net.Conn, done chan struct{}) {
	t.Helper()
	client, serverConn := net.Pipe()
	h := session.New(serverConn, protocol.HemisphereSigned, w.reg, w.enqueue, nil, 0, nil)
	done = make(chan struct{})
	go func() {
		h.Run()
		close(done)
	}()
	return client, done
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return buf[:n]
}

// TestLoginThenLocationBroadcasts exercises the login-then-one-location
// scenario end to end: a device connects, logs in, reports a fix, and a
// registered observer receives an update for that device, and the registry
// carries the decoded fix.
func TestLoginThenLocationBroadcasts(t *testing.T) {
	w := newWiring()

	serverConn, clientConn := net.Pipe()
	obsHandler := observer.New(w.hub, observer.Enqueuer(w.enqueue), 0, nil)
	req := httptest.NewRequest("GET", "/ws", nil)
	rec := newHijackableRecorder(serverConn)
	go obsHandler.ServeHTTP(rec, req)

	reader := bufio.NewReader(clientConn)
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(statusLine, "HTTP/1.1 200"))
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}
	_, err = reader.ReadString('\n') // initial_state, empty registry
	require.NoError(t, err)

	devClient, done := dialSession(t, w)
	defer devClient.Close()

	go func() { _, _ = devClient.Write(loginFrame(1)) }()
	ack := readFrame(t, devClient)
	assert.True(t, validator.ValidateCRC(ack))

	d, ok := w.reg.Get("868022038531725")
	require.True(t, ok)
	assert.Equal(t, state.StatusActive, d.Status)

	go func() { _, _ = devClient.Write(locationFrame(2)) }()

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	update, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, update, "\"update\"")
	assert.Contains(t, update, "868022038531725")

	d, ok = w.reg.Get("868022038531725")
	require.True(t, ok)
	assert.InDelta(t, 28.39490, d.Lat, 0.0001)
	assert.InDelta(t, 84.12400, d.Lon, 0.0001)
	assert.True(t, d.HasFix)

	devClient.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after device disconnect")
	}
}

// TestLateObserverSeesCurrentStateNotReplay covers registering a second
// observer after an update has already been broadcast: the late observer's
// initial_state must carry the current fix, and it must not receive the
// earlier update message.
func TestLateObserverSeesCurrentStateNotReplay(t *testing.T) {
	w := newWiring()
	d := w.reg.GetOrCreate("111111111111111")
	d.HasFix = true
	d.Lat = 1.0

	serverConn1, clientConn1 := net.Pipe()
	obsHandler := observer.New(w.hub, nil, 0, nil)
	req1 := httptest.NewRequest("GET", "/ws", nil)
	rec1 := newHijackableRecorder(serverConn1)
	go obsHandler.ServeHTTP(rec1, req1)
	reader1 := skipHeaders(t, clientConn1)
	_, err := reader1.ReadString('\n')
	require.NoError(t, err)

	w.hub.Broadcast(&state.DeviceState{IMEI: "111111111111111", Lat: 2.0, HasFix: true})

	serverConn2, clientConn2 := net.Pipe()
	req2 := httptest.NewRequest("GET", "/ws", nil)
	rec2 := newHijackableRecorder(serverConn2)
	go obsHandler.ServeHTTP(rec2, req2)
	reader2 := skipHeaders(t, clientConn2)

	initial, err := reader2.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, initial, "initial_state")
	assert.Contains(t, initial, "111111111111111")

	clientConn2.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = reader2.ReadString('\n')
	assert.Error(t, err, "late observer must not replay the prior update")
}

// TestDisconnectBroadcastsOfflineStatus covers the device-disconnect
// scenario: after a login, closing the device socket produces one
// additional update carrying status="offline".
func TestDisconnectBroadcastsOfflineStatus(t *testing.T) {
	w := newWiring()

	serverConn, clientConn := net.Pipe()
	obsHandler := observer.New(w.hub, nil, 0, nil)
	req := httptest.NewRequest("GET", "/ws", nil)
	rec := newHijackableRecorder(serverConn)
	go obsHandler.ServeHTTP(rec, req)
	reader := skipHeaders(t, clientConn)
	_, err := reader.ReadString('\n') // initial_state
	require.NoError(t, err)

	devClient, done := dialSession(t, w)
	go func() { _, _ = devClient.Write(loginFrame(1)) }()
	readFrame(t, devClient) // ACK

	devClient.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after disconnect")
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	update, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, update, "\"update\"")
	assert.Contains(t, update, `"status":"offline"`)
}

// TestMalformedLeadingBytesResync covers resync after a malformed leading
// byte pair: the garbage is dropped and the following login frame is
// processed normally.
func TestMalformedLeadingBytesResync(t *testing.T) {
	w := newWiring()
	devClient, done := dialSession(t, w)
	defer devClient.Close()

	garbage := []byte{0xFF, 0xFF}
	payload := append(append([]byte{}, garbage...), loginFrame(9)...)
	go func() { _, _ = devClient.Write(payload) }()

	ack := readFrame(t, devClient)
	assert.True(t, validator.ValidateCRC(ack))

	_, ok := w.reg.Get("868022038531725")
	assert.True(t, ok)

	devClient.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not exit after disconnect")
	}
}

// skipHeaders reads the status line and header block off conn and returns
// the bufio.Reader used to do it, so callers read subsequent messages from
// the same reader rather than risk losing bytes already buffered.
func skipHeaders(t *testing.T, conn net.Conn) *bufio.Reader {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(statusLine, "HTTP/1.1 200"))
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}
	return reader
}

// hijackableRecorder wraps a net.Conn to satisfy http.Hijacker for tests,
// since httptest.ResponseRecorder does not implement it.
type hijackableRecorder struct {
	*httptest.ResponseRecorder
	conn net.Conn
}

func newHijackableRecorder(conn net.Conn) *hijackableRecorder {
	return &hijackableRecorder{ResponseRecorder: httptest.NewRecorder(), conn: conn}
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	rw := bufio.NewReadWriter(bufio.NewReader(h.conn), bufio.NewWriter(h.conn))
	return h.conn, rw, nil
}
