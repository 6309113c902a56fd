package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marquee-dev/marquee/pkg/layout"
	"github.com/marquee-dev/marquee/pkg/protocol"
	"github.com/marquee-dev/marquee/pkg/registry"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DefaultConfig()
	cfg.PongWait = 5 * time.Second
	hub := NewHub(cfg, registry.New(registry.WithLogger(log)), log)
	srv := New(cfg, hub, log)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, msg protocol.Message) {
	t.Helper()
	data, binary, err := protocol.EncodeFrame(msg, 0)
	if err != nil {
		t.Fatalf("encode %s: %v", msg.Kind(), err)
	}
	frameType := websocket.TextMessage
	if binary {
		frameType = websocket.BinaryMessage
	}
	if err := conn.WriteMessage(frameType, data); err != nil {
		t.Fatalf("write %s: %v", msg.Kind(), err)
	}
}

func readMsg(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.DecodeFrame(data, frameType == websocket.BinaryMessage)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func register(t *testing.T, conn *websocket.Conn, deviceID string) *protocol.RegistrationAck {
	t.Helper()
	sendMsg(t, conn, &protocol.Register{DeviceID: deviceID, Version: protocol.Current.String()})
	ack, ok := readMsg(t, conn).(*protocol.RegistrationAck)
	if !ok {
		t.Fatalf("expected registration ack")
	}
	return ack
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegisterAck(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	ack := register(t, conn, "lobby-1")
	if ack.DeviceID != "lobby-1" {
		t.Errorf("ack device id = %q, want lobby-1", ack.DeviceID)
	}
	if ack.ServerTime.IsZero() {
		t.Errorf("ack has no server time")
	}

	rec, err := srv.Hub().Registry().Get("lobby-1")
	if err != nil {
		t.Fatalf("registry record missing: %v", err)
	}
	if rec.Version != protocol.Current.String() {
		t.Errorf("recorded version = %q", rec.Version)
	}
}

func TestRegisterWithoutIDGetsAssignedOne(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	sendMsg(t, conn, &protocol.Register{Version: "2.1.0"})
	ack, ok := readMsg(t, conn).(*protocol.RegistrationAck)
	if !ok {
		t.Fatalf("expected registration ack")
	}
	if ack.DeviceID == "" {
		t.Fatalf("coordinator did not assign a device id")
	}
	if _, err := srv.Hub().Registry().Get(ack.DeviceID); err != nil {
		t.Errorf("assigned id not in registry: %v", err)
	}
}

func TestReconnectDisplacesPreviousSession(t *testing.T) {
	srv, ts := newTestServer(t)

	first := dial(t, ts)
	register(t, first, "kiosk")

	second := dial(t, ts)
	register(t, second, "kiosk")

	// The mapping swap alone does the displacement: the coordinator does
	// not force-close the old transport. Its read simply times out with
	// no close frame having arrived.
	first.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	_, _, err := first.ReadMessage()
	if err == nil {
		t.Fatalf("displaced session unexpectedly received a message")
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("displaced session read failed with %v, want a plain timeout", err)
	}

	// Traffic for the identity reaches the new session.
	if err := srv.Hub().SendTo("kiosk", &protocol.Command{Action: protocol.ActionScreenOn}); err != nil {
		t.Fatalf("SendTo after remap: %v", err)
	}
	cmd, ok := readMsg(t, second).(*protocol.Command)
	if !ok || cmd.Action != protocol.ActionScreenOn {
		t.Fatalf("new session did not receive the command: %#v", cmd)
	}

	if srv.Hub().Registry().Len() != 1 {
		t.Errorf("registry has %d records, want 1", srv.Hub().Registry().Len())
	}
}

func TestSendToUnknownDevice(t *testing.T) {
	srv, _ := newTestServer(t)
	err := srv.Hub().SendTo("ghost", &protocol.Command{Action: protocol.ActionRestart})
	if !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("error = %v, want ErrDeviceNotConnected", err)
	}
}

func TestIncompatibleVersionIsNotRegistered(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	sendMsg(t, conn, &protocol.Register{DeviceID: "old-box", Version: "0.9.0"})

	// No ack arrives and no record is created.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("incompatible registration was acked")
	}
	if _, err := srv.Hub().Registry().Get("old-box"); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Fatalf("incompatible device was registered: %v", err)
	}

	// The same identity can still register with a compatible version.
	recovery := dial(t, ts)
	ack := register(t, recovery, "old-box")
	if ack.DeviceID != "old-box" {
		t.Fatalf("recovery registration failed")
	}
}

func TestLegacyDeviceWithoutVersionIsAccepted(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)

	sendMsg(t, conn, &protocol.Register{DeviceID: "legacy"})
	if _, ok := readMsg(t, conn).(*protocol.RegistrationAck); !ok {
		t.Fatalf("legacy device was not acked")
	}
	if _, err := srv.Hub().Registry().Get("legacy"); err != nil {
		t.Fatalf("legacy device not registered: %v", err)
	}
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)
	register(t, conn, "hb-dev")

	before, _ := srv.Hub().Registry().Get("hb-dev")
	time.Sleep(10 * time.Millisecond)
	sendMsg(t, conn, &protocol.Heartbeat{UptimeMillis: 1234})

	waitFor(t, func() bool {
		rec, err := srv.Hub().Registry().Get("hb-dev")
		return err == nil && rec.LastSeen.After(before.LastSeen)
	}, "heartbeat never refreshed LastSeen")
}

func TestStatusReportRecorded(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)
	register(t, conn, "stat-dev")

	sendMsg(t, conn, &protocol.StatusReport{CPUPercent: 77.5, MemoryPercent: 50})

	waitFor(t, func() bool {
		rec, err := srv.Hub().Registry().Get("stat-dev")
		return err == nil && rec.LastStatus != nil && rec.LastStatus.CPUPercent == 77.5
	}, "status report never recorded")
}

func TestDisconnectFiresExactlyOnce(t *testing.T) {
	srv, ts := newTestServer(t)
	var disconnects atomic.Int32
	srv.Hub().OnDisconnect = func(*Session) { disconnects.Add(1) }

	conn := dial(t, ts)
	register(t, conn, "drop-dev")
	conn.Close()

	waitFor(t, func() bool { return disconnects.Load() == 1 }, "disconnect callback never fired")
	time.Sleep(50 * time.Millisecond)
	if n := disconnects.Load(); n != 1 {
		t.Fatalf("disconnect fired %d times, want 1", n)
	}
	if srv.Hub().Connected("drop-dev") {
		t.Errorf("dropped device still marked connected")
	}
}

func TestBroadcastSurvivesDeadSession(t *testing.T) {
	srv, ts := newTestServer(t)

	alive := dial(t, ts)
	register(t, alive, "alive")
	dead := dial(t, ts)
	register(t, dead, "dead")

	if n := srv.Hub().Broadcast(&protocol.DataUpdate{Data: map[string]string{"k": "v"}}); n != 2 {
		t.Fatalf("broadcast delivered %d, want 2", n)
	}
	readMsg(t, alive)
	readMsg(t, dead)

	dead.Close()
	waitFor(t, func() bool { return !srv.Hub().Connected("dead") }, "dead session never dropped")

	if n := srv.Hub().Broadcast(&protocol.DataUpdate{Data: map[string]string{"k": "v2"}}); n != 1 {
		t.Fatalf("broadcast after drop delivered %d, want 1", n)
	}
	if _, ok := readMsg(t, alive).(*protocol.DataUpdate); !ok {
		t.Fatalf("surviving session missed the broadcast")
	}
}

func TestLargePayloadArrivesAsBinaryFrame(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)
	register(t, conn, "big-dev")

	big := &protocol.DisplayUpdate{
		Layout: &layout.Definition{ID: "huge"},
		Data:   map[string]string{"blob": strings.Repeat("x", 64*1024)},
	}
	if err := srv.Hub().SendTo("big-dev", big); err != nil {
		t.Fatalf("SendTo: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frameType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if frameType != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", frameType)
	}
	msg, err := protocol.DecodeFrame(data, true)
	if err != nil {
		t.Fatalf("decode compressed frame: %v", err)
	}
	got, ok := msg.(*protocol.DisplayUpdate)
	if !ok || got.Layout.ID != "huge" || len(got.Data["blob"]) != 64*1024 {
		t.Fatalf("round trip mangled the payload")
	}
}

func TestSweepDropsNegotiationCache(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)
	register(t, conn, "sweep-dev")

	hub := srv.Hub()
	if !hub.SupportsFeature("sweep-dev", 2, 1) {
		t.Fatalf("negotiated device should support current features")
	}

	removed := hub.Sweep(time.Second, time.Now().Add(time.Hour))
	var swept bool
	for _, id := range removed {
		if id == "sweep-dev" {
			swept = true
		}
	}
	if !swept {
		t.Fatalf("sweep removed %v, want sweep-dev", removed)
	}
	if _, err := hub.Registry().Get("sweep-dev"); !errors.Is(err, registry.ErrDeviceNotFound) {
		t.Errorf("swept device still registered: %v", err)
	}
	if hub.SupportsFeature("sweep-dev", 1, 0) {
		t.Errorf("swept device still has a cached negotiation")
	}
}

func TestUndecodableMessageDoesNotKillSession(t *testing.T) {
	srv, ts := newTestServer(t)
	conn := dial(t, ts)
	register(t, conn, "tough")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"no_such_kind"}`)); err != nil {
		t.Fatalf("write unknown kind: %v", err)
	}

	// The session survives and still processes valid traffic.
	sendMsg(t, conn, &protocol.Heartbeat{})
	waitFor(t, func() bool {
		return srv.Hub().Connected("tough")
	}, "session died after a bad message")

	if err := srv.Hub().SendTo("tough", &protocol.Command{Action: protocol.ActionScreenshot}); err != nil {
		t.Fatalf("SendTo after bad frames: %v", err)
	}
	if _, ok := readMsg(t, conn).(*protocol.Command); !ok {
		t.Fatalf("command did not arrive after bad frames")
	}
}
