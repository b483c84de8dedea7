package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Hara602/usbCapture/internal/capture"
	"github.com/Hara602/usbCapture/internal/config"
	"github.com/Hara602/usbCapture/internal/model"
	"github.com/Hara602/usbCapture/internal/usbstack"
)

type fakeBackend struct{}

func (fakeBackend) Devices(context.Context) ([]usbstack.Candidate, error) {
	return []usbstack.Candidate{{VendorID: 0x1234, ProductID: 0xabcd}}, nil
}

func (fakeBackend) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	svc, err := capture.New(config.Default(), logger,
		capture.WithOpener(func() (usbstack.Backend, error) { return fakeBackend{}, nil }))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, svc.Init(), test.ShouldBeNil)
	t.Cleanup(func() { svc.Cleanup() })

	// 被劫持的连接在测试结束后才退出, 服务端不能写 t.Log
	srv := New(svc, zap.NewNop(), time.Hour)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return srv, hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, typ string, payload any) model.WSMessage {
	t.Helper()
	test.That(t, conn.WriteJSON(message(typ, payload)), test.ShouldBeNil)
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) model.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg model.WSMessage
	test.That(t, conn.ReadJSON(&msg), test.ShouldBeNil)
	return msg
}

func TestWebSocketCapture(t *testing.T) {
	srv, hs := newTestServer(t)
	conn := dial(t, hs)

	msg := roundTrip(t, conn, "scan_devices", nil)
	test.That(t, msg.Type, test.ShouldEqual, "devices")
	var devices []model.DeviceDescriptor
	test.That(t, json.Unmarshal(msg.Payload, &devices), test.ShouldBeNil)
	test.That(t, devices, test.ShouldHaveLength, 1)
	test.That(t, devices[0].DeviceID, test.ShouldEqual, "1234:ABCD")

	msg = roundTrip(t, conn, "start_capture", model.StartCaptureRequest{VendorID: 0x1234, ProductID: 0xabcd})
	test.That(t, msg.Type, test.ShouldEqual, "capture_started")

	msg = roundTrip(t, conn, "start_capture", model.StartCaptureRequest{VendorID: 0x1234, ProductID: 0xabcd})
	test.That(t, msg.Type, test.ShouldEqual, "error")
	test.That(t, string(msg.Payload), test.ShouldContainSubstring, "already capturing")

	srv.PollOnce()
	msg = read(t, conn)
	test.That(t, msg.Type, test.ShouldEqual, "packets")
	var packets []model.CapturePacket
	test.That(t, json.Unmarshal(msg.Payload, &packets), test.ShouldBeNil)
	test.That(t, packets, test.ShouldHaveLength, 2)

	msg = roundTrip(t, conn, "get_stats", nil)
	test.That(t, msg.Type, test.ShouldEqual, "stats")
	var stats model.Stats
	test.That(t, json.Unmarshal(msg.Payload, &stats), test.ShouldBeNil)
	test.That(t, stats.PacketCounter, test.ShouldEqual, uint64(1))
	test.That(t, stats.IsCapturing, test.ShouldBeTrue)

	msg = roundTrip(t, conn, "stop_capture", nil)
	test.That(t, msg.Type, test.ShouldEqual, "capture_stopped")

	msg = roundTrip(t, conn, "reboot", nil)
	test.That(t, msg.Type, test.ShouldEqual, "error")
	test.That(t, string(msg.Payload), test.ShouldContainSubstring, "unknown command")
}

func TestHTTPStats(t *testing.T) {
	_, hs := newTestServer(t)

	resp, err := http.Get(hs.URL + "/api/stats")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)

	var stats map[string]any
	test.That(t, json.NewDecoder(resp.Body).Decode(&stats), test.ShouldBeNil)
	test.That(t, stats["is_capturing"], test.ShouldEqual, false)

	resp2, err := http.Post(hs.URL+"/api/devices", "application/json", nil)
	test.That(t, err, test.ShouldBeNil)
	resp2.Body.Close()
	test.That(t, resp2.StatusCode, test.ShouldEqual, http.StatusMethodNotAllowed)
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := New(nil, nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	srv.Run(ctx)
}
