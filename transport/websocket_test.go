package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/hexapod/rangemapper/logging"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, string) {
	t.Helper()
	// handler goroutines outlive the test once connections are hijacked, so they must not log
	// to t
	logger := logging.NewBlankLogger("hub")
	hub := NewHub(4, logger)
	status := func() interface{} {
		return map[string]interface{}{"mode": "ACTIVE", "speed": 1}
	}
	srv := httptest.NewServer(NewRouter(hub, "/ws", status, logger))
	t.Cleanup(srv.Close)
	return hub, srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldBeNil)
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	testutils.WaitForAssertionWithSleep(t, 5*time.Millisecond, 200, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, hub.Clients(), test.ShouldEqual, n)
	})
}

func receive(t *testing.T, ch <-chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestHubRoundTrip(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)
	defer conn.Close()
	waitForClients(t, hub, 1)

	test.That(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"cmd":"stop"}`)), test.ShouldBeNil)
	test.That(t, receive(t, hub.Messages()), test.ShouldEqual, `{"cmd":"stop"}`)

	// binary frames are not commands
	test.That(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}), test.ShouldBeNil)
	test.That(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"speed":2}`)), test.ShouldBeNil)
	test.That(t, receive(t, hub.Messages()), test.ShouldEqual, `{"speed":2}`)

	telemetry := `{"front":1,"right":2,"back":3,"left":4}`
	test.That(t, hub.Broadcast(context.Background(), []byte(telemetry)), test.ShouldBeNil)
	test.That(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)), test.ShouldBeNil)
	msgType, msg, err := conn.ReadMessage()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, msgType, test.ShouldEqual, websocket.TextMessage)
	test.That(t, string(msg), test.ShouldEqual, telemetry)
	test.That(t, hub.Type(), test.ShouldEqual, TypeWebSocket)
}

func TestHubBroadcastToAll(t *testing.T) {
	hub, _, url := startHub(t)
	a := dial(t, url)
	defer a.Close()
	b := dial(t, url)
	defer b.Close()
	waitForClients(t, hub, 2)

	test.That(t, hub.Broadcast(context.Background(), []byte("hi")), test.ShouldBeNil)
	for _, conn := range []*websocket.Conn{a, b} {
		test.That(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)), test.ShouldBeNil)
		_, msg, err := conn.ReadMessage()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(msg), test.ShouldEqual, "hi")
	}

	test.That(t, a.Close(), test.ShouldBeNil)
	waitForClients(t, hub, 1)
}

func TestHubBroadcastNoClients(t *testing.T) {
	hub := NewHub(0, logging.NewTestLogger(t))
	test.That(t, hub.Broadcast(context.Background(), []byte("x")), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, hub.Broadcast(ctx, []byte("x")), test.ShouldNotBeNil)
}

func TestHubClose(t *testing.T) {
	hub, _, url := startHub(t)
	conn := dial(t, url)
	defer conn.Close()
	waitForClients(t, hub, 1)

	test.That(t, hub.Close(), test.ShouldBeNil)
	test.That(t, hub.Clients(), test.ShouldEqual, 0)

	test.That(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)), test.ShouldBeNil)
	_, _, err := conn.ReadMessage()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, websocket.IsCloseError(err, websocket.CloseGoingAway), test.ShouldBeTrue)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	test.That(t, err, test.ShouldEqual, websocket.ErrBadHandshake)
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusServiceUnavailable)
}

func TestStatusEndpoint(t *testing.T) {
	_, srv, _ := startHub(t)
	resp, err := http.Get(srv.URL + "/status")
	test.That(t, err, test.ShouldBeNil)
	defer resp.Body.Close()
	test.That(t, resp.StatusCode, test.ShouldEqual, http.StatusOK)
	var status map[string]interface{}
	test.That(t, json.NewDecoder(resp.Body).Decode(&status), test.ShouldBeNil)
	test.That(t, status["mode"], test.ShouldEqual, "ACTIVE")
	test.That(t, status["speed"], test.ShouldEqual, 1.0)

	resp2, err := http.Post(srv.URL+"/status", "application/json", nil)
	test.That(t, err, test.ShouldBeNil)
	defer resp2.Body.Close()
	test.That(t, resp2.StatusCode, test.ShouldEqual, http.StatusMethodNotAllowed)
}

func TestServerStartShutdown(t *testing.T) {
	logger := logging.NewBlankLogger("server")
	hub := NewHub(0, logger)
	s := NewServer("127.0.0.1:0", NewRouter(hub, "", nil, logger), logger)
	test.That(t, s.Addr(), test.ShouldBeNil)
	test.That(t, s.Start(), test.ShouldBeNil)
	test.That(t, s.Start(), test.ShouldNotBeNil)

	conn := dial(t, "ws://"+s.Addr().String()+"/")
	waitForClients(t, hub, 1)
	test.That(t, hub.Close(), test.ShouldBeNil)
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	test.That(t, s.Shutdown(ctx), test.ShouldBeNil)
}

func TestInboxDrops(t *testing.T) {
	in := newInbox(1, logging.NewTestLogger(t))
	test.That(t, in.deliver([]byte("a")), test.ShouldBeTrue)
	test.That(t, in.deliver([]byte("b")), test.ShouldBeFalse)
	test.That(t, in.Dropped(), test.ShouldEqual, uint64(1))
	test.That(t, string(<-in.ch), test.ShouldEqual, "a")
}
