package statusfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/metacritical/termflix-sub001/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSnapshot() domain.ProgressSnapshot {
	return domain.ProgressSnapshot{
		Percent:         42.5,
		BytesDownloaded: 100 << 20,
		DownloadRateBps: 2 << 20,
		PeersConnected:  8,
		PeersTotal:      20,
		State:           domain.StateBuffering,
		SampledAt:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("127.0.0.1:0", testSnapshot, prometheus.NewRegistry(), testLogger())
	go s.hub.run()
	srv := httptest.NewServer(s.srv.Handler)
	t.Cleanup(srv.Close)
	return s, srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ws: %v", err)
	}
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v (raw %s)", err, data)
	}
	return msg
}

func TestStatusEndpoint(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var payload statusPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload.Percent != 42.5 || payload.State != "BUFFERING" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.PeersConnected != 8 || payload.PeersTotal != 20 {
		t.Errorf("peers = %d/%d, want 8/20", payload.PeersConnected, payload.PeersTotal)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestWSClientGetsInitialSnapshot(t *testing.T) {
	_, srv := newTestServer(t)
	conn := dialWS(t, srv)

	msg := readMessage(t, conn)
	if msg.Type != "snapshot" {
		t.Errorf("type = %q, want snapshot", msg.Type)
	}
}

func TestWSClientReceivesBroadcast(t *testing.T) {
	s, srv := newTestServer(t)
	conn := dialWS(t, srv)
	readMessage(t, conn) // initial snapshot

	snap := testSnapshot()
	snap.Percent = 99.0
	snap.State = domain.StateReady

	// The register is async; retry until the hub sees the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.Publish(snap)
		_ = conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err == nil {
			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatal(err)
			}
			raw, _ := json.Marshal(msg.Data)
			var payload statusPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				t.Fatal(err)
			}
			if payload.Percent != 99.0 || payload.State != "READY" {
				t.Errorf("payload = %+v", payload)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("broadcast never arrived")
		}
	}
}

func TestHubDropAfterShutdownDoesNotBlock(t *testing.T) {
	hub := newHub(testLogger())
	stopped := make(chan struct{})
	go func() {
		hub.run()
		close(stopped)
	}()

	close(hub.done)
	<-stopped

	// A read pump unwinding after shutdown still tries to unregister;
	// with the run loop gone that must return instead of leaking the
	// goroutine.
	client := &wsClient{hub: hub, send: make(chan []byte, 1)}
	returned := make(chan struct{})
	go func() {
		hub.drop(client)
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("drop blocked after hub shutdown")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := newHub(testLogger())
	go hub.run()

	// A client whose send buffer is already full cannot keep up; the hub
	// must drop it rather than block the broadcast path.
	slow := &wsClient{hub: hub, send: make(chan []byte)}
	hub.register <- slow
	for i := 0; i < 20; i++ {
		hub.broadcast <- []byte(`{"type":"snapshot"}`)
	}

	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-slow.send:
			if !ok {
				return // channel closed: client dropped
			}
		case <-timeout:
			t.Fatal("slow subscriber never dropped")
		}
	}
}
