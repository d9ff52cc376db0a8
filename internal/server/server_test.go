package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/metrics"
)

func dial(t *testing.T, ts *httptest.Server, s *Server, want int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().ClientCount() < want {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestEventStreamBroadcast(t *testing.T) {
	s := New(Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts, s, 1)
	s.Hub().Broadcast("power-on", client.Snapshot{ID: "8006AAAA", Alias: "Kitchen", PowerOn: true})

	msg := readMessage(t, conn)
	if msg.Type != TypeEvent || msg.EventType != "power-on" {
		t.Errorf("message = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["id"] != "8006AAAA" || payload["power_on"] != true {
		t.Errorf("payload = %v", msg.Payload)
	}
}

func TestEventStreamSubscribe(t *testing.T) {
	s := New(Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts, s, 1)
	err := conn.WriteJSON(map[string]any{
		"type":    TypeSubscribe,
		"payload": map[string]any{"events": []string{"offline"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != TypeResponse {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	s.Hub().Broadcast("power-on", client.Snapshot{ID: "A"})
	s.Hub().Broadcast("offline", client.Snapshot{ID: "B"})

	msg := readMessage(t, conn)
	if msg.EventType != "offline" {
		t.Errorf("first event = %q, want offline only", msg.EventType)
	}
}

func TestEventStreamUnknownMessage(t *testing.T) {
	s := New(Config{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dial(t, ts, s, 1)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, conn); msg.Type != TypeError {
		t.Errorf("reply = %+v, want error", msg)
	}
}

func TestDevicesAndMetricsRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		t.Fatal(err)
	}
	collector.DiscoveryRound()

	s := New(Config{
		Gatherer: reg,
		Devices: func() []client.Snapshot {
			return []client.Snapshot{{ID: "8006AAAA", Alias: "Kitchen"}}
		},
	})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/devices")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var devices []client.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&devices); err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 || devices[0].Alias != "Kitchen" {
		t.Errorf("devices = %+v", devices)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "smartplug_discovery_rounds_total 1") {
		t.Errorf("metrics body missing rounds counter:\n%s", body)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	s := New(Config{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
