package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilCollectorIsNoop(t *testing.T) {
	c, err := NewCollector(nil)
	if err != nil {
		t.Fatalf("NewCollector(nil) error = %v", err)
	}
	if c != nil {
		t.Fatal("NewCollector(nil) should return nil")
	}
	// None of these may panic.
	c.ObserveSend("tcp", time.Millisecond, nil)
	c.DiscoveryPacket(PacketAccepted)
	c.DiscoveryRound()
	c.SetDevices(1, 2)
}

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	c.ObserveSend("udp", 10*time.Millisecond, nil)
	c.ObserveSend("udp", 10*time.Millisecond, errors.New("x"))
	c.ObserveSend("tcp", 10*time.Millisecond, nil)
	c.DiscoveryPacket(PacketInvalid)
	c.DiscoveryRound()
	c.DiscoveryRound()
	c.SetDevices(3, 1)

	if got := testutil.ToFloat64(c.sendsTotal.WithLabelValues("udp", ResultError)); got != 1 {
		t.Errorf("udp errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.discoveryRounds); got != 2 {
		t.Errorf("rounds = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.discoveryDevices.WithLabelValues("online")); got != 3 {
		t.Errorf("online = %v, want 3", got)
	}

	if _, err := NewCollector(reg); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, _ := NewCollector(reg)
	c.DiscoveryRound()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "smartplug_discovery_rounds_total 1") {
		t.Errorf("metrics output missing rounds counter:\n%s", rec.Body.String())
	}
}
