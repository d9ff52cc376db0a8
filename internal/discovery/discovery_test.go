package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/protocol"
)

func plugInfo() map[string]any {
	return map[string]any{
		"err_code":    0,
		"alias":       "Kitchen",
		"model":       "HS110(EU)",
		"type":        "IOT.SMARTPLUGSWITCH",
		"deviceId":    "8006AAAA",
		"mac":         "AA:BB:CC:00:11:22",
		"relay_state": 1,
	}
}

func stripInfo() map[string]any {
	return map[string]any{
		"err_code": 0,
		"alias":    "Strip",
		"model":    "HS300(EU)",
		"type":     "IOT.SMARTPLUGSWITCH",
		"deviceId": "8006BBBB",
		"mac":      "AA:BB:CC:00:11:33",
		"children": []any{
			map[string]any{"id": "00", "alias": "Lamp", "state": 1},
			map[string]any{"id": "1", "alias": "Fan", "state": 0},
		},
	}
}

// reply encodes a discovery reply the way a device sends it.
func reply(t *testing.T, info map[string]any, extra map[string]any) []byte {
	t.Helper()
	resp := map[string]any{"system": map[string]any{"get_sysinfo": info}}
	for k, v := range extra {
		resp[k] = v
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	return protocol.Encrypt(data, protocol.FirstKey)
}

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 40), Port: port}
}

func newTestDiscovery(t *testing.T, mutate func(*Options)) *Discovery {
	t.Helper()
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	d, err := New(client.New(client.Options{}), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) record(d *Discovery, topics ...string) {
	for _, topic := range topics {
		topic := topic
		d.On(topic, func(Event) {
			l.mu.Lock()
			l.events = append(l.events, topic)
			l.mu.Unlock()
		})
	}
}

func (l *eventLog) count(topic string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == topic {
			n++
		}
	}
	return n
}

func (l *eventLog) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.events, ",")
}

// round simulates one broadcast round without a socket.
func round(d *Discovery) {
	d.checkOffline()
	d.advance()
}

func TestOfflineAfterToleranceMissedRounds(t *testing.T) {
	d := newTestDiscovery(t, nil)
	log := &eventLog{}
	log.record(d, "plug-offline", "device-offline", "device-online", "device-new")

	packet := reply(t, plugInfo(), nil)
	for i := 1; i <= 3; i++ {
		round(d)
		d.handlePacket(packet, addr(9999))
	}
	dev, ok := d.Device("8006AAAA")
	if !ok {
		t.Fatal("device not registered")
	}
	if dev.SeenOnDiscovery() != 3 {
		t.Fatalf("SeenOnDiscovery() = %d, want 3", dev.SeenOnDiscovery())
	}

	// Rounds 4 to 6 go unanswered; the device is still counted online while
	// they are outstanding.
	for i := 4; i <= 6; i++ {
		round(d)
		if dev.Status() != client.StatusOnline {
			t.Fatalf("device went %s during round %d", dev.Status(), i)
		}
	}

	// The check opening the next round sees three missed rounds.
	for i := 7; i <= 10; i++ {
		round(d)
	}
	if dev.Status() != client.StatusOffline {
		t.Fatalf("Status() = %s, want offline", dev.Status())
	}
	if n := log.count("plug-offline"); n != 1 {
		t.Errorf("plug-offline fired %d times, want 1", n)
	}
	if n := log.count("device-offline"); n != 1 {
		t.Errorf("device-offline fired %d times, want 1", n)
	}

	d.handlePacket(packet, addr(9999))
	if dev.Status() != client.StatusOnline {
		t.Errorf("Status() after reply = %s, want online", dev.Status())
	}
	if n := log.count("device-new"); n != 1 {
		t.Errorf("device-new fired %d times, want 1", n)
	}
	if n := log.count("device-online"); n != 3 {
		t.Errorf("device-online fired %d times, want 3", n)
	}
}

func TestOfflineDetectedOnSeventhCheck(t *testing.T) {
	d := newTestDiscovery(t, nil)
	offline := 0
	d.On("device-offline", func(Event) { offline++ })

	packet := reply(t, plugInfo(), nil)
	for i := 1; i <= 3; i++ {
		round(d)
		d.handlePacket(packet, addr(9999))
	}
	for i := 4; i <= 6; i++ {
		round(d)
	}
	if offline != 0 {
		t.Fatalf("offline after round 6 checks = %d, want 0", offline)
	}
	d.checkOffline()
	if offline != 1 {
		t.Errorf("offline after next check = %d, want 1", offline)
	}
}

func TestSequenceWraps(t *testing.T) {
	d := newTestDiscovery(t, nil)
	d.seq = math.MaxUint32
	d.handlePacket(reply(t, plugInfo(), nil), addr(9999))

	d.advance()
	if d.sequence() != 0 {
		t.Fatalf("sequence = %d, want 0 after wrap", d.sequence())
	}
	d.checkOffline()
	dev, _ := d.Device("8006AAAA")
	if dev.Status() != client.StatusOnline {
		t.Errorf("device went offline across the wrap")
	}
}

func TestNewAndOnlineEvents(t *testing.T) {
	d := newTestDiscovery(t, nil)
	log := &eventLog{}
	log.record(d, "plug-new", "device-new", "plug-online", "device-online", "bulb-new")

	var got Event
	d.On("device-new", func(e Event) { got = e })

	d.handlePacket(reply(t, plugInfo(), nil), addr(9999))
	if log.joined() != "plug-new,device-new" {
		t.Fatalf("events = %s", log.joined())
	}
	if got.Device == nil || got.Snapshot.Alias != "Kitchen" || got.Snapshot.Status != client.StatusOnline {
		t.Errorf("new event = %+v", got)
	}

	// A device that moved keeps its identity and picks up the new address.
	moved := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 41), Port: 9999}
	d.handlePacket(reply(t, plugInfo(), nil), moved)
	if log.joined() != "plug-new,device-new,plug-online,device-online" {
		t.Fatalf("events = %s", log.joined())
	}
	dev, _ := d.Device("8006AAAA")
	if dev.Host() != "192.168.1.41" {
		t.Errorf("Host() = %q, want the new address", dev.Host())
	}
	if len(d.Devices()) != 1 {
		t.Errorf("Devices() = %d, want 1", len(d.Devices()))
	}
}

func TestLifecycleEventsOnBareNames(t *testing.T) {
	d := newTestDiscovery(t, nil)
	log := &eventLog{}
	log.record(d, EventNew, EventOnline, EventOffline, "device-new")

	packet := reply(t, plugInfo(), nil)
	d.handlePacket(packet, addr(9999))
	d.handlePacket(packet, addr(9999))

	if n := log.count(EventNew); n != 1 {
		t.Errorf("%s fired %d times, want 1", EventNew, n)
	}
	if n := log.count(EventOnline); n != 1 {
		t.Errorf("%s fired %d times, want 1", EventOnline, n)
	}
	if n := log.count("device-new"); n != 1 {
		t.Errorf("device-new fired %d times, want 1", n)
	}

	for i := 0; i <= int(d.opts.OfflineTolerance); i++ {
		round(d)
	}
	if n := log.count(EventOffline); n != 1 {
		t.Errorf("%s fired %d times, want 1", EventOffline, n)
	}
}

func TestReplyUpdatesDeviceState(t *testing.T) {
	d := newTestDiscovery(t, nil)
	d.handlePacket(reply(t, plugInfo(), nil), addr(9999))
	dev, _ := d.Device("8006AAAA")

	var names []string
	dev.On("plug-power-off", func(e client.Event) { names = append(names, e.Name) })
	dev.On("plug-alias-change", func(e client.Event) { names = append(names, e.Name) })

	info := plugInfo()
	info["relay_state"] = 0
	info["alias"] = "Toaster"
	d.handlePacket(reply(t, info, nil), addr(9999))

	if strings.Join(names, ",") != "alias-change,power-off" {
		t.Errorf("device events = %v", names)
	}
}

func TestEmeterInReply(t *testing.T) {
	d := newTestDiscovery(t, nil)
	emeter := map[string]any{
		"emeter": map[string]any{
			"get_realtime": map[string]any{"err_code": 0, "power_mw": 25000, "voltage_mv": 230000},
		},
		"smartlife.iot.common.emeter": map[string]any{"err_code": -1, "err_msg": "module not support"},
	}
	d.handlePacket(reply(t, plugInfo(), emeter), addr(9999))

	dev, _ := d.Device("8006AAAA")
	reading, ok := dev.Emeter()
	if !ok || reading.PowerW != 25 {
		t.Errorf("Emeter() = %+v, %v; want 25 W", reading, ok)
	}
}

func TestInvalidPackets(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"garbage", []byte{0x01, 0x02, 0x03}},
		{"json without sysinfo", protocol.Encrypt([]byte(`{"system":{}}`), protocol.FirstKey)},
		{"json array", protocol.Encrypt([]byte(`[1,2]`), protocol.FirstKey)},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDiscovery(t, nil)
			var got []Event
			d.On(EventInvalid, func(e Event) { got = append(got, e) })

			d.handlePacket(tt.raw, addr(9999))

			if len(got) != 1 {
				t.Fatalf("discovery-invalid fired %d times, want 1", len(got))
			}
			if string(got[0].Raw) != string(tt.raw) {
				t.Errorf("Raw = %x, want %x", got[0].Raw, tt.raw)
			}
			if string(got[0].Decrypted) != string(protocol.Decrypt(tt.raw, protocol.FirstKey)) {
				t.Errorf("Decrypted = %q", got[0].Decrypted)
			}
			if got[0].Err == nil {
				t.Error("Err not set")
			}
			if len(d.Devices()) != 0 {
				t.Errorf("invalid packet registered a device")
			}
		})
	}
}

func TestFilters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
		want   bool
	}{
		{"no filters", nil, true},
		{"type allowed", func(o *Options) { o.DeviceTypes = []client.Kind{client.KindPlug} }, true},
		{"type rejected", func(o *Options) { o.DeviceTypes = []client.Kind{client.KindBulb} }, false},
		{"mac allowed", func(o *Options) { o.MACAddresses = []string{"aa:bb:cc:*"} }, true},
		{"mac not allowed", func(o *Options) { o.MACAddresses = []string{"11:*"} }, false},
		{"mac excluded", func(o *Options) { o.ExcludeMACAddresses = []string{"*:22"} }, false},
		{"mac not excluded", func(o *Options) { o.ExcludeMACAddresses = []string{"*:23"} }, true},
		{"allow then deny", func(o *Options) {
			o.MACAddresses = []string{"aa:*"}
			o.ExcludeMACAddresses = []string{"aa:bb:cc:00:11:22"}
		}, false},
		{"predicate accepts", func(o *Options) {
			o.Filter = func(s client.SysInfo) bool { return s.Alias() == "Kitchen" }
		}, true},
		{"predicate rejects", func(o *Options) {
			o.Filter = func(s client.SysInfo) bool { return s.Model() == "HS100" }
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDiscovery(t, tt.mutate)
			d.handlePacket(reply(t, plugInfo(), nil), addr(9999))
			if _, ok := d.Device("8006AAAA"); ok != tt.want {
				t.Errorf("device registered = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestBreakoutChildren(t *testing.T) {
	d := newTestDiscovery(t, nil)
	count := 0
	d.On("plug-new", func(Event) { count++ })

	d.handlePacket(reply(t, stripInfo(), nil), addr(9999))

	if count != 2 {
		t.Fatalf("plug-new fired %d times, want 2", count)
	}
	devices := d.Devices()
	if len(devices) != 2 {
		t.Fatalf("Devices() = %d, want 2", len(devices))
	}
	if devices[0].ID() != "8006BBBB00" || devices[1].ID() != "8006BBBB01" {
		t.Errorf("ids = %s, %s", devices[0].ID(), devices[1].ID())
	}
	if devices[1].Alias() != "Fan" {
		t.Errorf("outlet alias = %q, want Fan", devices[1].Alias())
	}
	if devices[0].DeviceID() != "8006BBBB" {
		t.Errorf("DeviceID() = %q", devices[0].DeviceID())
	}
}

func TestBreakoutChildrenDisabled(t *testing.T) {
	d := newTestDiscovery(t, func(o *Options) { o.BreakoutChildren = false })
	d.handlePacket(reply(t, stripInfo(), nil), addr(9999))

	devices := d.Devices()
	if len(devices) != 1 || devices[0].ID() != "8006BBBB" {
		t.Errorf("Devices() = %v, want the strip as one device", devices)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	d, err := New(client.New(client.Options{}), Options{})
	if err != nil {
		t.Fatal(err)
	}
	o := d.Options()
	if o.Address != DefaultAddress || o.Port != client.DefaultPort || o.Interval != DefaultInterval || o.OfflineTolerance != DefaultOfflineTolerance {
		t.Errorf("Options() = %+v", o)
	}
}

// fakeResponder answers discovery probes on 127.0.0.1.
func fakeResponder(t *testing.T, info map[string]any) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })

	answer := reply(t, info, nil)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			var probe map[string]any
			if json.Unmarshal(protocol.Decrypt(buf[:n], protocol.FirstKey), &probe) != nil {
				continue
			}
			_, _ = pc.WriteTo(answer, from)
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestStartFindsDevice(t *testing.T) {
	port := fakeResponder(t, plugInfo())
	d := newTestDiscovery(t, func(o *Options) {
		o.Address = "127.0.0.1"
		o.Port = port
		o.BindAddress = "127.0.0.1"
		o.Interval = 50 * time.Millisecond
	})

	found := make(chan Event, 16)
	d.On("device-new", func(e Event) { found <- e })

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !d.Running() {
		t.Error("Running() = false after Start")
	}
	if err := d.Start(context.Background()); err != nil {
		t.Errorf("second Start() error = %v", err)
	}

	e := waitEvent(t, found)
	if e.Snapshot.Host != "127.0.0.1" || e.Snapshot.Port != port {
		t.Errorf("device address = %s:%d", e.Snapshot.Host, e.Snapshot.Port)
	}

	d.Stop()
	d.Stop()
	if d.Running() {
		t.Error("Running() = true after Stop")
	}

	// Restartable; the known device now comes back online.
	online := make(chan Event, 16)
	d.On("device-online", func(e Event) { online <- e })
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	defer d.Stop()
	waitEvent(t, online)
}

func TestStaticDevices(t *testing.T) {
	port := fakeResponder(t, plugInfo())
	silent, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer silent.Close()

	d := newTestDiscovery(t, func(o *Options) {
		o.Address = "127.0.0.1"
		o.Port = silent.LocalAddr().(*net.UDPAddr).Port
		o.BindAddress = "127.0.0.1"
		o.Interval = 50 * time.Millisecond
		o.Devices = []StaticDevice{{Host: "127.0.0.1", Port: port}}
	})

	found := make(chan Event, 16)
	d.On("device-new", func(e Event) { found <- e })
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer d.Stop()

	if e := waitEvent(t, found); e.Snapshot.ID != "8006AAAA" {
		t.Errorf("found %q", e.Snapshot.ID)
	}
}

func TestDurationStopsEngine(t *testing.T) {
	d := newTestDiscovery(t, func(o *Options) {
		o.Address = "127.0.0.1"
		o.BindAddress = "127.0.0.1"
		o.Interval = 20 * time.Millisecond
		o.Duration = 100 * time.Millisecond
	})
	if err := d.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("engine still running after Duration")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestContextCancelStopsEngine(t *testing.T) {
	d := newTestDiscovery(t, func(o *Options) {
		o.Address = "127.0.0.1"
		o.BindAddress = "127.0.0.1"
		o.Interval = 20 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(3 * time.Second)
	for d.Running() {
		if time.Now().After(deadline) {
			t.Fatal("engine still running after cancel")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStartBindError(t *testing.T) {
	d := newTestDiscovery(t, func(o *Options) {
		o.BindAddress = "127.0.0.1"
		o.BindPort = 70000
	})

	var got []Event
	d.On(EventError, func(e Event) { got = append(got, e) })

	err := d.Start(context.Background())
	if !errors.Is(err, ErrBind) {
		t.Fatalf("Start() error = %v, want ErrBind", err)
	}
	if len(got) != 1 || !errors.Is(got[0].Err, ErrBind) {
		t.Errorf("error events = %+v", got)
	}
	if d.Running() {
		t.Error("Running() = true after bind error")
	}
}
