package client

import (
	"context"
	"errors"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/muurk/smartplug/internal/protocol"
	"github.com/muurk/smartplug/internal/transport"
)

func testClient() *Client {
	return New(Options{Defaults: SendOptions{Host: "127.0.0.1", Timeout: 2 * time.Second}})
}

func TestSendOptionsMerge(t *testing.T) {
	base := DefaultSendOptions()
	got := base.Merge(SendOptions{Host: "10.0.0.9", Transport: transport.UDP, UseSharedSocket: true})

	want := SendOptions{
		Host:                "10.0.0.9",
		Port:                DefaultPort,
		Timeout:             10 * time.Second,
		Transport:           transport.UDP,
		UseSharedSocket:     true,
		SharedSocketTimeout: 20 * time.Second,
	}
	if got != want {
		t.Errorf("Merge() = %+v, want %+v", got, want)
	}

	if got := base.Merge(SendOptions{}); got != base {
		t.Errorf("Merge(zero) = %+v, want defaults unchanged", got)
	}
	if got := base.Merge(SendOptions{Timeout: -1}); got.Timeout != -1 {
		t.Errorf("negative timeout not kept: %v", got.Timeout)
	}
}

func TestTimeoutConventions(t *testing.T) {
	tests := []struct {
		name     string
		defaults time.Duration
		call     time.Duration
		want     time.Duration
	}{
		{"zero everywhere uses built-in", 0, 0, 10 * time.Second},
		{"zero call inherits client default", 3 * time.Second, 0, 3 * time.Second},
		{"negative default waits forever", -1, 0, -1},
		{"negative call overrides default", 3 * time.Second, -1, -1},
		{"positive call overrides negative default", -1, time.Second, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Options{Defaults: SendOptions{Timeout: tt.defaults}})
			got := c.Defaults().Merge(SendOptions{Timeout: tt.call}).transportOptions().Timeout
			if got != tt.want {
				t.Errorf("Timeout = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClientGetSysInfo(t *testing.T) {
	fd := newFakeDevice(t, plugSysInfo())
	c := testClient()

	tests := []struct {
		name string
		opts SendOptions
	}{
		{"tcp", SendOptions{Port: fd.tcpPort, Transport: transport.TCP}},
		{"udp", SendOptions{Port: fd.udpPort, Transport: transport.UDP}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := c.GetSysInfo(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("GetSysInfo() error = %v", err)
			}
			if info.Alias() != "Kitchen" {
				t.Errorf("Alias() = %q, want Kitchen", info.Alias())
			}
			if code, _ := info.Number("err_code"); code != 0 {
				t.Errorf("err_code = %v, want 0", code)
			}
		})
	}
}

func TestClientSendRaw(t *testing.T) {
	fd := newFakeDevice(t, plugSysInfo())
	c := testClient()

	reply, err := c.Send(context.Background(), `{"system":{"get_sysinfo":{}}}`, SendOptions{Port: fd.tcpPort})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := protocol.ParseJSON(reply); err != nil {
		t.Errorf("reply is not JSON: %q", reply)
	}

	if _, err := New(Options{}).Send(context.Background(), "{}", SendOptions{}); !errors.Is(err, ErrNoHost) {
		t.Errorf("Send() without host error = %v, want ErrNoHost", err)
	}
}

func TestClientSendCommandChildContext(t *testing.T) {
	fd := newFakeDevice(t, plugSysInfo())
	c := testClient()

	cmd := protocol.NewCommand("system", protocol.MethodSetRelay, map[string]any{"state": 1})
	if _, err := c.SendCommand(context.Background(), cmd, []string{"8006AAAA01"}, SendOptions{Port: fd.tcpPort}); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}

	req := fd.lastRequest()
	ctx, ok := req["context"].(map[string]any)
	if !ok {
		t.Fatalf("request has no context: %v", req)
	}
	if !reflect.DeepEqual(ctx["child_ids"], []any{"8006AAAA01"}) {
		t.Errorf("child_ids = %v", ctx["child_ids"])
	}
}

func TestClientSendCommandResponseError(t *testing.T) {
	fd := newFakeDevice(t, plugSysInfo())
	c := testClient()

	cmd := protocol.NewCommand("anti_theft", "get_rules", nil)
	_, err := c.SendCommand(context.Background(), cmd, nil, SendOptions{Port: fd.udpPort, Transport: transport.UDP})

	var rerr *protocol.ResponseError
	if !errors.As(err, &rerr) {
		t.Fatalf("SendCommand() error = %v, want *ResponseError", err)
	}
	if !reflect.DeepEqual(rerr.Modules, []string{"anti_theft"}) {
		t.Errorf("Modules = %v", rerr.Modules)
	}
}

func TestClientGetDevice(t *testing.T) {
	tests := []struct {
		name     string
		sysinfo  map[string]any
		wantType Kind
		wantNS   string
	}{
		{"plug", plugSysInfo(), KindPlug, "system"},
		{"bulb", map[string]any{"mic_type": "IOT.SMARTBULB", "deviceId": "B1", "light_state": map[string]any{"on_off": 1}}, KindBulb, "smartlife.iot.common.system"},
		{"unknown", map[string]any{"type": "IOT.RANGEEXTENDER", "deviceId": "R1"}, KindDevice, "system"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd := newFakeDevice(t, tt.sysinfo)
			dev, err := testClient().GetDevice(context.Background(), SendOptions{Port: fd.tcpPort}, DeviceOptions{})
			if err != nil {
				t.Fatalf("GetDevice() error = %v", err)
			}
			defer dev.Close()
			if dev.Type() != tt.wantType {
				t.Errorf("Type() = %v, want %v", dev.Type(), tt.wantType)
			}
			if got := dev.Namespaces().System; got != tt.wantNS {
				t.Errorf("Namespaces().System = %q, want %q", got, tt.wantNS)
			}
			if dev.Port() != fd.tcpPort || dev.Host() != "127.0.0.1" {
				t.Errorf("address = %s:%d", dev.Host(), dev.Port())
			}
		})
	}
}

func TestClientTimeout(t *testing.T) {
	c := New(Options{Defaults: SendOptions{Host: "127.0.0.1", Timeout: 50 * time.Millisecond, Transport: transport.UDP}})

	silent := silentUDPPort(t)
	_, err := c.GetSysInfo(context.Background(), SendOptions{Port: silent})
	if !transport.IsTimeout(err) {
		t.Errorf("GetSysInfo() error = %v, want timeout", err)
	}
}

// silentUDPPort binds a UDP port that never answers.
func silentUDPPort(t *testing.T) int {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pc.Close() })
	return pc.LocalAddr().(*net.UDPAddr).Port
}
