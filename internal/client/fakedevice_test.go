package client

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/muurk/smartplug/internal/protocol"
)

// fakeDevice answers the local protocol on 127.0.0.1 over TCP and UDP.
type fakeDevice struct {
	mu       sync.Mutex
	sysinfo  map[string]any
	requests []map[string]any

	tcpPort int
	udpPort int
}

func newFakeDevice(t *testing.T, sysinfo map[string]any) *fakeDevice {
	t.Helper()
	fd := &fakeDevice{sysinfo: sysinfo}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen tcp: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	fd.tcpPort = ln.Addr().(*net.TCPAddr).Port

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { pc.Close() })
	fd.udpPort = pc.LocalAddr().(*net.UDPAddr).Port

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go fd.serveTCP(conn)
		}
	}()
	go fd.serveUDP(pc)
	return fd
}

func (fd *fakeDevice) serveTCP(conn net.Conn) {
	defer conn.Close()
	header := make([]byte, protocol.HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	length, _ := protocol.FrameLength(header)
	body := make([]byte, length)
	if _, err := io.ReadFull(conn, body); err != nil {
		return
	}
	reply := fd.handle(protocol.Decrypt(body, protocol.FirstKey))
	_, _ = conn.Write(protocol.EncryptWithHeader(reply, protocol.FirstKey))
}

func (fd *fakeDevice) serveUDP(pc net.PacketConn) {
	buf := make([]byte, 65536)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		reply := fd.handle(protocol.Decrypt(buf[:n], protocol.FirstKey))
		_, _ = pc.WriteTo(protocol.Encrypt(reply, protocol.FirstKey), from)
	}
}

func (fd *fakeDevice) handle(raw []byte) []byte {
	var req map[string]any
	if err := json.Unmarshal(raw, &req); err != nil {
		return []byte("not json")
	}

	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.requests = append(fd.requests, req)

	resp := map[string]any{}
	for module, v := range req {
		if module == protocol.ContextKey {
			continue
		}
		methods, _ := v.(map[string]any)
		out := map[string]any{}
		for method, params := range methods {
			switch {
			case method == protocol.MethodGetSysInfo:
				info := map[string]any{"err_code": 0}
				for k, v := range fd.sysinfo {
					info[k] = v
				}
				out[method] = info
			case method == protocol.MethodSetRelay:
				p, _ := params.(map[string]any)
				fd.sysinfo["relay_state"] = p["state"]
				out[method] = map[string]any{"err_code": 0}
			case method == protocol.MethodSetAlias:
				p, _ := params.(map[string]any)
				fd.sysinfo["alias"] = p["alias"]
				out[method] = map[string]any{"err_code": 0}
			case module == "emeter" && method == protocol.MethodGetRealtime:
				out[method] = map[string]any{
					"err_code":   0,
					"power_mw":   12500,
					"voltage_mv": 230100,
					"current_ma": 54,
					"total_wh":   1500,
				}
			default:
				resp[module] = map[string]any{"err_code": -1, "err_msg": "module not support"}
			}
		}
		if _, failed := resp[module]; !failed {
			resp[module] = out
		}
	}
	data, _ := json.Marshal(resp)
	return data
}

func (fd *fakeDevice) lastRequest() map[string]any {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if len(fd.requests) == 0 {
		return nil
	}
	return fd.requests[len(fd.requests)-1]
}

func plugSysInfo() map[string]any {
	return map[string]any{
		"alias":       "Kitchen",
		"model":       "HS110(EU)",
		"type":        "IOT.SMARTPLUGSWITCH",
		"deviceId":    "8006AAAA",
		"mac":         "AA:BB:CC:00:11:22",
		"sw_ver":      "1.5.4",
		"relay_state": 0,
	}
}
