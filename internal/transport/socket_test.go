package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/muurk/smartplug/internal/protocol"
)

// fakeTCPDevice accepts connections on 127.0.0.1 and hands each one to
// handle after reading the full request frame.
func fakeTCPDevice(t *testing.T, handle func(conn net.Conn, request string)) (host string, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
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
				handle(conn, string(protocol.Decrypt(body, protocol.FirstKey)))
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func openTCP(t *testing.T) *TCPSocket {
	t.Helper()
	s := NewTCPSocket(nil)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTCPSocketReassemblesSegments(t *testing.T) {
	reply := `{"system":{"get_sysinfo":{"err_code":0,"alias":"Desk"}}}`
	host, port := fakeTCPDevice(t, func(conn net.Conn, request string) {
		frame := protocol.EncryptWithHeader([]byte(reply), protocol.FirstKey)
		// Split header and body across several writes.
		for _, part := range [][]byte{frame[:2], frame[2:7], frame[7:20], frame[20:]} {
			_, _ = conn.Write(part)
			time.Sleep(5 * time.Millisecond)
		}
		_, _ = io.Copy(io.Discard, conn)
	})

	s := openTCP(t)
	got, err := s.Send(context.Background(), []byte(`{"system":{"get_sysinfo":{}}}`), host, port, 2*time.Second)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != reply {
		t.Errorf("Send() = %q, want %q", got, reply)
	}
}

func TestTCPSocketEchoesRequest(t *testing.T) {
	host, port := fakeTCPDevice(t, func(conn net.Conn, request string) {
		_, _ = conn.Write(protocol.EncryptWithHeader([]byte(request), protocol.FirstKey))
	})

	s := openTCP(t)
	for _, msg := range []string{`{"a":1}`, `{"b":"ü"}`} {
		got, err := s.Send(context.Background(), []byte(msg), host, port, time.Second)
		if err != nil {
			t.Fatalf("Send(%s) error = %v", msg, err)
		}
		if got != msg {
			t.Errorf("Send() = %q, want %q", got, msg)
		}
	}
}

func TestTCPSocketCloseBeforeReply(t *testing.T) {
	host, port := fakeTCPDevice(t, func(conn net.Conn, request string) {})

	s := openTCP(t)
	_, err := s.Send(context.Background(), []byte(`{}`), host, port, time.Second)
	te, ok := err.(*Error)
	if !ok {
		t.Fatalf("Send() error = %v, want *Error", err)
	}
	if te.Type != ErrTypeTransport {
		t.Errorf("Type = %v, want %v", te.Type, ErrTypeTransport)
	}
	if te.Segments != 0 {
		t.Errorf("Segments = %d, want 0", te.Segments)
	}
}

func TestTCPSocketTruncatedReply(t *testing.T) {
	host, port := fakeTCPDevice(t, func(conn net.Conn, request string) {
		frame := protocol.EncryptWithHeader([]byte(`{"err_code":0}`), protocol.FirstKey)
		_, _ = conn.Write(frame[:len(frame)-3])
	})

	s := openTCP(t)
	_, err := s.Send(context.Background(), []byte(`{}`), host, port, time.Second)
	if !IsFraming(err) {
		t.Fatalf("Send() error = %v, want framing error", err)
	}
	if err.(*Error).Segments < 1 {
		t.Errorf("Segments = %d, want >= 1", err.(*Error).Segments)
	}
}

func TestTCPSocketTimeoutDestroysSocket(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	host, port := fakeTCPDevice(t, func(conn net.Conn, request string) {
		<-release
	})

	s := openTCP(t)
	start := time.Now()
	_, err := s.Send(context.Background(), []byte(`{}`), host, port, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("Send() error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	te := err.(*Error)
	if te.Timeout != 50*time.Millisecond || te.Host != host || te.Port != port {
		t.Errorf("timeout error context = %+v", te)
	}
	if string(te.Payload) != `{}` {
		t.Errorf("Payload = %q, want {}", te.Payload)
	}
	if s.IsOpen() {
		t.Error("socket still open after timeout")
	}
}

func TestTCPSocketRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	s := openTCP(t)
	_, err = s.Send(context.Background(), []byte(`{}`), "127.0.0.1", port, time.Second)
	te, ok := err.(*Error)
	if !ok || te.Type != ErrTypeConnectionRefused {
		t.Errorf("Send() error = %v, want connection refused", err)
	}
}

func TestSocketOpenIsOneShot(t *testing.T) {
	s := NewTCPSocket(nil)
	if s.IsOpen() {
		t.Fatal("new socket reports open")
	}
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Open(context.Background()); err == nil {
		t.Error("second Open() should fail")
	}
	s.Close()
	if err := s.Open(context.Background()); err == nil {
		t.Error("Open() after Close() should fail")
	}
	if _, err := s.Send(context.Background(), nil, "127.0.0.1", 1, time.Second); err == nil {
		t.Error("Send() on closed socket should fail")
	}
}

// fakeUDPDevice answers each datagram with reply(request).
func fakeUDPDevice(t *testing.T, reply func(request string) (string, bool)) (host string, port int) {
	t.Helper()
	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, maxDatagram)
		for {
			n, from, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			resp, ok := reply(string(protocol.Decrypt(buf[:n], protocol.FirstKey)))
			if !ok {
				continue
			}
			_, _ = pc.WriteTo(protocol.Encrypt([]byte(resp), protocol.FirstKey), from)
		}
	}()
	return "127.0.0.1", pc.LocalAddr().(*net.UDPAddr).Port
}

func openUDP(t *testing.T) *UDPSocket {
	t.Helper()
	s := NewUDPSocket(nil, "127.0.0.1:0")
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUDPSocketSend(t *testing.T) {
	host, port := fakeUDPDevice(t, func(req string) (string, bool) { return req, true })

	s := openUDP(t)
	if s.LocalAddr() == nil {
		t.Fatal("LocalAddr() = nil after Open")
	}
	for _, msg := range []string{`{"system":{"get_sysinfo":{}}}`, `{"x":"y"}`} {
		got, err := s.Send(context.Background(), []byte(msg), host, port, time.Second)
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if got != msg {
			t.Errorf("Send() = %q, want %q", got, msg)
		}
	}
}

func TestUDPSocketTimeout(t *testing.T) {
	host, port := fakeUDPDevice(t, func(string) (string, bool) { return "", false })

	s := openUDP(t)
	_, err := s.Send(context.Background(), []byte(`{}`), host, port, 50*time.Millisecond)
	if !IsTimeout(err) {
		t.Fatalf("Send() error = %v, want timeout", err)
	}
	if s.IsOpen() {
		t.Error("socket still open after timeout")
	}
}

func TestUDPSocketCancel(t *testing.T) {
	host, port := fakeUDPDevice(t, func(string) (string, bool) { return "", false })

	s := openUDP(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := s.Send(ctx, []byte(`{}`), host, port, 0)
	if err == nil || IsTimeout(err) || !IsTransport(err) {
		t.Errorf("Send() error = %v, want non-timeout transport error", err)
	}
}
