package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/protocol"
	"github.com/muurk/smartplug/internal/queue"
)

// Transport names accepted in options and configuration.
const (
	TCP = "tcp"
	UDP = "udp"
)

// maxDatagram is the largest UDP reply read in one go.
const maxDatagram = 64 * 1024

// Socket sends one encrypted request and returns one decrypted reply.
// Sends on a single socket are serialized in arrival order.
type Socket interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, payload []byte, host string, port int, timeout time.Duration) (string, error)
	Close() error
	IsOpen() bool
}

type socketState int

const (
	stateUnopened socketState = iota
	stateOpen
	stateClosed
)

// baseSocket holds the lifecycle shared by both transports.
type baseSocket struct {
	log   *zap.Logger
	queue *queue.Queue

	mu    sync.Mutex
	state socketState
}

func (b *baseSocket) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen
}

func (b *baseSocket) markOpen(transport string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return &Error{Type: ErrTypeTransport, Transport: transport, Message: "socket already open"}
	case stateClosed:
		return &Error{Type: ErrTypeClosed, Transport: transport, Message: "socket closed"}
	}
	b.state = stateOpen
	return nil
}

// markClosed returns false when the socket was already closed.
func (b *baseSocket) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateClosed {
		return false
	}
	b.state = stateClosed
	return true
}

// serialize runs fn through the socket's queue.
func (b *baseSocket) serialize(ctx context.Context, fn func() (string, error)) (string, error) {
	var reply string
	err := b.queue.Do(ctx, func() error {
		var err error
		reply, err = fn()
		return err
	})
	return reply, err
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// contextError converts an ended context into a timeout or transport error.
func contextError(ctx context.Context, transport, host string, port int, timeout time.Duration, payload []byte) *Error {
	e := &Error{
		Transport: transport,
		Host:      host,
		Port:      port,
		Payload:   payload,
		Err:       ctx.Err(),
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.Type = ErrTypeTimeout
		e.Message = "Request timed out"
		e.Timeout = timeout
		return e
	}
	e.Type = ErrTypeTransport
	e.Message = "Request cancelled"
	return e
}

func address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// TCPSocket dials the device for each send and reads one length-prefixed
// reply.
type TCPSocket struct {
	baseSocket
	dialer net.Dialer

	connMu sync.Mutex
	conn   net.Conn
}

// NewTCPSocket returns an unopened TCP socket.
func NewTCPSocket(log *zap.Logger) *TCPSocket {
	return &TCPSocket{
		baseSocket: baseSocket{
			log:   logging.Named(log, "tcp"),
			queue: queue.New(),
		},
	}
}

// Open marks the socket usable. The connection itself is dialed by Send.
func (s *TCPSocket) Open(ctx context.Context) error {
	return s.markOpen(TCP)
}

// Send dials host:port, writes the framed payload and reads until the
// length header is satisfied. The reply is returned as decrypted text.
func (s *TCPSocket) Send(ctx context.Context, payload []byte, host string, port int, timeout time.Duration) (string, error) {
	return s.serialize(ctx, func() (string, error) {
		return s.send(ctx, payload, host, port, timeout)
	})
}

func (s *TCPSocket) send(parent context.Context, payload []byte, host string, port int, timeout time.Duration) (string, error) {
	if !s.IsOpen() {
		return "", &Error{Type: ErrTypeClosed, Transport: TCP, Host: host, Port: port, Payload: payload, Message: "socket not open"}
	}

	ctx, cancel := withTimeout(parent, timeout)
	defer cancel()

	addr := address(host, port)
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			s.destroy()
			return "", contextError(ctx, TCP, host, port, timeout, payload)
		}
		e := ClassifyNetworkError(err, host, port)
		e.Transport = TCP
		e.Payload = payload
		return "", e
	}
	s.setConn(conn)
	defer s.clearConn(conn)

	// An ended context destroys the socket, which unblocks Read.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	frame := protocol.EncryptWithHeader(payload, protocol.FirstKey)
	logging.LogPacket(s.log, "sent", TCP, addr, frame, payload)
	if _, err := conn.Write(frame); err != nil {
		if ctx.Err() != nil {
			s.destroy()
			return "", contextError(ctx, TCP, host, port, timeout, payload)
		}
		e := ClassifyNetworkError(err, host, port)
		e.Transport = TCP
		e.Payload = payload
		e.HadError = true
		return "", e
	}

	var buf []byte
	chunk := make([]byte, 4096)
	segments := 0
	for {
		n, rerr := conn.Read(chunk)
		if n > 0 {
			segments++
			buf = append(buf, chunk[:n]...)
			if protocol.FrameComplete(buf) {
				if tc, ok := conn.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}
				break
			}
		}
		if rerr == nil {
			continue
		}

		if ctx.Err() != nil {
			s.destroy()
			return "", contextError(ctx, TCP, host, port, timeout, payload)
		}
		hadError := !errors.Is(rerr, io.EOF)
		e := &Error{
			Transport: TCP,
			Host:      host,
			Port:      port,
			Payload:   payload,
			Segments:  segments,
			HadError:  hadError,
		}
		if hadError {
			e.Err = rerr
		}
		if len(buf) == 0 {
			e.Type = ErrTypeTransport
			e.Message = "TCP socket closed before a reply was received"
		} else {
			e.Type = ErrTypeFraming
			e.Message = "TCP socket closed before the full reply was received"
		}
		return "", e
	}

	length, _ := protocol.FrameLength(buf)
	body := buf[protocol.HeaderSize : protocol.HeaderSize+int(length)]
	plain := protocol.Decrypt(body, protocol.FirstKey)
	logging.LogPacket(s.log, "received", TCP, addr, buf, plain)
	return string(plain), nil
}

func (s *TCPSocket) setConn(c net.Conn) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

func (s *TCPSocket) clearConn(c net.Conn) {
	_ = c.Close()
	s.connMu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	s.connMu.Unlock()
}

func (s *TCPSocket) destroy() {
	s.markClosed()
	s.log.Debug("TCP socket destroyed")
}

// Close closes any in-flight connection. A closed socket cannot be reopened.
func (s *TCPSocket) Close() error {
	s.markClosed()
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// UDPSocket binds an ephemeral local port and exchanges single datagrams.
type UDPSocket struct {
	baseSocket
	bind string

	connMu sync.Mutex
	conn   *net.UDPConn
}

// NewUDPSocket returns an unopened UDP socket. bindAddr may be empty for
// all interfaces on an ephemeral port.
func NewUDPSocket(log *zap.Logger, bindAddr string) *UDPSocket {
	if bindAddr == "" {
		bindAddr = ":0"
	}
	return &UDPSocket{
		baseSocket: baseSocket{
			log:   logging.Named(log, "udp"),
			queue: queue.New(),
		},
		bind: bindAddr,
	}
}

// Open binds the local UDP port.
func (s *UDPSocket) Open(ctx context.Context) error {
	if err := s.markOpen(UDP); err != nil {
		return err
	}
	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp4", s.bind)
	if err != nil {
		s.markClosed()
		e := ClassifyNetworkError(err, "", 0)
		e.Transport = UDP
		e.Message = "failed to bind UDP socket"
		return e
	}
	s.connMu.Lock()
	s.conn = pc.(*net.UDPConn)
	s.connMu.Unlock()
	return nil
}

// LocalAddr returns the bound address, or nil before Open.
func (s *UDPSocket) LocalAddr() net.Addr {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Send writes one encrypted datagram and waits for the first reply.
func (s *UDPSocket) Send(ctx context.Context, payload []byte, host string, port int, timeout time.Duration) (string, error) {
	return s.serialize(ctx, func() (string, error) {
		return s.send(ctx, payload, host, port, timeout)
	})
}

func (s *UDPSocket) send(parent context.Context, payload []byte, host string, port int, timeout time.Duration) (string, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if !s.IsOpen() || conn == nil {
		return "", &Error{Type: ErrTypeClosed, Transport: UDP, Host: host, Port: port, Payload: payload, Message: "socket not open"}
	}

	ctx, cancel := withTimeout(parent, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { s.destroy() })
	defer stop()

	raddr, err := net.ResolveUDPAddr("udp4", address(host, port))
	if err != nil {
		e := ClassifyNetworkError(err, host, port)
		e.Transport = UDP
		e.Payload = payload
		return "", e
	}

	datagram := protocol.Encrypt(payload, protocol.FirstKey)
	logging.LogPacket(s.log, "sent", UDP, raddr.String(), datagram, payload)
	if _, err := conn.WriteToUDP(datagram, raddr); err != nil {
		if ctx.Err() != nil {
			return "", contextError(ctx, UDP, host, port, timeout, payload)
		}
		e := ClassifyNetworkError(err, host, port)
		e.Transport = UDP
		e.Payload = payload
		e.HadError = true
		return "", e
	}

	buf := make([]byte, maxDatagram)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return "", contextError(ctx, UDP, host, port, timeout, payload)
		}
		return "", &Error{
			Type:      ErrTypeTransport,
			Transport: UDP,
			Host:      host,
			Port:      port,
			Payload:   payload,
			HadError:  !errors.Is(err, net.ErrClosed),
			Message:   "UDP socket closed before a reply was received",
			Err:       err,
		}
	}

	plain := protocol.Decrypt(buf[:n], protocol.FirstKey)
	logging.LogPacket(s.log, "received", UDP, from.String(), buf[:n], plain)
	return string(plain), nil
}

func (s *UDPSocket) destroy() {
	if err := s.Close(); err == nil {
		s.log.Debug("UDP socket destroyed")
	}
}

// Close releases the bound port. Pending sends fail with a transport error.
func (s *UDPSocket) Close() error {
	s.markClosed()
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
