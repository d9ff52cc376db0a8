package transport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/queue"
)

// SendOptions control a single request on a connection.
type SendOptions struct {
	// Timeout bounds the whole exchange. Zero or negative waits forever.
	Timeout time.Duration
	// UseSharedSocket reuses one UDP socket across sends. Ignored for TCP.
	UseSharedSocket bool
	// SharedSocketTimeout closes an idle shared socket. Zero disables.
	SharedSocketTimeout time.Duration
}

// Connection is a per-device channel. Sends on one connection are
// serialized: each completes, including socket cleanup, before the next
// one acquires a socket.
type Connection interface {
	Send(ctx context.Context, payload []byte, opts SendOptions) (string, error)
	Close() error
	Host() string
	Port() int
}

// SocketFactory builds an unopened socket. Tests inject fakes here.
type SocketFactory func(log *zap.Logger) Socket

// DefaultTCPSocketFactory builds real TCP sockets.
func DefaultTCPSocketFactory(log *zap.Logger) Socket { return NewTCPSocket(log) }

// DefaultUDPSocketFactory builds real UDP sockets on an ephemeral port.
func DefaultUDPSocketFactory(log *zap.Logger) Socket { return NewUDPSocket(log, "") }

// NewConnection returns a connection for the named transport.
func NewConnection(transport, host string, port int, log *zap.Logger) (Connection, error) {
	switch transport {
	case TCP, "":
		return NewTCPConnection(host, port, log, nil), nil
	case UDP:
		return NewUDPConnection(host, port, log, nil), nil
	default:
		return nil, &Error{Type: ErrTypeTransport, Host: host, Port: port, Message: "unknown transport " + transport}
	}
}

type baseConnection struct {
	host    string
	port    int
	log     *zap.Logger
	queue   *queue.Queue
	factory SocketFactory
}

func (c *baseConnection) Host() string { return c.host }
func (c *baseConnection) Port() int    { return c.port }

// sendOnce opens a fresh socket, sends and closes it on every path.
func (c *baseConnection) sendOnce(ctx context.Context, payload []byte, timeout time.Duration) (string, error) {
	sock := c.factory(c.log)
	if err := sock.Open(ctx); err != nil {
		return "", err
	}
	defer sock.Close()
	return sock.Send(ctx, payload, c.host, c.port, timeout)
}

func (c *baseConnection) serialize(ctx context.Context, transport string, payload []byte, fn func() (string, error)) (string, error) {
	var reply string
	if c.queue.Busy() {
		c.log.Debug("Request queued behind an earlier one",
			zap.String("host", c.host),
			zap.Int("waiting", c.queue.Len()),
		)
	}
	err := c.queue.Do(ctx, func() error {
		var err error
		reply, err = fn()
		return err
	})
	if err != nil && ctx.Err() != nil && !IsTransport(err) {
		return "", contextError(ctx, transport, c.host, c.port, 0, payload)
	}
	return reply, err
}

// TCPConnection sends each request on a fresh TCP connection.
type TCPConnection struct {
	baseConnection
}

// NewTCPConnection returns a TCP connection to host:port. A nil factory uses
// real sockets.
func NewTCPConnection(host string, port int, log *zap.Logger, factory SocketFactory) *TCPConnection {
	if factory == nil {
		factory = DefaultTCPSocketFactory
	}
	return &TCPConnection{
		baseConnection: baseConnection{
			host:    host,
			port:    port,
			log:     logging.Named(log, "tcp"),
			queue:   queue.New(),
			factory: factory,
		},
	}
}

// Send performs one request. UseSharedSocket is ignored.
func (c *TCPConnection) Send(ctx context.Context, payload []byte, opts SendOptions) (string, error) {
	return c.serialize(ctx, TCP, payload, func() (string, error) {
		return c.sendOnce(ctx, payload, opts.Timeout)
	})
}

// Close is a no-op; in-flight sends clean up their own sockets.
func (c *TCPConnection) Close() error { return nil }

// UDPConnection sends requests as datagrams, optionally over one shared
// socket that is closed after a period of inactivity.
type UDPConnection struct {
	baseConnection

	mu        sync.Mutex
	shared    Socket
	inUse     bool
	idleTimer *time.Timer
}

// NewUDPConnection returns a UDP connection to host:port. A nil factory uses
// real sockets.
func NewUDPConnection(host string, port int, log *zap.Logger, factory SocketFactory) *UDPConnection {
	if factory == nil {
		factory = DefaultUDPSocketFactory
	}
	return &UDPConnection{
		baseConnection: baseConnection{
			host:    host,
			port:    port,
			log:     logging.Named(log, "udp"),
			queue:   queue.New(),
			factory: factory,
		},
	}
}

// Send performs one request on a fresh or the shared socket.
func (c *UDPConnection) Send(ctx context.Context, payload []byte, opts SendOptions) (string, error) {
	return c.serialize(ctx, UDP, payload, func() (string, error) {
		if !opts.UseSharedSocket {
			return c.sendOnce(ctx, payload, opts.Timeout)
		}
		return c.sendShared(ctx, payload, opts)
	})
}

func (c *UDPConnection) sendShared(ctx context.Context, payload []byte, opts SendOptions) (string, error) {
	sock, err := c.acquireShared(ctx)
	if err != nil {
		return "", err
	}
	defer c.releaseShared(opts.SharedSocketTimeout)
	return sock.Send(ctx, payload, c.host, c.port, opts.Timeout)
}

func (c *UDPConnection) acquireShared(ctx context.Context) (Socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.shared == nil || !c.shared.IsOpen() {
		sock := c.factory(c.log)
		if err := sock.Open(ctx); err != nil {
			return nil, err
		}
		c.shared = sock
		c.log.Debug("Opened shared UDP socket", zap.String("host", c.host))
	}
	c.inUse = true
	return c.shared, nil
}

func (c *UDPConnection) releaseShared(idle time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inUse = false
	if idle <= 0 || c.shared == nil {
		return
	}
	sock := c.shared
	c.idleTimer = time.AfterFunc(idle, func() { c.closeIdle(sock) })
}

func (c *UDPConnection) closeIdle(sock Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inUse || c.shared != sock {
		return
	}
	_ = sock.Close()
	c.shared = nil
	c.idleTimer = nil
	c.log.Debug("Closed idle shared UDP socket", zap.String("host", c.host))
}

// SharedSocket returns the current shared socket, or nil.
func (c *UDPConnection) SharedSocket() Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shared
}

// Close closes the shared socket and stops its idle timer.
func (c *UDPConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.shared == nil {
		return nil
	}
	err := c.shared.Close()
	c.shared = nil
	return err
}
