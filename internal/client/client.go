package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/metrics"
	"github.com/muurk/smartplug/internal/protocol"
	"github.com/muurk/smartplug/internal/transport"
)

// DefaultPort is the device protocol port.
const DefaultPort = 9999

// ErrNoHost is returned when neither the call nor the defaults name a host.
var ErrNoHost = errors.New("client: no host given")

// SendOptions select the device and how to reach it. Zero fields inherit
// from the defaults they are merged over.
type SendOptions struct {
	Host string
	Port int
	// Timeout bounds one request. Zero inherits the default, so waiting
	// forever is asked for with a negative value.
	Timeout   time.Duration
	Transport string // transport.TCP or transport.UDP
	// UseSharedSocket keeps one UDP socket per device between sends.
	UseSharedSocket bool
	// SharedSocketTimeout closes an idle shared socket.
	SharedSocketTimeout time.Duration
}

// DefaultSendOptions returns the built-in defaults.
func DefaultSendOptions() SendOptions {
	return SendOptions{
		Port:                DefaultPort,
		Timeout:             10 * time.Second,
		Transport:           transport.TCP,
		SharedSocketTimeout: 20 * time.Second,
	}
}

// Merge returns o with every non-zero field of over applied.
// UseSharedSocket can only be switched on by over.
func (o SendOptions) Merge(over SendOptions) SendOptions {
	if over.Host != "" {
		o.Host = over.Host
	}
	if over.Port != 0 {
		o.Port = over.Port
	}
	if over.Timeout != 0 {
		o.Timeout = over.Timeout
	}
	if over.Transport != "" {
		o.Transport = over.Transport
	}
	if over.UseSharedSocket {
		o.UseSharedSocket = true
	}
	if over.SharedSocketTimeout != 0 {
		o.SharedSocketTimeout = over.SharedSocketTimeout
	}
	return o
}

func (o SendOptions) transportOptions() transport.SendOptions {
	return transport.SendOptions{
		Timeout:             o.Timeout,
		UseSharedSocket:     o.UseSharedSocket,
		SharedSocketTimeout: o.SharedSocketTimeout,
	}
}

// Options configure a Client.
type Options struct {
	// Defaults are merged under every call's options.
	Defaults SendOptions
	Logger   *zap.Logger
	Metrics  *metrics.Collector
}

// Client sends commands to devices on the local network.
type Client struct {
	defaults SendOptions
	log      *zap.Logger
	metrics  *metrics.Collector
}

// New returns a client. Zero-valued defaults fall back to
// DefaultSendOptions.
func New(opts Options) *Client {
	return &Client{
		defaults: DefaultSendOptions().Merge(opts.Defaults),
		log:      logging.Named(opts.Logger, "client"),
		metrics:  opts.Metrics,
	}
}

// Defaults returns the client's default send options.
func (c *Client) Defaults() SendOptions { return c.defaults }

// Logger returns the client's logger.
func (c *Client) Logger() *zap.Logger { return c.log }

// Metrics returns the client's collector, which may be nil.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Send delivers payload to a device and returns the raw decrypted reply.
// payload may be a string, []byte or any JSON-encodable value. A transient
// connection is used and closed before Send returns.
func (c *Client) Send(ctx context.Context, payload any, opts SendOptions) (string, error) {
	o := c.defaults.Merge(opts)
	if o.Host == "" {
		return "", ErrNoHost
	}
	body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	conn, err := transport.NewConnection(o.Transport, o.Host, o.Port, c.log)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return c.sendOn(ctx, conn, o, body)
}

func (c *Client) sendOn(ctx context.Context, conn transport.Connection, o SendOptions, body []byte) (string, error) {
	start := time.Now()
	reply, err := conn.Send(ctx, body, o.transportOptions())
	c.metrics.ObserveSend(o.Transport, time.Since(start), err)
	if err != nil {
		c.log.Debug("Send failed",
			zap.String("host", o.Host),
			zap.String("transport", o.Transport),
			zap.Error(err),
		)
	}
	return reply, err
}

// SendCommand sends cmd, addressed to childIDs when given, and returns the
// processed result: the single result object for a one-method command, or
// the whole response for a batch.
func (c *Client) SendCommand(ctx context.Context, cmd protocol.Command, childIDs []string, opts SendOptions) (any, error) {
	body, err := protocol.WithChildContext(cmd, childIDs).Marshal()
	if err != nil {
		return nil, err
	}
	reply, err := c.Send(ctx, body, opts)
	if err != nil {
		return nil, err
	}
	return decodeResponse(cmd, reply)
}

// GetSysInfo fetches system.get_sysinfo.
func (c *Client) GetSysInfo(ctx context.Context, opts SendOptions) (SysInfo, error) {
	result, err := c.SendCommand(ctx, protocol.SysInfoCommand(), nil, opts)
	if err != nil {
		return nil, err
	}
	return asSysInfo(result)
}

// GetDevice fetches sysinfo from the device at opts.Host and returns a
// Device of the matching kind.
func (c *Client) GetDevice(ctx context.Context, opts SendOptions, devOpts DeviceOptions) (*Device, error) {
	o := c.defaults.Merge(opts)
	info, err := c.GetSysInfo(ctx, o)
	if err != nil {
		return nil, err
	}
	devOpts.Host = o.Host
	devOpts.Port = o.Port
	devOpts.SysInfo = info
	devOpts.Defaults = opts.Merge(devOpts.Defaults)
	return c.NewDevice(devOpts), nil
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case protocol.Command:
		return p.Marshal()
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("client: failed to encode payload: %w", err)
		}
		return data, nil
	}
}

func decodeResponse(cmd protocol.Command, reply string) (any, error) {
	decoded, err := protocol.ParseJSON(reply)
	if err != nil {
		return nil, &transport.Error{
			Type:    transport.ErrTypeParse,
			Message: "device reply is not valid JSON",
			Err:     err,
		}
	}
	resp, _ := decoded.(map[string]any)
	return protocol.ProcessResponse(protocol.WithoutContext(cmd), resp)
}

func asSysInfo(result any) (SysInfo, error) {
	m, ok := result.(map[string]any)
	if !ok {
		return nil, &transport.Error{Type: transport.ErrTypeParse, Message: "sysinfo is not an object"}
	}
	return SysInfo(m), nil
}
