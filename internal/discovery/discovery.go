package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/events"
	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/protocol"
)

const (
	// DefaultAddress is the broadcast address probes are sent to.
	DefaultAddress = "255.255.255.255"

	// DefaultInterval is the time between broadcast rounds.
	DefaultInterval = 10 * time.Second

	// DefaultOfflineTolerance is the number of missed rounds after which a
	// device is marked offline.
	DefaultOfflineTolerance = 3

	maxDatagram = 64 * 1024
)

// Lifecycle event names. Device events are emitted with the device kind as
// prefix and again with "device-" ("plug-new", "device-new").
const (
	EventNew     = "new"
	EventOnline  = "online"
	EventOffline = "offline"
	EventError   = "error"
	EventInvalid = "discovery-invalid"
)

var (
	// ErrBind is returned when the discovery socket cannot be bound.
	ErrBind = errors.New("discovery: failed to bind socket")

	// ErrSend is returned when a probe cannot be sent.
	ErrSend = errors.New("discovery: failed to send probe")

	// ErrReceive is returned when reading from the socket fails.
	ErrReceive = errors.New("discovery: failed to read from socket")
)

// StaticDevice is a device probed by unicast every round, for devices that
// do not answer broadcasts.
type StaticDevice struct {
	Host string
	Port int
}

// Options configure a discovery engine.
type Options struct {
	Address     string // broadcast address
	Port        int    // device port
	BindAddress string
	BindPort    int

	Interval         time.Duration
	Duration         time.Duration // 0 runs until stopped
	OfflineTolerance uint32

	IncludeEmeter    bool
	BreakoutChildren bool

	DeviceTypes         []client.Kind // allow-list; empty allows all
	MACAddresses        []string      // allow-list of glob patterns
	ExcludeMACAddresses []string      // deny-list of glob patterns
	Filter              func(client.SysInfo) bool

	Devices []StaticDevice

	// DeviceOptions are used for every device discovery constructs.
	DeviceOptions client.DeviceOptions
}

// DefaultOptions returns the options discovery uses when nothing is set.
func DefaultOptions() Options {
	return Options{
		Address:          DefaultAddress,
		Port:             client.DefaultPort,
		Interval:         DefaultInterval,
		OfflineTolerance: DefaultOfflineTolerance,
		IncludeEmeter:    true,
		BreakoutChildren: true,
	}
}

// Event is delivered to discovery handlers. Device events carry the device;
// error events carry Err; invalid packet events carry the packet bytes.
type Event struct {
	Name     string
	Device   *client.Device
	Snapshot client.Snapshot

	Err error

	From      net.Addr
	Raw       []byte
	Decrypted []byte
}

// Discovery finds devices by broadcasting a sysinfo probe and tracks their
// online status.
type Discovery struct {
	client *client.Client
	opts   Options
	log    *zap.Logger
	events *events.Emitter[Event]
	probe  []byte

	mu      sync.Mutex
	devices map[string]*client.Device
	seq     uint32
	run     *run
}

type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   net.PacketConn
	target *net.UDPAddr
	once   sync.Once
}

// New creates a discovery engine. Zero address, port, interval and
// tolerance fields fall back to the defaults.
func New(c *client.Client, opts Options) (*Discovery, error) {
	def := DefaultOptions()
	if opts.Address == "" {
		opts.Address = def.Address
	}
	if opts.Port == 0 {
		opts.Port = def.Port
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.OfflineTolerance == 0 {
		opts.OfflineTolerance = def.OfflineTolerance
	}

	body, err := protocol.DiscoveryCommand(opts.IncludeEmeter).Marshal()
	if err != nil {
		return nil, err
	}

	log := c.Logger().Named("discovery")
	return &Discovery{
		client:  c,
		opts:    opts,
		log:     log,
		events:  events.NewEmitter[Event](log),
		probe:   protocol.Encrypt(body, protocol.FirstKey),
		devices: make(map[string]*client.Device),
	}, nil
}

// Options returns the effective options.
func (d *Discovery) Options() Options { return d.opts }

// On registers fn for a topic. Device lifecycle events fire on the bare name
// ("new", "online", "offline") and on the kind-prefixed names ("plug-new",
// "device-offline"). Failures fire on "error" and "discovery-invalid".
func (d *Discovery) On(topic string, fn func(Event)) (cancel func()) {
	return d.events.On(topic, fn)
}

// Running reports whether the engine is started.
func (d *Discovery) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.run != nil
}

// Devices returns every known device, sorted by id.
func (d *Discovery) Devices() []*client.Device {
	d.mu.Lock()
	ids := make([]string, 0, len(d.devices))
	for id := range d.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*client.Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.devices[id])
	}
	d.mu.Unlock()
	return out
}

// Device returns the device with the given id (child id for outlets).
func (d *Discovery) Device(id string) (*client.Device, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	return dev, ok
}

// Start binds the discovery socket and starts broadcasting. The first probe
// is sent immediately. Calling Start on a running engine does nothing.
// Cancelling ctx stops the engine.
func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.run != nil {
		d.mu.Unlock()
		return nil
	}

	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(d.opts.Address, strconv.Itoa(d.opts.Port)))
	if err != nil {
		d.mu.Unlock()
		err = fmt.Errorf("%w: %w", ErrBind, err)
		d.emitError(err)
		return err
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(d.opts.BindAddress, strconv.Itoa(d.opts.BindPort)))
	if err != nil {
		d.mu.Unlock()
		err = fmt.Errorf("%w: %w", ErrBind, err)
		d.emitError(err)
		return err
	}

	r := &run{conn: conn, target: target}
	if d.opts.Duration > 0 {
		r.ctx, r.cancel = context.WithTimeout(ctx, d.opts.Duration)
	} else {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	d.run = r
	d.mu.Unlock()

	d.log.Info("Discovery started",
		zap.String("local_addr", conn.LocalAddr().String()),
		zap.String("broadcast", target.String()),
		zap.Duration("interval", d.opts.Interval),
		zap.Uint32("offline_tolerance", d.opts.OfflineTolerance),
	)

	go d.receive(r)
	go d.loop(r)
	return nil
}

// Stop stops broadcasting and closes the socket. It is safe to call on a
// stopped engine, and the engine may be started again afterwards. Known
// devices are kept.
func (d *Discovery) Stop() {
	d.mu.Lock()
	r := d.run
	d.mu.Unlock()
	if r != nil {
		d.halt(r)
	}
}

func (d *Discovery) halt(r *run) {
	r.once.Do(func() {
		d.mu.Lock()
		if d.run == r {
			d.run = nil
		}
		d.mu.Unlock()

		r.cancel()
		_ = r.conn.Close()
		d.log.Info("Discovery stopped")
	})
}

func (d *Discovery) loop(r *run) {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		if err := d.tick(r); err != nil {
			if r.ctx.Err() == nil {
				d.emitError(err)
			}
			d.halt(r)
			return
		}
		select {
		case <-r.ctx.Done():
			d.halt(r)
			return
		case <-ticker.C:
		}
	}
}

// tick runs one round: offline check, probes, then the sequence advance.
func (d *Discovery) tick(r *run) error {
	d.checkOffline()
	if err := d.sendProbes(r.conn, r.target); err != nil {
		return err
	}
	d.advance()
	return nil
}

// checkOffline marks devices that missed OfflineTolerance rounds as offline
// and emits one offline event per transition.
func (d *Discovery) checkOffline() {
	d.mu.Lock()
	seq := d.seq
	var gone []*client.Device
	for _, dev := range d.devices {
		if dev.Status() == client.StatusOffline {
			continue
		}
		if seq-dev.SeenOnDiscovery() >= d.opts.OfflineTolerance && dev.SetStatus(client.StatusOffline) {
			gone = append(gone, dev)
		}
	}
	d.mu.Unlock()

	for _, dev := range gone {
		d.log.Info("Device offline", zap.String("id", dev.ID()), zap.String("alias", dev.Alias()))
		d.emitDevice(EventOffline, dev)
	}
	if len(gone) > 0 {
		d.updateGauges()
	}
}

func (d *Discovery) sendProbes(conn net.PacketConn, target *net.UDPAddr) error {
	if _, err := conn.WriteTo(d.probe, target); err != nil {
		return fmt.Errorf("%w to %s: %w", ErrSend, target, err)
	}
	logging.LogPacket(d.log, "send", "udp", target.String(), d.probe, nil)

	for _, sd := range d.opts.Devices {
		port := sd.Port
		if port == 0 {
			port = d.opts.Port
		}
		addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(sd.Host, strconv.Itoa(port)))
		if err != nil {
			d.log.Warn("Skipping static device", zap.String("host", sd.Host), zap.Error(err))
			continue
		}
		if _, err := conn.WriteTo(d.probe, addr); err != nil {
			return fmt.Errorf("%w to %s: %w", ErrSend, addr, err)
		}
	}
	return nil
}

func (d *Discovery) advance() {
	d.mu.Lock()
	d.seq++
	d.mu.Unlock()
	d.client.Metrics().DiscoveryRound()
}

func (d *Discovery) sequence() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seq
}

func (d *Discovery) receive(r *run) {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := r.conn.ReadFrom(buf)
		if err != nil {
			if r.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			d.emitError(fmt.Errorf("%w: %w", ErrReceive, err))
			d.halt(r)
			return
		}
		if r.ctx.Err() != nil {
			return
		}
		d.handlePacket(append([]byte(nil), buf[:n]...), from)
	}
}

func (d *Discovery) emitDevice(name string, dev *client.Device) {
	snap := dev.Snapshot()
	topics := append(client.Topics(snap.Kind, name), name)
	d.events.Emit(Event{Name: name, Device: dev, Snapshot: snap}, topics...)
}

func (d *Discovery) emitError(err error) {
	d.log.Error("Discovery error", zap.Error(err))
	d.events.Emit(Event{Name: EventError, Err: err}, EventError)
}

func (d *Discovery) updateGauges() {
	var online, offline int
	for _, dev := range d.Devices() {
		switch dev.Status() {
		case client.StatusOnline:
			online++
		case client.StatusOffline:
			offline++
		}
	}
	d.client.Metrics().SetDevices(online, offline)
}
