package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/events"
	"github.com/muurk/smartplug/internal/protocol"
	"github.com/muurk/smartplug/internal/transport"
)

// Status is a device's discovery status.
type Status string

const (
	StatusUnknown Status = ""
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// DefaultInUseThreshold is the power draw in watts above which a plug with
// an energy meter counts as in use.
const DefaultInUseThreshold = 0.1

// Device event names. Each is emitted twice: prefixed with the device kind
// ("plug-power-on") and with "device-" ("device-power-on").
const (
	EventPowerOn      = "power-on"
	EventPowerOff     = "power-off"
	EventPowerUpdate  = "power-update"
	EventInUse        = "in-use"
	EventNotInUse     = "not-in-use"
	EventAliasChange  = "alias-change"
	EventEmeterUpdate = "emeter-realtime-update"
)

// DeviceOptions describe a device to construct.
type DeviceOptions struct {
	Host    string
	Port    int
	ChildID string // full child id for one outlet of a power strip
	SysInfo SysInfo
	// Defaults are merged over the client defaults for this device.
	Defaults       SendOptions
	InUseThreshold float64
	Logger         *zap.Logger
}

// PlugState is the state held only by plugs.
type PlugState struct {
	RelayState bool
	InUse      bool
}

// BulbState is the state held only by bulbs.
type BulbState struct {
	LightOn bool
}

// Event is delivered to device event handlers.
type Event struct {
	Name     string // unprefixed, e.g. "power-on"
	Device   *Device
	Snapshot Snapshot
}

// Changeset reports what an update changed.
type Changeset struct {
	AliasChanged bool
	Alias        string

	PowerKnown   bool
	PowerChanged bool
	PowerOn      bool

	InUseChanged bool
	InUse        bool

	Emeter *EmeterReading
}

// Empty reports whether nothing changed.
func (c Changeset) Empty() bool {
	return !c.AliasChanged && !c.PowerChanged && !c.InUseChanged && c.Emeter == nil
}

// Events lists the unprefixed event names the changeset produces.
func (c Changeset) Events() []string {
	var names []string
	if c.AliasChanged {
		names = append(names, EventAliasChange)
	}
	if c.PowerChanged {
		if c.PowerOn {
			names = append(names, EventPowerOn)
		} else {
			names = append(names, EventPowerOff)
		}
	}
	if c.PowerKnown {
		names = append(names, EventPowerUpdate)
	}
	if c.InUseChanged {
		if c.InUse {
			names = append(names, EventInUse)
		} else {
			names = append(names, EventNotInUse)
		}
	}
	if c.Emeter != nil {
		names = append(names, EventEmeterUpdate)
	}
	return names
}

// Snapshot is a point-in-time copy of a device's state.
type Snapshot struct {
	ID              string         `json:"id"`
	DeviceID        string         `json:"device_id"`
	ChildID         string         `json:"child_id,omitempty"`
	Host            string         `json:"host"`
	Port            int            `json:"port"`
	Kind            Kind           `json:"type"`
	Status          Status         `json:"status,omitempty"`
	Alias           string         `json:"alias"`
	Model           string         `json:"model"`
	MAC             string         `json:"mac"`
	PowerOn         bool           `json:"power_on"`
	InUse           bool           `json:"in_use,omitempty"`
	Emeter          *EmeterReading `json:"emeter,omitempty"`
	SeenOnDiscovery uint32         `json:"-"`
	LastSeen        time.Time      `json:"last_seen,omitempty"`
}

// Device is a plug or bulb (or one outlet of a power strip). Plug and bulb
// share the same core; the kind selects module names and which state
// applies.
type Device struct {
	client *Client
	log    *zap.Logger
	events *events.Emitter[Event]

	mu             sync.RWMutex
	deviceID       string
	childID        string
	host           string
	port           int
	kind           Kind
	status         Status
	seen           uint32
	lastSeen       time.Time
	sysInfo        SysInfo
	alias          string
	emeter         *EmeterReading
	plug           PlugState
	bulb           BulbState
	defaults       SendOptions
	inUseThreshold float64

	connMu sync.Mutex
	conns  map[string]transport.Connection
}

// NewDevice constructs a device from known sysinfo. No events are emitted
// for the initial state.
func (c *Client) NewDevice(opts DeviceOptions) *Device {
	log := opts.Logger
	if log == nil {
		log = c.log.Named("device")
	}
	d := &Device{
		client:         c,
		log:            log,
		events:         events.NewEmitter[Event](log),
		host:           opts.Host,
		port:           opts.Port,
		childID:        opts.ChildID,
		kind:           ClassifyKind(opts.SysInfo),
		defaults:       opts.Defaults,
		inUseThreshold: opts.InUseThreshold,
		conns:          make(map[string]transport.Connection),
	}
	if d.port == 0 {
		d.port = c.defaults.Merge(opts.Defaults).Port
	}
	if d.inUseThreshold == 0 {
		d.inUseThreshold = DefaultInUseThreshold
	}
	if opts.SysInfo != nil {
		d.ApplySysInfo(opts.SysInfo)
	}
	return d
}

// ID returns the child id for an outlet, otherwise the device id.
func (d *Device) ID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.childID != "" {
		return d.childID
	}
	return d.deviceID
}

// DeviceID returns the id of the physical device.
func (d *Device) DeviceID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.deviceID
}

// ChildID returns the outlet id, or "".
func (d *Device) ChildID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.childID
}

// Type returns the raw classification, which may be KindDevice.
func (d *Device) Type() Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.kind
}

// Host returns the device address.
func (d *Device) Host() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.host
}

// Port returns the device port.
func (d *Device) Port() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.port
}

// Alias returns the device or outlet name.
func (d *Device) Alias() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.alias
}

// SysInfo returns a copy of the last sysinfo.
func (d *Device) SysInfo() SysInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sysInfo.Clone()
}

// Emeter returns the last energy meter reading.
func (d *Device) Emeter() (EmeterReading, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.emeter == nil {
		return EmeterReading{}, false
	}
	return *d.emeter, true
}

// Plug returns the plug state; ok is false for bulbs.
func (d *Device) Plug() (state PlugState, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.plug, d.kind.Namespaced() == KindPlug
}

// Bulb returns the bulb state; ok is false for plugs.
func (d *Device) Bulb() (state BulbState, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bulb, d.kind == KindBulb
}

// Status returns the discovery status.
func (d *Device) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// SetStatus sets the discovery status and reports whether it changed.
func (d *Device) SetStatus(s Status) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status == s {
		return false
	}
	d.status = s
	return true
}

// MarkSeen records the discovery round in which the device last replied.
func (d *Device) MarkSeen(seq uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = seq
	d.lastSeen = time.Now()
}

// SeenOnDiscovery returns the discovery round of the last reply.
func (d *Device) SeenOnDiscovery() uint32 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.seen
}

// SetAddress updates host and port. Open connections to the old address
// are closed.
func (d *Device) SetAddress(host string, port int) {
	d.mu.Lock()
	changed := d.host != host || d.port != port
	d.host, d.port = host, port
	d.mu.Unlock()
	if changed {
		d.closeConnections()
	}
}

// ApplySysInfo stores info and returns what changed. It does not emit
// events; pass the result to Notify.
func (d *Device) ApplySysInfo(info SysInfo) Changeset {
	d.mu.Lock()
	defer d.mu.Unlock()

	initial := d.sysInfo == nil
	d.sysInfo = info.Clone()
	if id := info.DeviceID(); id != "" {
		d.deviceID = id
	}
	if k := ClassifyKind(info); initial || k != KindDevice {
		d.kind = k
	}

	var cs Changeset

	alias := info.Alias()
	powerOn, powerKnown := false, false
	if d.childID != "" {
		for _, child := range info.Children() {
			if NormalizeChildID(d.deviceID, child.ID) == d.childID {
				alias = child.Alias
				powerOn, powerKnown = child.State, true
				break
			}
		}
	} else if d.kind == KindBulb {
		powerOn, powerKnown = info.LightOn()
	} else {
		powerOn, powerKnown = info.RelayState()
	}

	if alias != d.alias {
		cs.AliasChanged = !initial
		cs.Alias = alias
		d.alias = alias
	}
	if powerKnown {
		d.applyPowerLocked(powerOn, initial, &cs)
	}
	if initial {
		return Changeset{}
	}
	return cs
}

// ApplyEmeter stores a realtime reading and returns what changed.
func (d *Device) ApplyEmeter(reading EmeterReading) Changeset {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := reading
	d.emeter = &r
	cs := Changeset{Emeter: &r}
	if d.kind.Namespaced() == KindPlug {
		inUse := r.PowerW > d.inUseThreshold
		if inUse != d.plug.InUse {
			d.plug.InUse = inUse
			cs.InUseChanged = true
			cs.InUse = inUse
		}
	}
	return cs
}

func (d *Device) applyPowerLocked(on, initial bool, cs *Changeset) {
	cs.PowerKnown = true
	cs.PowerOn = on
	if d.kind == KindBulb {
		cs.PowerChanged = !initial && d.bulb.LightOn != on
		d.bulb.LightOn = on
		return
	}
	cs.PowerChanged = !initial && d.plug.RelayState != on
	d.plug.RelayState = on
	// Without an energy meter, a plug is in use whenever it is on.
	if d.emeter == nil && d.plug.InUse != on {
		d.plug.InUse = on
		cs.InUseChanged = !initial
		cs.InUse = on
	}
}

// On registers fn for a prefixed topic such as "plug-power-on" or
// "device-in-use".
func (d *Device) On(topic string, fn func(Event)) (cancel func()) {
	return d.events.On(topic, fn)
}

// Notify emits the events for cs to this device's handlers.
func (d *Device) Notify(cs Changeset) {
	names := cs.Events()
	if len(names) == 0 {
		return
	}
	snap := d.Snapshot()
	for _, name := range names {
		d.events.Emit(Event{Name: name, Device: d, Snapshot: snap}, Topics(snap.Kind, name)...)
	}
}

// Topics returns the dual-dispatch topics for an event of a device kind.
func Topics(kind Kind, name string) []string {
	return []string{string(kind) + "-" + name, string(KindDevice) + "-" + name}
}

// Snapshot returns a copy of the device's current state.
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Snapshot{
		DeviceID:        d.deviceID,
		ChildID:         d.childID,
		Host:            d.host,
		Port:            d.port,
		Kind:            d.kind,
		Status:          d.status,
		Alias:           d.alias,
		Model:           d.sysInfo.Model(),
		MAC:             d.sysInfo.MAC(),
		SeenOnDiscovery: d.seen,
		LastSeen:        d.lastSeen,
	}
	s.ID = d.deviceID
	if d.childID != "" {
		s.ID = d.childID
	}
	if d.kind == KindBulb {
		s.PowerOn = d.bulb.LightOn
	} else {
		s.PowerOn = d.plug.RelayState
		s.InUse = d.plug.InUse
	}
	if d.emeter != nil {
		e := *d.emeter
		s.Emeter = &e
	}
	return s
}

// Namespaces returns the module names for this device's family.
func (d *Device) Namespaces() protocol.Namespaces {
	if d.Type() == KindBulb {
		return protocol.BulbNamespaces
	}
	return protocol.PlugNamespaces
}

func (d *Device) sendOptions(opts SendOptions) SendOptions {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o := d.client.defaults.Merge(d.defaults).Merge(opts)
	o.Host, o.Port = d.host, d.port
	return o
}

func (d *Device) connection(o SendOptions) (transport.Connection, error) {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if conn, ok := d.conns[o.Transport]; ok {
		return conn, nil
	}
	conn, err := transport.NewConnection(o.Transport, o.Host, o.Port, d.log)
	if err != nil {
		return nil, err
	}
	d.conns[o.Transport] = conn
	return conn, nil
}

// Send delivers a raw payload on the device's own connection for the
// chosen transport.
func (d *Device) Send(ctx context.Context, payload any, opts SendOptions) (string, error) {
	o := d.sendOptions(opts)
	body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	conn, err := d.connection(o)
	if err != nil {
		return "", err
	}
	return d.client.sendOn(ctx, conn, o, body)
}

// SendCommand sends cmd, addressed to this outlet when the device is a
// child, and returns the processed result.
func (d *Device) SendCommand(ctx context.Context, cmd protocol.Command, opts SendOptions) (any, error) {
	var childIDs []string
	if id := d.ChildID(); id != "" {
		childIDs = []string{id}
	}
	body, err := protocol.WithChildContext(cmd, childIDs).Marshal()
	if err != nil {
		return nil, err
	}
	reply, err := d.Send(ctx, body, opts)
	if err != nil {
		return nil, err
	}
	return decodeResponse(cmd, reply)
}

// GetSysInfo fetches sysinfo, applies it and notifies handlers of changes.
func (d *Device) GetSysInfo(ctx context.Context, opts SendOptions) (SysInfo, error) {
	result, err := d.SendCommand(ctx, protocol.NewCommand(d.Namespaces().System, protocol.MethodGetSysInfo, nil), opts)
	if err != nil {
		return nil, err
	}
	info, err := asSysInfo(result)
	if err != nil {
		return nil, err
	}
	d.Notify(d.ApplySysInfo(info))
	return info, nil
}

// GetEmeterRealtime reads the energy meter, applies the reading and
// notifies handlers.
func (d *Device) GetEmeterRealtime(ctx context.Context, opts SendOptions) (EmeterReading, error) {
	result, err := d.SendCommand(ctx, protocol.NewCommand(d.Namespaces().Emeter, protocol.MethodGetRealtime, nil), opts)
	if err != nil {
		return EmeterReading{}, err
	}
	m, _ := result.(map[string]any)
	reading, ok := ParseEmeter(m)
	if !ok {
		return EmeterReading{}, &transport.Error{Type: transport.ErrTypeParse, Host: d.Host(), Port: d.Port(), Message: "emeter reply has no power reading"}
	}
	d.Notify(d.ApplyEmeter(reading))
	return reading, nil
}

// SetPowerState switches the relay (plugs and outlets) or the light (bulbs).
func (d *Device) SetPowerState(ctx context.Context, on bool, opts SendOptions) error {
	state := 0
	if on {
		state = 1
	}
	var cmd protocol.Command
	if d.Type() == KindBulb {
		cmd = protocol.NewCommand(protocol.BulbNamespaces.Lighting, protocol.MethodTransitionLightState, map[string]any{"on_off": state})
	} else {
		cmd = protocol.NewCommand(protocol.PlugNamespaces.System, protocol.MethodSetRelay, map[string]any{"state": state})
	}
	if _, err := d.SendCommand(ctx, cmd, opts); err != nil {
		return err
	}

	d.mu.Lock()
	var cs Changeset
	d.applyPowerLocked(on, false, &cs)
	d.mu.Unlock()
	d.Notify(cs)
	return nil
}

// SetAlias renames the device.
func (d *Device) SetAlias(ctx context.Context, alias string, opts SendOptions) error {
	cmd := protocol.NewCommand(d.Namespaces().System, protocol.MethodSetAlias, map[string]any{"alias": alias})
	if _, err := d.SendCommand(ctx, cmd, opts); err != nil {
		return err
	}
	d.mu.Lock()
	var cs Changeset
	if d.alias != alias {
		d.alias = alias
		cs.AliasChanged = true
		cs.Alias = alias
	}
	d.mu.Unlock()
	d.Notify(cs)
	return nil
}

func (d *Device) closeConnections() {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	for name, conn := range d.conns {
		_ = conn.Close()
		delete(d.conns, name)
	}
}

// Close closes the device's connections. The device stays usable; new
// connections are opened on the next send.
func (d *Device) Close() error {
	d.closeConnections()
	return nil
}
