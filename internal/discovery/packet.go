package discovery

import (
	"errors"
	"net"
	"slices"

	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/metrics"
	"github.com/muurk/smartplug/internal/protocol"
)

var errNoSysInfo = errors.New("discovery: reply has no system.get_sysinfo")

// handlePacket processes one reply. Packets that do not decode are reported
// as discovery-invalid and dropped.
func (d *Discovery) handlePacket(raw []byte, from net.Addr) {
	decrypted := protocol.Decrypt(raw, protocol.FirstKey)
	logging.LogPacket(d.log, "recv", "udp", addrString(from), raw, decrypted)

	info, resp, err := parseReply(decrypted)
	if err != nil {
		d.log.Debug("Invalid discovery packet", zap.String("from", addrString(from)), zap.Error(err))
		d.client.Metrics().DiscoveryPacket(metrics.PacketInvalid)
		d.events.Emit(Event{Name: EventInvalid, Err: err, From: from, Raw: raw, Decrypted: decrypted}, EventInvalid)
		return
	}

	if reason := d.reject(info); reason != "" {
		d.log.Debug("Discovery reply filtered",
			zap.String("from", addrString(from)),
			zap.String("device_id", info.DeviceID()),
			zap.String("reason", reason),
		)
		d.client.Metrics().DiscoveryPacket(metrics.PacketFiltered)
		return
	}
	d.client.Metrics().DiscoveryPacket(metrics.PacketAccepted)

	host, port := hostPort(from, d.opts.Port)
	seq := d.sequence()

	children := info.Children()
	if d.opts.BreakoutChildren && len(children) > 0 {
		for _, c := range children {
			id := client.NormalizeChildID(info.DeviceID(), c.ID)
			d.upsert(id, id, host, port, info, nil, seq)
		}
	} else {
		var reading *client.EmeterReading
		if r, ok := client.EmeterFromResponse(resp); ok {
			reading = &r
		}
		d.upsert(info.DeviceID(), "", host, port, info, reading, seq)
	}
	d.updateGauges()
}

// parseReply extracts system.get_sysinfo from a decrypted reply.
func parseReply(decrypted []byte) (client.SysInfo, map[string]any, error) {
	v, err := protocol.ParseJSON(string(decrypted))
	if err != nil {
		return nil, nil, err
	}
	resp, ok := v.(map[string]any)
	if !ok {
		return nil, nil, errNoSysInfo
	}
	system, ok := resp[protocol.PlugNamespaces.System].(map[string]any)
	if !ok {
		return nil, nil, errNoSysInfo
	}
	info, ok := system[protocol.MethodGetSysInfo].(map[string]any)
	if !ok {
		return nil, nil, errNoSysInfo
	}
	return client.SysInfo(info), resp, nil
}

// reject applies the filters in order and returns why the reply was
// rejected, or "" to accept it.
func (d *Discovery) reject(info client.SysInfo) string {
	if len(d.opts.DeviceTypes) > 0 && !slices.Contains(d.opts.DeviceTypes, client.ClassifyKind(info)) {
		return "device type"
	}
	mac := info.MAC()
	if len(d.opts.MACAddresses) > 0 && !CompareMACList(mac, d.opts.MACAddresses) {
		return "mac not allowed"
	}
	if len(d.opts.ExcludeMACAddresses) > 0 && CompareMACList(mac, d.opts.ExcludeMACAddresses) {
		return "mac excluded"
	}
	if d.opts.Filter != nil && !d.opts.Filter(info) {
		return "filter"
	}
	return ""
}

// upsert creates or updates the device registered under id and emits the
// lifecycle event. Known devices get their address, sysinfo and reading
// updated in place.
func (d *Discovery) upsert(id, childID, host string, port int, info client.SysInfo, reading *client.EmeterReading, seq uint32) {
	d.mu.Lock()
	dev, known := d.devices[id]
	if !known {
		opts := d.opts.DeviceOptions
		opts.Host = host
		opts.Port = port
		opts.ChildID = childID
		opts.SysInfo = info
		dev = d.client.NewDevice(opts)
		d.devices[id] = dev
	}
	d.mu.Unlock()

	dev.MarkSeen(seq)
	dev.SetStatus(client.StatusOnline)

	if !known {
		if reading != nil {
			dev.ApplyEmeter(*reading)
		}
		d.log.Info("New device",
			zap.String("id", id),
			zap.String("alias", dev.Alias()),
			zap.String("type", string(dev.Type())),
			zap.String("host", host),
		)
		d.emitDevice(EventNew, dev)
		return
	}

	dev.SetAddress(host, port)
	dev.Notify(dev.ApplySysInfo(info))
	if reading != nil {
		dev.Notify(dev.ApplyEmeter(*reading))
	}
	d.emitDevice(EventOnline, dev)
}

func hostPort(addr net.Addr, fallback int) (string, int) {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua.IP.String(), ua.Port
	}
	return addrString(addr), fallback
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
