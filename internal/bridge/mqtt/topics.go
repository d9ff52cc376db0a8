package mqtt

import "strings"

// Topics builds topic names under a common prefix.
//
//	<prefix>/bridge/status          retained bridge online/offline
//	<prefix>/<id>/status            retained device online/offline
//	<prefix>/<id>/power             retained "on" or "off"
//	<prefix>/<id>/emeter            retained latest reading
//	<prefix>/<id>/sysinfo           retained last sysinfo JSON
//	<prefix>/<id>/event/<name>      every event with a device snapshot
type Topics struct {
	Prefix string
}

func (t Topics) join(parts ...string) string {
	prefix := strings.TrimSuffix(t.Prefix, "/")
	if prefix == "" {
		return strings.Join(parts, "/")
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// BridgeStatus is the topic carrying the bridge's own availability.
func (t Topics) BridgeStatus() string { return t.join("bridge", "status") }

// DeviceStatus is the retained availability topic for a device.
func (t Topics) DeviceStatus(id string) string { return t.join(id, "status") }

// DevicePower is the retained relay state topic for a device.
func (t Topics) DevicePower(id string) string { return t.join(id, "power") }

// DeviceEmeter is the retained energy reading topic for a device.
func (t Topics) DeviceEmeter(id string) string { return t.join(id, "emeter") }

// DeviceEvent is the topic for a single event on a device.
func (t Topics) DeviceEvent(id, event string) string { return t.join(id, "event", event) }

// DeviceSysInfo is the retained sysinfo topic for a device.
func (t Topics) DeviceSysInfo(id string) string { return t.join(id, "sysinfo") }
