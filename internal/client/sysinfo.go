package client

import (
	"encoding/json"
	"maps"
	"strings"
)

// Kind classifies a device family.
type Kind string

const (
	KindPlug   Kind = "plug"
	KindBulb   Kind = "bulb"
	KindDevice Kind = "device"
)

// Namespaced returns the kind used for module names and device state.
// Unclassified devices are treated as plugs.
func (k Kind) Namespaced() Kind {
	if k == KindBulb {
		return KindBulb
	}
	return KindPlug
}

// SysInfo is the decoded system.get_sysinfo result. Field sets differ by
// model and firmware, so it is kept as a map with typed accessors.
type SysInfo map[string]any

// Str returns a string field or "".
func (s SysInfo) Str(key string) string {
	v, _ := s[key].(string)
	return v
}

// Number returns a numeric field.
func (s SysInfo) Number(key string) (float64, bool) {
	switch v := s[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// DeviceID returns the device's unique id.
func (s SysInfo) DeviceID() string { return s.Str("deviceId") }

// Alias returns the user-assigned name.
func (s SysInfo) Alias() string { return s.Str("alias") }

// Model returns the hardware model, e.g. "HS110(EU)".
func (s SysInfo) Model() string { return s.Str("model") }

// SoftwareVersion returns the firmware version.
func (s SysInfo) SoftwareVersion() string { return s.Str("sw_ver") }

// MAC returns the MAC address, whichever field the model reports it in.
func (s SysInfo) MAC() string {
	for _, key := range []string{"mac", "mic_mac", "ethernet_mac"} {
		if v := s.Str(key); v != "" {
			return v
		}
	}
	return ""
}

// Type returns the raw device type string from type or mic_type.
func (s SysInfo) Type() string {
	if v := s.Str("type"); v != "" {
		return v
	}
	return s.Str("mic_type")
}

// HasEmeter reports whether the device advertises an energy meter: the
// ENE feature on plugs, or a bulb (which report power through
// smartlife.iot.common.emeter).
func (s SysInfo) HasEmeter() bool {
	if strings.Contains(s.Str("feature"), "ENE") {
		return true
	}
	return ClassifyKind(s) == KindBulb
}

// RelayState reports the relay of a single-outlet plug.
func (s SysInfo) RelayState() (on, ok bool) {
	v, ok := s.Number("relay_state")
	return v == 1, ok
}

// LightOn reports the bulb's light_state.on_off.
func (s SysInfo) LightOn() (on, ok bool) {
	ls, isMap := s["light_state"].(map[string]any)
	if !isMap {
		return false, false
	}
	v, ok := SysInfo(ls).Number("on_off")
	return v == 1, ok
}

// Child is one outlet of a multi-outlet device.
type Child struct {
	ID    string
	Alias string
	State bool
}

// Children returns the outlets listed in sysinfo, if any.
func (s SysInfo) Children() []Child {
	raw, ok := s["children"].([]any)
	if !ok {
		return nil
	}
	children := make([]Child, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c := SysInfo(m)
		state, _ := c.Number("state")
		children = append(children, Child{
			ID:    c.Str("id"),
			Alias: c.Str("alias"),
			State: state == 1,
		})
	}
	return children
}

// Clone returns a shallow copy.
func (s SysInfo) Clone() SysInfo {
	if s == nil {
		return nil
	}
	return maps.Clone(s)
}

// ClassifyKind derives the device family from the type field, falling back
// to mic_type. The match is a case-insensitive substring test.
func ClassifyKind(s SysInfo) Kind {
	t := strings.ToLower(s.Str("type"))
	if t == "" {
		t = strings.ToLower(s.Str("mic_type"))
	}
	switch {
	case strings.Contains(t, "plug"):
		return KindPlug
	case strings.Contains(t, "bulb"):
		return KindBulb
	default:
		return KindDevice
	}
}

// NormalizeChildID expands a child id reported by a power strip into the
// full id used for addressing. Single-character ids are zero padded and
// two-character ids are appended to the parent device id; longer ids are
// already complete.
func NormalizeChildID(deviceID, childID string) string {
	switch len(childID) {
	case 0:
		return ""
	case 1:
		return deviceID + "0" + childID
	case 2:
		return deviceID + childID
	default:
		return childID
	}
}
