package client

import (
	"github.com/muurk/smartplug/internal/protocol"
)

// EmeterReading is a realtime energy meter sample in base units. Older
// firmware reports watts/volts/amps/kWh, newer firmware and bulbs report
// milli-units; both are normalised here.
type EmeterReading struct {
	PowerW   float64 `json:"power_w"`
	VoltageV float64 `json:"voltage_v,omitempty"`
	CurrentA float64 `json:"current_a,omitempty"`
	TotalKWh float64 `json:"total_kwh,omitempty"`
}

// ParseEmeter normalises a get_realtime result. ok is false when the result
// reports an error or carries no power field.
func ParseEmeter(result map[string]any) (reading EmeterReading, ok bool) {
	if result == nil {
		return reading, false
	}
	if code, hasCode := protocol.ErrCode(result); hasCode && code != 0 {
		return reading, false
	}
	s := SysInfo(result)

	pick := func(unit, milli string, scale float64) (float64, bool) {
		if v, ok := s.Number(unit); ok {
			return v, true
		}
		if v, ok := s.Number(milli); ok {
			return v / scale, true
		}
		return 0, false
	}

	var hasPower bool
	reading.PowerW, hasPower = pick("power", "power_mw", 1000)
	reading.VoltageV, _ = pick("voltage", "voltage_mv", 1000)
	reading.CurrentA, _ = pick("current", "current_ma", 1000)
	reading.TotalKWh, _ = pick("total", "total_wh", 1000)
	return reading, hasPower
}

// EmeterFromResponse extracts a realtime reading from a batched response
// such as the discovery probe reply, trying each family's emeter module.
func EmeterFromResponse(resp map[string]any) (EmeterReading, bool) {
	for _, module := range []string{protocol.PlugNamespaces.Emeter, protocol.BulbNamespaces.Emeter} {
		m, ok := resp[module].(map[string]any)
		if !ok {
			continue
		}
		rt, ok := m[protocol.MethodGetRealtime].(map[string]any)
		if !ok {
			continue
		}
		if code, hasCode := protocol.ErrCode(rt); !hasCode || code != 0 {
			continue
		}
		if reading, ok := ParseEmeter(rt); ok {
			return reading, true
		}
	}
	return EmeterReading{}, false
}
