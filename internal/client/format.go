package client

import (
	"fmt"
	"sort"
	"strings"
)

// Summary returns a one-line summary of the device
func (s Snapshot) Summary() string {
	return fmt.Sprintf("%s %q @ %s:%d (%s, %s)", s.Model, s.Alias, s.Host, s.Port, s.Kind, s.powerWord())
}

func (s Snapshot) powerWord() string {
	if s.PowerOn {
		return "ON"
	}
	return "OFF"
}

// FormatCompact returns a compact multi-line format suitable for terminal display
func (s Snapshot) FormatCompact() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Device:  %s (%s)\n", s.Alias, s.ID))
	b.WriteString(fmt.Sprintf("Model:   %s [%s]\n", s.Model, s.Kind))
	b.WriteString(fmt.Sprintf("Address: %s:%d\n", s.Host, s.Port))
	b.WriteString(fmt.Sprintf("Power:   %s", s.powerWord()))
	if s.Kind != KindBulb {
		b.WriteString(fmt.Sprintf(" (in use: %v)", s.InUse))
	}
	b.WriteString("\n")
	if s.Emeter != nil {
		b.WriteString(fmt.Sprintf("Emeter:  %s\n", s.Emeter.Format()))
	}

	return b.String()
}

// Format returns the reading on one line.
func (r EmeterReading) Format() string {
	return fmt.Sprintf("%.2f W, %.1f V, %.3f A, %.3f kWh", r.PowerW, r.VoltageV, r.CurrentA, r.TotalKWh)
}

// FormatDeviceInfo returns a formatted string with device identification information
func FormatDeviceInfo(info SysInfo) string {
	var b strings.Builder

	b.WriteString("=== Device Information ===\n")
	b.WriteString(fmt.Sprintf("Alias:        %s\n", info.Alias()))
	b.WriteString(fmt.Sprintf("Model:        %s\n", info.Model()))
	b.WriteString(fmt.Sprintf("Type:         %s (%s)\n", info.Type(), ClassifyKind(info)))
	b.WriteString(fmt.Sprintf("Device ID:    %s\n", info.DeviceID()))
	b.WriteString(fmt.Sprintf("MAC Address:  %s\n", info.MAC()))
	b.WriteString(fmt.Sprintf("Firmware:     %s\n", info.SoftwareVersion()))
	if hw := info.Str("hw_ver"); hw != "" {
		b.WriteString(fmt.Sprintf("Hardware:     %s\n", hw))
	}
	if rssi, ok := info.Number("rssi"); ok {
		b.WriteString(fmt.Sprintf("Signal:       %.0f dBm\n", rssi))
	}

	return b.String()
}

// FormatOutlets returns a formatted string with the outlet states
func FormatOutlets(info SysInfo) string {
	var b strings.Builder

	b.WriteString("=== Outlets ===\n")
	children := info.Children()
	if len(children) == 0 {
		if on, ok := info.RelayState(); ok {
			b.WriteString(fmt.Sprintf("Relay: %s\n", onOff(on)))
		} else if on, ok := info.LightOn(); ok {
			b.WriteString(fmt.Sprintf("Light: %s\n", onOff(on)))
		} else {
			b.WriteString("(no switchable outlets reported)\n")
		}
		return b.String()
	}

	for _, c := range children {
		b.WriteString(fmt.Sprintf("  %-4s %-20s %s\n", c.ID, c.Alias, onOff(c.State)))
	}
	return b.String()
}

// FormatRaw lists every sysinfo field, sorted by key
func FormatRaw(info SysInfo) string {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("=== Raw Fields ===\n")
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%-16s %v\n", k+":", info[k]))
	}
	return b.String()
}

// FormatDetailed returns a comprehensive formatted string with all device details
func FormatDetailed(info SysInfo, reading *EmeterReading) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("╔════════════════════════════════════════════════════════════════╗\n")
	b.WriteString("║                     SMART DEVICE DETAILS                       ║\n")
	b.WriteString("╚════════════════════════════════════════════════════════════════╝\n")
	b.WriteString("\n")

	b.WriteString(FormatDeviceInfo(info))
	b.WriteString("\n")
	b.WriteString(FormatOutlets(info))
	if reading != nil {
		b.WriteString("\n")
		b.WriteString("=== Energy Meter ===\n")
		b.WriteString(fmt.Sprintf("Power:   %.2f W\n", reading.PowerW))
		b.WriteString(fmt.Sprintf("Voltage: %.1f V\n", reading.VoltageV))
		b.WriteString(fmt.Sprintf("Current: %.3f A\n", reading.CurrentA))
		b.WriteString(fmt.Sprintf("Total:   %.3f kWh\n", reading.TotalKWh))
	}

	return b.String()
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
