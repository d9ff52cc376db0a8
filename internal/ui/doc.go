// Package ui renders terminal output for the smartplug CLI.
//
// One-shot commands print through a Printer: headers, result boxes and the
// device table, all styled with Lipgloss. The monitor command runs a Bubble
// Tea program (Monitor) that keeps a live device table fed from discovery
// updates and can toggle the selected device's relay.
//
// Logging is silent unless SMARTPLUG_LOG_LEVEL is set, so zap output does
// not interleave with the styled output.
package ui
