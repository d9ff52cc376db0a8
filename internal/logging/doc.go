// Package logging provides structured logging for smartplug.
//
// This package wraps a global zap logger with convenience functions. Logging
// is silent unless a level is given on the command line or through the
// SMARTPLUG_LOG_LEVEL environment variable, so CLI output stays clean.
//
// # Log Levels
//
//   - Debug: Packet dumps, filtered discovery replies, queue activity
//   - Info: Discovery start/stop, device state changes
//   - Warn: Invalid packets, recovered event handler panics
//   - Error: Bind failures, bridge publish failures
//
// # Component Loggers
//
// Library packages take an optional *zap.Logger and fall back to a named
// child of the global logger:
//
//	log := logging.Named(opts.Logger, "discovery")
//
// # Packet Logging
//
//	logging.LogPacket(log, "sent", "udp", addr, ciphertext, plaintext)
//
// # Configuration
//
//	if err := logging.Initialize(flagLogLevel); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//
// # Output Format
//
// Logs are written to stderr in console format:
//
//	2026-03-14T10:30:45.123+0100  INFO  discovery  Device online  {"id": "8006...", "host": "192.168.1.40"}
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
