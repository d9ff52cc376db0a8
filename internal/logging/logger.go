package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// LogLevelEnvVar is the environment variable that controls logging verbosity.
// When unset or empty, logging is silent (no zap output).
// Valid values: "debug", "info", "warn", "error"
const LogLevelEnvVar = "SMARTPLUG_LOG_LEVEL"

// Initialize creates a new logger with the specified level.
// If level is empty, it checks SMARTPLUG_LOG_LEVEL environment variable.
// If neither is set, logging is disabled (silent mode).
func Initialize(level string) error {
	if level == "" {
		level = os.Getenv(LogLevelEnvVar)
	}

	if level == "" {
		SetLogger(zap.NewNop())
		return nil
	}

	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		// Unknown level - use info as default when explicitly set to something
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	built, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetLogger(built)
	return nil
}

// InitializeFromEnv initializes the logger from the SMARTPLUG_LOG_LEVEL
// environment variable. This is the recommended way to initialize logging
// for CLI commands that want silent mode by default.
func InitializeFromEnv() error {
	return Initialize("")
}

// SetLogger replaces the global logger (tests use zaptest/observer cores).
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// GetLogger returns the global logger instance
func GetLogger() *zap.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		// Fallback to silent logger if not initialized
		return zap.NewNop()
	}
	return l
}

// Named returns the global logger scoped to a component, or l itself when
// the caller supplied one.
func Named(l *zap.Logger, component string) *zap.Logger {
	if l != nil {
		return l
	}
	return GetLogger().Named(component)
}

// Info logs an info message
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// LogPacket logs one request or reply on the wire. Raw (encrypted) bytes
// are only dumped at debug level.
func LogPacket(l *zap.Logger, direction, transport, remoteAddr string, raw, plain []byte) {
	if l == nil {
		l = GetLogger()
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		return
	}
	l.Debug("Packet",
		zap.String("direction", direction),
		zap.String("transport", transport),
		zap.String("remote_addr", remoteAddr),
		zap.Int("raw_length", len(raw)),
		zap.Int("length", len(plain)),
		zap.String("hex", hexDump(raw)),
		zap.String("content", asciiDump(plain)),
	)
}

// LogRawBytes logs raw bytes (useful for debugging protocol issues)
func LogRawBytes(label string, data []byte) {
	Debug(label,
		zap.Int("length", len(data)),
		zap.String("hex", hexDump(data)),
		zap.String("ascii", asciiDump(data)),
	)
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	// Limit to first 256 bytes for logging
	if len(data) > 256 {
		return hex.EncodeToString(data[:256]) + "..."
	}
	return hex.EncodeToString(data)
}

func asciiDump(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) > 256 {
		data = data[:256]
	}

	result := make([]byte, len(data))
	for i, b := range data {
		if b >= 32 && b <= 126 {
			result[i] = b
		} else {
			result[i] = '.'
		}
	}
	return string(result)
}

// Sync flushes any buffered log entries
func Sync() {
	_ = GetLogger().Sync()
}
