package influx

import "errors"

// Errors returned by the InfluxDB bridge. Use errors.Is to check for them.
var (
	// ErrDisabled is returned by Connect when InfluxDB is not enabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the server cannot be reached.
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)
