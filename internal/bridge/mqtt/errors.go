package mqtt

import "errors"

// Errors returned by the MQTT bridge. Use errors.Is to check for them.
var (
	// ErrDisabled is returned by Connect when MQTT is not enabled.
	ErrDisabled = errors.New("mqtt: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected is returned when publishing on a disconnected bridge.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed is returned when a publish is not acknowledged.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
