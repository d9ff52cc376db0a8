// Package mqtt republishes discovered device events to an MQTT broker.
//
// Retained state topics let a subscriber see the latest availability, relay
// state and energy reading of every device as soon as it subscribes. The
// bridge's own availability is published retained on <prefix>/bridge/status,
// with a last will so the broker marks it offline if the process dies.
package mqtt
