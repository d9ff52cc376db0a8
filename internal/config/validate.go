package config

import (
	"fmt"
	"strings"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/discovery"
	"github.com/muurk/smartplug/internal/transport"
)

// Validate checks the configuration for errors.
func (r *Registry) Validate() error {
	var errs []string

	// Client validation
	if r.Client.Transport != transport.TCP && r.Client.Transport != transport.UDP {
		errs = append(errs, fmt.Sprintf("client.transport must be %q or %q, got %q", transport.TCP, transport.UDP, r.Client.Transport))
	}
	if !validPort(r.Client.Port, false) {
		errs = append(errs, "client.port must be between 1 and 65535")
	}
	if r.Client.SharedSocketTimeout < 0 {
		errs = append(errs, "client.shared_socket_timeout must not be negative")
	}

	// Discovery validation
	if r.Discovery.Address == "" {
		errs = append(errs, "discovery.address is required")
	}
	if !validPort(r.Discovery.Port, false) {
		errs = append(errs, "discovery.port must be between 1 and 65535")
	}
	if !validPort(r.Discovery.BindPort, true) {
		errs = append(errs, "discovery.bind_port must be between 0 and 65535")
	}
	if r.Discovery.Interval <= 0 {
		errs = append(errs, "discovery.interval must be positive")
	}
	if r.Discovery.Duration < 0 {
		errs = append(errs, "discovery.duration must not be negative")
	}
	if r.Discovery.OfflineTolerance < 1 {
		errs = append(errs, "discovery.offline_tolerance must be at least 1")
	}
	for _, k := range r.Discovery.DeviceTypes {
		switch client.Kind(strings.ToLower(k)) {
		case client.KindPlug, client.KindBulb, client.KindDevice:
		default:
			errs = append(errs, fmt.Sprintf("discovery.device_types: unknown type %q", k))
		}
	}
	for i, sd := range r.Discovery.StaticDevices {
		if sd.Host == "" {
			errs = append(errs, fmt.Sprintf("discovery.static_devices[%d].host is required", i))
		}
		if !validPort(sd.Port, true) {
			errs = append(errs, fmt.Sprintf("discovery.static_devices[%d].port must be between 0 and 65535", i))
		}
	}

	// MQTT validation
	if r.MQTT.QoS < 0 || r.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if r.MQTT.Enabled {
		if r.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
		if !validPort(r.MQTT.Broker.Port, false) {
			errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
		}
	}

	// InfluxDB validation
	if r.InfluxDB.Enabled {
		if r.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if r.InfluxDB.Org == "" || r.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb is enabled")
		}
	}

	// Server validation
	if r.Server.Enabled && r.Server.Listen == "" {
		errs = append(errs, "server.listen is required when the server is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validPort(port int, allowZero bool) bool {
	if port == 0 {
		return allowZero
	}
	return port > 0 && port <= 65535
}

// ToClientDefaults converts the client section to send options.
func (r *Registry) ToClientDefaults() client.SendOptions {
	return client.SendOptions{
		Port:                r.Client.Port,
		Timeout:             r.Client.Timeout,
		Transport:           r.Client.Transport,
		UseSharedSocket:     r.Client.UseSharedSocket,
		SharedSocketTimeout: r.Client.SharedSocketTimeout,
	}
}

// ToDiscoveryOptions converts the discovery section to engine options.
// Devices discovery constructs inherit the client defaults.
func (r *Registry) ToDiscoveryOptions() discovery.Options {
	d := r.Discovery
	opts := discovery.Options{
		Address:             d.Address,
		Port:                d.Port,
		BindAddress:         d.BindAddress,
		BindPort:            d.BindPort,
		Interval:            d.Interval,
		Duration:            d.Duration,
		OfflineTolerance:    d.OfflineTolerance,
		IncludeEmeter:       d.IncludeEmeter,
		BreakoutChildren:    d.BreakoutChildren,
		MACAddresses:        d.MACAddresses,
		ExcludeMACAddresses: d.ExcludeMACAddresses,
		DeviceOptions:       client.DeviceOptions{Defaults: r.ToClientDefaults()},
	}
	for _, k := range d.DeviceTypes {
		opts.DeviceTypes = append(opts.DeviceTypes, client.Kind(strings.ToLower(k)))
	}
	for _, sd := range d.StaticDevices {
		opts.Devices = append(opts.Devices, discovery.StaticDevice{Host: sd.Host, Port: sd.Port})
	}
	return opts
}
