// Package config provides user configuration management for smartplug.
//
// The configuration is a YAML file holding the client defaults, discovery
// settings, the MQTT/InfluxDB bridges, the event server, and user-defined
// metadata (nicknames, last known address) for known devices. Durations are
// written as strings such as "10s".
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/smartplug/config.yaml or $HOME/.config/smartplug/config.yaml
//   - macOS: $HOME/.config/smartplug/config.yaml
//   - Windows: %LOCALAPPDATA%\smartplug\config.yaml
//
// # Secrets
//
// The MQTT password and InfluxDB token can be left out of the file and
// supplied through SMARTPLUG_MQTT_PASSWORD and SMARTPLUG_INFLUXDB_TOKEN.
//
// # Usage Example
//
//	registry, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	c := client.New(client.Options{Defaults: registry.ToClientDefaults()})
//	d, err := discovery.New(c, registry.ToDiscoveryOptions())
//
//	registry.SetDeviceNickname("8006ABCD01", "Desk lamp")
//	if err := registry.Save(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
