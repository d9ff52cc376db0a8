package config

import (
	"time"

	"github.com/muurk/smartplug/internal/client"
)

// Registry represents the entire user configuration file: client and
// discovery settings, the bridges, and user metadata for known devices.
type Registry struct {
	Version   int                `yaml:"version"`
	Client    ClientConfig       `yaml:"client"`
	Discovery DiscoveryConfig    `yaml:"discovery"`
	Devices   map[string]*Device `yaml:"devices,omitempty"` // Keyed by device id (child id for outlets)
	MQTT      MQTTConfig         `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig     `yaml:"influxdb"`
	Server    ServerConfig       `yaml:"server"`

	path string // file the registry was loaded from
}

// ClientConfig holds the default send options.
type ClientConfig struct {
	Port                int           `yaml:"port"`
	Timeout             time.Duration `yaml:"timeout"`   // 0 uses the built-in 10s; negative waits forever
	Transport           string        `yaml:"transport"` // tcp or udp
	UseSharedSocket     bool          `yaml:"use_shared_socket"`
	SharedSocketTimeout time.Duration `yaml:"shared_socket_timeout"`
}

// DiscoveryConfig mirrors the discovery engine options.
type DiscoveryConfig struct {
	Address             string         `yaml:"address"`
	Port                int            `yaml:"port"`
	BindAddress         string         `yaml:"bind_address,omitempty"`
	BindPort            int            `yaml:"bind_port,omitempty"`
	Interval            time.Duration  `yaml:"interval"`
	Duration            time.Duration  `yaml:"duration,omitempty"` // 0 runs until stopped
	OfflineTolerance    uint32         `yaml:"offline_tolerance"`
	IncludeEmeter       bool           `yaml:"include_emeter"`
	BreakoutChildren    bool           `yaml:"breakout_children"`
	DeviceTypes         []string       `yaml:"device_types,omitempty"` // plug, bulb, device
	MACAddresses        []string       `yaml:"mac_addresses,omitempty"`
	ExcludeMACAddresses []string       `yaml:"exclude_mac_addresses,omitempty"`
	StaticDevices       []StaticDevice `yaml:"static_devices,omitempty"`
}

// StaticDevice is a device probed by unicast on every discovery round.
type StaticDevice struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port,omitempty"`
}

// Device represents user-defined metadata for a single device.
type Device struct {
	Nickname string    `yaml:"nickname,omitempty"`  // User-friendly name
	Kind     string    `yaml:"kind,omitempty"`      // plug, bulb or device
	LastHost string    `yaml:"last_host,omitempty"` // Last known address
	LastPort int       `yaml:"last_port,omitempty"`
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last discovery/connection time
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool             `yaml:"enabled"`
	Broker      MQTTBrokerConfig `yaml:"broker"`
	Auth        MQTTAuthConfig   `yaml:"auth"`
	QoS         int              `yaml:"qos"`
	TopicPrefix string           `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"` // Prefer SMARTPLUG_MQTT_PASSWORD
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token,omitempty"` // Prefer SMARTPLUG_INFLUXDB_TOKEN
	Org           string        `yaml:"org"`
	Bucket        string        `yaml:"bucket"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ServerConfig contains the event stream and metrics listener settings.
type ServerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Listen      string `yaml:"listen"`
	EventsPath  string `yaml:"events_path"`
	MetricsPath string `yaml:"metrics_path"`
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Client: ClientConfig{
			Port:                client.DefaultPort,
			Timeout:             10 * time.Second,
			Transport:           "tcp",
			SharedSocketTimeout: 20 * time.Second,
		},
		Discovery: DiscoveryConfig{
			Address:          "255.255.255.255",
			Port:             client.DefaultPort,
			Interval:         10 * time.Second,
			OfflineTolerance: 3,
			IncludeEmeter:    true,
			BreakoutChildren: true,
		},
		Devices: make(map[string]*Device),
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "smartplug",
			},
			QoS:         1,
			TopicPrefix: "smartplug",
		},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Bucket:        "smartplug",
			BatchSize:     100,
			FlushInterval: 10 * time.Second,
		},
		Server: ServerConfig{
			Listen:      ":9102",
			EventsPath:  "/events",
			MetricsPath: "/metrics",
		},
	}
}

// Path returns the file the registry was loaded from, or "" for a registry
// that has not been loaded or saved.
func (r *Registry) Path() string { return r.path }

// GetDevice retrieves device metadata by id.
// Returns nil if the device doesn't exist in the registry.
func (r *Registry) GetDevice(id string) *Device {
	return r.Devices[id]
}

// EnsureDevice ensures a device entry exists in the registry.
// If the device doesn't exist, creates a new entry.
func (r *Registry) EnsureDevice(id string) *Device {
	if r.Devices == nil {
		r.Devices = make(map[string]*Device)
	}

	if device, exists := r.Devices[id]; exists {
		return device
	}

	device := &Device{}
	r.Devices[id] = device
	return device
}

// UpdateDeviceLastSeen records where and when a device was last seen.
func (r *Registry) UpdateDeviceLastSeen(id, host string, port int, kind string) {
	device := r.EnsureDevice(id)
	device.LastSeen = time.Now()
	device.LastHost = host
	device.LastPort = port
	if kind != "" {
		device.Kind = kind
	}
}

// RememberDevice records a device snapshot, e.g. from discovery.
func (r *Registry) RememberDevice(s client.Snapshot) {
	r.UpdateDeviceLastSeen(s.ID, s.Host, s.Port, string(s.Kind))
}

// SetDeviceNickname sets a user-friendly nickname for a device.
func (r *Registry) SetDeviceNickname(id, nickname string) {
	device := r.EnsureDevice(id)
	device.Nickname = nickname
}

// DisplayName returns the nickname for id, falling back to alias.
func (r *Registry) DisplayName(id, alias string) string {
	if d := r.GetDevice(id); d != nil && d.Nickname != "" {
		return d.Nickname
	}
	return alias
}
