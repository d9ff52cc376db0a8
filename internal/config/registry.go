package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "smartplug"
	configFile = "config.yaml"

	// EnvPrefix prefixes the environment variables that override secrets.
	EnvPrefix = "SMARTPLUG_"
)

var (
	// Global registry instance (loaded lazily)
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
	globalRegistryErr  error

	// Mutex for thread-safe file operations
	fileMutex sync.Mutex
)

// GetConfigDir returns the OS-appropriate configuration directory for the application.
// This follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/smartplug or $HOME/.config/smartplug
//   - macOS: $HOME/.config/smartplug (following XDG convention on macOS)
//   - Windows: %LOCALAPPDATA%\smartplug
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			// Fallback to USERPROFILE\AppData\Local if LOCALAPPDATA not set
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// LoadRegistry loads the configuration registry from the default path.
// If the file doesn't exist, returns a new default registry.
// Thread-safe - multiple calls will return the same instance.
func LoadRegistry() (*Registry, error) {
	globalRegistryOnce.Do(func() {
		path, err := GetConfigPath()
		if err != nil {
			globalRegistryErr = fmt.Errorf("failed to get config path: %w", err)
			return
		}
		globalRegistry, globalRegistryErr = Load(path)
	})
	return globalRegistry, globalRegistryErr
}

// Load reads the registry at path. Values missing from the file keep their
// defaults, and a missing file yields the default registry. Secrets may be
// overridden from the environment; the result is validated.
func Load(path string) (*Registry, error) {
	registry := NewRegistry()
	registry.path = path

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Config doesn't exist - keep defaults
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, registry); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if registry.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d (expected 1)", registry.Version)
	}
	if registry.Devices == nil {
		registry.Devices = make(map[string]*Device)
	}

	applyEnvOverrides(registry)

	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SMARTPLUG_SECTION_KEY
func applyEnvOverrides(r *Registry) {
	if v := os.Getenv(EnvPrefix + "MQTT_HOST"); v != "" {
		r.MQTT.Broker.Host = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_USERNAME"); v != "" {
		r.MQTT.Auth.Username = v
	}
	if v := os.Getenv(EnvPrefix + "MQTT_PASSWORD"); v != "" {
		r.MQTT.Auth.Password = v
	}
	if v := os.Getenv(EnvPrefix + "INFLUXDB_URL"); v != "" {
		r.InfluxDB.URL = v
	}
	if v := os.Getenv(EnvPrefix + "INFLUXDB_TOKEN"); v != "" {
		r.InfluxDB.Token = v
	}
}

// Save saves the registry to the file it was loaded from, or the default
// path. Performs an atomic write to prevent corruption on crash.
func (r *Registry) Save() error {
	path := r.path
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}
	return r.SaveTo(path)
}

// SaveTo writes the registry to path atomically.
func (r *Registry) SaveTo(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	// Create directory with user-only permissions (0700)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# smartplug configuration file
# Client defaults, discovery settings, bridges and device nicknames.
#
# Secrets such as the MQTT password and InfluxDB token can be supplied via
# SMARTPLUG_MQTT_PASSWORD and SMARTPLUG_INFLUXDB_TOKEN instead.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	// Write to temporary file first (atomic write)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		// Clean up temp file on error
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	r.path = path
	return nil
}

// ReloadRegistry reloads the global registry from disk, discarding any
// in-memory changes.
func ReloadRegistry() (*Registry, error) {
	fileMutex.Lock()
	globalRegistryOnce = sync.Once{}
	fileMutex.Unlock()
	return LoadRegistry()
}

// SaveGlobal saves the global registry instance to disk.
func SaveGlobal() error {
	registry, err := LoadRegistry()
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	return registry.Save()
}
