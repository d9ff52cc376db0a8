// Smartplug controls and monitors smart plugs and bulbs on the local network.
//
// It discovers devices by UDP broadcast, sends commands over TCP or UDP,
// and can run as a long-lived watcher that republishes device events to a
// websocket stream, Prometheus, MQTT and InfluxDB.
//
// Usage:
//
//	smartplug [command] [flags]
//
// See 'smartplug --help' for available commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/config"
	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/metrics"
	"github.com/muurk/smartplug/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Persistent flags
var (
	configPath    string
	logLevel      string
	sendTimeout   time.Duration
	transportName string
)

// settings is the loaded configuration with flag overrides applied.
var settings *config.Registry

var rootCmd = &cobra.Command{
	Use:   "smartplug",
	Short: "Smart plug and bulb control utility",
	Long: `Control and monitor smart plugs, power strips and bulbs that speak the
local XOR-obfuscated JSON protocol on port 9999.

Devices are found by UDP broadcast. Commands are sent over TCP by default,
or over UDP with --transport udp.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(logLevel); err != nil {
			return err
		}
		reg, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		settings = reg
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/smartplug/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset")
	rootCmd.PersistentFlags().DurationVar(&sendTimeout, "timeout", 0, "Per-request timeout (default from config, 10s); negative waits forever")
	rootCmd.PersistentFlags().StringVar(&transportName, "transport", "", "Transport for commands: tcp or udp (default from config)")

	rootCmd.AddCommand(versionCmd)
}

// loadSettings reads the config file and applies persistent flag overrides.
func loadSettings(cmd *cobra.Command) (*config.Registry, error) {
	var (
		reg *config.Registry
		err error
	)
	if configPath != "" {
		reg, err = config.Load(configPath)
	} else {
		reg, err = config.LoadRegistry()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("timeout") {
		reg.Client.Timeout = sendTimeout
	}
	if flags.Changed("transport") {
		reg.Client.Transport = transportName
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// newClient builds a client from the loaded settings.
func newClient(collector *metrics.Collector) *client.Client {
	return client.New(client.Options{
		Defaults: settings.ToClientDefaults(),
		Logger:   logging.GetLogger(),
		Metrics:  collector,
	})
}

// rememberDevices records snapshots in the device registry and saves it.
// Failures are logged; they never fail the command.
func rememberDevices(snaps ...client.Snapshot) {
	for _, s := range snaps {
		settings.RememberDevice(s)
	}
	if err := settings.Save(); err != nil {
		logging.Warn("Failed to save device registry", zap.Error(err))
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitializeFromEnv()
	},
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("smartplug %s (commit: %s, %s, %s)\n", info.Version, info.Commit, info.GoVersion, info.Platform)
	},
}
