package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/discovery"
	"github.com/muurk/smartplug/internal/ui"
)

// Discovery command flags
var (
	scanDuration time.Duration
	jsonOutput   bool
	noEmeter     bool
	noBreakout   bool
	staticHosts  []string
)

func init() {
	discoverCmd.Flags().DurationVar(&scanDuration, "duration", 5*time.Second, "How long to listen for replies")
	discoverCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print devices as JSON")

	for _, cmd := range []*cobra.Command{discoverCmd, monitorCmd, watchCmd} {
		cmd.Flags().BoolVar(&noEmeter, "no-emeter", false, "Do not request energy readings in discovery probes")
		cmd.Flags().BoolVar(&noBreakout, "no-breakout", false, "Report power strips as one device instead of one per outlet")
		cmd.Flags().StringSliceVar(&staticHosts, "host", nil, "Also probe this host directly (repeatable)")
	}

	rootCmd.AddCommand(discoverCmd, monitorCmd)
}

// newDiscovery builds a discovery engine from settings and discovery flags.
func newDiscovery(c *client.Client) (*discovery.Discovery, error) {
	opts := settings.ToDiscoveryOptions()
	if noEmeter {
		opts.IncludeEmeter = false
	}
	if noBreakout {
		opts.BreakoutChildren = false
	}
	for _, h := range staticHosts {
		opts.Devices = append(opts.Devices, discovery.StaticDevice{Host: h})
	}
	return discovery.New(c, opts)
}

func snapshots(d *discovery.Discovery) []client.Snapshot {
	devices := d.Devices()
	snaps := make([]client.Snapshot, 0, len(devices))
	for _, dev := range devices {
		snaps = append(snaps, dev.Snapshot())
	}
	return snaps
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find devices on the local network",
	Long: `Broadcast discovery probes and list every device that replies.

Probes are repeated every discovery interval (default 10s) until --duration
has passed. Devices found are remembered in the config file.`,
	Example: `  smartplug discover
  smartplug discover --duration 15s --json

  # Probe a device on another subnet as well
  smartplug discover --host 10.1.2.3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDiscovery(newClient(nil))
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), scanDuration)
		defer cancel()

		if !jsonOutput {
			fmt.Printf("Discovering devices for %s...\n\n", scanDuration)
		}
		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		<-ctx.Done()
		d.Stop()

		snaps := snapshots(d)
		if len(snaps) > 0 {
			rememberDevices(snaps...)
		}

		if jsonOutput {
			out, err := json.MarshalIndent(snaps, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}

		p := ui.NewPrinter(nil)
		p.PrintDevices(snaps)
		if len(snaps) == 0 {
			p.PrintResult(ui.NewWarningResult("No devices replied",
				ui.Detail{Key: "Broadcast", Value: fmt.Sprintf("%s:%d", d.Options().Address, d.Options().Port)},
			).AddDetail("Hint", "check the devices share this subnet, or pass --host"))
		}
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live table of devices with power toggling",
	Long: `Run discovery continuously and show a live table of devices.

Use the arrow keys to select a device and t to toggle its power.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !ui.IsTerminal() {
			return fmt.Errorf("monitor needs an interactive terminal; use 'smartplug watch' instead")
		}

		c := newClient(nil)
		d, err := newDiscovery(c)
		if err != nil {
			return err
		}
		if err := d.Start(cmd.Context()); err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		defer d.Stop()

		err = ui.RunMonitor(cmd.Context(), d, ui.DeviceToggle(cmd.Context(), client.SendOptions{}))
		if snaps := snapshots(d); len(snaps) > 0 {
			rememberDevices(snaps...)
		}
		return err
	},
}
