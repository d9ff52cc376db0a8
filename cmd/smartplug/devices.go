package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/muurk/smartplug/internal/client"
	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/protocol"
	"github.com/muurk/smartplug/internal/transport"
	"github.com/muurk/smartplug/internal/ui"
)

// Device command flags
var (
	devicePort   int
	outputFormat string
	childIDs     []string
	withEmeter   bool
)

func init() {
	for _, cmd := range []*cobra.Command{sendCmd, commandCmd, sysinfoCmd, powerCmd, aliasCmd} {
		cmd.Flags().IntVarP(&devicePort, "port", "p", 0, "Device port (default from config, 9999)")
	}
	sysinfoCmd.Flags().StringVar(&outputFormat, "format", "detailed", "Output format (detailed, compact, json, raw)")
	sysinfoCmd.Flags().BoolVar(&withEmeter, "emeter", true, "Also read the energy meter when the device has one")
	commandCmd.Flags().StringSliceVar(&childIDs, "child", nil, "Address outlets of a power strip by child id (repeatable)")

	rootCmd.AddCommand(sendCmd, commandCmd, sysinfoCmd, powerCmd, aliasCmd)
}

func target(host string) client.SendOptions {
	return client.SendOptions{Host: host, Port: devicePort}
}

// printDeviceError prints a failure box with hints for transport errors and
// returns err for cobra.
func printDeviceError(title string, err error) error {
	var hints []string
	if transport.IsTransport(err) {
		hints = errorHints(err)
		err = fmt.Errorf("%s", transport.ShortMessage(err))
	}
	ui.NewPrinter(nil).PrintError(title, err, hints...)
	return err
}

// errorHints splits a troubleshooting hint into lines, dropping headers and
// bullet markers.
func errorHints(err error) []string {
	var hints []string
	for _, line := range strings.Split(transport.TroubleshootingHint(err), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "•"))
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		hints = append(hints, line)
	}
	return hints
}

func prettyJSON(s string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(s), "", "  "); err != nil {
		return s
	}
	return buf.String()
}

var sendCmd = &cobra.Command{
	Use:   "send <host> <json>",
	Short: "Send a raw JSON payload and print the reply",
	Long: `Encrypt a raw JSON payload, send it to the device and print the decrypted
reply as is. No response checking is done.`,
	Example: `  smartplug send 192.168.1.50 '{"system":{"get_sysinfo":{}}}'

  # Over UDP
  smartplug send 192.168.1.50 '{"system":{"get_sysinfo":{}}}' --transport udp`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(nil)
		reply, err := c.Send(cmd.Context(), args[1], target(args[0]))
		if err != nil {
			return printDeviceError("Send to "+args[0], err)
		}
		logging.LogRawBytes("Reply", []byte(reply))
		fmt.Println(prettyJSON(reply))
		return nil
	},
}

var commandCmd = &cobra.Command{
	Use:   "command <host> <module> <method> [params-json]",
	Short: "Send a module/method command and print the checked result",
	Long: `Build a {"module":{"method":params}} command, send it and print the result.
A non-zero err_code in the reply is reported as an error.`,
	Example: `  smartplug command 192.168.1.50 system set_relay_state '{"state":1}'
  smartplug command 192.168.1.50 emeter get_realtime

  # Outlet 2 of a power strip
  smartplug command 192.168.1.60 system set_relay_state '{"state":0}' --child 8006AAAA01`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params any
		if len(args) == 4 {
			if err := json.Unmarshal([]byte(args[3]), &params); err != nil {
				return fmt.Errorf("params must be JSON: %w", err)
			}
		}

		c := newClient(nil)
		command := protocol.NewCommand(args[1], args[2], params)
		result, err := c.SendCommand(cmd.Context(), command, childIDs, target(args[0]))
		if err != nil {
			return printDeviceError(args[1]+"."+args[2], err)
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// getDevice fetches sysinfo from host and builds a device.
func getDevice(ctx context.Context, c *client.Client, host string) (*client.Device, error) {
	return c.GetDevice(ctx, target(host), client.DeviceOptions{})
}

var sysinfoCmd = &cobra.Command{
	Use:   "sysinfo <host>",
	Short: "Show a device's system information",
	Example: `  smartplug sysinfo 192.168.1.50
  smartplug sysinfo 192.168.1.50 --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(nil)
		dev, err := getDevice(cmd.Context(), c, args[0])
		if err != nil {
			return printDeviceError("Sysinfo from "+args[0], err)
		}
		defer dev.Close()

		var reading *client.EmeterReading
		if withEmeter && dev.SysInfo().HasEmeter() {
			if r, err := dev.GetEmeterRealtime(cmd.Context(), client.SendOptions{}); err == nil {
				reading = &r
			}
		}
		rememberDevices(dev.Snapshot())

		info := dev.SysInfo()
		switch outputFormat {
		case "json":
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
		case "raw":
			fmt.Print(client.FormatRaw(info))
		case "compact":
			fmt.Print(dev.Snapshot().FormatCompact())
		case "detailed":
			fmt.Print(client.FormatDetailed(info, reading))
		default:
			return fmt.Errorf("unknown format %q (use detailed, compact, json or raw)", outputFormat)
		}
		return nil
	},
}

var powerCmd = &cobra.Command{
	Use:       "power <host> <on|off>",
	Short:     "Switch a plug relay or bulb on or off",
	Example:   `  smartplug power 192.168.1.50 off`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch strings.ToLower(args[1]) {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("state must be on or off, got %q", args[1])
		}

		c := newClient(nil)
		dev, err := getDevice(cmd.Context(), c, args[0])
		if err != nil {
			return printDeviceError("Power "+args[1], err)
		}
		defer dev.Close()

		if err := dev.SetPowerState(cmd.Context(), on, client.SendOptions{}); err != nil {
			return printDeviceError("Power "+args[1], err)
		}
		s := dev.Snapshot()
		name := settings.DisplayName(s.ID, s.Alias)
		ui.NewPrinter(nil).PrintSuccess(fmt.Sprintf("%s switched %s", name, strings.ToLower(args[1])),
			ui.Detail{Key: "Device", Value: s.ID},
			ui.Detail{Key: "Model", Value: s.Model},
			ui.Detail{Key: "Address", Value: fmt.Sprintf("%s:%d", s.Host, s.Port)},
		)
		return nil
	},
}

var aliasCmd = &cobra.Command{
	Use:     "alias <host> <name>",
	Short:   "Rename a device",
	Example: `  smartplug alias 192.168.1.50 "Kitchen kettle"`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(nil)
		dev, err := getDevice(cmd.Context(), c, args[0])
		if err != nil {
			return printDeviceError("Rename", err)
		}
		defer dev.Close()

		old := dev.Alias()
		if err := dev.SetAlias(cmd.Context(), args[1], client.SendOptions{}); err != nil {
			return printDeviceError("Rename", err)
		}
		rememberDevices(dev.Snapshot())
		ui.NewPrinter(nil).PrintSuccess("Device renamed",
			ui.Detail{Key: "Device", Value: dev.ID()},
			ui.Detail{Key: "Was", Value: old},
			ui.Detail{Key: "Now", Value: args[1]},
		)
		return nil
	},
}
