package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/muurk/smartplug/internal/config"
	"github.com/muurk/smartplug/internal/logging"
	"github.com/muurk/smartplug/internal/ui"
)

var forceInit bool

func init() {
	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd, configNicknameCmd)
	rootCmd.AddCommand(configCmd)
}

// configFile returns --config or the default config path.
func configFile() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.GetConfigPath()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default settings",
	// Skips loading, so a broken config can be replaced.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configFile()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.NewRegistry().SaveTo(path); err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Config written", ui.Detail{Key: "Path", Value: path})
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after environment and flag overrides.
Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		shown := *settings
		if shown.MQTT.Auth.Password != "" {
			shown.MQTT.Auth.Password = "********"
		}
		if shown.InfluxDB.Token != "" {
			shown.InfluxDB.Token = "********"
		}
		out, err := yaml.Marshal(&shown)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := settings.Path()
		if path == "" {
			var err error
			if path, err = configFile(); err != nil {
				return err
			}
		}
		fmt.Println(path)
		return nil
	},
}

var configNicknameCmd = &cobra.Command{
	Use:     "nickname <device-id> <name>",
	Short:   "Set a local display name for a device",
	Long:    `Set a nickname shown instead of the device alias. The device itself is not changed.`,
	Example: `  smartplug config nickname 8006AAAA01 "Desk lamp"`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings.SetDeviceNickname(args[0], args[1])
		if err := settings.Save(); err != nil {
			return err
		}
		ui.NewPrinter(nil).PrintSuccess("Nickname saved",
			ui.Detail{Key: "Device", Value: args[0]},
			ui.Detail{Key: "Nickname", Value: args[1]},
		)
		return nil
	},
}
