// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package main

import (
	"github.com/spf13/cobra"

	"github.com/Azure/azure-iot-device-go/internal/config"
	"github.com/Azure/azure-iot-device-go/pkg/logging"
)

// rootState carries the config and logger built by the root command's
// PersistentPreRunE down to every subcommand's RunE.
type rootState struct {
	settings config.Settings
	logs     *logging.Manager
}

func newRootCmd() *cobra.Command {
	var configPath string
	state := &rootState{logs: logging.New()}

	root := &cobra.Command{
		Use:           "devicectl",
		Short:         "Smoke-test harness for the device session handler and query cursor",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, _, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err := state.logs.Apply(settings.LogLevel, settings.LogPath, settings.LogMaxSizeMB, settings.LogMaxBackups); err != nil {
				return err
			}
			state.settings = settings
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().String("deviceId", "", "device identifier")
	root.PersistentFlags().String("hostName", "", "IoT hub hostname")
	root.PersistentFlags().String("logLevel", "", "log level (trace|debug|info|warn|error)")
	root.PersistentFlags().String("logPath", "", "optional rotating log file path")

	root.AddCommand(newDemoCmd(state), newQueryCmd())
	return root
}
